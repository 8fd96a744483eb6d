package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/gatekeep/pkg/condition"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

var setSessionSQL = fmt.Sprintf(
	"SELECT set_config('%s', $1, true), set_config('%s', $2, true), set_config('%s', $3, true)",
	condition.SettingUserID, condition.SettingOrgID, condition.SettingRole,
)

// SessionTx runs fn in a transaction whose app.user_id, app.org_id and
// app.role settings carry actor. Row-level security policies generated
// from the schema read these settings. The settings are transaction local
// and reset on commit or rollback, so pooled connections never leak them.
// An anonymous actor sets none of them.
func SessionTx(ctx context.Context, db *sql.DB, actor session.Actor, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	b := actor.Binding()
	if _, err := tx.ExecContext(ctx, setSessionSQL, b.UserID, b.OrganizationID, b.Role); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
