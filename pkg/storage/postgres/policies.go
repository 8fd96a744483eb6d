package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeep/pkg/policy"
)

// ApplyPolicies installs the row-level security policies, column grants
// and masked views generated for set. All statements run in one
// transaction; a failure leaves the previous policies in place.
func ApplyPolicies(ctx context.Context, db *sql.DB, set *policy.PlanSet, opts policy.DDLOptions, log *logrus.Logger) error {
	if log == nil {
		log = logrus.New()
	}
	statements, err := policy.GenerateSchemaDDL(set, opts)
	if err != nil {
		return fmt.Errorf("failed to generate policies: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit policies: %w", err)
	}

	log.WithFields(logrus.Fields{
		"tables":     set.Len(),
		"statements": len(statements),
	}).Info("Applied row-level security policies")
	return nil
}
