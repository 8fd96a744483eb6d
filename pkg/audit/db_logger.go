package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const tableName = "gatekeep_audit_log"

var columns = []string{
	"occurred_at", "event_type", "status", "actor_id", "organization_id", "role",
	"resource", "method", "path", "status_code", "request_id", "message", "metadata",
}

// Migrate creates the audit table and its indexes (PostgreSQL dialect)
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gatekeep_audit_log (
			id BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			organization_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			resource TEXT NOT NULL DEFAULT '',
			method VARCHAR(10) NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			status_code INTEGER NOT NULL DEFAULT 0,
			request_id VARCHAR(100) NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			metadata JSONB
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_org_time ON gatekeep_audit_log(organization_id, occurred_at DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON gatekeep_audit_log(actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_log_event_type ON gatekeep_audit_log(event_type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// DBLogger persists events to the gatekeep_audit_log table
type DBLogger struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewDBLogger creates a database logger. format is the driver's placeholder
// style, sq.Dollar for PostgreSQL.
func NewDBLogger(db *sql.DB, format sq.PlaceholderFormat) (*DBLogger, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &DBLogger{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(format).RunWith(db),
	}, nil
}

// Log implements Logger
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	stamp(event)

	var metadata any
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(b)
	}

	_, err := l.sb.Insert(tableName).
		Columns(columns...).
		Values(
			event.Timestamp, string(event.Type), string(event.Status), event.ActorID, event.OrganizationID, event.Role,
			event.Resource, event.Method, event.Path, event.StatusCode, event.RequestID, event.Message, metadata,
		).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Query implements Querier. Events are returned newest first.
func (l *DBLogger) Query(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit == 0 {
		limit = DefaultQueryLimit
	}

	q := l.sb.Select(append([]string{"id"}, columns...)...).
		From(tableName).
		OrderBy("occurred_at DESC", "id DESC").
		Limit(limit)
	if filter.OrganizationID != "" {
		q = q.Where(sq.Eq{"organization_id": filter.OrganizationID})
	}
	if filter.ActorID != "" {
		q = q.Where(sq.Eq{"actor_id": filter.ActorID})
	}
	if filter.Type != "" {
		q = q.Where(sq.Eq{"event_type": string(filter.Type)})
	}
	if !filter.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"occurred_at": filter.Since})
	}

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                 Event
			eventType, status string
			metadata          []byte
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &eventType, &status, &e.ActorID, &e.OrganizationID, &e.Role,
			&e.Resource, &e.Method, &e.Path, &e.StatusCode, &e.RequestID, &e.Message, &metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Type = EventType(eventType)
		e.Status = EventStatus(status)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close implements Logger. The database is owned by the caller.
func (l *DBLogger) Close() error { return nil }
