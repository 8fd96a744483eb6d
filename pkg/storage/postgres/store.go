package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeep/pkg/access"
	"github.com/platinummonkey/gatekeep/pkg/observability"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

// Store runs permission-filtered queries for the actor of the request.
// Every statement executes in a SessionTx so row-level security policies
// see the same actor as the query builder.
type Store struct {
	db       *sql.DB
	queries  *QueryBuilder
	provider session.Provider
	log      *logrus.Logger
}

// NewStore creates a store on the primary connection of cm
func NewStore(cm *ConnectionManager, engine *access.Engine, provider session.Provider, log *logrus.Logger) *Store {
	return newStore(cm.Primary(), NewQueryBuilder(engine, sq.Dollar), provider, log)
}

func newStore(db *sql.DB, queries *QueryBuilder, provider session.Provider, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{db: db, queries: queries, provider: provider, log: log}
}

func (s *Store) actor(ctx context.Context) (session.Actor, error) {
	actor, err := s.provider.Actor(ctx)
	if err != nil {
		return session.Actor{}, fmt.Errorf("failed to resolve actor: %w", err)
	}
	return actor, nil
}

// List returns the rows of table visible to the current actor
func (s *Store) List(ctx context.Context, table string, columns ...string) ([]map[string]any, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	query, err := s.queries.Select(actor, table, columns...)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	err = SessionTx(ctx, s.db, actor, func(tx *sql.Tx) error {
		rows, err = queryRows(ctx, tx, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	observability.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"table": table,
		"rows":  len(rows),
	}).Debug("Listed rows")
	return rows, nil
}

// Get returns one row. Rows the actor cannot see fail with access.ErrNotFound,
// exactly like rows that do not exist.
func (s *Store) Get(ctx context.Context, table string, id any, columns ...string) (map[string]any, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	query, err := s.queries.SelectByID(actor, table, id, columns...)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	err = SessionTx(ctx, s.db, actor, func(tx *sql.Tx) error {
		rows, err = queryRows(ctx, tx, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, access.ErrNotFound
	}
	return rows[0], nil
}

// Create inserts values after authorizing the write
func (s *Store) Create(ctx context.Context, table string, values map[string]any) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	query, err := s.queries.Insert(actor, table, values)
	if err != nil {
		return err
	}
	return SessionTx(ctx, s.db, actor, func(tx *sql.Tx) error {
		stmt, args, err := query.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		return nil
	})
}

// Delete removes the row with id. A row the actor cannot see or may not
// delete fails with access.ErrNotFound.
func (s *Store) Delete(ctx context.Context, table string, id any) error {
	actor, err := s.actor(ctx)
	if err != nil {
		return err
	}
	query, err := s.queries.Delete(actor, table, id)
	if err != nil {
		return err
	}
	return SessionTx(ctx, s.db, actor, func(tx *sql.Tx) error {
		stmt, args, err := query.ToSql()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return access.ErrNotFound
		}
		return nil
	})
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryRows(ctx context.Context, q queryer, query sq.Sqlizer) ([]map[string]any, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
