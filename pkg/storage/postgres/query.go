package postgres

import (
	"errors"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/platinummonkey/gatekeep/pkg/access"
	"github.com/platinummonkey/gatekeep/pkg/condition"
	"github.com/platinummonkey/gatekeep/pkg/observability"
	"github.com/platinummonkey/gatekeep/pkg/policy"
	"github.com/platinummonkey/gatekeep/pkg/schema"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

// ErrUnknownColumn is returned when a query names a column the table does
// not declare
var ErrUnknownColumn = errors.New("unknown column")

// ColumnDeniedError is returned when a query names a column the actor
// cannot read
type ColumnDeniedError struct {
	Table  string
	Column string
}

func (e *ColumnDeniedError) Error() string {
	return fmt.Sprintf("permission denied for column %s", e.Column)
}

// IsColumnDenied checks if an error is a ColumnDeniedError
func IsColumnDenied(err error) bool {
	var target *ColumnDeniedError
	return errors.As(err, &target)
}

// QueryBuilder turns access decisions into SQL. Row filters become WHERE
// clauses and conditionally visible columns become CASE WHEN masks, so
// filtering happens in the database.
type QueryBuilder struct {
	engine  *access.Engine
	builder sq.StatementBuilderType
}

// NewQueryBuilder creates a builder emitting placeholders in format
// (sq.Dollar for PostgreSQL)
func NewQueryBuilder(engine *access.Engine, format sq.PlaceholderFormat) *QueryBuilder {
	return &QueryBuilder{engine: engine, builder: sq.StatementBuilder.PlaceholderFormat(format)}
}

func (b *QueryBuilder) plan(table string) (*policy.EnforcementPlan, error) {
	set := b.engine.Plans()
	if set == nil {
		return nil, fmt.Errorf("%w: table %s", access.ErrNotFound, table)
	}
	p, ok := set.Plan(table)
	if !ok {
		return nil, fmt.Errorf("%w: table %s", access.ErrNotFound, table)
	}
	return p, nil
}

// Select builds a read of columns from table for actor. Without columns
// every visible column is selected. Naming a column the actor can never
// see fails with *ColumnDeniedError; rows the actor cannot see are
// filtered out. When the table level denies, the query matches no rows.
func (b *QueryBuilder) Select(actor session.Actor, table string, columns ...string) (sq.SelectBuilder, error) {
	p, err := b.plan(table)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	for _, col := range columns {
		if !p.HasColumn(col) {
			return sq.SelectBuilder{}, fmt.Errorf("%w: table %s has no column %s", ErrUnknownColumn, table, col)
		}
	}

	query := b.builder.Select().From(pq.QuoteIdentifier(table))
	filter := b.engine.RowFilter(actor, table, schema.ActionRead)
	if filter == condition.False {
		if len(columns) == 0 {
			columns = p.Columns()
		}
		for _, col := range columns {
			query = query.Column(pq.QuoteIdentifier(col))
		}
		return query.Where(condition.ToSQL(condition.False)), nil
	}

	visible := b.engine.VisibleFields(actor, table, schema.ActionRead)
	if len(columns) == 0 {
		columns = visible
	} else {
		allowed := make(map[string]bool, len(visible))
		for _, col := range visible {
			allowed[col] = true
		}
		for _, col := range columns {
			if !allowed[col] {
				return sq.SelectBuilder{}, &ColumnDeniedError{Table: table, Column: col}
			}
		}
	}

	masks := b.engine.FieldMasks(actor, table, schema.ActionRead)
	for _, col := range columns {
		quoted := pq.QuoteIdentifier(col)
		pred, masked := masks[col]
		if !masked {
			query = query.Column(quoted)
			continue
		}
		sql, args, err := condition.ToSQL(pred).ToSql()
		if err != nil {
			return sq.SelectBuilder{}, fmt.Errorf("failed to render mask for %s: %w", col, err)
		}
		query = query.Column(sq.Expr("CASE WHEN "+sql+" THEN "+quoted+" END AS "+quoted, args...))
	}

	if filter != condition.True {
		query = query.Where(condition.ToSQL(filter))
	}
	return query, nil
}

// SelectByID is Select narrowed to a single row
func (b *QueryBuilder) SelectByID(actor session.Actor, table string, id any, columns ...string) (sq.SelectBuilder, error) {
	query, err := b.Select(actor, table, columns...)
	if err != nil {
		return query, err
	}
	return query.Where(sq.Eq{pq.QuoteIdentifier(schema.FieldID): id}), nil
}

// Insert builds a create of values after authorizing it. The actor's
// organization is filled in for organization-scoped tables when values
// does not carry one.
func (b *QueryBuilder) Insert(actor session.Actor, table string, values map[string]any) (sq.InsertBuilder, error) {
	p, err := b.plan(table)
	if err != nil {
		return sq.InsertBuilder{}, err
	}
	if p.OrganizationScoped() {
		if _, ok := values[schema.FieldOrganizationID]; !ok && actor.OrganizationID != "" {
			values[schema.FieldOrganizationID] = actor.OrganizationID
		}
	}

	fields := make([]string, 0, len(values))
	for name := range values {
		if !p.HasColumn(name) {
			return sq.InsertBuilder{}, fmt.Errorf("%w: table %s has no column %s", ErrUnknownColumn, table, name)
		}
		fields = append(fields, name)
	}
	sort.Strings(fields)

	if err := b.engine.AuthorizeWrite(actor, table, schema.ActionCreate, values, fields); err != nil {
		return sq.InsertBuilder{}, err
	}

	cols := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, name := range fields {
		cols[i] = pq.QuoteIdentifier(name)
		args[i] = values[name]
	}
	return b.builder.Insert(pq.QuoteIdentifier(table)).Columns(cols...).Values(args...), nil
}

// Delete builds a delete of the row with id. The row must pass both the
// read and the delete filters; a table-level denial fails immediately with
// *access.ForbiddenError.
func (b *QueryBuilder) Delete(actor session.Actor, table string, id any) (sq.DeleteBuilder, error) {
	if _, err := b.plan(table); err != nil {
		return sq.DeleteBuilder{}, err
	}
	if !b.engine.CanAccessTable(actor, table, schema.ActionDelete) {
		return sq.DeleteBuilder{}, &access.ForbiddenError{Table: table, Action: schema.ActionDelete, Stage: observability.StageTable}
	}

	filter := condition.Simplify(condition.And{
		b.engine.RowFilter(actor, table, schema.ActionRead),
		b.engine.RowFilter(actor, table, schema.ActionDelete),
	})
	query := b.builder.Delete(pq.QuoteIdentifier(table)).Where(sq.Eq{pq.QuoteIdentifier(schema.FieldID): id})
	if filter != condition.True {
		query = query.Where(condition.ToSQL(filter))
	}
	return query, nil
}
