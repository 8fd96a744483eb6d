package policy

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/platinummonkey/gatekeep/pkg/condition"
	"github.com/platinummonkey/gatekeep/pkg/schema"
)

// PolicyCommand is the statement type a row-level security policy covers
type PolicyCommand string

const (
	CommandSelect PolicyCommand = "SELECT"
	CommandInsert PolicyCommand = "INSERT"
	CommandUpdate PolicyCommand = "UPDATE"
	CommandDelete PolicyCommand = "DELETE"
)

// Command maps an action to its policy command
func Command(action schema.Action) PolicyCommand {
	switch action {
	case schema.ActionCreate:
		return CommandInsert
	case schema.ActionUpdate:
		return CommandUpdate
	case schema.ActionDelete:
		return CommandDelete
	}
	return CommandSelect
}

// Policy is one CREATE POLICY statement
type Policy struct {
	Name      string
	Table     string
	Command   PolicyCommand
	Using     string // empty for INSERT
	WithCheck string // empty for SELECT and DELETE
}

// SQL renders the policy
func (p Policy) SQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE POLICY %s ON %s AS PERMISSIVE FOR %s",
		pq.QuoteIdentifier(p.Name), pq.QuoteIdentifier(p.Table), p.Command)
	if p.Using != "" {
		fmt.Fprintf(&b, " USING (%s)", p.Using)
	}
	if p.WithCheck != "" {
		fmt.Fprintf(&b, " WITH CHECK (%s)", p.WithCheck)
	}
	return b.String()
}

// DDLOptions controls DDL generation
type DDLOptions struct {
	// Role is the database role the application connects as. Column grants
	// are only emitted when it is set.
	Role string
	// ViewSuffix names the masked view, "<table><suffix>". Default "_visible".
	ViewSuffix string
}

func (o DDLOptions) viewName(table string) string {
	suffix := o.ViewSuffix
	if suffix == "" {
		suffix = "_visible"
	}
	return table + suffix
}

// PolicyName returns the name of the policy gatekeep manages for table and action
func PolicyName(table string, action schema.Action) string {
	return "gatekeep_" + table + "_" + string(action)
}

// Policies returns the row-level security policies of plan. Actions without
// a table rule get no policy, which row-level security treats as deny.
func Policies(plan *EnforcementPlan) ([]Policy, error) {
	var policies []Policy
	for _, action := range schema.Actions() {
		expr := plan.PolicyExpr(action)
		if expr == condition.False {
			continue
		}
		sql, err := condition.SessionSQL(expr)
		if err != nil {
			return nil, &CompileError{Table: plan.table, Context: string(action) + " policy", Err: err}
		}
		p := Policy{Name: PolicyName(plan.table, action), Table: plan.table, Command: Command(action)}
		switch action {
		case schema.ActionRead, schema.ActionDelete:
			p.Using = sql
		case schema.ActionCreate:
			p.WithCheck = sql
		case schema.ActionUpdate:
			p.Using = sql
			p.WithCheck = sql
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// GenerateDDL returns the statements that enforce plan inside PostgreSQL:
// forced row-level security, one policy per allowed action, column grants
// for the columns without field rules, and a view that masks the columns
// whose read rule depends on the actor. The statements are idempotent.
//
// A column with a write rule gets no INSERT or UPDATE grant at all: a grant
// cannot depend on the actor or the row, and a policy cannot tell which
// columns a statement sets. Such columns are written only by a connection
// that bypasses the grants after AuthorizeWrite has accepted the change.
func GenerateDDL(plan *EnforcementPlan, opts DDLOptions) ([]string, error) {
	table := pq.QuoteIdentifier(plan.table)
	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
		fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", table),
	}
	for _, action := range schema.Actions() {
		stmts = append(stmts, fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s",
			pq.QuoteIdentifier(PolicyName(plan.table, action)), table))
	}

	policies, err := Policies(plan)
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		stmts = append(stmts, p.SQL())
	}

	if opts.Role != "" {
		stmts = append(stmts, grants(plan, opts.Role)...)
	}

	view, err := maskedView(plan, opts)
	if err != nil {
		return nil, err
	}
	return append(stmts, view...), nil
}

// GenerateSchemaDDL concatenates the DDL of every plan in dependency order
func GenerateSchemaDDL(set *PlanSet, opts DDLOptions) ([]string, error) {
	var stmts []string
	for _, table := range set.Tables() {
		ddl, err := GenerateDDL(set.MustPlan(table), opts)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, ddl...)
	}
	return stmts, nil
}

func grants(plan *EnforcementPlan, role string) []string {
	table := pq.QuoteIdentifier(plan.table)
	grantee := pq.QuoteIdentifier(role)
	stmts := []string{fmt.Sprintf("REVOKE ALL ON %s FROM %s", table, grantee)}

	columnGrant := func(privilege string, action schema.Action) {
		if plan.TableExpr(action) == condition.False {
			return
		}
		var cols []string
		for _, c := range plan.columns {
			if plan.FieldExpr(c, action) == nil {
				cols = append(cols, pq.QuoteIdentifier(c))
			}
		}
		if len(cols) == 0 {
			return
		}
		stmts = append(stmts, fmt.Sprintf("GRANT %s (%s) ON %s TO %s", privilege, strings.Join(cols, ", "), table, grantee))
	}
	columnGrant("SELECT", schema.ActionRead)
	columnGrant("INSERT", schema.ActionCreate)
	columnGrant("UPDATE", schema.ActionUpdate)

	if plan.TableExpr(schema.ActionDelete) != condition.False {
		stmts = append(stmts, fmt.Sprintf("GRANT DELETE ON %s TO %s", table, grantee))
	}
	return stmts
}

// maskedView selects every column, replacing restricted ones with
// CASE WHEN <field rule> THEN column END. The view runs with its owner's
// privileges, which may bypass row-level security, so it repeats the read
// policy as its own WHERE clause.
func maskedView(plan *EnforcementPlan, opts DDLOptions) ([]string, error) {
	restricted := plan.RestrictedFields(schema.ActionRead)
	if len(restricted) == 0 || plan.TableExpr(schema.ActionRead) == condition.False {
		return nil, nil
	}

	cols := make([]string, 0, len(plan.columns))
	for _, c := range plan.columns {
		expr := plan.FieldExpr(c, schema.ActionRead)
		if expr == nil {
			cols = append(cols, pq.QuoteIdentifier(c))
			continue
		}
		sql, err := condition.SessionSQL(expr)
		if err != nil {
			return nil, &CompileError{Table: plan.table, Context: "field " + c + " mask", Err: err}
		}
		cols = append(cols, fmt.Sprintf("CASE WHEN %s THEN %s END AS %s", sql, pq.QuoteIdentifier(c), pq.QuoteIdentifier(c)))
	}

	view := pq.QuoteIdentifier(opts.viewName(plan.table))
	create := fmt.Sprintf("CREATE VIEW %s WITH (security_barrier) AS SELECT %s FROM %s",
		view, strings.Join(cols, ", "), pq.QuoteIdentifier(plan.table))
	if filter := plan.PolicyExpr(schema.ActionRead); filter != condition.True {
		where, err := condition.SessionSQL(filter)
		if err != nil {
			return nil, &CompileError{Table: plan.table, Context: "view filter", Err: err}
		}
		create += " WHERE " + where
	}
	stmts := []string{fmt.Sprintf("DROP VIEW IF EXISTS %s", view), create}
	if opts.Role != "" {
		stmts = append(stmts, fmt.Sprintf("GRANT SELECT ON %s TO %s", view, pq.QuoteIdentifier(opts.Role)))
	}
	return stmts, nil
}
