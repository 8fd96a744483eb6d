package policy

import (
	"fmt"

	"github.com/platinummonkey/gatekeep/pkg/condition"
	"github.com/platinummonkey/gatekeep/pkg/schema"
)

// Actor is the session binding a plan is evaluated for. An empty UserID is
// the anonymous actor.
type Actor = condition.Binding

// EnforcementPlan is the compiled, immutable form of one table's permission
// block. Predicates are kept unbound so the same plan serves in-process
// evaluation, parameterized push-down and session-mode DDL.
type EnforcementPlan struct {
	table              string
	organizationScoped bool
	restricted         bool // false when the table has no permission block
	columns            []string

	tableRules  map[schema.Action]condition.Expr
	fieldRules  map[string]fieldRule
	recordRules map[schema.Action][]condition.Expr
}

type fieldRule struct {
	read  condition.Expr // nil when the field has no read rule
	write condition.Expr // nil when the field has no write rule
}

// Table returns the table name
func (p *EnforcementPlan) Table() string {
	return p.table
}

// OrganizationScoped reports whether rows are partitioned by organization
func (p *EnforcementPlan) OrganizationScoped() bool {
	return p.organizationScoped
}

// HasPermissions reports whether the table declared a permission block.
// Tables without one deny every action.
func (p *EnforcementPlan) HasPermissions() bool {
	return p.restricted
}

// Columns returns every column of the table, implicit columns first
func (p *EnforcementPlan) Columns() []string {
	return append([]string(nil), p.columns...)
}

// HasColumn reports whether name is a column of the table
func (p *EnforcementPlan) HasColumn(name string) bool {
	for _, c := range p.columns {
		if c == name {
			return true
		}
	}
	return false
}

// TableExpr returns the unbound table-level predicate for action. Missing
// rules compile to false.
func (p *EnforcementPlan) TableExpr(action schema.Action) condition.Expr {
	if expr, ok := p.tableRules[action]; ok {
		return expr
	}
	return condition.False
}

// TablePredicate binds the table-level rule for actor. The result is
// constant for public, authenticated and roles rules. Owner and custom
// rules that reference record fields stay deferred to the record.
func (p *EnforcementPlan) TablePredicate(action schema.Action, actor Actor) condition.Expr {
	return condition.Bind(p.TableExpr(action), actor)
}

// TableAllow decides the table-level rule. Without a record a deferred
// predicate counts as allowed, since it can only be settled per row.
func (p *EnforcementPlan) TableAllow(action schema.Action, actor Actor, record map[string]any) bool {
	return allows(p.TablePredicate(action, actor), record)
}

// FieldExpr returns the unbound field-level predicate, or nil when the
// field has no rule for action. Read uses the read rule; create and update
// use the write rule; delete has no field level.
func (p *EnforcementPlan) FieldExpr(field string, action schema.Action) condition.Expr {
	p.mustColumn(field)
	rule, ok := p.fieldRules[field]
	if !ok {
		return nil
	}
	switch action {
	case schema.ActionRead:
		return rule.read
	case schema.ActionCreate, schema.ActionUpdate:
		return rule.write
	}
	return nil
}

// FieldPredicate binds the field-level rule for actor, true when the field
// has no rule for action
func (p *EnforcementPlan) FieldPredicate(field string, action schema.Action, actor Actor) condition.Expr {
	expr := p.FieldExpr(field, action)
	if expr == nil {
		return condition.True
	}
	return condition.Bind(expr, actor)
}

// FieldVisible reports whether actor may read or write field. The field rule
// only ever narrows the table rule. It panics when field is not a column.
func (p *EnforcementPlan) FieldVisible(field string, action schema.Action, actor Actor, record map[string]any) bool {
	if !p.TableAllow(action, actor, record) {
		return false
	}
	return allows(p.FieldPredicate(field, action, actor), record)
}

// RecordExpr returns the unbound record-level predicate: the organization
// scope ANDed with the OR of the record rules for action
func (p *EnforcementPlan) RecordExpr(action schema.Action) condition.Expr {
	var and condition.And
	if p.organizationScoped {
		and = append(and, condition.Eq(condition.Field(schema.FieldOrganizationID), condition.OrgID()))
	}
	if rules := p.recordRules[action]; len(rules) > 0 {
		and = append(and, condition.Or(rules))
	}
	return condition.Simplify(and)
}

// RecordPredicate binds the record-level predicate for actor. Without an
// organization, organization-scoped tables match no rows.
func (p *EnforcementPlan) RecordPredicate(action schema.Action, actor Actor) condition.Expr {
	return condition.Bind(p.RecordExpr(action), actor)
}

// RowFilter returns the push-down predicate for action. It is false without
// looking at record rules when the table level already denies actor.
func (p *EnforcementPlan) RowFilter(action schema.Action, actor Actor) condition.Expr {
	table := p.TablePredicate(action, actor)
	if table == condition.False {
		return condition.False
	}
	return condition.Simplify(condition.And{table, p.RecordPredicate(action, actor)})
}

// PolicyExpr returns the unbound predicate that row-level security enforces
// for action: table rule, organization scope and record rules combined
func (p *EnforcementPlan) PolicyExpr(action schema.Action) condition.Expr {
	return condition.Simplify(condition.And{p.TableExpr(action), p.RecordExpr(action)})
}

func (p *EnforcementPlan) mustColumn(field string) {
	if !p.HasColumn(field) {
		panic(fmt.Sprintf("policy: table %q has no field %q", p.table, field))
	}
}

// allows evaluates a bound predicate. A nil record cannot settle a deferred
// predicate, so only constant false denies.
func allows(pred condition.Expr, record map[string]any) bool {
	if record == nil {
		return pred != condition.False
	}
	return condition.Eval(pred, record)
}
