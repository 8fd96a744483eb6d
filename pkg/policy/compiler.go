package policy

import (
	"fmt"
	"sort"

	"github.com/platinummonkey/gatekeep/pkg/condition"
	"github.com/platinummonkey/gatekeep/pkg/schema"
)

// CompileError is returned when a permission block cannot be compiled
type CompileError struct {
	Table   string
	Context string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("table %s: %s: %v", e.Table, e.Context, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// SpecifierExpr compiles an access specifier into an unbound predicate.
// A nil specifier compiles to false.
//
//	public         -> true
//	authenticated  -> {userId} != null
//	roles(a, b)    -> {userId} != null AND ({role} = 'a' OR {role} = 'b')   (empty set: false)
//	owner(f)       -> {userId} != null AND f = {userId}
//	custom(c)      -> c
func SpecifierExpr(spec *schema.AccessSpecifier) (condition.Expr, error) {
	if spec == nil {
		return condition.False, nil
	}
	switch spec.Type {
	case schema.SpecifierPublic:
		return condition.True, nil
	case schema.SpecifierAuthenticated:
		return authenticated(), nil
	case schema.SpecifierRoles:
		if len(spec.Roles) == 0 {
			return condition.False, nil
		}
		or := make(condition.Or, 0, len(spec.Roles))
		for _, role := range spec.Roles {
			or = append(or, condition.Eq(condition.Role(), condition.Literal(role)))
		}
		// A role claimed without a signed-in user never satisfies the rule
		return condition.And{authenticated(), condition.Simplify(or)}, nil
	case schema.SpecifierOwner:
		return condition.And{
			authenticated(),
			condition.Eq(condition.Field(spec.Field), condition.UserID()),
		}, nil
	case schema.SpecifierCustom:
		return condition.Parse(spec.Condition)
	default:
		return nil, fmt.Errorf("unknown access specifier type %q", spec.Type)
	}
}

func authenticated() condition.Expr {
	return condition.Comparison{Left: condition.UserID(), Op: condition.OpNeq, Right: condition.Null()}
}

// Compile builds the enforcement plan of one table. The table is expected
// to have passed schema validation; Compile still reports conditions it
// cannot parse.
func Compile(t *schema.Table) (*EnforcementPlan, error) {
	plan := &EnforcementPlan{
		table:       t.Name,
		columns:     t.FieldNames(),
		tableRules:  make(map[schema.Action]condition.Expr),
		fieldRules:  make(map[string]fieldRule),
		recordRules: make(map[schema.Action][]condition.Expr),
	}
	perms := t.Permissions
	if perms == nil {
		return plan, nil
	}
	plan.restricted = true
	plan.organizationScoped = perms.OrganizationScoped

	for _, action := range schema.Actions() {
		spec := perms.Specifier(action)
		if spec == nil {
			continue
		}
		expr, err := SpecifierExpr(spec)
		if err != nil {
			return nil, &CompileError{Table: t.Name, Context: string(action), Err: err}
		}
		plan.tableRules[action] = expr
	}

	for _, fp := range perms.Fields {
		var rule fieldRule
		var err error
		if fp.Read != nil {
			if rule.read, err = SpecifierExpr(fp.Read); err != nil {
				return nil, &CompileError{Table: t.Name, Context: "field " + fp.Field + " read", Err: err}
			}
		}
		if fp.Write != nil {
			if rule.write, err = SpecifierExpr(fp.Write); err != nil {
				return nil, &CompileError{Table: t.Name, Context: "field " + fp.Field + " write", Err: err}
			}
		}
		plan.fieldRules[fp.Field] = rule
	}

	for i, rp := range perms.Records {
		expr, err := condition.Parse(rp.Condition)
		if err != nil {
			return nil, &CompileError{Table: t.Name, Context: fmt.Sprintf("records[%d]", i), Err: err}
		}
		plan.recordRules[rp.Action] = append(plan.recordRules[rp.Action], expr)
	}
	return plan, nil
}

// PlanSet holds the plans of a whole schema
type PlanSet struct {
	plans map[string]*EnforcementPlan
	order []string
}

// CompileSchema compiles every table of s. Tables are ordered so that
// referenced tables come first; when relationships form a cycle the order
// falls back to declaration order.
func CompileSchema(s *schema.Schema) (*PlanSet, error) {
	set := &PlanSet{plans: make(map[string]*EnforcementPlan, len(s.Tables))}
	for i := range s.Tables {
		plan, err := Compile(&s.Tables[i])
		if err != nil {
			return nil, err
		}
		set.plans[plan.table] = plan
	}

	order, ok := schema.NewRelationshipGraph(s).TopologicalOrder()
	if !ok {
		order = make([]string, 0, len(s.Tables))
		for _, t := range s.Tables {
			order = append(order, t.Name)
		}
	}
	set.order = order
	return set, nil
}

// Plan returns the plan of table
func (s *PlanSet) Plan(table string) (*EnforcementPlan, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.plans[table]
	return p, ok
}

// MustPlan returns the plan of table and panics when there is none
func (s *PlanSet) MustPlan(table string) *EnforcementPlan {
	p, ok := s.Plan(table)
	if !ok {
		panic(fmt.Sprintf("policy: no plan for table %q", table))
	}
	return p
}

// Tables returns the table names in dependency order
func (s *PlanSet) Tables() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Len returns the number of plans
func (s *PlanSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.plans)
}

// RestrictedFields returns the fields of plan that carry a rule for action,
// sorted
func (p *EnforcementPlan) RestrictedFields(action schema.Action) []string {
	var fields []string
	for name := range p.fieldRules {
		if p.FieldExpr(name, action) != nil {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}
