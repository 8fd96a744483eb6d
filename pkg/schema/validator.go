package schema

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/gatekeep/pkg/condition"
)

// RoleSet answers whether a role name can be referenced by a permission block
type RoleSet interface {
	HasRole(name string) bool
}

// RoleNames is a RoleSet backed by a fixed list of names
type RoleNames map[string]bool

// NewRoleNames creates a RoleSet from names
func NewRoleNames(names ...string) RoleNames {
	set := make(RoleNames, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// HasRole implements RoleSet
func (r RoleNames) HasRole(name string) bool {
	return r[name]
}

// Validate checks every role, field, condition and relationship reference in
// the schema. Roles declared in the schema itself are accepted alongside those
// known to roles. All problems are reported together, joined with errors.Join.
func Validate(s *Schema, roles RoleSet) error {
	v := &validator{
		schema:   s,
		roles:    roles,
		declared: NewRoleNames(s.RoleNames()...),
	}
	return v.run()
}

type validator struct {
	schema   *Schema
	roles    RoleSet
	declared RoleNames
	errs     []error
}

func (v *validator) add(err error) {
	v.errs = append(v.errs, err)
}

func (v *validator) run() error {
	seen := make(map[string]bool)
	for i := range v.schema.Tables {
		t := &v.schema.Tables[i]
		if seen[t.Name] {
			v.add(&DuplicateTableError{Table: t.Name})
			continue
		}
		seen[t.Name] = true
		v.validateTable(t)
	}

	if cycle := NewRelationshipGraph(v.schema).DetectCycle(); cycle != nil {
		v.add(&CircularDependencyError{Path: cycle})
	}
	return errors.Join(v.errs...)
}

func (v *validator) hasRole(name string) bool {
	if v.declared.HasRole(name) {
		return true
	}
	return v.roles != nil && v.roles.HasRole(name)
}

func (v *validator) validateTable(t *Table) {
	for _, f := range t.Fields {
		if f.Type != FieldTypeRelationship {
			continue
		}
		if _, ok := v.schema.Table(f.RelatedTable); !ok {
			v.add(&UnknownTableError{Table: t.Name, Field: f.Name, Related: f.RelatedTable})
		}
	}

	p := t.Permissions
	if p == nil {
		return
	}

	for _, action := range Actions() {
		if spec := p.Specifier(action); spec != nil {
			v.validateSpecifier(t, spec, string(action))
		}
	}

	fieldSeen := make(map[string]bool)
	for _, fp := range p.Fields {
		if !t.HasField(fp.Field) {
			v.add(&UnknownFieldError{Table: t.Name, Field: fp.Field, Context: "field permission"})
		}
		if fieldSeen[fp.Field] {
			v.add(&DuplicateFieldPermissionError{Table: t.Name, Field: fp.Field})
		}
		fieldSeen[fp.Field] = true
		if fp.Read != nil {
			v.validateSpecifier(t, fp.Read, fmt.Sprintf("%s.read", fp.Field))
		}
		if fp.Write != nil {
			v.validateSpecifier(t, fp.Write, fmt.Sprintf("%s.write", fp.Field))
		}
	}

	for i, rp := range p.Records {
		if !rp.Action.Valid() {
			v.add(&UnknownActionError{Table: t.Name, Action: string(rp.Action)})
		}
		v.validateCondition(t, rp.Condition, fmt.Sprintf("record permission %d", i))
	}
}

func (v *validator) validateSpecifier(t *Table, spec *AccessSpecifier, context string) {
	switch spec.Type {
	case SpecifierPublic, SpecifierAuthenticated:
	case SpecifierRoles:
		for _, role := range spec.Roles {
			if !v.hasRole(role) {
				v.add(&UnknownRoleError{Table: t.Name, Role: role})
			}
		}
	case SpecifierOwner:
		if spec.Field == "" {
			v.add(&InvalidSpecifierError{Table: t.Name, Context: context, Message: "owner specifier requires a field"})
			return
		}
		if !t.HasField(spec.Field) {
			v.add(&UnknownFieldError{Table: t.Name, Field: spec.Field, Context: "owner specifier for " + context})
		}
	case SpecifierCustom:
		v.validateCondition(t, spec.Condition, "custom specifier for "+context)
	default:
		v.add(&InvalidSpecifierError{Table: t.Name, Context: context, Message: fmt.Sprintf("unknown type %q", spec.Type)})
	}
}

func (v *validator) validateCondition(t *Table, cond, context string) {
	expr, err := condition.Parse(cond)
	if err != nil {
		v.add(&InvalidConditionError{Table: t.Name, Condition: cond, Err: err})
		return
	}
	for _, field := range condition.Fields(expr) {
		if !t.HasField(field) {
			v.add(&UnknownFieldError{Table: t.Name, Field: field, Context: context})
		}
	}
}
