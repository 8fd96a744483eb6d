package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SpecifierType discriminates AccessSpecifier variants
type SpecifierType string

const (
	SpecifierPublic        SpecifierType = "public"
	SpecifierAuthenticated SpecifierType = "authenticated"
	SpecifierRoles         SpecifierType = "roles"
	SpecifierOwner         SpecifierType = "owner"
	SpecifierCustom        SpecifierType = "custom"
)

// AccessSpecifier says who may perform an action.
//
// Only the fields belonging to Type are meaningful: Roles for "roles", Field
// for "owner" and Condition for "custom". An empty Roles list denies everyone.
type AccessSpecifier struct {
	Type      SpecifierType `json:"type" yaml:"type"`
	Roles     []string      `json:"roles,omitempty" yaml:"roles,omitempty"`
	Field     string        `json:"field,omitempty" yaml:"field,omitempty"`
	Condition string        `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Public allows everyone, including anonymous actors
func Public() *AccessSpecifier {
	return &AccessSpecifier{Type: SpecifierPublic}
}

// Authenticated allows any signed-in actor
func Authenticated() *AccessSpecifier {
	return &AccessSpecifier{Type: SpecifierAuthenticated}
}

// Roles allows actors whose resolved role is in the set
func Roles(roles ...string) *AccessSpecifier {
	if roles == nil {
		roles = []string{}
	}
	return &AccessSpecifier{Type: SpecifierRoles, Roles: roles}
}

// Owner allows the actor whose id equals the record's field
func Owner(field string) *AccessSpecifier {
	return &AccessSpecifier{Type: SpecifierOwner, Field: field}
}

// Custom allows actors for whom the condition holds
func Custom(condition string) *AccessSpecifier {
	return &AccessSpecifier{Type: SpecifierCustom, Condition: condition}
}

func (s *AccessSpecifier) String() string {
	switch s.Type {
	case SpecifierRoles:
		return fmt.Sprintf("roles(%s)", strings.Join(s.Roles, ", "))
	case SpecifierOwner:
		return fmt.Sprintf("owner(%s)", s.Field)
	case SpecifierCustom:
		return fmt.Sprintf("custom(%s)", s.Condition)
	default:
		return string(s.Type)
	}
}

type rawSpecifier AccessSpecifier

// UnmarshalYAML accepts the mapping form or the "public" / "authenticated"
// shorthand strings.
func (s *AccessSpecifier) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return s.fromShorthand(value.Value)
	}
	var raw rawSpecifier
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*s = AccessSpecifier(raw)
	s.normalize()
	return nil
}

// UnmarshalJSON accepts the object form or a shorthand string
func (s *AccessSpecifier) UnmarshalJSON(data []byte) error {
	var shorthand string
	if err := json.Unmarshal(data, &shorthand); err == nil {
		return s.fromShorthand(shorthand)
	}
	var raw rawSpecifier
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = AccessSpecifier(raw)
	s.normalize()
	return nil
}

func (s *AccessSpecifier) fromShorthand(v string) error {
	switch SpecifierType(v) {
	case SpecifierPublic, SpecifierAuthenticated:
		*s = AccessSpecifier{Type: SpecifierType(v)}
		return nil
	}
	return fmt.Errorf("access specifier shorthand must be %q or %q, got %q", SpecifierPublic, SpecifierAuthenticated, v)
}

// normalize keeps "roles: []" distinguishable from a missing list
func (s *AccessSpecifier) normalize() {
	if s.Type == SpecifierRoles && s.Roles == nil {
		s.Roles = []string{}
	}
}
