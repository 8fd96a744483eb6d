package schema

import (
	"sort"
)

// Action is a table operation gated by a permission block
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Actions lists every action in evaluation order
func Actions() []Action {
	return []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete}
}

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// IsWrite reports whether a mutates records
func (a Action) IsWrite() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Implicit columns every table carries
const (
	FieldID             = "id"
	FieldOrganizationID = "organization_id"
)

// FieldTypeRelationship marks a field that references another table
const FieldTypeRelationship = "relationship"

// Schema is the declarative application schema
type Schema struct {
	// Roles declares custom role names that permission blocks may reference
	// in addition to the built-in roles.
	Roles  []RoleDeclaration `json:"roles,omitempty" yaml:"roles,omitempty"`
	Tables []Table           `json:"tables" yaml:"tables"`
}

// RoleDeclaration names a custom role expected to exist in organizations
type RoleDeclaration struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// Table is a table definition
type Table struct {
	Name        string       `json:"name" yaml:"name"`
	Fields      []Field      `json:"fields" yaml:"fields"`
	Permissions *Permissions `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// Field is a column definition
type Field struct {
	Name         string `json:"name" yaml:"name"`
	Type         string `json:"type" yaml:"type"`
	RelatedTable string `json:"relatedTable,omitempty" yaml:"relatedTable,omitempty"`
	Required     bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Permissions is a table's permission block
type Permissions struct {
	OrganizationScoped bool               `json:"organizationScoped,omitempty" yaml:"organizationScoped,omitempty"`
	Read               *AccessSpecifier   `json:"read,omitempty" yaml:"read,omitempty"`
	Create             *AccessSpecifier   `json:"create,omitempty" yaml:"create,omitempty"`
	Update             *AccessSpecifier   `json:"update,omitempty" yaml:"update,omitempty"`
	Delete             *AccessSpecifier   `json:"delete,omitempty" yaml:"delete,omitempty"`
	Fields             []FieldPermission  `json:"fields,omitempty" yaml:"fields,omitempty"`
	Records            []RecordPermission `json:"records,omitempty" yaml:"records,omitempty"`
}

// Specifier returns the table-level specifier for an action, nil when absent
func (p *Permissions) Specifier(action Action) *AccessSpecifier {
	if p == nil {
		return nil
	}
	switch action {
	case ActionRead:
		return p.Read
	case ActionCreate:
		return p.Create
	case ActionUpdate:
		return p.Update
	case ActionDelete:
		return p.Delete
	}
	return nil
}

// FieldPermission narrows access to a single field
type FieldPermission struct {
	Field string           `json:"field" yaml:"field"`
	Read  *AccessSpecifier `json:"read,omitempty" yaml:"read,omitempty"`
	Write *AccessSpecifier `json:"write,omitempty" yaml:"write,omitempty"`
}

// RecordPermission restricts which rows an action applies to
type RecordPermission struct {
	Action    Action `json:"action" yaml:"action"`
	Condition string `json:"condition" yaml:"condition"`
}

// Table returns the table with the given name
func (s *Schema) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// RoleNames returns the declared custom role names
func (s *Schema) RoleNames() []string {
	names := make([]string, 0, len(s.Roles))
	for _, r := range s.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Field returns the named field. Implicit columns are reported as well.
func (t *Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	switch {
	case name == FieldID:
		return Field{Name: FieldID, Type: "uuid"}, true
	case name == FieldOrganizationID && t.OrganizationScoped():
		return Field{Name: FieldOrganizationID, Type: "uuid"}, true
	}
	return Field{}, false
}

// HasField reports whether name is a declared or implicit column
func (t *Table) HasField(name string) bool {
	_, ok := t.Field(name)
	return ok
}

// FieldNames returns every column name, implicit columns first
func (t *Table) FieldNames() []string {
	names := []string{FieldID}
	if t.OrganizationScoped() {
		names = append(names, FieldOrganizationID)
	}
	for _, f := range t.Fields {
		if f.Name == FieldID || f.Name == FieldOrganizationID {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

// OrganizationScoped reports whether rows are partitioned by organization
func (t *Table) OrganizationScoped() bool {
	return t.Permissions != nil && t.Permissions.OrganizationScoped
}

// Relations returns the sorted, de-duplicated tables referenced by relationship fields
func (t *Table) Relations() []string {
	seen := make(map[string]bool)
	for _, f := range t.Fields {
		if f.Type == FieldTypeRelationship && f.RelatedTable != "" {
			seen[f.RelatedTable] = true
		}
	}
	related := make([]string, 0, len(seen))
	for name := range seen {
		related = append(related, name)
	}
	sort.Strings(related)
	return related
}
