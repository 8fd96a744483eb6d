package schema

import (
	"errors"
	"fmt"
	"strings"
)

// UnknownRoleError is returned when a roles specifier names a role that is
// neither built in nor declared
type UnknownRoleError struct {
	Table string
	Role  string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("table %s: unknown role %q", e.Table, e.Role)
}

// IsUnknownRole checks if an error is or wraps an UnknownRoleError
func IsUnknownRole(err error) bool {
	var target *UnknownRoleError
	return errors.As(err, &target)
}

// UnknownFieldError is returned when a permission references a column the
// table does not have
type UnknownFieldError struct {
	Table string
	Field string
	// Context describes where the reference appeared, e.g. "field permission"
	Context string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("table %s: unknown field %q in %s", e.Table, e.Field, e.Context)
}

// IsUnknownField checks if an error is or wraps an UnknownFieldError
func IsUnknownField(err error) bool {
	var target *UnknownFieldError
	return errors.As(err, &target)
}

// DuplicateFieldPermissionError is returned when two field permissions target
// the same field
type DuplicateFieldPermissionError struct {
	Table string
	Field string
}

func (e *DuplicateFieldPermissionError) Error() string {
	return fmt.Sprintf("table %s: duplicate field permission for %q", e.Table, e.Field)
}

// IsDuplicateFieldPermission checks if an error is or wraps a DuplicateFieldPermissionError
func IsDuplicateFieldPermission(err error) bool {
	var target *DuplicateFieldPermissionError
	return errors.As(err, &target)
}

// CircularDependencyError is returned when relationship fields form a cycle.
// Path starts and ends with the same table.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("table %s: circular relationship %s", e.Path[0], strings.Join(e.Path, " -> "))
}

// IsCircularDependency checks if an error is or wraps a CircularDependencyError
func IsCircularDependency(err error) bool {
	var target *CircularDependencyError
	return errors.As(err, &target)
}

// InvalidConditionError is returned when a condition string does not parse
type InvalidConditionError struct {
	Table     string
	Condition string
	Err       error
}

func (e *InvalidConditionError) Error() string {
	return fmt.Sprintf("table %s: %v", e.Table, e.Err)
}

func (e *InvalidConditionError) Unwrap() error {
	return e.Err
}

// IsInvalidCondition checks if an error is or wraps an InvalidConditionError
func IsInvalidCondition(err error) bool {
	var target *InvalidConditionError
	return errors.As(err, &target)
}

// UnknownActionError is returned for record permissions on an unknown action
type UnknownActionError struct {
	Table  string
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("table %s: unknown action %q", e.Table, e.Action)
}

// IsUnknownAction checks if an error is or wraps an UnknownActionError
func IsUnknownAction(err error) bool {
	var target *UnknownActionError
	return errors.As(err, &target)
}

// UnknownTableError is returned when a relationship targets an undeclared table
type UnknownTableError struct {
	Table   string
	Field   string
	Related string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("table %s: field %q references unknown table %q", e.Table, e.Field, e.Related)
}

// IsUnknownTable checks if an error is or wraps an UnknownTableError
func IsUnknownTable(err error) bool {
	var target *UnknownTableError
	return errors.As(err, &target)
}

// InvalidSpecifierError is returned for malformed access specifiers
type InvalidSpecifierError struct {
	Table   string
	Context string
	Message string
}

func (e *InvalidSpecifierError) Error() string {
	return fmt.Sprintf("table %s: invalid access specifier for %s: %s", e.Table, e.Context, e.Message)
}

// IsInvalidSpecifier checks if an error is or wraps an InvalidSpecifierError
func IsInvalidSpecifier(err error) bool {
	var target *InvalidSpecifierError
	return errors.As(err, &target)
}

// DuplicateTableError is returned when a table name is declared twice
type DuplicateTableError struct {
	Table string
}

func (e *DuplicateTableError) Error() string {
	return fmt.Sprintf("table %s: declared more than once", e.Table)
}

// IsConfigurationError reports whether err contains any schema validation error
func IsConfigurationError(err error) bool {
	return IsUnknownRole(err) || IsUnknownField(err) || IsDuplicateFieldPermission(err) ||
		IsCircularDependency(err) || IsInvalidCondition(err) || IsUnknownAction(err) ||
		IsUnknownTable(err) || IsInvalidSpecifier(err) || errors.As(err, new(*DuplicateTableError))
}
