package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrRoleNotFound is returned when a role does not exist in the organization
	ErrRoleNotFound = errors.New("role not found")
	// ErrAssignmentNotFound is returned when a member has no role in the organization
	ErrAssignmentNotFound = errors.New("member has no role in organization")
	// ErrOrganizationRequired is returned when a custom role operation has no organization
	ErrOrganizationRequired = errors.New("organization id is required")
)

// CannotDeleteDefaultRoleError is returned when deleting a built-in role
type CannotDeleteDefaultRoleError struct {
	Role string
}

func (e *CannotDeleteDefaultRoleError) Error() string {
	return fmt.Sprintf("cannot delete default role %q", e.Role)
}

// IsCannotDeleteDefaultRole checks if an error is a CannotDeleteDefaultRoleError
func IsCannotDeleteDefaultRole(err error) bool {
	var target *CannotDeleteDefaultRoleError
	return errors.As(err, &target)
}

// RoleExistsError is returned when creating a role whose name is taken in the
// organization or belongs to a built-in role
type RoleExistsError struct {
	Name           string
	OrganizationID string
}

func (e *RoleExistsError) Error() string {
	if IsBuiltInRoleName(e.Name) {
		return fmt.Sprintf("role %q is a built-in role", e.Name)
	}
	return fmt.Sprintf("role %q already exists in organization %s", e.Name, e.OrganizationID)
}

// IsRoleExists checks if an error is a RoleExistsError
func IsRoleExists(err error) bool {
	var target *RoleExistsError
	return errors.As(err, &target)
}

// InvalidCapabilityError is returned for malformed capability tokens
type InvalidCapabilityError struct {
	Capability string
}

func (e *InvalidCapabilityError) Error() string {
	return fmt.Sprintf("invalid capability %q: expected resource:action", e.Capability)
}

// IsInvalidCapability checks if an error is an InvalidCapabilityError
func IsInvalidCapability(err error) bool {
	var target *InvalidCapabilityError
	return errors.As(err, &target)
}

// InvalidRoleError is returned when a role definition is incomplete
type InvalidRoleError struct {
	Message string
}

func (e *InvalidRoleError) Error() string {
	return "invalid role: " + e.Message
}

// IsInvalidRole checks if an error is an InvalidRoleError
func IsInvalidRole(err error) bool {
	var target *InvalidRoleError
	return errors.As(err, &target)
}
