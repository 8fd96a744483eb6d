package rbac

import (
	"time"
)

// Built-in role names
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"

	// DefaultRole is the role members fall back to when their role is deleted
	DefaultRole = RoleMember
)

// Built-in role IDs. They are seeded by the first migration and never change.
const (
	RoleOwnerID  int64 = 1
	RoleAdminID  int64 = 2
	RoleMemberID int64 = 3
	RoleViewerID int64 = 4
)

// Role is a named, flat set of capability tokens. Roles do not inherit from
// each other: Level orders roles for display and is never consulted when
// deciding access.
type Role struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"` // empty for built-in roles
	Level          int       `json:"level"`
	IsDefault      bool      `json:"is_default"`
	Permissions    []string  `json:"permissions"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Assignment binds a member to exactly one role within an organization
type Assignment struct {
	MemberID       string    `json:"member_id"`
	OrganizationID string    `json:"organization_id"`
	RoleID         int64     `json:"role_id"`
	AssignedAt     time.Time `json:"assigned_at"`
}

// PermissionCheckResult represents the result of a capability check
type PermissionCheckResult struct {
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
	Role       string    `json:"role,omitempty"`
	MatchedBy  string    `json:"matched_by,omitempty"`
	Capability string    `json:"capability"`
	Version    uint64    `json:"snapshot_version"`
	CheckedAt  time.Time `json:"checked_at"`
}

// BuiltInRoles returns all built-in role definitions
func BuiltInRoles() []Role {
	return []Role{
		{
			ID:          RoleOwnerID,
			Name:        RoleOwner,
			Description: "Full access to every resource in the organization",
			Level:       100,
			IsDefault:   true,
			Permissions: []string{"*:*"},
		},
		{
			ID:          RoleAdminID,
			Name:        RoleAdmin,
			Description: "Manage records, roles and members",
			Level:       80,
			IsDefault:   true,
			Permissions: []string{
				"*:read",
				"*:create",
				"*:update",
				"*:delete",
				"roles:manage",
				"members:manage",
			},
		},
		{
			ID:          RoleMemberID,
			Name:        RoleMember,
			Description: "Read and create records",
			Level:       50,
			IsDefault:   true,
			Permissions: []string{"*:read", "*:create"},
		},
		{
			ID:          RoleViewerID,
			Name:        RoleViewer,
			Description: "Read-only access",
			Level:       10,
			IsDefault:   true,
			Permissions: []string{"*:read"},
		},
	}
}

// IsBuiltInRoleName reports whether name is one of the built-in roles
func IsBuiltInRoleName(name string) bool {
	switch name {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// IsBuiltInRoleID reports whether id belongs to a built-in role
func IsBuiltInRoleID(id int64) bool {
	return id >= RoleOwnerID && id <= RoleViewerID
}

func (r *Role) clone() *Role {
	c := *r
	c.Permissions = append([]string(nil), r.Permissions...)
	return &c
}
