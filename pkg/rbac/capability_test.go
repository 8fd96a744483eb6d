package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchCapability(t *testing.T) {
	tests := []struct {
		granted   string
		requested string
		want      bool
	}{
		{"articles:read", "articles:read", true},
		{"articles:read", "articles:write", false},
		{"articles:*", "articles:delete", true},
		{"articles:*", "tasks:delete", false},
		{"*:read", "tasks:read", true},
		{"*:read", "tasks:update", false},
		{"*:*", "roles:manage", true},
		{"articles", "articles:read", false},
		{"articles:read", "articles", false},
	}

	for _, tt := range tests {
		t.Run(tt.granted+"->"+tt.requested, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchCapability(tt.granted, tt.requested))
		})
	}
}

func TestGrantsCapability_BuiltIns(t *testing.T) {
	roles := make(map[string]*Role)
	for _, role := range BuiltInRoles() {
		role := role
		roles[role.Name] = &role
	}

	assert.True(t, GrantsCapability(roles[RoleOwner], "billing:refund"))
	assert.True(t, GrantsCapability(roles[RoleAdmin], "roles:manage"))
	assert.True(t, GrantsCapability(roles[RoleAdmin], "tasks:delete"))
	assert.False(t, GrantsCapability(roles[RoleAdmin], "billing:refund"))
	assert.True(t, GrantsCapability(roles[RoleMember], "tasks:create"))
	assert.False(t, GrantsCapability(roles[RoleMember], "tasks:update"))
	assert.True(t, GrantsCapability(roles[RoleViewer], "tasks:read"))
	assert.False(t, GrantsCapability(roles[RoleViewer], "tasks:create"))
	assert.False(t, GrantsCapability(nil, "tasks:read"))
}

func TestValidateCapabilities(t *testing.T) {
	assert.NoError(t, ValidateCapabilities([]string{"a:b", "*:*", "a:*"}))
	assert.NoError(t, ValidateCapabilities(nil))

	for _, bad := range []string{"", "a", "a:", ":b", "a:b:c"} {
		err := ValidateCapabilities([]string{"ok:ok", bad})
		assert.True(t, IsInvalidCapability(err), "expected %q to be rejected", bad)
	}
}
