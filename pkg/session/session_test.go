package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeep/pkg/condition"
	"github.com/platinummonkey/gatekeep/pkg/contextkeys"
	"github.com/platinummonkey/gatekeep/pkg/rbac"
)

func TestActor(t *testing.T) {
	assert.True(t, Actor{}.Anonymous())
	assert.True(t, Actor{Role: "owner"}.Anonymous())
	assert.Equal(t, condition.Binding{}, Actor{OrganizationID: "acme", Role: "owner"}.Binding(), "anonymous binds nothing")

	a := Actor{ID: "u1", OrganizationID: "acme", Role: "admin"}
	assert.False(t, a.Anonymous())
	assert.Equal(t, condition.Binding{UserID: "u1", OrganizationID: "acme", Role: "admin"}, a.Binding())
}

func TestWithActor(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{ID: "u1", OrganizationID: "acme"})

	a, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", a.ID)
	assert.Equal(t, "u1", contextkeys.GetUserID(ctx))
	assert.Equal(t, "acme", contextkeys.GetOrganizationID(ctx))

	_, ok = FromContext(context.Background())
	assert.False(t, ok)

	got, err := ContextProvider{}.Actor(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Anonymous())
}

func TestHeaderProvider(t *testing.T) {
	p := NewHeaderProvider()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DefaultUserHeader, "u1")
	req.Header.Set(DefaultOrganizationHeader, "acme")
	req.Header.Set(DefaultRoleHeader, "admin")
	a, err := p.ActorFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, Actor{ID: "u1", OrganizationID: "acme", Role: "admin"}, a)

	t.Run("anonymous drops role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(DefaultRoleHeader, "owner")
		a, err := p.ActorFromRequest(req)
		require.NoError(t, err)
		assert.Equal(t, Actor{}, a)
	})

	t.Run("required user", func(t *testing.T) {
		strict := NewHeaderProvider()
		strict.RequireUser = true
		_, err := strict.ActorFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestRegistryProvider(t *testing.T) {
	ctx := context.Background()
	registry := rbac.NewRegistry(rbac.RegistryConfig{})
	_, err := registry.CreateRole(ctx, rbac.Role{Name: "editor", OrganizationID: "acme"})
	require.NoError(t, err)
	_, err = registry.AssignRole(ctx, "acme", "u1", "editor")
	require.NoError(t, err)

	p := &RegistryProvider{Next: NewHeaderProvider(), Registry: registry}

	tests := []struct {
		name     string
		user     string
		org      string
		role     string
		wantRole string
	}{
		{"assignment wins over header", "u1", "acme", "owner", "editor"},
		{"header role kept without assignment", "u2", "acme", "viewer", "viewer"},
		{"unknown header role dropped", "u2", "acme", "wizard", ""},
		{"no organization keeps header", "u1", "", "owner", "owner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(DefaultUserHeader, tt.user)
			req.Header.Set(DefaultOrganizationHeader, tt.org)
			req.Header.Set(DefaultRoleHeader, tt.role)

			a, err := p.ActorFromRequest(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, a.Role)
		})
	}
}

type failingRoles struct{}

func (failingRoles) MemberRole(ctx context.Context, org, memberID string) (*rbac.Role, error) {
	return nil, errors.New("store unavailable")
}

func (failingRoles) ResolveRole(ctx context.Context, name, org string) (*rbac.Role, error) {
	return nil, errors.New("store unavailable")
}

func TestMiddleware(t *testing.T) {
	var seen Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("stores actor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(DefaultUserHeader, "u1")
		w := httptest.NewRecorder()
		Middleware(NewHeaderProvider(), nil)(next).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "u1", seen.ID)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		strict := NewHeaderProvider()
		strict.RequireUser = true
		w := httptest.NewRecorder()
		Middleware(strict, nil)(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("provider failure", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(DefaultUserHeader, "u1")
		req.Header.Set(DefaultOrganizationHeader, "acme")
		w := httptest.NewRecorder()
		p := &RegistryProvider{Next: NewHeaderProvider(), Registry: failingRoles{}}
		Middleware(p, nil)(next).ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
