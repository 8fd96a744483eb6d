package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/gatekeep/pkg/rbac"
)

// ErrUnauthenticated is returned when a request must carry an identity and does not
var ErrUnauthenticated = errors.New("unauthenticated")

// Provider returns the actor of the current request
type Provider interface {
	Actor(ctx context.Context) (Actor, error)
}

// RequestProvider resolves the actor from an incoming request
type RequestProvider interface {
	ActorFromRequest(r *http.Request) (Actor, error)
}

// ContextProvider returns the actor Middleware stored in the context, or
// the anonymous actor
type ContextProvider struct{}

// Actor implements Provider
func (ContextProvider) Actor(ctx context.Context) (Actor, error) {
	a, _ := FromContext(ctx)
	return a, nil
}

// Default header names set by the upstream authentication gateway
const (
	DefaultUserHeader         = "X-User-ID"
	DefaultOrganizationHeader = "X-Organization-ID"
	DefaultRoleHeader         = "X-User-Role"
)

// HeaderProvider trusts identity headers set by an authenticating proxy.
// It must only be used behind a gateway that strips these headers from
// client requests.
type HeaderProvider struct {
	UserHeader         string
	OrganizationHeader string
	RoleHeader         string
	// RequireUser rejects requests without a user header instead of
	// treating them as anonymous
	RequireUser bool
}

// NewHeaderProvider returns a HeaderProvider using the default header names
func NewHeaderProvider() *HeaderProvider {
	return &HeaderProvider{
		UserHeader:         DefaultUserHeader,
		OrganizationHeader: DefaultOrganizationHeader,
		RoleHeader:         DefaultRoleHeader,
	}
}

// ActorFromRequest implements RequestProvider
func (p *HeaderProvider) ActorFromRequest(r *http.Request) (Actor, error) {
	a := Actor{
		ID:             r.Header.Get(p.UserHeader),
		OrganizationID: r.Header.Get(p.OrganizationHeader),
		Role:           r.Header.Get(p.RoleHeader),
	}
	if a.Anonymous() {
		if p.RequireUser {
			return Actor{}, ErrUnauthenticated
		}
		// Anonymous actors carry no role or organization
		return Actor{}, nil
	}
	return a, nil
}

// RoleSource is the part of the role registry RegistryProvider needs
type RoleSource interface {
	MemberRole(ctx context.Context, org, memberID string) (*rbac.Role, error)
	ResolveRole(ctx context.Context, name, org string) (*rbac.Role, error)
}

// RegistryProvider replaces the role reported upstream with the member's
// assignment in the role registry. Without an assignment the upstream role
// is kept only when it exists in the organization.
type RegistryProvider struct {
	Next     RequestProvider
	Registry RoleSource
}

// ActorFromRequest implements RequestProvider
func (p *RegistryProvider) ActorFromRequest(r *http.Request) (Actor, error) {
	a, err := p.Next.ActorFromRequest(r)
	if err != nil || a.Anonymous() || a.OrganizationID == "" {
		return a, err
	}
	return p.resolve(r.Context(), a)
}

func (p *RegistryProvider) resolve(ctx context.Context, a Actor) (Actor, error) {
	role, err := p.Registry.MemberRole(ctx, a.OrganizationID, a.ID)
	switch {
	case err == nil:
		a.Role = role.Name
		return a, nil
	case !errors.Is(err, rbac.ErrAssignmentNotFound):
		return Actor{}, err
	}

	if a.Role != "" {
		if _, err := p.Registry.ResolveRole(ctx, a.Role, a.OrganizationID); err != nil {
			if !errors.Is(err, rbac.ErrRoleNotFound) {
				return Actor{}, err
			}
			a.Role = ""
		}
	}
	return a, nil
}
