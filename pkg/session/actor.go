package session

import (
	"context"

	"github.com/platinummonkey/gatekeep/pkg/condition"
	"github.com/platinummonkey/gatekeep/pkg/contextkeys"
)

// Actor is the identity a request is evaluated for. An empty ID is the
// anonymous actor; an empty OrganizationID means no organization was
// resolved.
type Actor struct {
	ID             string `json:"id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	Role           string `json:"role,omitempty"`
}

// Anonymous reports whether the actor is not signed in
func (a Actor) Anonymous() bool {
	return a.ID == ""
}

// Binding returns the values substituted into permission conditions. The
// anonymous actor binds no role and no organization, whatever it carries.
func (a Actor) Binding() condition.Binding {
	if a.Anonymous() {
		return condition.Binding{}
	}
	return condition.Binding{UserID: a.ID, OrganizationID: a.OrganizationID, Role: a.Role}
}

// WithActor stores the actor in ctx, along with its user and organization ids
func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = contextkeys.WithActor(ctx, a)
	ctx = contextkeys.WithUserID(ctx, a.ID)
	return contextkeys.WithOrganizationID(ctx, a.OrganizationID)
}

// FromContext returns the actor stored by WithActor
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextkeys.ActorKey).(Actor)
	return a, ok
}
