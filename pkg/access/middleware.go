package access

import (
	"net/http"

	"github.com/platinummonkey/gatekeep/pkg/httputil"
	"github.com/platinummonkey/gatekeep/pkg/observability"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

// RequireCapability only lets requests through whose actor holds capability
func (e *Engine) RequireCapability(capability string, provider session.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := provider.Actor(r.Context())
			if err != nil {
				observability.FromContext(r.Context(), e.log).WithError(err).Error("Failed to resolve actor")
				httputil.WriteInternalError(w)
				return
			}
			if actor.Anonymous() {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			allowed, err := e.CheckPermission(r.Context(), actor, capability)
			if err != nil {
				observability.FromContext(r.Context(), e.log).WithError(err).
					WithField("capability", capability).Error("Capability check failed")
				httputil.WriteInternalError(w)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "missing capability "+capability)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
