package session

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeep/pkg/httputil"
	"github.com/platinummonkey/gatekeep/pkg/observability"
)

// Middleware resolves the actor of every request with provider and stores
// it in the request context
func Middleware(provider RequestProvider, log *logrus.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logrus.New()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := provider.ActorFromRequest(r)
			if errors.Is(err, ErrUnauthenticated) {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if err != nil {
				observability.FromContext(r.Context(), log).WithError(err).Error("Failed to resolve session actor")
				httputil.WriteInternalError(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
