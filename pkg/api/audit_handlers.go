package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/gatekeep/pkg/audit"
	"github.com/platinummonkey/gatekeep/pkg/httputil"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

const maxAuditLimit = 1000

// listAuditEvents handles GET /api/v1/admin/audit. Events are always scoped
// to the caller's organization.
func (s *Server) listAuditEvents(q audit.Querier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := session.FromContext(r.Context())
		query := r.URL.Query()

		filter := audit.Filter{
			OrganizationID: actor.OrganizationID,
			ActorID:        query.Get("actor_id"),
			Type:           audit.EventType(query.Get("event_type")),
		}
		if v := query.Get("limit"); v != "" {
			limit, err := strconv.ParseUint(v, 10, 64)
			if err != nil || limit == 0 || limit > maxAuditLimit {
				httputil.WriteBadRequest(w, "limit must be between 1 and 1000")
				return
			}
			filter.Limit = limit
		}
		if v := query.Get("since"); v != "" {
			since, err := time.Parse(time.RFC3339, v)
			if err != nil {
				httputil.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
				return
			}
			filter.Since = since
		}

		events, err := q.Query(r.Context(), filter)
		if err != nil {
			s.log.WithError(err).Error("Failed to query audit events")
			httputil.WriteInternalError(w)
			return
		}
		if events == nil {
			events = []audit.Event{}
		}
		_ = httputil.WriteJSON(w, http.StatusOK, events)
	}
}
