package audit

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeep/pkg/contextkeys"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Middleware records mutating and denied requests to logger. It must run
// after the session middleware so the actor is in the request context.
// Logger failures are logged and never fail the request.
func Middleware(logger Logger, log *logrus.Logger) mux.MiddlewareFunc {
	if log == nil {
		log = logrus.New()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now().UTC()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			event := eventFor(r, rw.statusCode)
			if event == nil {
				return
			}
			event.Timestamp = start
			if err := logger.Log(r.Context(), event); err != nil {
				log.WithError(err).WithField("event_type", event.Type).Error("Failed to record audit event")
			}
		})
	}
}

func eventFor(r *http.Request, statusCode int) *Event {
	denied := statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
	mutating := r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions &&
		!isQuery(r.URL.Path)
	if !denied && !mutating {
		return nil
	}

	event := &Event{
		Method:     r.Method,
		Path:       r.URL.Path,
		StatusCode: statusCode,
		RequestID:  contextkeys.GetRequestID(r.Context()),
		Resource:   mux.Vars(r)["table"],
	}
	if actor, ok := session.FromContext(r.Context()); ok {
		event.ActorID = actor.ID
		event.OrganizationID = actor.OrganizationID
		event.Role = actor.Role
	}

	switch {
	case denied:
		event.Type = EventTypeAccessDenied
		event.Status = EventStatusDenied
		event.Message = "Request denied"
	case strings.Contains(r.URL.Path, "/admin/"):
		event.Type = EventTypeAdminChange
		event.Message = "Role administration"
	default:
		event.Type = EventTypeRecordMutation
		event.Message = "Record mutation"
	}
	if !denied {
		event.Status = EventStatusSuccess
		if statusCode >= 400 {
			event.Status = EventStatusFailure
		}
	}
	return event
}

// isQuery reports whether a POST route only asks a question
func isQuery(path string) bool {
	return strings.HasSuffix(path, "/authorize") || strings.HasSuffix(path, "/check")
}
