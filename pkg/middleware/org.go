package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/platinummonkey/gatekeep/pkg/httputil"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

// OrganizationParam is the query parameter and JSON body field naming the
// organization a request operates on
const OrganizationParam = "organization_id"

var errInvalidBody = errors.New("invalid request body")

// OrganizationScope rejects requests that name any organization other than
// the actor's, in the query string or in the body. Bodies are inspected
// whatever their Content-Type, since handlers decode them regardless.
// Requests that name no organization pass through.
func OrganizationScope(provider session.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := provider.Actor(r.Context())
			if err != nil {
				httputil.WriteInternalError(w)
				return
			}

			orgs, err := requestOrganizations(r)
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}
			for _, org := range orgs {
				if org != actor.OrganizationID {
					httputil.WriteForbidden(w, "organization "+org+" is outside the caller's organization")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestOrganizations returns every organization the request names. The
// body is read the way httputil.ParseJSON reads it (first JSON value) and
// restored for the next handler.
func requestOrganizations(r *http.Request) ([]string, error) {
	var orgs []string
	for _, org := range r.URL.Query()[OrganizationParam] {
		if org != "" {
			orgs = append(orgs, org)
		}
	}
	if r.Body == nil || r.Body == http.NoBody {
		return orgs, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errInvalidBody
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if len(bytes.TrimSpace(body)) == 0 {
		return orgs, nil
	}

	var payload struct {
		OrganizationID string `json:"organization_id"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		return nil, errInvalidBody
	}
	if payload.OrganizationID != "" {
		orgs = append(orgs, payload.OrganizationID)
	}
	return orgs, nil
}
