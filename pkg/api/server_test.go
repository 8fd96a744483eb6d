package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatekeep/pkg/access"
	"github.com/platinummonkey/gatekeep/pkg/audit"
	"github.com/platinummonkey/gatekeep/pkg/observability"
	"github.com/platinummonkey/gatekeep/pkg/policy"
	"github.com/platinummonkey/gatekeep/pkg/rbac"
	"github.com/platinummonkey/gatekeep/pkg/schema"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

const testSchema = `
tables:
  - name: users
    fields:
      - {name: email, type: email}
  - name: tasks
    fields:
      - {name: title, type: text}
      - {name: notes, type: text}
      - {name: owner_id, type: relationship, relatedTable: users}
    permissions:
      read: authenticated
      create: authenticated
      update: {type: owner, field: owner_id}
      delete: {type: roles, roles: [admin, owner]}
      fields:
        - field: notes
          read: {type: custom, condition: "{userId} = owner_id"}
      records:
        - action: read
          condition: "{userId} = owner_id"
  - name: posts
    fields:
      - {name: title, type: text}
      - {name: body, type: text}
      - {name: draft, type: boolean}
      - {name: author_id, type: relationship, relatedTable: users}
    permissions:
      read: public
      fields:
        - field: body
          read: authenticated
      records:
        - action: read
          condition: "draft = false OR {userId} = author_id"
`

var (
	anonymous = session.Actor{}
	alice     = session.Actor{ID: "alice", OrganizationID: "acme", Role: "member"}
	bob       = session.Actor{ID: "bob", OrganizationID: "acme", Role: "admin"}
)

type fakeAudit struct {
	events []audit.Event
	filter audit.Filter
}

func (f *fakeAudit) Log(_ context.Context, e *audit.Event) error {
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeAudit) Query(_ context.Context, filter audit.Filter) ([]audit.Event, error) {
	f.filter = filter
	var out []audit.Event
	for _, e := range f.events {
		if e.OrganizationID == filter.OrganizationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAudit) Close() error { return nil }

type testServerOptions struct {
	metrics *observability.Metrics
	audit   audit.Logger
	tracing bool
}

func newTestServer(t *testing.T, opts testServerOptions) *Server {
	t.Helper()
	s, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	set, err := policy.CompileSchema(s)
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	registry := rbac.NewRegistry(rbac.RegistryConfig{Logger: log})
	checker := rbac.NewChecker(registry, 100, time.Minute, nil)
	engine := access.NewEngine(access.Config{Plans: set, Checker: checker, Logger: log})

	return NewServer(Config{
		Engine:   engine,
		Registry: registry,
		Checker:  checker,
		Provider: &session.RegistryProvider{Next: session.NewHeaderProvider(), Registry: registry},
		Metrics:  opts.metrics,
		Logger:   log,
		Audit:    opts.audit,
		Tracing:  opts.tracing,
	})
}

func do(t *testing.T, h http.Handler, actor session.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if !actor.Anonymous() {
		req.Header.Set(session.DefaultUserHeader, actor.ID)
		req.Header.Set(session.DefaultOrganizationHeader, actor.OrganizationID)
		req.Header.Set(session.DefaultRoleHeader, actor.Role)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestListTables(t *testing.T) {
	server := newTestServer(t, testServerOptions{})

	w := do(t, server, anonymous, http.MethodGet, "/api/v1/tables", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	tables := decode[[]TableAccess](t, w)
	require.Len(t, tables, 1, "anonymous callers only see public tables")
	assert.Equal(t, "posts", tables[0].Table)
	assert.True(t, tables[0].Actions[schema.ActionRead])
	assert.False(t, tables[0].Actions[schema.ActionCreate])
	assert.NotContains(t, tables[0].VisibleFields, "body")

	tables = decode[[]TableAccess](t, do(t, server, alice, http.MethodGet, "/api/v1/tables", nil))
	var names []string
	for _, ta := range tables {
		names = append(names, ta.Table)
	}
	assert.ElementsMatch(t, []string{"tasks", "posts"}, names, "users has no permissions and stays hidden")
}

func TestGetTable(t *testing.T) {
	server := newTestServer(t, testServerOptions{})

	w := do(t, server, alice, http.MethodGet, "/api/v1/tables/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ta := decode[TableAccess](t, w)
	assert.Equal(t, map[schema.Action]bool{
		schema.ActionRead:   true,
		schema.ActionCreate: true,
		schema.ActionUpdate: true,
		schema.ActionDelete: false,
	}, ta.Actions)
	assert.Contains(t, ta.VisibleFields, "notes")
	assert.Equal(t, []string{"notes"}, ta.MaskedFields)
	assert.Equal(t, "'alice' = owner_id", ta.RowFilter)

	ta = decode[TableAccess](t, do(t, server, anonymous, http.MethodGet, "/api/v1/tables/tasks", nil))
	assert.False(t, ta.Actions[schema.ActionRead])
	assert.Empty(t, ta.VisibleFields)
	assert.Empty(t, ta.RowFilter)

	w = do(t, server, alice, http.MethodGet, "/api/v1/tables/ghosts", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthorize(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	own := map[string]any{"id": 1, "title": "mine", "owner_id": "alice"}
	other := map[string]any{"id": 2, "title": "theirs", "owner_id": "bob"}

	tests := []struct {
		name  string
		actor session.Actor
		body  map[string]any
		want  Decision
	}{
		{"own task is readable", alice, map[string]any{"table": "tasks", "action": "read", "record": own}, Decision{Allowed: true}},
		{"other task reads as missing", alice, map[string]any{"table": "tasks", "action": "read", "record": other}, Decision{Reason: "not_found"}},
		{"owner may update", alice, map[string]any{"table": "tasks", "action": "update", "record": own, "fields": []string{"title"}}, Decision{Allowed: true}},
		{"member may not delete", alice, map[string]any{"table": "tasks", "action": "delete", "record": own}, Decision{Reason: "forbidden", Stage: observability.StageTable}},
		{"anonymous update of unreadable row", anonymous, map[string]any{"table": "tasks", "action": "update", "record": own}, Decision{Reason: "not_found"}},
		{"admin create", bob, map[string]any{"table": "tasks", "action": "create", "record": map[string]any{"title": "x"}}, Decision{Allowed: true}},
		{"public draft hidden", anonymous, map[string]any{"table": "posts", "action": "read", "record": map[string]any{"draft": true, "author_id": "alice"}}, Decision{Reason: "not_found"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, server, tt.actor, http.MethodPost, "/api/v1/authorize", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tt.want, decode[Decision](t, w))
		})
	}

	t.Run("validation", func(t *testing.T) {
		w := do(t, server, alice, http.MethodPost, "/api/v1/authorize", map[string]any{"table": "tasks", "action": "publish"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = do(t, server, alice, http.MethodPost, "/api/v1/authorize", map[string]any{"table": "tasks", "action": "update", "fields": []string{"ghost"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = do(t, server, alice, http.MethodPost, "/api/v1/authorize", map[string]any{"action": "read"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCheckCapability(t *testing.T) {
	server := newTestServer(t, testServerOptions{})

	tests := []struct {
		name       string
		actor      session.Actor
		capability string
		status     int
		allowed    bool
	}{
		{"member reads", alice, "tasks:read", http.StatusOK, true},
		{"member cannot manage roles", alice, "roles:manage", http.StatusOK, false},
		{"admin manages roles", bob, "roles:manage", http.StatusOK, true},
		{"anonymous holds nothing", anonymous, "tasks:read", http.StatusOK, false},
		{"malformed capability", alice, "tasks", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, server, tt.actor, http.MethodPost, "/api/v1/capabilities/check", map[string]string{"capability": tt.capability})
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.allowed, decode[Decision](t, w).Allowed)
			}
		})
	}
}

func TestRoleAdministration(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	editor := map[string]any{"name": "editor", "organization_id": "acme", "permissions": []string{"tasks:update"}}

	w := do(t, server, anonymous, http.MethodPost, "/api/v1/admin/roles", editor)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, server, alice, http.MethodPost, "/api/v1/admin/roles", editor)
	assert.Equal(t, http.StatusForbidden, w.Code, "member lacks roles:manage")

	w = do(t, server, bob, http.MethodPost, "/api/v1/admin/roles", map[string]any{"name": "editor", "organization_id": "globex"})
	assert.Equal(t, http.StatusForbidden, w.Code, "other organizations are off limits")

	w = do(t, server, bob, http.MethodPost, "/api/v1/admin/roles", editor)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, server, alice, http.MethodGet, "/api/v1/admin/roles?organization_id=acme", nil)
	require.Equal(t, http.StatusOK, w.Code, "roles:read is covered by *:read")
	assert.Len(t, decode[[]rbac.Role](t, w), 5)

	w = do(t, server, bob, http.MethodPut, "/api/v1/admin/members/alice/role", map[string]string{"organization_id": "acme", "role": "editor"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The assignment now outranks the role alice's gateway reports
	w = do(t, server, alice, http.MethodPost, "/api/v1/capabilities/check", map[string]string{"capability": "tasks:update"})
	assert.True(t, decode[Decision](t, w).Allowed)
	w = do(t, server, alice, http.MethodGet, "/api/v1/admin/roles?organization_id=acme", nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "editor does not grant roles:read")
}

func TestRoleAdministration_ForeignOrganizationInBody(t *testing.T) {
	server := newTestServer(t, testServerOptions{})

	send := func(method, path, contentType, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set(session.DefaultUserHeader, bob.ID)
		req.Header.Set(session.DefaultOrganizationHeader, bob.OrganizationID)
		req.Header.Set(session.DefaultRoleHeader, bob.Role)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		return w
	}

	w := send(http.MethodPut, "/api/v1/admin/members/bob/role?organization_id=acme", "application/json",
		`{"organization_id":"globex","role":"owner"}`)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = send(http.MethodPost, "/api/v1/admin/roles", "text/plain",
		`{"organization_id":"globex","name":"pwn","permissions":["*:*"]}`)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = send(http.MethodPost, "/api/v1/admin/roles", "",
		`{"organization_id":"globex","name":"pwn","permissions":["*:*"]}`)
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = send(http.MethodPut, "/api/v1/admin/members/alice/role?organization_id=acme", "text/plain",
		`{"organization_id":"acme","role":"viewer"}`)
	assert.Equal(t, http.StatusOK, w.Code, "own organization is accepted whatever the content type")
}

func TestMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	server := newTestServer(t, testServerOptions{metrics: metrics})

	assert.Equal(t, http.StatusOK, do(t, server, alice, http.MethodGet, "/api/v1/tables", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, server, bob, http.MethodGet, "/api/v1/tables", nil).Code)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/tables", "200")))
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	server := newTestServer(t, testServerOptions{tracing: true})
	require.Equal(t, http.StatusOK, do(t, server, alice, http.MethodGet, "/api/v1/tables", nil).Code)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
}

func TestAuditTrail(t *testing.T) {
	trail := &fakeAudit{}
	server := newTestServer(t, testServerOptions{audit: trail})
	editor := map[string]any{"name": "editor", "organization_id": "acme", "permissions": []string{"tasks:update"}}

	require.Equal(t, http.StatusForbidden, do(t, server, alice, http.MethodPost, "/api/v1/admin/roles", editor).Code)
	require.Equal(t, http.StatusCreated, do(t, server, bob, http.MethodPost, "/api/v1/admin/roles", editor).Code)
	require.Equal(t, http.StatusOK, do(t, server, alice, http.MethodGet, "/api/v1/tables", nil).Code)
	require.Len(t, trail.events, 2)

	assert.Equal(t, audit.EventTypeAccessDenied, trail.events[0].Type)
	assert.Equal(t, "alice", trail.events[0].ActorID)
	assert.Equal(t, audit.EventTypeAdminChange, trail.events[1].Type)
	assert.Equal(t, "bob", trail.events[1].ActorID)

	// members may read roles but not the audit trail
	assert.Equal(t, http.StatusForbidden, do(t, server, alice, http.MethodGet, "/api/v1/admin/audit", nil).Code)

	w := do(t, server, bob, http.MethodGet, "/api/v1/admin/audit?actor_id=alice&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, audit.Filter{OrganizationID: "acme", ActorID: "alice", Limit: 10}, trail.filter)
	events := decode[[]audit.Event](t, w)
	assert.NotEmpty(t, events)

	assert.Equal(t, http.StatusBadRequest, do(t, server, bob, http.MethodGet, "/api/v1/admin/audit?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, server, bob, http.MethodGet, "/api/v1/admin/audit?since=yesterday", nil).Code)
}

func TestAuditTrail_DisabledWithoutQuerier(t *testing.T) {
	server := newTestServer(t, testServerOptions{audit: audit.NopLogger{}})
	assert.Equal(t, http.StatusNotFound, do(t, server, bob, http.MethodGet, "/api/v1/admin/audit", nil).Code)
}
