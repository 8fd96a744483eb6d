package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/gatekeep/pkg/session"
)

func TestRequireCapability(t *testing.T) {
	checker := &stubChecker{}
	engine := NewEngine(Config{Checker: checker})

	router := mux.NewRouter()
	router.Use(session.Middleware(session.NewHeaderProvider(), nil))
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(engine.RequireCapability("roles:manage", session.ContextProvider{}))
	admin.HandleFunc("/roles", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	serve := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin/roles", nil)
		if user != "" {
			req.Header.Set(session.DefaultUserHeader, user)
			req.Header.Set(session.DefaultOrganizationHeader, "acme")
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(""))
	assert.Equal(t, http.StatusForbidden, serve("u1"))

	checker.allowed = true
	assert.Equal(t, http.StatusOK, serve("u1"))
	assert.Equal(t, 2, checker.calls)
}
