package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatekeep/pkg/access"
	"github.com/platinummonkey/gatekeep/pkg/audit"
	"github.com/platinummonkey/gatekeep/pkg/httputil"
	"github.com/platinummonkey/gatekeep/pkg/middleware"
	"github.com/platinummonkey/gatekeep/pkg/observability"
	"github.com/platinummonkey/gatekeep/pkg/rbac"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

// DefaultMaxBodyBytes caps request bodies
const DefaultMaxBodyBytes = 1 << 20

// Capabilities guarding the role administration routes
const (
	CapabilityRolesRead   = "roles:read"
	CapabilityRolesManage = "roles:manage"
)

// Config wires a Server. Engine, Registry and Provider are required.
type Config struct {
	Engine   *access.Engine
	Registry *rbac.Registry
	Checker  *rbac.Checker
	Provider session.RequestProvider

	// Audit records mutating and denied requests. A logger that also
	// implements audit.Querier enables GET /api/v1/admin/audit.
	Audit audit.Logger

	Metrics      *observability.Metrics
	Logger       *logrus.Logger
	MaxBodyBytes int64
	// Tracing wraps every route in an otelhttp server span
	Tracing bool
}

// Server represents the gatekeep API server
type Server struct {
	router  *mux.Router
	engine  *access.Engine
	checker *rbac.Checker
	log     *logrus.Logger
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	checker := cfg.Checker
	if checker == nil {
		checker = rbac.NewChecker(cfg.Registry, 0, 0, cfg.Metrics)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		router:  mux.NewRouter(),
		engine:  cfg.Engine,
		checker: checker,
		log:     log,
	}
	s.setupRoutes(cfg)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(cfg Config) {
	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.log),
		httputil.LoggingMiddleware(s.log),
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
	)
	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	if cfg.Tracing {
		s.router.Use(otelhttp.NewMiddleware("gatekeep"))
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(session.Middleware(cfg.Provider, s.log))
	if cfg.Audit != nil {
		api.Use(audit.Middleware(cfg.Audit, s.log))
	}

	// Access decisions for the calling actor
	api.HandleFunc("/tables", s.listTables).Methods(http.MethodGet)
	api.HandleFunc("/tables/{table}", s.getTable).Methods(http.MethodGet)
	api.HandleFunc("/authorize", s.authorize).Methods(http.MethodPost)
	api.HandleFunc("/capabilities/check", s.checkCapability).Methods(http.MethodPost)

	// Role administration
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.roleGuard, middleware.OrganizationScope(session.ContextProvider{}))
	rbac.NewHandlers(cfg.Registry, s.checker, s.log).RegisterRoutes(admin)
	if q, ok := cfg.Audit.(audit.Querier); ok {
		admin.HandleFunc("/audit", s.listAuditEvents(q)).Methods(http.MethodGet)
	}
}

// roleGuard requires roles:read for lookups and roles:manage for mutations
// and the audit trail
func (s *Server) roleGuard(next http.Handler) http.Handler {
	provider := session.ContextProvider{}
	read := s.engine.RequireCapability(CapabilityRolesRead, provider)(next)
	manage := s.engine.RequireCapability(CapabilityRolesManage, provider)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/audit") {
			manage.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet || strings.HasSuffix(r.URL.Path, "/check") {
			read.ServeHTTP(w, r)
			return
		}
		manage.ServeHTTP(w, r)
	})
}

// Router returns the underlying router, e.g. to mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
