package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeep/pkg/httputil"
	"github.com/platinummonkey/gatekeep/pkg/observability"
)

// Handlers exposes the role registry over HTTP
type Handlers struct {
	registry *Registry
	checker  *Checker
	log      *logrus.Logger
}

// NewHandlers creates role administration handlers
func NewHandlers(registry *Registry, checker *Checker, log *logrus.Logger) *Handlers {
	if log == nil {
		log = logrus.New()
	}
	return &Handlers{registry: registry, checker: checker, log: log}
}

// RegisterRoutes registers the role administration routes on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.CreateRole).Methods(http.MethodPost)
	router.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet)
	router.HandleFunc("/roles/{id:[0-9]+}", h.DeleteRole).Methods(http.MethodDelete)

	router.HandleFunc("/members/{member_id}/role", h.AssignRole).Methods(http.MethodPut)
	router.HandleFunc("/members/{member_id}/role", h.GetMemberRole).Methods(http.MethodGet)

	router.HandleFunc("/check", h.CheckPermission).Methods(http.MethodPost)
}

type createRoleRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	OrganizationID string   `json:"organization_id"`
	Level          int      `json:"level"`
	Permissions    []string `json:"permissions"`
}

// CreateRole creates a custom role in an organization
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.NonEmpty("name", req.Name),
		httputil.NonEmpty("organization_id", req.OrganizationID),
	) {
		return
	}

	role, err := h.registry.CreateRole(r.Context(), Role{
		Name:           req.Name,
		Description:    req.Description,
		OrganizationID: req.OrganizationID,
		Level:          req.Level,
		Permissions:    req.Permissions,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, role)
}

// ListRoles lists the roles visible in ?organization_id=
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.registry.ListRoles(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, roles)
}

type deleteRoleResponse struct {
	RoleID     int64 `json:"role_id"`
	Reassigned int64 `json:"reassigned_members"`
}

// DeleteRole deletes a custom role, moving its members to the default role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	org, ok := httputil.RequireQuery(w, r, "organization_id")
	if !ok {
		return
	}

	reassigned, err := h.registry.DeleteRole(r.Context(), id, org)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, deleteRoleResponse{RoleID: id, Reassigned: reassigned})
}

type assignRoleRequest struct {
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// AssignRole replaces a member's role in an organization
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	memberID := mux.Vars(r)["member_id"]
	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.NonEmpty("organization_id", req.OrganizationID),
		httputil.NonEmpty("role", req.Role),
	) {
		return
	}

	a, err := h.registry.AssignRole(r.Context(), req.OrganizationID, memberID, req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, a)
}

// GetMemberRole returns the role a member holds in ?organization_id=
func (h *Handlers) GetMemberRole(w http.ResponseWriter, r *http.Request) {
	org, ok := httputil.RequireQuery(w, r, "organization_id")
	if !ok {
		return
	}
	role, err := h.registry.MemberRole(r.Context(), org, mux.Vars(r)["member_id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, role)
}

type checkRequest struct {
	OrganizationID string `json:"organization_id"`
	MemberID       string `json:"member_id"`
	Role           string `json:"role"`
	Capability     string `json:"capability"`
}

// CheckPermission answers a single capability check
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w, httputil.NonEmpty("capability", req.Capability)) {
		return
	}

	result, err := h.checker.CheckPermission(r.Context(), req.OrganizationID, req.MemberID, req.Role, req.Capability)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, result)
}

// writeError maps registry errors to status codes
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrAssignmentNotFound):
		httputil.WriteNotFound(w, err.Error())
	case IsCannotDeleteDefaultRole(err), IsRoleExists(err):
		httputil.WriteConflict(w, err.Error())
	case IsInvalidCapability(err), IsInvalidRole(err),
		errors.Is(err, ErrOrganizationRequired), errors.Is(err, ErrMemberRequired):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context(), h.log).WithError(err).Error("Role administration request failed")
		httputil.WriteInternalError(w)
	}
}
