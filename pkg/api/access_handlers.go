package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeep/pkg/access"
	"github.com/platinummonkey/gatekeep/pkg/condition"
	"github.com/platinummonkey/gatekeep/pkg/httputil"
	"github.com/platinummonkey/gatekeep/pkg/observability"
	"github.com/platinummonkey/gatekeep/pkg/rbac"
	"github.com/platinummonkey/gatekeep/pkg/schema"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

// TableAccess describes what the calling actor may do with a table
type TableAccess struct {
	Table         string                 `json:"table"`
	Actions       map[schema.Action]bool `json:"actions"`
	VisibleFields []string               `json:"visible_fields"`
	MaskedFields  []string               `json:"masked_fields,omitempty"`
	RowFilter     string                 `json:"row_filter,omitempty"`
}

func (s *Server) tableAccess(actor session.Actor, table string) TableAccess {
	ta := TableAccess{
		Table:         table,
		Actions:       make(map[schema.Action]bool, len(schema.Actions())),
		VisibleFields: s.engine.VisibleFields(actor, table, schema.ActionRead),
	}
	for _, action := range schema.Actions() {
		ta.Actions[action] = s.engine.CanAccessTable(actor, table, action)
	}
	if ta.VisibleFields == nil {
		ta.VisibleFields = []string{}
	}
	masks := s.engine.FieldMasks(actor, table, schema.ActionRead)
	for _, field := range ta.VisibleFields {
		if _, masked := masks[field]; masked {
			ta.MaskedFields = append(ta.MaskedFields, field)
		}
	}
	return ta
}

func (ta TableAccess) any() bool {
	for _, allowed := range ta.Actions {
		if allowed {
			return true
		}
	}
	return false
}

// listTables handles GET /api/v1/tables. Only tables the actor can do
// something with are listed.
func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	actor, _ := session.FromContext(r.Context())

	tables := []TableAccess{}
	for _, table := range s.engine.Plans().Tables() {
		if ta := s.tableAccess(actor, table); ta.any() {
			tables = append(tables, ta)
		}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, tables)
}

// getTable handles GET /api/v1/tables/{table}
func (s *Server) getTable(w http.ResponseWriter, r *http.Request) {
	actor, _ := session.FromContext(r.Context())
	table := mux.Vars(r)["table"]
	if _, ok := s.engine.Plans().Plan(table); !ok {
		httputil.WriteNotFound(w, "table not found")
		return
	}

	ta := s.tableAccess(actor, table)
	if filter := s.engine.RowFilter(actor, table, schema.ActionRead); filter != condition.False {
		ta.RowFilter = filter.String()
	}
	_ = httputil.WriteJSON(w, http.StatusOK, ta)
}

type authorizeRequest struct {
	Table  string         `json:"table"`
	Action schema.Action  `json:"action"`
	Record map[string]any `json:"record"`
	Fields []string       `json:"fields"`
}

// Decision is the answer to an authorization request
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Field   string `json:"field,omitempty"`
}

// authorize handles POST /api/v1/authorize: a single read or write decision
// for a record the caller already holds
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		httputil.NonEmpty("table", req.Table),
		httputil.NonEmpty("action", string(req.Action)),
	) {
		return
	}
	if !req.Action.Valid() {
		httputil.WriteBadRequest(w, "unknown action "+string(req.Action))
		return
	}
	if plan, ok := s.engine.Plans().Plan(req.Table); ok {
		for _, field := range req.Fields {
			if !plan.HasColumn(field) {
				httputil.WriteBadRequest(w, "unknown field "+field)
				return
			}
		}
	}

	actor, _ := session.FromContext(r.Context())
	var err error
	if req.Action == schema.ActionRead {
		err = s.engine.AuthorizeRead(actor, req.Table, req.Record)
	} else {
		err = s.engine.AuthorizeWrite(actor, req.Table, req.Action, req.Record, req.Fields)
	}

	decision := Decision{Allowed: err == nil}
	var forbidden *access.ForbiddenError
	switch {
	case err == nil:
	case access.IsNotFound(err):
		decision.Reason = "not_found"
	case errors.As(err, &forbidden):
		decision.Reason = "forbidden"
		decision.Stage = forbidden.Stage
		decision.Field = forbidden.Field
	default:
		observability.FromContext(r.Context(), s.log).WithError(err).Error("Authorization failed")
		httputil.WriteInternalError(w)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, decision)
}

type capabilityRequest struct {
	Capability string `json:"capability"`
}

// checkCapability handles POST /api/v1/capabilities/check for the calling actor
func (s *Server) checkCapability(w http.ResponseWriter, r *http.Request) {
	var req capabilityRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w, httputil.NonEmpty("capability", req.Capability)) {
		return
	}

	actor, _ := session.FromContext(r.Context())
	allowed, err := s.engine.CheckPermission(r.Context(), actor, req.Capability)
	switch {
	case rbac.IsInvalidCapability(err):
		httputil.WriteBadRequest(w, err.Error())
		return
	case err != nil:
		observability.FromContext(r.Context(), s.log).WithError(err).Error("Capability check failed")
		httputil.WriteInternalError(w)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, Decision{Allowed: allowed})
}
