package access

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeep/pkg/condition"
	"github.com/platinummonkey/gatekeep/pkg/observability"
	"github.com/platinummonkey/gatekeep/pkg/policy"
	"github.com/platinummonkey/gatekeep/pkg/rbac"
	"github.com/platinummonkey/gatekeep/pkg/schema"
	"github.com/platinummonkey/gatekeep/pkg/session"
)

// CapabilityChecker answers role capability checks
type CapabilityChecker interface {
	CheckPermission(ctx context.Context, org, memberID, fallbackRole, capability string) (*rbac.PermissionCheckResult, error)
}

// Config configures an Engine
type Config struct {
	Plans   *policy.PlanSet
	Checker CapabilityChecker
	Metrics *observability.Metrics
	Logger  *logrus.Logger
}

// Engine answers access questions for an actor against the compiled plans.
// It holds no per-request state; plans are replaced wholesale with Swap.
type Engine struct {
	plans   atomic.Pointer[policy.PlanSet]
	checker CapabilityChecker
	metrics *observability.Metrics
	log     *logrus.Logger

	evaluations map[string]*atomic.Uint64
}

// NewEngine creates an access engine
func NewEngine(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	e := &Engine{
		checker: cfg.Checker,
		metrics: cfg.Metrics,
		log:     log,
		evaluations: map[string]*atomic.Uint64{
			observability.StageTable:  {},
			observability.StageField:  {},
			observability.StageRecord: {},
		},
	}
	if cfg.Plans != nil {
		e.Swap(cfg.Plans)
	}
	return e
}

// Swap atomically installs a new plan set. Evaluations already in flight
// finish against the previous set.
func (e *Engine) Swap(plans *policy.PlanSet) {
	e.plans.Store(plans)
	if e.metrics != nil {
		e.metrics.SchemaTables.Set(float64(plans.Len()))
	}
	e.log.WithField("tables", plans.Len()).Info("Installed enforcement plans")
}

// Plans returns the active plan set
func (e *Engine) Plans() *policy.PlanSet {
	return e.plans.Load()
}

// Evaluations returns how many times a stage has been evaluated
func (e *Engine) Evaluations(stage string) uint64 {
	if c, ok := e.evaluations[stage]; ok {
		return c.Load()
	}
	return 0
}

func (e *Engine) plan(table string) (*policy.EnforcementPlan, bool) {
	set := e.plans.Load()
	if set == nil {
		return nil, false
	}
	return set.Plan(table)
}

func (e *Engine) count(stage string) {
	e.evaluations[stage].Add(1)
	if e.metrics != nil {
		e.metrics.AccessEvaluationsTotal.WithLabelValues(stage).Inc()
	}
}

func (e *Engine) decide(actor session.Actor, table string, action schema.Action, allowed bool) {
	if e.metrics != nil {
		e.metrics.AccessDecisionsTotal.WithLabelValues(table, string(action), observability.ResultLabel(allowed)).Inc()
	}
	e.log.WithFields(logrus.Fields{
		"table":   table,
		"action":  action,
		"user_id": actor.ID,
		"org_id":  actor.OrganizationID,
		"role":    actor.Role,
		"allowed": allowed,
	}).Debug("Access decision")
}

func (e *Engine) tableAllows(p *policy.EnforcementPlan, action schema.Action, actor session.Actor, record map[string]any) bool {
	e.count(observability.StageTable)
	return p.TableAllow(action, actor.Binding(), record)
}

func mustColumn(p *policy.EnforcementPlan, field string) {
	if !p.HasColumn(field) {
		panic(fmt.Sprintf("access: table %q has no field %q", p.Table(), field))
	}
}

// CanAccessTable reports whether actor passes the table level for action.
// A rule that depends on the record (owner or custom) counts as passing,
// since it is settled per row. Unknown tables are denied.
func (e *Engine) CanAccessTable(actor session.Actor, table string, action schema.Action) bool {
	p, ok := e.plan(table)
	allowed := ok && e.tableAllows(p, action, actor, nil)
	e.decide(actor, table, action, allowed)
	return allowed
}

// VisibleFields returns the columns actor may see (read) or set (create,
// update) in declaration order. Columns whose rule depends on the record
// are included; FieldMasks returns their predicates.
func (e *Engine) VisibleFields(actor session.Actor, table string, action schema.Action) []string {
	p, ok := e.plan(table)
	if !ok || !e.tableAllows(p, action, actor, nil) {
		return nil
	}

	b := actor.Binding()
	var fields []string
	for _, col := range p.Columns() {
		e.count(observability.StageField)
		if p.FieldPredicate(col, action, b) != condition.False {
			fields = append(fields, col)
		}
	}
	return fields
}

// FieldMasks returns the bound predicate of every visible column that is
// only conditionally visible. A caller selects such a column as
// CASE WHEN <predicate> THEN column END.
func (e *Engine) FieldMasks(actor session.Actor, table string, action schema.Action) map[string]condition.Expr {
	p, ok := e.plan(table)
	if !ok || !e.tableAllows(p, action, actor, nil) {
		return nil
	}

	b := actor.Binding()
	masks := make(map[string]condition.Expr)
	for _, col := range p.RestrictedFields(action) {
		e.count(observability.StageField)
		pred := p.FieldPredicate(col, action, b)
		if pred != condition.True && pred != condition.False {
			masks[col] = pred
		}
	}
	return masks
}

// FieldVisible reports whether actor may read or write field of record.
// It panics when field is not a column of table.
func (e *Engine) FieldVisible(actor session.Actor, table, field string, action schema.Action, record map[string]any) bool {
	p, ok := e.plan(table)
	if !ok {
		return false
	}
	mustColumn(p, field)
	if !e.tableAllows(p, action, actor, record) {
		return false
	}
	e.count(observability.StageField)
	return p.FieldVisible(field, action, actor.Binding(), record)
}

// RowFilter returns the predicate restricting the rows actor may act on.
// When the table level denies, it is false and record rules are never
// evaluated.
func (e *Engine) RowFilter(actor session.Actor, table string, action schema.Action) condition.Expr {
	p, ok := e.plan(table)
	if !ok {
		return condition.False
	}
	e.count(observability.StageTable)
	if p.TablePredicate(action, actor.Binding()) == condition.False {
		return condition.False
	}
	e.count(observability.StageRecord)
	return p.RowFilter(action, actor.Binding())
}

// AuthorizeRead returns ErrNotFound unless actor may read record
func (e *Engine) AuthorizeRead(actor session.Actor, table string, record map[string]any) error {
	allowed := e.readable(actor, table, record)
	e.decide(actor, table, schema.ActionRead, allowed)
	if !allowed {
		return ErrNotFound
	}
	return nil
}

func (e *Engine) readable(actor session.Actor, table string, record map[string]any) bool {
	p, ok := e.plan(table)
	if !ok || !e.tableAllows(p, schema.ActionRead, actor, record) {
		return false
	}
	e.count(observability.StageRecord)
	return condition.Eval(p.RecordPredicate(schema.ActionRead, actor.Binding()), record)
}

// AuthorizeWrite checks a create, update or delete of record touching
// fields. For update and delete, record is the stored row and an
// unreadable row yields ErrNotFound. For create, record holds the new
// values. Denials are *ForbiddenError.
func (e *Engine) AuthorizeWrite(actor session.Actor, table string, action schema.Action, record map[string]any, fields []string) error {
	if !action.IsWrite() {
		return e.AuthorizeRead(actor, table, record)
	}
	err := e.authorizeWrite(actor, table, action, record, fields)
	e.decide(actor, table, action, err == nil)
	return err
}

func (e *Engine) authorizeWrite(actor session.Actor, table string, action schema.Action, record map[string]any, fields []string) error {
	p, ok := e.plan(table)
	if !ok {
		return &ForbiddenError{Table: table, Action: action, Stage: observability.StageTable}
	}
	for _, f := range fields {
		mustColumn(p, f)
	}
	if action != schema.ActionCreate && !e.readable(actor, table, record) {
		return ErrNotFound
	}

	if !e.tableAllows(p, action, actor, record) {
		return &ForbiddenError{Table: table, Action: action, Stage: observability.StageTable}
	}

	b := actor.Binding()
	for _, f := range fields {
		e.count(observability.StageField)
		if !condition.Eval(p.FieldPredicate(f, action, b), record) {
			return &ForbiddenError{Table: table, Action: action, Stage: observability.StageField, Field: f}
		}
	}

	e.count(observability.StageRecord)
	if !condition.Eval(p.RecordPredicate(action, b), record) {
		return &ForbiddenError{Table: table, Action: action, Stage: observability.StageRecord}
	}
	return nil
}

// CheckPermission reports whether actor's role grants capability. Only the
// role registry is consulted; table rules play no part. Anonymous actors
// hold no capabilities.
func (e *Engine) CheckPermission(ctx context.Context, actor session.Actor, capability string) (bool, error) {
	if _, _, err := rbac.ParseCapability(capability); err != nil {
		return false, err
	}
	if actor.Anonymous() {
		return false, nil
	}
	if e.checker == nil {
		return false, errors.New("no capability checker configured")
	}
	result, err := e.checker.CheckPermission(ctx, actor.OrganizationID, actor.ID, actor.Role, capability)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}
