package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatekeep/pkg/observability"
)

var tracer = otel.Tracer("gatekeep/rbac")

// ErrMemberRequired is returned when an assignment has no member id
var ErrMemberRequired = errors.New("member id is required")

// firstCustomRoleID is where in-memory role IDs start when no store is configured
const firstCustomRoleID int64 = 1000

// snapshot is an immutable view of one organization's roles and assignments
type snapshot struct {
	version uint64
	org     string
	roles   map[string]*Role // by name, built-ins included
	byID    map[int64]*Role
	members map[string]int64 // member id -> role id
}

func newSnapshot(org string, builtIns []Role, custom []Role, assignments []Assignment) *snapshot {
	s := &snapshot{
		org:     org,
		roles:   make(map[string]*Role, len(builtIns)+len(custom)),
		byID:    make(map[int64]*Role, len(builtIns)+len(custom)),
		members: make(map[string]int64, len(assignments)),
	}
	for i := range builtIns {
		s.add(&builtIns[i])
	}
	for i := range custom {
		s.add(&custom[i])
	}
	for _, a := range assignments {
		s.members[a.MemberID] = a.RoleID
	}
	return s
}

func (s *snapshot) add(role *Role) {
	s.roles[role.Name] = role
	s.byID[role.ID] = role
}

// clone copies the maps; Role values are shared since they are never mutated
func (s *snapshot) clone() *snapshot {
	c := &snapshot{
		org:     s.org,
		roles:   make(map[string]*Role, len(s.roles)),
		byID:    make(map[int64]*Role, len(s.byID)),
		members: make(map[string]int64, len(s.members)),
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k, v := range s.byID {
		c.byID[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	return c
}

type registryState struct {
	orgs map[string]*snapshot
}

// RegistryConfig configures a Registry. Every field is optional: without a
// Store the registry keeps custom roles in memory only.
type RegistryConfig struct {
	Store    Store
	Notifier Notifier
	Logger   *logrus.Logger
	Metrics  *observability.Metrics
}

// Registry resolves roles and member assignments per organization.
//
// Reads are lock-free against a versioned copy-on-write snapshot. Mutations
// are serialized, persisted first, and only then published by swapping in
// a new snapshot, so readers never observe a state the store did not commit.
type Registry struct {
	store    Store
	notifier Notifier
	log      *logrus.Logger
	metrics  *observability.Metrics

	builtIns []Role

	mu      sync.Mutex
	state   atomic.Pointer[registryState]
	version atomic.Uint64
	nextID  int64
	loads   singleflight.Group
}

// NewRegistry creates a registry holding only the built-in roles
func NewRegistry(cfg RegistryConfig) *Registry {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	r := &Registry{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		log:      log,
		metrics:  cfg.Metrics,
		builtIns: BuiltInRoles(),
		nextID:   firstCustomRoleID,
	}
	r.state.Store(&registryState{orgs: make(map[string]*snapshot)})
	return r
}

// Version returns the version of the most recently installed snapshot
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

func (r *Registry) builtIn(name string) *Role {
	for i := range r.builtIns {
		if r.builtIns[i].Name == name {
			return &r.builtIns[i]
		}
	}
	return nil
}

func (r *Registry) builtInByID(id int64) *Role {
	for i := range r.builtIns {
		if r.builtIns[i].ID == id {
			return &r.builtIns[i]
		}
	}
	return nil
}

// snapshot returns the organization's snapshot, loading it on first use.
// Concurrent first loads of the same organization share one store round trip.
func (r *Registry) snapshot(ctx context.Context, org string) (*snapshot, error) {
	if s, ok := r.state.Load().orgs[org]; ok {
		return s, nil
	}
	v, err, _ := r.loads.Do(org, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.loadLocked(ctx, org, false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

// loadLocked reads the organization from the store and installs it. Callers
// hold r.mu. Without replace an already installed snapshot is returned as is.
func (r *Registry) loadLocked(ctx context.Context, org string, replace bool) (*snapshot, error) {
	if !replace {
		if s, ok := r.state.Load().orgs[org]; ok {
			return s, nil
		}
	}
	if r.store == nil {
		if s, ok := r.state.Load().orgs[org]; ok {
			return s, nil
		}
		return r.installLocked(newSnapshot(org, r.builtIns, nil, nil)), nil
	}

	roles, err := r.store.ListRoles(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles for organization %s: %w", org, err)
	}
	assignments, err := r.store.ListAssignments(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments for organization %s: %w", org, err)
	}
	return r.installLocked(newSnapshot(org, r.builtIns, roles, assignments)), nil
}

func (r *Registry) installLocked(s *snapshot) *snapshot {
	s.version = r.version.Add(1)
	current := r.state.Load()
	next := &registryState{orgs: make(map[string]*snapshot, len(current.orgs)+1)}
	for k, v := range current.orgs {
		next.orgs[k] = v
	}
	next.orgs[s.org] = s
	r.state.Store(next)

	if r.metrics != nil {
		r.metrics.RoleSnapshotVersion.Set(float64(s.version))
	}
	return s
}

// ResolveRole returns the role with the given name as seen by org. Built-in
// roles resolve in every organization, including none.
func (r *Registry) ResolveRole(ctx context.Context, name, org string) (*Role, error) {
	if role := r.builtIn(name); role != nil {
		return role.clone(), nil
	}
	if org == "" {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	s, err := r.snapshot(ctx, org)
	if err != nil {
		return nil, err
	}
	role, ok := s.roles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	return role.clone(), nil
}

// RoleByID returns the role with the given id as seen by org
func (r *Registry) RoleByID(ctx context.Context, id int64, org string) (*Role, error) {
	if role := r.builtInByID(id); role != nil {
		return role.clone(), nil
	}
	if org == "" {
		return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, id)
	}
	s, err := r.snapshot(ctx, org)
	if err != nil {
		return nil, err
	}
	role, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, id)
	}
	return role.clone(), nil
}

// ListRoles returns the built-in and custom roles of org, highest level first
func (r *Registry) ListRoles(ctx context.Context, org string) ([]Role, error) {
	if org == "" {
		roles := make([]Role, 0, len(r.builtIns))
		for i := range r.builtIns {
			roles = append(roles, *r.builtIns[i].clone())
		}
		return roles, nil
	}
	s, err := r.snapshot(ctx, org)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(s.roles))
	for _, role := range s.roles {
		roles = append(roles, *role.clone())
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

// MemberRole returns the role currently assigned to member in org
func (r *Registry) MemberRole(ctx context.Context, org, memberID string) (*Role, error) {
	role, _, err := r.memberRole(ctx, org, memberID)
	if err != nil {
		return nil, err
	}
	return role.clone(), nil
}

func (r *Registry) memberRole(ctx context.Context, org, memberID string) (*Role, uint64, error) {
	if org == "" || memberID == "" {
		return nil, 0, ErrAssignmentNotFound
	}
	s, err := r.snapshot(ctx, org)
	if err != nil {
		return nil, 0, err
	}
	roleID, ok := s.members[memberID]
	if !ok {
		return nil, s.version, ErrAssignmentNotFound
	}
	role, ok := s.byID[roleID]
	if !ok {
		// Assignments always reference a role of the same snapshot
		return nil, s.version, fmt.Errorf("%w: %d", ErrRoleNotFound, roleID)
	}
	return role, s.version, nil
}

// HasRole reports whether name is a built-in role or a custom role in any
// loaded organization. It satisfies schema.RoleSet.
func (r *Registry) HasRole(name string) bool {
	if r.builtIn(name) != nil {
		return true
	}
	for _, s := range r.state.Load().orgs {
		if _, ok := s.roles[name]; ok {
			return true
		}
	}
	return false
}

// CreateRole adds a custom role to role.OrganizationID
func (r *Registry) CreateRole(ctx context.Context, role Role) (_ *Role, err error) {
	ctx, span := tracer.Start(ctx, "rbac.CreateRole", trace.WithAttributes(
		attribute.String("organization_id", role.OrganizationID),
		attribute.String("role", role.Name),
	))
	defer func() { endSpan(span, err) }()

	switch {
	case role.OrganizationID == "":
		return nil, ErrOrganizationRequired
	case role.Name == "":
		return nil, &InvalidRoleError{Message: "name is required"}
	case IsBuiltInRoleName(role.Name):
		return nil, &RoleExistsError{Name: role.Name, OrganizationID: role.OrganizationID}
	}
	if err := ValidateCapabilities(role.Permissions); err != nil {
		return nil, err
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	role.IsDefault = false

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.loadLocked(ctx, role.OrganizationID, false)
	if err != nil {
		return nil, err
	}
	if _, exists := s.roles[role.Name]; exists {
		return nil, &RoleExistsError{Name: role.Name, OrganizationID: role.OrganizationID}
	}

	created := role.clone()
	if r.store != nil {
		if err := r.store.CreateRole(ctx, created); err != nil {
			return nil, err
		}
	} else {
		created.ID = r.nextID
		r.nextID++
		created.CreatedAt = time.Now().UTC()
		created.UpdatedAt = created.CreatedAt
	}

	next := s.clone()
	next.add(created)
	r.installLocked(next)
	r.mutated(ctx, "create", created.OrganizationID, logrus.Fields{"role": created.Name, "role_id": created.ID})
	return created.clone(), nil
}

// AssignRole makes roleName the member's only role in org
func (r *Registry) AssignRole(ctx context.Context, org, memberID, roleName string) (_ *Assignment, err error) {
	ctx, span := tracer.Start(ctx, "rbac.AssignRole", trace.WithAttributes(
		attribute.String("organization_id", org),
		attribute.String("member_id", memberID),
		attribute.String("role", roleName),
	))
	defer func() { endSpan(span, err) }()

	if org == "" {
		return nil, ErrOrganizationRequired
	}
	if memberID == "" {
		return nil, ErrMemberRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.loadLocked(ctx, org, false)
	if err != nil {
		return nil, err
	}
	role, ok := s.roles[roleName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, roleName)
	}

	a := &Assignment{MemberID: memberID, OrganizationID: org, RoleID: role.ID, AssignedAt: time.Now().UTC()}
	if r.store != nil {
		if err := r.store.AssignRole(ctx, a); err != nil {
			return nil, err
		}
	}

	next := s.clone()
	next.members[memberID] = role.ID
	r.installLocked(next)
	r.mutated(ctx, "assign", org, logrus.Fields{"member_id": memberID, "role": roleName})
	return a, nil
}

// DeleteRole removes a custom role from org and moves every member holding
// it to the default member role. Built-in roles cannot be deleted. The store
// performs the reassignment and the deletion in one transaction; on failure
// the in-memory snapshot is left untouched.
func (r *Registry) DeleteRole(ctx context.Context, roleID int64, org string) (reassigned int64, err error) {
	ctx, span := tracer.Start(ctx, "rbac.DeleteRole", trace.WithAttributes(
		attribute.String("organization_id", org),
		attribute.Int64("role_id", roleID),
	))
	defer func() { endSpan(span, err) }()

	if role := r.builtInByID(roleID); role != nil {
		return 0, &CannotDeleteDefaultRoleError{Role: role.Name}
	}
	if org == "" {
		return 0, ErrOrganizationRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.loadLocked(ctx, org, false)
	if err != nil {
		return 0, err
	}
	role, ok := s.byID[roleID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrRoleNotFound, roleID)
	}
	if role.IsDefault {
		return 0, &CannotDeleteDefaultRoleError{Role: role.Name}
	}

	if r.store != nil {
		if reassigned, err = r.store.DeleteRole(ctx, roleID, org, RoleMemberID); err != nil {
			return 0, err
		}
	}

	next := s.clone()
	delete(next.roles, role.Name)
	delete(next.byID, role.ID)
	var moved int64
	for member, id := range next.members {
		if id == roleID {
			next.members[member] = RoleMemberID
			moved++
		}
	}
	if r.store == nil {
		reassigned = moved
	}
	r.installLocked(next)
	r.mutated(ctx, "delete", org, logrus.Fields{"role": role.Name, "role_id": roleID, "reassigned": reassigned})
	return reassigned, nil
}

// Reload re-reads org from the store and swaps in a fresh snapshot. It is a
// no-op without a store.
func (r *Registry) Reload(ctx context.Context, org string) (err error) {
	if r.store == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "rbac.Reload", trace.WithAttributes(attribute.String("organization_id", org)))
	defer func() { endSpan(span, err) }()

	_, err, _ = r.loads.Do("reload:"+org, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.loadLocked(ctx, org, true)
	})
	if err == nil && r.metrics != nil {
		r.metrics.RoleMutationsTotal.WithLabelValues("reload").Inc()
	}
	return err
}

// ReloadAll reloads every organization known to the store or already loaded
func (r *Registry) ReloadAll(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	orgs, err := r.store.ListOrganizations(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(orgs))
	for _, org := range orgs {
		seen[org] = true
	}
	for org := range r.state.Load().orgs {
		if !seen[org] {
			orgs = append(orgs, org)
		}
	}

	var errs []error
	for _, org := range orgs {
		if err := r.Reload(ctx, org); err != nil {
			errs = append(errs, err)
		}
	}
	r.log.WithFields(logrus.Fields{
		"organizations": len(orgs),
		"failed":        len(errs),
		"version":       r.Version(),
	}).Debug("Reloaded role registry")
	return errors.Join(errs...)
}

func (r *Registry) mutated(ctx context.Context, operation, org string, fields logrus.Fields) {
	if r.metrics != nil {
		r.metrics.RoleMutationsTotal.WithLabelValues(operation).Inc()
	}
	fields["operation"] = operation
	fields["organization_id"] = org
	fields["version"] = r.Version()
	observability.FromContext(ctx, r.log).WithFields(fields).Info("Role registry updated")

	if r.notifier != nil {
		if err := r.notifier.Publish(ctx, org); err != nil {
			r.log.WithError(err).WithField("organization_id", org).Warn("Failed to publish role invalidation")
		}
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
