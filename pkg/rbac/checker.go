package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/gatekeep/pkg/observability"
)

// Default capability cache settings
const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = 5 * time.Minute
)

// Checker answers capability checks ("resource:action") for members. It only
// consults the role registry, never table permission rules.
//
// Results are cached per snapshot version: any role mutation installs a new
// version, so stale entries are simply never looked up again and age out.
type Checker struct {
	registry *Registry
	cache    *lru.LRU[string, PermissionCheckResult]
	metrics  *observability.Metrics
}

// NewChecker creates a checker. A size of zero or less disables caching.
func NewChecker(registry *Registry, size int, ttl time.Duration, metrics *observability.Metrics) *Checker {
	c := &Checker{registry: registry, metrics: metrics}
	if size > 0 {
		c.cache = lru.NewLRU[string, PermissionCheckResult](size, nil, ttl)
	}
	return c
}

// CheckPermission reports whether member holds capability in org. The role
// comes from the member's assignment; when there is none, fallbackRole (the
// role resolved by the session, possibly empty) is used if it exists in org.
// A member without an organization holds no capabilities.
func (c *Checker) CheckPermission(ctx context.Context, org, memberID, fallbackRole, capability string) (*PermissionCheckResult, error) {
	if _, _, err := ParseCapability(capability); err != nil {
		return nil, err
	}

	result := PermissionCheckResult{Capability: capability, CheckedAt: time.Now()}
	if org == "" {
		result.Reason = "no organization"
		c.record(false)
		return &result, nil
	}

	role, version, err := c.registry.memberRole(ctx, org, memberID)
	if errors.Is(err, ErrAssignmentNotFound) && fallbackRole != "" {
		role, err = c.registry.ResolveRole(ctx, fallbackRole, org)
		version = c.registry.Version()
	}
	if errors.Is(err, ErrAssignmentNotFound) || errors.Is(err, ErrRoleNotFound) {
		result.Reason = "no role assigned"
		result.Version = version
		c.record(false)
		return &result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve member role: %w", err)
	}

	key := fmt.Sprintf("%s|%d|%s|%s", org, version, role.Name, capability)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			cached.CheckedAt = result.CheckedAt
			c.record(cached.Allowed)
			return &cached, nil
		}
	}

	result.Role = role.Name
	result.Version = version
	if granted, ok := matchingGrant(role, capability); ok {
		result.Allowed = true
		result.MatchedBy = granted
		result.Reason = fmt.Sprintf("granted by %s via %s", role.Name, granted)
	} else {
		result.Reason = fmt.Sprintf("role %s does not grant %s", role.Name, capability)
	}

	if c.cache != nil {
		c.cache.Add(key, result)
	}
	c.record(result.Allowed)
	return &result, nil
}

func (c *Checker) record(allowed bool) {
	if c.metrics != nil {
		c.metrics.CapabilityChecksTotal.WithLabelValues(observability.ResultLabel(allowed)).Inc()
	}
}
