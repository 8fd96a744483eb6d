package rbac

import (
	"strings"
)

// Wildcard matches any value in a capability segment
const Wildcard = "*"

// ParseCapability splits a "resource:action" token. Both segments must be
// non-empty and contain no further colons.
func ParseCapability(capability string) (resource, action string, err error) {
	parts := strings.Split(capability, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &InvalidCapabilityError{Capability: capability}
	}
	return parts[0], parts[1], nil
}

// MatchCapability reports whether a granted token covers the requested one.
// Either segment of the grant may be "*"; "*:*" covers everything.
func MatchCapability(granted, requested string) bool {
	if granted == requested {
		return true
	}
	gr, ga, err := ParseCapability(granted)
	if err != nil {
		return false
	}
	rr, ra, err := ParseCapability(requested)
	if err != nil {
		return false
	}
	return (gr == Wildcard || gr == rr) && (ga == Wildcard || ga == ra)
}

// GrantsCapability reports whether any of the role's tokens covers capability.
// Only the role's own list is consulted.
func GrantsCapability(role *Role, capability string) bool {
	_, ok := matchingGrant(role, capability)
	return ok
}

func matchingGrant(role *Role, capability string) (string, bool) {
	if role == nil {
		return "", false
	}
	for _, granted := range role.Permissions {
		if MatchCapability(granted, capability) {
			return granted, true
		}
	}
	return "", false
}

// ValidateCapabilities checks every token in the list
func ValidateCapabilities(capabilities []string) error {
	for _, c := range capabilities {
		if _, _, err := ParseCapability(c); err != nil {
			return err
		}
	}
	return nil
}
