// Package rbac implements the organization-scoped role registry.
//
// A role is a flat list of capability tokens of the form "resource:action".
// Either segment of a granted token may be "*", so "*:read" covers reading
// any resource and "*:*" covers everything. Roles never inherit from one
// another; Level only orders them for display.
//
// Four built-in roles exist in every organization and cannot be changed or
// deleted:
//
//	owner   *:*
//	admin   *:read *:create *:update *:delete roles:manage members:manage
//	member  *:read *:create
//	viewer  *:read
//
// Custom roles belong to a single organization. Every member holds exactly
// one role per organization. Deleting a custom role moves its holders to
// "member" and removes the role in one database transaction:
//
//	registry := rbac.NewRegistry(rbac.RegistryConfig{
//		Store:    rbac.NewSQLStore(db),
//		Notifier: rbac.NewRedisNotifier(redisClient, "", log),
//		Logger:   log,
//	})
//	reassigned, err := registry.DeleteRole(ctx, roleID, "acme")
//
// The registry keeps a versioned snapshot per organization and swaps it
// atomically after each committed mutation. Checker caches capability
// decisions keyed by that version, and RedisNotifier tells other instances
// to reload when a mutation happens elsewhere.
package rbac
