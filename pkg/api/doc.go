// Package api provides the gatekeep HTTP server.
//
// Every route under /api/v1 runs with the session actor resolved by the
// configured session.RequestProvider (typically identity headers set by an
// upstream authentication gateway, with the role taken from the member's
// assignment).
//
// # Access decisions
//
//	GET  /api/v1/tables                 tables the actor can use, with allowed actions
//	GET  /api/v1/tables/{table}         allowed actions, visible and masked fields, row filter
//	POST /api/v1/authorize              {"table","action","record","fields"} -> {"allowed","reason"}
//	POST /api/v1/capabilities/check     {"capability"} -> {"allowed"}
//
// A read of a record the actor cannot see answers reason "not_found", the
// same as a record that does not exist. Denied writes answer "forbidden"
// with the stage (table, field or record) that denied them.
//
// # Role administration
//
// The role registry is mounted under /api/v1/admin. Lookups need the
// roles:read capability, mutations roles:manage, and requests may only name
// the caller's own organization.
//
//	POST   /api/v1/admin/roles
//	GET    /api/v1/admin/roles?organization_id=
//	DELETE /api/v1/admin/roles/{id}?organization_id=
//	PUT    /api/v1/admin/members/{member_id}/role
//	GET    /api/v1/admin/members/{member_id}/role?organization_id=
//	POST   /api/v1/admin/check
//
// # Audit trail
//
// Mutating and denied requests are written to the configured audit logger.
// When that logger can be queried, the caller's organization's events are
// listed to holders of roles:manage:
//
//	GET    /api/v1/admin/audit?actor_id=&event_type=&since=&limit=
package api
