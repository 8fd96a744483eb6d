// Package audit records security-relevant events: role administration,
// record mutations and every request denied by the access engine.
//
// Events are written through a Logger. LogrusLogger emits them as structured
// log entries, DBLogger persists them to the gatekeep_audit_log table where
// they can be queried back, and MultiLogger fans out to several loggers.
//
// The HTTP middleware derives events from requests after they are served:
//
//	api.Use(session.Middleware(provider, log), audit.Middleware(logger, log))
//
// It records every mutating request and every 401/403 response, attributed
// to the actor resolved by the session middleware.
package audit
