// Package session resolves who a request is acting as.
//
// Authentication happens upstream. HeaderProvider reads the identity an
// authenticating gateway forwards, RegistryProvider swaps the forwarded role
// for the member's assignment in the role registry, and Middleware stores
// the resulting Actor in the request context where ContextProvider and the
// storage layer pick it up.
package session
