// Package middleware provides HTTP middleware for the gatekeep API that
// depends on the resolved session actor.
//
// OrganizationScope keeps administrators inside their own organization:
// a request that names an organization_id (query string or JSON body)
// other than the actor's is rejected with 403.
package middleware
