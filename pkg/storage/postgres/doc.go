// Package postgres pushes access decisions down into PostgreSQL.
//
// QueryBuilder compiles row filters into WHERE clauses and conditional
// field rules into CASE WHEN column masks. SessionTx publishes the actor
// as transaction-local settings, and ApplyPolicies installs row-level
// security policies that read those settings, so the database enforces
// the same rules when it is queried directly.
package postgres
