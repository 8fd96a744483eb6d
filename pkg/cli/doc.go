// Package cli implements gatekeepctl, the administration tool for
// permission schemas and organization roles.
//
// # Schema commands
//
// validate: Load, validate and compile a schema
//
//	gatekeepctl validate -schema schema.yaml
//
// Roles referenced by the schema must be built in, declared in the schema,
// or exist in the database when -database is given.
//
// ddl: Print the row-level security policies, column grants and masked views
//
//	gatekeepctl ddl -schema schema.yaml -role app_user > policies.sql
//	gatekeepctl ddl -schema schema.yaml -role app_user -apply -database $URL
//
// # Role commands
//
// All role commands need -database, which defaults to GATEKEEP_POSTGRES_URL.
//
//	gatekeepctl create-role -org acme -name editor -permissions articles:read,articles:update
//	gatekeepctl assign-role -org acme -member u42 -role editor
//	gatekeepctl delete-role -org acme -id 1001
//	gatekeepctl check-permission -org acme -member u42 -capability articles:update
//
// delete-role moves every holder of the role to member in the same
// transaction. check-permission prints the decision and exits non-zero when
// the capability is not granted.
package cli
