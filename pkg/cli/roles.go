package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/platinummonkey/gatekeep/pkg/rbac"
)

// ErrPermissionDenied is returned by check-permission when the capability
// is not granted, so scripts see a non-zero exit status
var ErrPermissionDenied = errors.New("permission denied")

// openRegistry connects to dbURL and returns a registry backed by it
func openRegistry(env *Env, dbURL string) (*rbac.Registry, *sql.DB, error) {
	if dbURL == "" {
		return nil, nil, errors.New("-database is required (or set GATEKEEP_POSTGRES_URL)")
	}
	db, err := env.OpenDB(dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	registry := rbac.NewRegistry(rbac.RegistryConfig{
		Store:  rbac.NewSQLStore(db),
		Logger: env.Log,
	})
	return registry, db, nil
}

func databaseFlagDefault() string {
	return os.Getenv("GATEKEEP_POSTGRES_URL")
}

func newCreateRoleCommand(env *Env) *Command {
	return &Command{
		Name:        "create-role",
		Description: "Create a custom role in an organization",
		Run: func(args []string) error {
			return runCreateRole(env, args)
		},
	}
}

func runCreateRole(env *Env, args []string) error {
	flags := newFlagSet("create-role", env)
	dbURL := flags.String("database", databaseFlagDefault(), "Database URL")
	org := flags.String("org", "", "Organization ID")
	name := flags.String("name", "", "Role name")
	description := flags.String("description", "", "Role description")
	level := flags.Int("level", 0, "Display level")
	permissions := flags.String("permissions", "", "Comma-separated capabilities, e.g. tasks:read,tasks:*")
	if err := flags.Parse(args); err != nil {
		return err
	}

	registry, db, err := openRegistry(env, *dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	role, err := registry.CreateRole(context.Background(), rbac.Role{
		Name:           *name,
		Description:    *description,
		OrganizationID: *org,
		Level:          *level,
		Permissions:    splitList(*permissions),
	})
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return printJSON(env, role)
}

func newDeleteRoleCommand(env *Env) *Command {
	return &Command{
		Name:        "delete-role",
		Description: "Delete a custom role and move its members to member",
		Run: func(args []string) error {
			return runDeleteRole(env, args)
		},
	}
}

func runDeleteRole(env *Env, args []string) error {
	flags := newFlagSet("delete-role", env)
	dbURL := flags.String("database", databaseFlagDefault(), "Database URL")
	org := flags.String("org", "", "Organization ID")
	id := flags.Int64("id", 0, "Role ID")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("-id is required")
	}

	registry, db, err := openRegistry(env, *dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	reassigned, err := registry.DeleteRole(context.Background(), *id, *org)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	fmt.Fprintf(env.Out, "Deleted role %d, reassigned %d members to %s\n", *id, reassigned, rbac.RoleMember)
	return nil
}

func newAssignRoleCommand(env *Env) *Command {
	return &Command{
		Name:        "assign-role",
		Description: "Assign a role to an organization member",
		Run: func(args []string) error {
			return runAssignRole(env, args)
		},
	}
}

func runAssignRole(env *Env, args []string) error {
	flags := newFlagSet("assign-role", env)
	dbURL := flags.String("database", databaseFlagDefault(), "Database URL")
	org := flags.String("org", "", "Organization ID")
	member := flags.String("member", "", "Member ID")
	role := flags.String("role", "", "Role name")
	if err := flags.Parse(args); err != nil {
		return err
	}

	registry, db, err := openRegistry(env, *dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	assignment, err := registry.AssignRole(context.Background(), *org, *member, *role)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return printJSON(env, assignment)
}

func newCheckPermissionCommand(env *Env) *Command {
	return &Command{
		Name:        "check-permission",
		Description: "Check whether a member holds a capability",
		Run: func(args []string) error {
			return runCheckPermission(env, args)
		},
	}
}

func runCheckPermission(env *Env, args []string) error {
	flags := newFlagSet("check-permission", env)
	dbURL := flags.String("database", databaseFlagDefault(), "Database URL")
	org := flags.String("org", "", "Organization ID")
	member := flags.String("member", "", "Member ID")
	role := flags.String("role", "", "Role to use when the member has no assignment")
	capability := flags.String("capability", "", "Capability, e.g. tasks:read")
	if err := flags.Parse(args); err != nil {
		return err
	}

	registry, db, err := openRegistry(env, *dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := rbac.NewChecker(registry, 0, 0, nil).CheckPermission(context.Background(), *org, *member, *role, *capability)
	if err != nil {
		return err
	}
	if err := printJSON(env, result); err != nil {
		return err
	}
	if !result.Allowed {
		return ErrPermissionDenied
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func printJSON(env *Env, v any) error {
	enc := json.NewEncoder(env.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
