package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/gatekeep/pkg/policy"
	"github.com/platinummonkey/gatekeep/pkg/rbac"
	"github.com/platinummonkey/gatekeep/pkg/schema"
	"github.com/platinummonkey/gatekeep/pkg/storage/postgres"
)

func newValidateCommand(env *Env) *Command {
	return &Command{
		Name:        "validate",
		Description: "Validate a permission schema",
		Run: func(args []string) error {
			return runValidate(env, args)
		},
	}
}

func runValidate(env *Env, args []string) error {
	flags := newFlagSet("validate", env)
	path := flags.String("schema", "schema.yaml", "Path to the schema file (YAML or JSON)")
	dbURL := flags.String("database", "", "Resolve custom roles from this database")
	if err := flags.Parse(args); err != nil {
		return err
	}

	s, _, err := loadSchema(env, *path, *dbURL)
	if err != nil {
		return err
	}
	if _, err := policy.CompileSchema(s); err != nil {
		return fmt.Errorf("failed to compile %s: %w", *path, err)
	}

	fmt.Fprintf(env.Out, "%s is valid: %d tables\n", *path, len(s.Tables))
	return nil
}

func newDDLCommand(env *Env) *Command {
	return &Command{
		Name:        "ddl",
		Description: "Print or apply the row-level security policies of a schema",
		Run: func(args []string) error {
			return runDDL(env, args)
		},
	}
}

func runDDL(env *Env, args []string) error {
	flags := newFlagSet("ddl", env)
	path := flags.String("schema", "schema.yaml", "Path to the schema file (YAML or JSON)")
	role := flags.String("role", "", "Database role the application connects as")
	suffix := flags.String("view-suffix", "", "Suffix of the masked views (default _visible)")
	apply := flags.Bool("apply", false, "Apply the statements instead of printing them")
	dbURL := flags.String("database", "", "Database URL, required with -apply")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *apply && *dbURL == "" {
		return errors.New("-database is required with -apply")
	}

	s, db, err := loadSchema(env, *path, *dbURL)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	set, err := policy.CompileSchema(s)
	if err != nil {
		return fmt.Errorf("failed to compile %s: %w", *path, err)
	}
	opts := policy.DDLOptions{Role: *role, ViewSuffix: *suffix}

	if *apply {
		if err := postgres.ApplyPolicies(context.Background(), db, set, opts, env.Log); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Applied policies for %d tables\n", set.Len())
		return nil
	}

	statements, err := policy.GenerateSchemaDDL(set, opts)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		stmt = strings.TrimSuffix(stmt, ";")
		fmt.Fprintf(env.Out, "%s;\n", stmt)
	}
	return nil
}

// loadSchema validates the schema against the built-in roles, or against
// every role in the database when dbURL is set. The returned database is
// nil without a URL.
func loadSchema(env *Env, path, dbURL string) (*schema.Schema, *sql.DB, error) {
	if dbURL == "" {
		s, err := schema.LoadAndValidate(path, builtInRoleNames())
		return s, nil, err
	}

	registry, db, err := openRegistry(env, dbURL)
	if err != nil {
		return nil, nil, err
	}
	if err := registry.ReloadAll(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to load roles: %w", err)
	}
	s, err := schema.LoadAndValidate(path, registry)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

func builtInRoleNames() schema.RoleNames {
	var names []string
	for _, role := range rbac.BuiltInRoles() {
		names = append(names, role.Name)
	}
	return schema.NewRoleNames(names...)
}
