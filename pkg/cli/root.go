package cli

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeep/pkg/observability"
	"github.com/platinummonkey/gatekeep/pkg/storage/postgres"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet

	env *Env
}

// Env carries what commands need from the process: where output goes and
// how to reach the database
type Env struct {
	Out    io.Writer
	Log    *logrus.Logger
	OpenDB func(url string) (*sql.DB, error)
}

// DefaultEnv writes to stdout, logs warnings to stderr and connects to
// PostgreSQL through the connection manager
func DefaultEnv() *Env {
	log := observability.NewLogger("warn", os.Stderr)
	return &Env{
		Out: os.Stdout,
		Log: log,
		OpenDB: func(url string) (*sql.DB, error) {
			cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
				PrimaryURL: url,
				MaxConns:   2,
				MinConns:   1,
			}, log)
			if err != nil {
				return nil, err
			}
			return cm.Primary(), nil
		},
	}
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	return NewRootCommandWithEnv(DefaultEnv())
}

// NewRootCommandWithEnv creates the root command bound to env
func NewRootCommandWithEnv(env *Env) *Command {
	root := &Command{
		Name:        "gatekeepctl",
		Description: "gatekeep - permission schema and role administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("gatekeepctl", flag.ContinueOnError),
		env:         env,
	}

	for _, cmd := range []*Command{
		newValidateCommand(env),
		newDDLCommand(env),
		newCreateRoleCommand(env),
		newDeleteRoleCommand(env),
		newAssignRoleCommand(env),
		newCheckPermissionCommand(env),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.Dispatch(os.Args[1:])
}

// Dispatch runs the subcommand named by args[0]
func (c *Command) Dispatch(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := io.Writer(os.Stdout)
	if c.env != nil && c.env.Out != nil {
		out = c.env.Out
	}

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(out, "  %-18s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// newFlagSet creates a flag set that reports errors instead of exiting
func newFlagSet(name string, env *Env) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(env.Out)
	return flags
}
