package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/config"
	"github.com/BaSui01/groundrag/internal/migration"
)

// =============================================================================
// Document Store Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage(os.Stdout)
		os.Exit(1)
	}

	subcommand := args[0]
	if subcommand == "help" || subcommand == "-h" || subcommand == "--help" {
		printMigrateUsage(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate(ctx, subcommand, args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// migrate runs one subcommand. Flags follow the subcommand; remaining
// positional arguments (version, step count) are passed to the CLI.
func migrate(ctx context.Context, subcommand string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate "+subcommand, flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	verbose := fs.Bool("verbose", false, "Log migration progress")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	m, err := createMigrator(*configPath, *dbType, *dbURL, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(out)
	return cli.Run(ctx, subcommand, fs.Args())
}

// createMigrator creates a migrator from flags, falling back to the config file
func createMigrator(configPath, dbType, dbURL string, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}

	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	if cfg.Database.Driver == "" {
		return nil, fmt.Errorf("database driver not configured (set database.driver or --db-type/--db-url)")
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Document Store Migration Commands

Usage:
  groundrag migrate <subcommand> [options] [args]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  info      Show migration summary
  steps     Apply or rollback n migrations
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)
  --verbose           Log migration progress

Examples:
  groundrag migrate up
  groundrag migrate up --config /etc/groundrag/config.yaml
  groundrag migrate down
  groundrag migrate status
  groundrag migrate goto 1
  groundrag migrate force 0
  groundrag migrate reset`)
}
