package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/visionflow/config"
	"github.com/BaSui01/visionflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command. Subcommand dispatch lives in
// migration.CLI; this layer only parses flags and builds the migrator.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	if subcommand == "help" || subcommand == "-h" || subcommand == "--help" {
		printMigrateUsage()
		return
	}

	// steps/goto/force 需要一个位置参数
	arg := ""
	rest := args[1:]
	switch subcommand {
	case "steps", "goto", "force":
		if len(rest) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: visionflow migrate %s <n>\n", subcommand)
			os.Exit(1)
		}
		arg = rest[0]
		rest = rest[1:]
	}

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ExitOnError)
	migrator, err := createMigrator(fs, rest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	if err := cli.Run(context.Background(), subcommand, arg); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  visionflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  steps     Apply (positive n) or roll back (negative n) n migrations
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-url <url>      Postgres connection URL (default: from config)

Migrations are written for Postgres; point --config or --db-url at a
Postgres instance.

Examples:
  visionflow migrate up
  visionflow migrate up --config /etc/visionflow/config.yaml
  visionflow migrate down
  visionflow migrate status
  visionflow migrate steps -2
  visionflow migrate goto 1
  visionflow migrate force 0
  visionflow migrate reset`)
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbURL := fs.String("db-url", "", "Postgres connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// If db-url is provided, use it directly
	if *dbURL != "" {
		return migration.NewMigratorFromURL(*dbURL)
	}

	// Otherwise, load from config
	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}
