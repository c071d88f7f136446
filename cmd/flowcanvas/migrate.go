package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/config"
	"github.com/BaSui01/flowcanvas/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// positionalArgs 记录每个子命令需要的位置参数个数
var positionalArgs = map[string]int{
	"steps": 1,
	"goto":  1,
	"force": 1,
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage()
		return
	}

	// 位置参数在 flag 之前，例如: migrate goto 3 --config x.yaml
	rest := args[1:]
	n := positionalArgs[sub]
	if len(rest) < n {
		fmt.Fprintf(os.Stderr, "Usage: flowcanvas migrate %s <version>\n", sub)
		os.Exit(1)
	}
	positional, flags := rest[:n], rest[n:]

	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	migrator, err := createMigrator(fs, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	if err := cli.Run(context.Background(), sub, positional); err != nil {
		if errors.Is(err, migration.ErrUnknownCommand) {
			printMigrateUsage()
		}
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  flowcanvas migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  reset       Rollback all migrations
  version     Show current migration version
  status      Show migration status
  info        Show migration summary
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  flowcanvas migrate up
  flowcanvas migrate up --config /etc/flowcanvas/config.yaml
  flowcanvas migrate goto 1
  flowcanvas migrate status --db-type sqlite --db-url sqlite3://flowcanvas.db`)
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	logger := zap.NewNop()

	// If db-type and db-url are provided, use them directly
	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL, logger)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger = initLogger(cfg.Log)

	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}

	return migration.NewMigratorFromConfig(cfg, logger)
}
