package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/blagoySimandov/salonsuite/internal/config"
	"github.com/blagoySimandov/salonsuite/internal/db"
	"github.com/blagoySimandov/salonsuite/internal/logger"
	"github.com/blagoySimandov/salonsuite/migrations"
	"github.com/uptrace/bun/migrate"
)

func main() {
	cfg := config.Load()
	log := logger.Configure(cfg.LogLevel)

	ctx := context.Background()

	bunDB, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer bunDB.Close()

	migrator := migrate.NewMigrator(bunDB, migrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		log.Error("failed to initialize migrator", "error", err)
		os.Exit(1)
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		group, err := migrateUp(ctx, migrator)
		if err != nil {
			log.Error("migration failed", "error", err)
			os.Exit(1)
		}
		if group.IsZero() {
			fmt.Println("No new migrations to run (database is up to date)")
			return
		}
		fmt.Printf("Migrated to %s\n", group)

	case "down":
		group, err := migrator.Rollback(ctx)
		if err != nil {
			log.Error("rollback failed", "error", err)
			os.Exit(1)
		}
		if group.IsZero() {
			fmt.Println("No migrations to rollback")
			return
		}
		fmt.Printf("Rolled back %s\n", group)

	case "status":
		ms, err := migrator.MigrationsWithStatus(ctx)
		if err != nil {
			log.Error("failed to get migration status", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Migrations:\n")
		for _, m := range ms {
			status := "pending"
			if m.IsApplied() {
				status = "applied"
			}
			fmt.Printf("  %s: %s\n", m.Name, status)
		}

	case "create":
		name := "migration"
		if len(os.Args) > 2 {
			name = strings.Join(os.Args[2:], "_")
		}
		files, err := migrator.CreateTxSQLMigrations(ctx, name)
		if err != nil {
			log.Error("failed to create migration", "error", err)
			os.Exit(1)
		}
		for _, f := range files {
			fmt.Printf("Created migration: %s\n", f.Path)
		}

	default:
		fmt.Println("Usage: migrate [up|down|status|create <name>]")
		fmt.Println("  up     - Run all pending migrations")
		fmt.Println("  down   - Rollback the last migration group")
		fmt.Println("  status - Show migration status")
		fmt.Println("  create - Create new migration files")
		os.Exit(1)
	}
}

type lockingMigrator interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	Migrate(ctx context.Context, opts ...migrate.MigrationOption) (*migrate.MigrationGroup, error)
}

// migrateUp applies pending migrations under the migrator lock. The lock is
// released whether or not the migrations succeed.
func migrateUp(ctx context.Context, m lockingMigrator) (*migrate.MigrationGroup, error) {
	if err := m.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to lock migrations: %w", err)
	}

	group, err := m.Migrate(ctx)
	if unlockErr := m.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to unlock migrations: %w", unlockErr))
	}
	if err != nil {
		return nil, err
	}
	return group, nil
}
