// Command migrate runs schema operations for the backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"strconv"
	"strings"

	"chapterhub/internal/config"
	"chapterhub/internal/database"
	"chapterhub/internal/seed"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate/main.go <up|auto|status|down|tenants> [version]")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	ctx := context.Background()
	cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	switch cmd {
	case "up":
		if err := database.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		slog.Info("sql migrations applied")
	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return fmt.Errorf("auto schema apply failed: %w", err)
		}
		slog.Info("automigrations applied", slog.String("mode", cfg.DBSchemaMode))
	case "status":
		status, err := database.GetSchemaStatus(ctx, db, cfg)
		if err != nil {
			return fmt.Errorf("schema status failed: %w", err)
		}
		slog.Info("schema status",
			slog.String("mode", status.Mode),
			slog.String("env", status.Environment),
			slog.Bool("run_sql", status.WillRunSQL),
			slog.Bool("run_auto", status.WillRunAutoMigrate),
			slog.Int("applied", len(status.AppliedVersions)),
			slog.Int("pending", len(status.PendingMigrations)),
			slog.Bool("ready", status.Ready()),
		)
		for _, m := range status.PendingMigrations {
			slog.Info("pending migration", slog.String("migration", m.String()))
		}
		for _, v := range status.DriftedVersions {
			slog.Warn("applied migration was edited", slog.Int("version", v))
		}
		for _, v := range status.UnknownVersions {
			slog.Warn("applied migration missing from code", slog.Int("version", v))
		}
	case "down":
		if flag.NArg() < 2 {
			return fmt.Errorf("usage: go run ./cmd/migrate/main.go down <version>")
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", flag.Arg(1), err)
		}
		if err := database.RollbackMigration(ctx, db, version); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("rolled back migration", slog.Int("version", version))
	case "tenants":
		tenants, err := seed.Tenants(db)
		if err != nil {
			return fmt.Errorf("seed tenants failed: %w", err)
		}
		for _, t := range tenants {
			slog.Info("tenant ensured", slog.Uint64("id", uint64(t.ID)), slog.String("name", t.Name))
		}
	default:
		return usage()
	}

	return nil
}
