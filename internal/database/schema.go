package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chapterhub/internal/config"

	"gorm.io/gorm"
)

// Schema modes accepted by DB_SCHEMA_MODE.
const (
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// SchemaStatus describes what ApplySchema would do for a configuration.
type SchemaStatus struct {
	Mode               string
	Environment        string
	WillRunSQL         bool
	WillRunAutoMigrate bool
	AppliedVersions    []int
	PendingMigrations  []Migration
	DriftedVersions    []int
	UnknownVersions    []int
}

// Ready reports whether SQL migrations are fully applied and untouched.
func (s *SchemaStatus) Ready() bool {
	return len(s.PendingMigrations) == 0 && len(s.DriftedVersions) == 0 && len(s.UnknownVersions) == 0
}

func prodLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "staging", "stage":
		return true
	}
	return false
}

// schemaPlan is what ApplySchema will do for one configuration.
type schemaPlan struct {
	mode string
	sql  bool
	auto bool
	// collaborators adds the platform tables this service only reads. They are
	// owned elsewhere in production-like environments.
	collaborators bool
}

func planSchema(cfg *config.Config) (schemaPlan, error) {
	plan := schemaPlan{
		mode:          strings.ToLower(strings.TrimSpace(cfg.DBSchemaMode)),
		collaborators: !prodLike(cfg.Env),
	}
	if plan.mode == "" {
		plan.mode = SchemaModeHybrid
	}

	switch plan.mode {
	case SchemaModeSQL:
		plan.sql = true
	case SchemaModeHybrid:
		plan.sql = true
		plan.auto = !prodLike(cfg.Env)
	case SchemaModeAuto:
		if prodLike(cfg.Env) && !cfg.DBAutoMigrateAllowDestructive {
			return plan, fmt.Errorf("refusing DB_SCHEMA_MODE=auto in %q without DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE=true", cfg.Env)
		}
		plan.auto = true
	default:
		return plan, fmt.Errorf("unsupported DB_SCHEMA_MODE %q", plan.mode)
	}
	return plan, nil
}

// ApplySchema runs SQL migrations and/or AutoMigrate according to DB_SCHEMA_MODE.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	plan, err := planSchema(cfg)
	if err != nil {
		return err
	}

	if plan.sql {
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run sql migrations: %w", err)
		}
	}
	if !plan.auto {
		return nil
	}

	if prodLike(cfg.Env) {
		slog.WarnContext(ctx, "automigrate in a production-like environment", slog.String("env", cfg.Env))
	}
	targets := PersistentModels()
	if plan.collaborators {
		targets = append(targets, CollaboratorModels()...)
	}
	slog.InfoContext(ctx, "running automigrate",
		slog.String("mode", plan.mode),
		slog.Int("models", len(targets)),
	)
	if err := db.WithContext(ctx).AutoMigrate(targets...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// GetSchemaStatus reports the schema policy and migration progress for cfg.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	plan, err := planSchema(cfg)
	if err != nil {
		return nil, err
	}

	status := &SchemaStatus{
		Mode:               plan.mode,
		Environment:        cfg.Env,
		WillRunSQL:         plan.sql,
		WillRunAutoMigrate: plan.auto,
	}
	if !plan.sql {
		return status, nil
	}

	state, err := NewMigrator(db, GetMigrations()).State(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range state.Applied {
		status.AppliedVersions = append(status.AppliedVersions, l.Version)
	}
	status.PendingMigrations = state.Pending
	status.DriftedVersions = state.Drifted
	status.UnknownVersions = state.Unknown

	return status, nil
}
