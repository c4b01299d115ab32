package database

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Migration is one versioned SQL change with its rollback.
type Migration struct {
	Version    int
	Name       string
	UpScript   string
	DownScript string
	Checksum   string
}

func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

// MigrationLog records an applied migration.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	Checksum  string    `gorm:"size:64"`
	AppliedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName returns the database table name for MigrationLog.
func (MigrationLog) TableName() string {
	return "migration_logs"
}

//go:embed migrations/*.sql
var migrationFS embed.FS

var (
	embedded    []Migration
	embeddedErr error
)

func init() {
	embedded, embeddedErr = LoadMigrations(migrationFS, "migrations")
}

// GetMigrations returns the embedded migrations in version order.
func GetMigrations() []Migration {
	return embedded
}

// GetMigrationByVersion returns the embedded migration with version, or nil.
func GetMigrationByVersion(version int) *Migration {
	for i := range embedded {
		if embedded[i].Version == version {
			return &embedded[i]
		}
	}
	return nil
}

// LoadMigrations reads NNNNNN_name.up.sql / .down.sql pairs from dir.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var out []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		base := strings.TrimSuffix(name, ".up.sql")
		prefix, label, ok := strings.Cut(base, "_")
		if !ok || label == "" {
			return nil, fmt.Errorf("migration %s: expected NNNNNN_name.up.sql", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version %q", name, prefix)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %06d used by both %s and %s", version, prev, name)
		}
		seen[version] = name

		up, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read up migration %s: %w", name, err)
		}
		down, err := fs.ReadFile(fsys, path.Join(dir, base+".down.sql"))
		if err != nil {
			return nil, fmt.Errorf("read down migration for %s: %w", name, err)
		}

		sum := sha256.Sum256(up)
		out = append(out, Migration{
			Version:    version,
			Name:       label,
			UpScript:   string(up),
			DownScript: string(down),
			Checksum:   hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// MigrationState is what the log says about a migration set.
type MigrationState struct {
	Applied []MigrationLog
	Pending []Migration
	// Drifted lists applied versions whose script changed after they ran.
	Drifted []int
	// Unknown lists applied versions no longer present in code.
	Unknown []int
}

// Migrator applies a fixed migration set and records progress in migration_logs.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrator creates a Migrator for the given set.
func NewMigrator(db *gorm.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

func (m *Migrator) ensureLogTable(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&MigrationLog{}); err != nil {
		return fmt.Errorf("ensure migration_logs table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) ([]MigrationLog, error) {
	var logs []MigrationLog
	if err := m.db.WithContext(ctx).Order("version ASC").Find(&logs).Error; err != nil {
		if isMissingTableError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	return logs, nil
}

func isMissingTableError(err error) bool {
	msg := err.Error()
	return (strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) ||
		strings.Contains(msg, "no such table")
}

// State compares the log against the migration set without changing anything.
func (m *Migrator) State(ctx context.Context) (*MigrationState, error) {
	logs, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int]MigrationLog, len(logs))
	for _, l := range logs {
		byVersion[l.Version] = l
	}
	known := make(map[int]struct{}, len(m.migrations))

	state := &MigrationState{Applied: logs}
	for _, mig := range m.migrations {
		known[mig.Version] = struct{}{}
		l, ok := byVersion[mig.Version]
		switch {
		case !ok:
			state.Pending = append(state.Pending, mig)
		case l.Checksum != "" && l.Checksum != mig.Checksum:
			state.Drifted = append(state.Drifted, mig.Version)
		}
	}
	for _, l := range logs {
		if _, ok := known[l.Version]; !ok {
			state.Unknown = append(state.Unknown, l.Version)
		}
	}
	return state, nil
}

func formatVersions(versions []int) string {
	parts := make([]string, 0, len(versions))
	for _, v := range versions {
		parts = append(parts, fmt.Sprintf("%06d", v))
	}
	return strings.Join(parts, ", ")
}

// Up applies every pending migration, each in its own transaction. It refuses
// to run when the log holds unknown versions or edited scripts.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureLogTable(ctx); err != nil {
		return 0, err
	}
	state, err := m.State(ctx)
	if err != nil {
		return 0, err
	}
	if len(state.Unknown) > 0 {
		return 0, fmt.Errorf("migration_logs contains versions not present in code: %s", formatVersions(state.Unknown))
	}
	if len(state.Drifted) > 0 {
		return 0, fmt.Errorf("applied migrations were edited after running: %s", formatVersions(state.Drifted))
	}

	for _, mig := range state.Pending {
		slog.InfoContext(ctx, "applying migration", slog.Int("version", mig.Version), slog.String("name", mig.Name))
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(mig.UpScript).Error; err != nil {
				return err
			}
			return tx.Create(&MigrationLog{Version: mig.Version, Name: mig.Name, Checksum: mig.Checksum}).Error
		})
		if err != nil {
			return 0, fmt.Errorf("apply migration %s: %w", mig, err)
		}
	}
	return len(state.Pending), nil
}

// Down reverts version, which must be the most recently applied migration.
func (m *Migrator) Down(ctx context.Context, version int) error {
	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == version {
			target = &m.migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration version %d not found", version)
	}

	logs, err := m.applied(ctx)
	if err != nil {
		return err
	}
	if len(logs) == 0 || logs[len(logs)-1].Version != version {
		return fmt.Errorf("migration %d is not the latest applied migration", version)
	}

	slog.InfoContext(ctx, "rolling back migration", slog.Int("version", version), slog.String("name", target.Name))
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(target.DownScript).Error; err != nil {
			return fmt.Errorf("rollback %s: %w", target, err)
		}
		return tx.Where("version = ?", version).Delete(&MigrationLog{}).Error
	})
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	if embeddedErr != nil {
		return embeddedErr
	}
	n, err := NewMigrator(db, embedded).Up(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.InfoContext(ctx, "sql migrations applied", slog.Int("count", n))
	}
	return nil
}

// RollbackMigration reverts the latest embedded migration when it matches version.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	if embeddedErr != nil {
		return embeddedErr
	}
	return NewMigrator(db, embedded).Down(ctx, version)
}
