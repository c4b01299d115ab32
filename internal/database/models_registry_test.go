package database

import (
	"testing"

	modelspkg "chapterhub/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestPersistentModels_IncludesOutboxAndAudit(t *testing.T) {
	var outbox, audit bool
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *modelspkg.OutboxEvent:
			outbox = true
		case *modelspkg.AuditEntry:
			audit = true
		}
	}
	require.True(t, outbox, "PersistentModels should include OutboxEvent")
	require.True(t, audit, "PersistentModels should include AuditEntry")
}

func TestAutoMigrate_AllModelsOnSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(append(PersistentModels(), CollaboratorModels()...)...))

	for _, table := range []string{"uploads", "quota_rows", "flags", "audit_entries", "outbox_events", "lesson_progress"} {
		require.True(t, db.Migrator().HasTable(table), table)
	}
}
