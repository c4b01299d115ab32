package service

import (
	"context"
	"testing"

	"chapterhub/internal/models"
	"chapterhub/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudit_FailureDoesNotFailOperation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	upload, _ := pendingUpload(t, env)
	_, p := env.admin(t)
	require.NoError(t, env.db.Migrator().DropTable(&models.AuditEntry{}))

	approved, err := env.moderation.ApproveUpload(ctx, p, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadApproved, approved.Status)

	var stored models.Upload
	require.NoError(t, env.db.First(&stored, upload.ID).Error)
	assert.Equal(t, models.UploadApproved, stored.Status)

	page, err := env.audit.Query(ctx, repository.AuditFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestAudit_RecordsRequestMeta(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	upload, _ := pendingUpload(t, env)
	admin, p := env.admin(t)
	ctx := WithRequestMeta(context.Background(), "203.0.113.7", "curl/8.0")

	_, err := env.moderation.RejectUpload(ctx, p, upload.ID, "blurry")
	require.NoError(t, err)

	page, err := env.audit.Query(ctx, repository.AuditFilter{ActorID: admin.ID}, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	entry := page.Entries[0]
	assert.Equal(t, models.AuditContentReject, entry.ActionType)
	assert.Equal(t, "203.0.113.7", entry.IP)
	assert.Equal(t, "curl/8.0", entry.UserAgent)
	assert.NotEmpty(t, entry.InvocationID)
	assert.Contains(t, string(entry.Before), `"status":"pending"`)
	assert.Contains(t, string(entry.After), `"status":"rejected"`)
}

func TestOutbox_SkipsUnaddressedEvents(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.outbox.Enqueue(ctx, OutboxMessage{Kind: models.OutboxUser, EventType: "noop"})
	env.outbox.Enqueue(ctx, OutboxMessage{Kind: models.OutboxUser, EventType: "hello", SubjectID: 3})

	page, err := env.outbox.List(ctx, models.OutboxPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "hello", page.Events[0].EventType)
}

func TestMaintenance_RunOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	m := NewMaintenance(env.db, env.bans, env.analytics, 0)

	report := m.RunOnce(ctx)
	assert.True(t, report.SnapshotRegenerated)
	assert.Equal(t, int64(1), env.count(t, &models.AnalyticsSnapshot{}, ""))

	report = m.RunOnce(ctx)
	assert.False(t, report.SnapshotRegenerated)
}
