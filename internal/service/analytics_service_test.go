package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chapterhub/internal/cache"
	"chapterhub/internal/models"
	"chapterhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeTenants(t *testing.T, snap *models.AnalyticsSnapshot) []models.TenantStats {
	t.Helper()
	var out []models.TenantStats
	require.NoError(t, json.Unmarshal(snap.TenantComparison, &out))
	return out
}

func TestRegenerate_TenantEngagementScore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, env.db, "Toronto Chapter")

	recent := env.clock.Now().Add(-48 * time.Hour)
	users := make([]*models.User, 10)
	for i := range users {
		users[i] = testutil.CreateUser(t, env.db, models.RoleMember, &tenant.ID)
		if i < 7 {
			require.NoError(t, env.db.Model(users[i]).Update("last_active_at", recent).Error)
		}
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, env.db.Create(&models.LessonProgress{UserID: users[i].ID, LessonID: 1}).Error)
	}
	for i := 0; i < 3; i++ {
		createForumPost(t, env, users[i].ID)
	}
	// A second post by the same author does not count twice.
	createForumPost(t, env, users[0].ID)

	env.clock.Advance(time.Minute)
	snap, err := env.analytics.Regenerate(ctx, models.SnapshotDaily, TriggerManual, 0)
	require.NoError(t, err)

	stats := decodeTenants(t, snap)
	require.Len(t, stats, 1)
	got := stats[0]
	assert.Equal(t, tenant.ID, got.TenantID)
	assert.Equal(t, int64(10), got.UserCount)
	assert.Equal(t, int64(7), got.ActiveUsers)
	assert.Equal(t, int64(4), got.RecentPosts)
	assert.InDelta(t, 0.7, got.ActivityRate, 1e-9)
	assert.InDelta(t, 0.5, got.ConsumptionRate, 1e-9)
	assert.InDelta(t, 0.3, got.ForumRate, 1e-9)
	assert.InDelta(t, 0.5, got.EngagementScore, 1e-9)
	assert.Equal(t, int64(1), env.count(t, &models.AuditEntry{}, "action_type = ?", models.AuditSnapshotGenerate))
}

func TestEngagementScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name                     string
		activity, consume, forum float64
		want                     float64
	}{
		{"mean", 0.7, 0.5, 0.3, 0.5},
		{"zero", 0, 0, 0, 0},
		{"clamped high", 2, 1, 1, 1},
		{"clamped low", -1, 0.6, 0.3, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EngagementScore(tt.activity, tt.consume, tt.forum), 1e-9)
		})
	}
}

func TestGet_PendingFlagsAlert(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	_, p := env.admin(t)
	reporter := testutil.CreateUser(t, env.db, models.RoleMember, nil)
	post := createForumPost(t, env, reporter.ID)

	createFlag(t, env, models.ContentForumPost, post.ID, reporter.ID, 3*time.Hour)
	createFlag(t, env, models.ContentForumPost, post.ID, reporter.ID, 30*time.Minute)

	view, err := env.analytics.Get(ctx, p, models.SnapshotDaily)
	require.NoError(t, err)
	require.NotNil(t, view.Snapshot)
	assert.False(t, view.Stale)

	var found *Alert
	for i := range view.Alerts {
		if view.Alerts[i].Type == AlertPendingFlags {
			found = &view.Alerts[i]
		}
	}
	require.NotNil(t, found, "expected a pending_flags alert")
	assert.Equal(t, int64(1), found.Count)
}

func TestGet_QuotaWarningAlert(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	_, p := env.admin(t)
	tenant := testutil.CreateTenant(t, env.db, "Toronto Chapter")
	env.setQuota(t, tenant.ID, models.MediaVideo, 9, 10)
	env.setQuota(t, tenant.ID, models.MediaImage, 1, 10)

	view, err := env.analytics.Get(ctx, p, models.SnapshotDaily)
	require.NoError(t, err)
	require.Len(t, view.Alerts, 1)
	assert.Equal(t, AlertQuotaWarning, view.Alerts[0].Type)
	assert.Equal(t, int64(1), view.Alerts[0].Count)
}

func TestGet_RegeneratesWhenStale(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	_, p := env.admin(t)

	first, err := env.analytics.Get(ctx, p, models.SnapshotDaily)
	require.NoError(t, err)
	again, err := env.analytics.Get(ctx, p, models.SnapshotDaily)
	require.NoError(t, err)
	assert.Equal(t, first.Snapshot.ID, again.Snapshot.ID)

	env.clock.Advance(25 * time.Hour)
	later, err := env.analytics.Get(ctx, p, models.SnapshotDaily)
	require.NoError(t, err)
	assert.NotEqual(t, first.Snapshot.ID, later.Snapshot.ID)
	assert.False(t, later.Stale)
	assert.Equal(t, int64(2), env.count(t, &models.AnalyticsSnapshot{}, ""))

	// Weekly snapshots tolerate a week.
	weekly, err := env.analytics.Get(ctx, p, models.SnapshotWeekly)
	require.NoError(t, err)
	env.clock.Advance(48 * time.Hour)
	weeklyAgain, err := env.analytics.Get(ctx, p, models.SnapshotWeekly)
	require.NoError(t, err)
	assert.Equal(t, weekly.Snapshot.ID, weeklyAgain.Snapshot.ID)
}

func TestGet_ServesStaleSnapshotWhenRegenerationFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	_, p := env.admin(t)

	first, err := env.analytics.Get(ctx, p, models.SnapshotDaily)
	require.NoError(t, err)
	env.clock.Advance(25 * time.Hour)

	require.NoError(t, env.db.Exec(`CREATE TRIGGER reject_snapshots BEFORE INSERT ON analytics_snapshots
		BEGIN SELECT RAISE(ABORT, 'snapshot store unavailable'); END`).Error)

	view, err := env.analytics.Get(ctx, p, models.SnapshotDaily)
	require.NoError(t, err)
	assert.Equal(t, first.Snapshot.ID, view.Snapshot.ID)
	assert.True(t, view.Stale)
	assert.False(t, view.Regenerating, "nothing is regenerating after a failed attempt")
}

func TestGet_ReportsRegenerationHeldElsewhere(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	_, p := env.admin(t)
	env.analytics.cfg.LockWait = 300 * time.Millisecond

	first, err := env.analytics.Get(ctx, p, models.SnapshotDaily)
	require.NoError(t, err)
	env.clock.Advance(25 * time.Hour)
	require.NoError(t, env.mr.Set(cache.SnapshotLockKey(string(models.SnapshotDaily)), "other-process"))

	view, err := env.analytics.Get(ctx, p, models.SnapshotDaily)
	require.NoError(t, err)
	assert.Equal(t, first.Snapshot.ID, view.Snapshot.ID)
	assert.True(t, view.Stale)
	assert.True(t, view.Regenerating)
}

func TestGet_RejectsUnknownKindAndNonAdmins(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	_, p := env.admin(t)
	member := testutil.CreateUser(t, env.db, models.RoleMember, nil)

	_, err := env.analytics.Get(ctx, p, "hourly")
	assert.True(t, models.IsCode(err, models.CodeValidation))

	_, err = env.analytics.Get(ctx, env.principal(member), models.SnapshotDaily)
	assert.True(t, models.IsCode(err, models.CodeForbidden))
}

func TestVerifyAccuracy_FreshSnapshotMatches(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	admin, p := env.admin(t)
	upload, instructor := pendingUpload(t, env)
	for i := 0; i < 3; i++ {
		testutil.CreateUser(t, env.db, models.RoleMember, instructor.TenantID)
	}
	_, err := env.moderation.ApproveUpload(ctx, p, upload.ID)
	require.NoError(t, err)
	require.NoError(t, env.db.Create(&models.StudySession{UserID: admin.ID, DurationMinutes: 42, StartedAt: env.clock.Now().Add(-time.Hour)}).Error)

	env.clock.Advance(time.Minute)
	snap, err := env.analytics.RegenerateNow(ctx, p, models.SnapshotDaily)
	require.NoError(t, err)

	report, err := env.analytics.VerifyAccuracy(ctx, p, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Accuracy)
	assert.Equal(t, report.Checked, report.Matched)
	assert.Empty(t, report.Mismatches)

	var metrics models.PlatformMetrics
	require.NoError(t, json.Unmarshal(snap.Metrics, &metrics))
	assert.Equal(t, int64(5), metrics.TotalUsers)
	assert.Equal(t, 1.0, metrics.ApprovalRate)
	assert.InDelta(t, 42, metrics.AvgSessionMinutes, 1e-9)

	// Rows added later do not change a snapshot's as-of figures.
	testutil.CreateUser(t, env.db, models.RoleMember, nil)
	report, err = env.analytics.VerifyAccuracy(ctx, p, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Accuracy)

	_, err = env.analytics.VerifyAccuracy(ctx, p, 9999)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestRegenerate_WaitsWhileAnotherProcessHoldsLock(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	require.NoError(t, env.mr.Set(cache.SnapshotLockKey(string(models.SnapshotDaily)), "other-process"))

	env.analytics.cfg.LockWait = 300 * time.Millisecond

	_, err := env.analytics.Regenerate(context.Background(), models.SnapshotDaily, TriggerManual, 0)
	assert.True(t, models.IsCode(err, models.CodeConflict))
	assert.Equal(t, int64(0), env.count(t, &models.AnalyticsSnapshot{}, ""))
}

func TestRegenerate_RedisDownFallsBackToLocalGuard(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mr.Close()

	snap, err := env.analytics.Regenerate(context.Background(), models.SnapshotWeekly, TriggerScheduled, 0)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotWeekly, snap.Kind)
}

func TestGrowthPercent(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, growthPercent(0, 0))
	assert.Equal(t, 100.0, growthPercent(5, 0))
	assert.Equal(t, 50.0, growthPercent(15, 10))
	assert.Equal(t, -20.0, growthPercent(8, 10))
}
