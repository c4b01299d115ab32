package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chapterhub/internal/models"
	"chapterhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertUploads(t *testing.T, env *testEnv, tenantID, ownerID uint, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, env.db.Create(&models.Upload{
			OwnerID:    ownerID,
			TenantID:   tenantID,
			MediaKind:  models.MediaDocument,
			MimeType:   "application/pdf",
			SizeBytes:  1,
			BlobHandle: fmt.Sprintf("h-%d-%d", tenantID, i),
			Title:      "doc",
			Status:     models.UploadPending,
		}).Error)
	}
}

func TestAnomalies(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	_, p := env.admin(t)
	busy := testutil.CreateTenant(t, env.db, "Busy Chapter")
	quiet := testutil.CreateTenant(t, env.db, "Quiet Chapter")
	owner := testutil.CreateUser(t, env.db, models.RoleInstructor, &busy.ID)
	insertUploads(t, env, busy.ID, owner.ID, 4)
	insertUploads(t, env, quiet.ID, owner.ID, 2)

	author := testutil.CreateUser(t, env.db, models.RoleMember, nil)
	post := createForumPost(t, env, author.ID)
	for i := 0; i < 3; i++ {
		createFlag(t, env, models.ContentForumPost, post.ID, author.ID, time.Hour)
	}
	env.clock.Advance(time.Minute)

	report, err := env.insights.Anomalies(ctx, p)
	require.NoError(t, err)
	require.Len(t, report.UploadSpikes, 1)
	assert.Equal(t, busy.ID, report.UploadSpikes[0].TenantID)
	assert.Equal(t, int64(4), report.UploadSpikes[0].LastDay)
	require.Len(t, report.HeavilyFlagged, 1)
	assert.Equal(t, post.ID, report.HeavilyFlagged[0].ContentID)
	assert.Equal(t, int64(3), report.HeavilyFlagged[0].FlagCount)
}

func TestRetention(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	_, p := env.admin(t)

	// Cohort joined 45 days before the report; two of three came back.
	joined := env.clock.Now().Add(-45 * 24 * time.Hour)
	back := env.clock.Now().Add(-2 * 24 * time.Hour)
	for i := 0; i < 3; i++ {
		u := testutil.CreateUser(t, env.db, models.RoleMember, nil)
		fields := map[string]interface{}{"created_at": joined}
		if i < 2 {
			fields["last_active_at"] = back
		}
		require.NoError(t, env.db.Model(u).UpdateColumns(fields).Error)
	}

	report, err := env.insights.Retention(ctx, p, "")
	require.NoError(t, err)
	assert.Equal(t, "30d", report.Timeframe)
	assert.Equal(t, int64(3), report.CohortSize)
	assert.Equal(t, int64(2), report.Retained)
	assert.InDelta(t, 0.6667, report.Rate, 1e-9)

	_, err = env.insights.Retention(ctx, p, "365d")
	assert.True(t, models.IsCode(err, models.CodeValidation))
}
