package service

import (
	"context"
	"testing"
	"time"

	"chapterhub/internal/models"
	"chapterhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaCheck_UsesDefaultsPerKind(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, env.db, "Toronto Chapter")

	statuses, err := env.quota.List(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, statuses, len(models.MediaKinds))
	limits := map[models.MediaKind]int{}
	for _, st := range statuses {
		assert.True(t, st.Tracked)
		assert.Equal(t, 0, st.Usage)
		limits[st.MediaKind] = st.Limit
	}
	assert.Equal(t, 50, limits[models.MediaVideo])
	assert.Equal(t, 200, limits[models.MediaImage])
}

func TestQuotaSetLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, env.db, "Toronto Chapter")
	admin, _ := env.admin(t)
	env.setQuota(t, tenant.ID, models.MediaVideo, 5, 50)

	st, err := env.quota.SetLimit(ctx, admin.ID, tenant.ID, models.MediaVideo, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Limit)
	assert.Equal(t, 5, st.Usage)
	assert.Equal(t, int64(1), env.count(t, &models.AuditEntry{}, "action_type = ?", models.AuditQuotaSetLimit))

	_, err = env.quota.SetLimit(ctx, admin.ID, tenant.ID, models.MediaVideo, 4)
	assert.True(t, models.IsCode(err, models.CodeValidation))

	_, err = env.quota.SetLimit(ctx, admin.ID, tenant.ID, models.MediaVideo, -1)
	assert.True(t, models.IsCode(err, models.CodeValidation))

	unlimited, err := env.quota.SetLimit(ctx, admin.ID, tenant.ID, models.MediaVideo, 0)
	require.NoError(t, err)
	assert.False(t, unlimited.Exhausted())
}

func TestQuotaPeriodRollsOver(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, env.db, "Toronto Chapter")
	env.setQuota(t, tenant.ID, models.MediaVideo, 50, 50)

	st, err := env.quota.Check(ctx, tenant.ID, models.MediaVideo)
	require.NoError(t, err)
	assert.True(t, st.Exhausted())

	_, end := models.MonthPeriod(env.clock.Now())
	env.clock.Advance(end.Sub(env.clock.Now()) + time.Hour)

	next, err := env.quota.Check(ctx, tenant.ID, models.MediaVideo)
	require.NoError(t, err)
	assert.False(t, next.Exhausted())
	assert.Equal(t, 0, next.Usage)
	assert.True(t, next.PeriodStart.Equal(end))
}

func TestQuotaCheck_MissingLedgerDegradesOpen(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	require.NoError(t, env.db.Migrator().DropTable(&models.QuotaRow{}))

	st, err := env.quota.Check(context.Background(), 1, models.MediaImage)
	require.NoError(t, err)
	assert.False(t, st.Tracked)
	assert.False(t, st.Exhausted())
}
