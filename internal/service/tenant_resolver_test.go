package service

import (
	"context"
	"strconv"
	"testing"

	"chapterhub/internal/cache"
	"chapterhub/internal/models"
	"chapterhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantResolver_Resolve(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, env.db, "Toronto Chapter")
	closed := testutil.CreateTenant(t, env.db, "Closed Chapter")
	testutil.Deactivate(t, env.db, closed, "active")
	require.NoError(t, env.db.Create(&models.TenantAlias{TenantID: tenant.ID, Alias: "yyz"}).Error)

	for _, ref := range []string{strconv.Itoa(int(tenant.ID)), "Toronto Chapter", "toronto chapter", "Toronto", "yyz"} {
		got, err := env.tenants.Resolve(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, tenant.ID, got.ID, ref)
	}

	_, err := env.tenants.Resolve(ctx, "Closed Chapter")
	assert.True(t, models.IsCode(err, models.CodeValidation))

	_, err = env.tenants.Resolve(ctx, "")
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestTenantResolver_CachesResolution(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, env.db, "Toronto Chapter")

	_, err := env.tenants.Resolve(ctx, "Toronto Chapter")
	require.NoError(t, err)
	assert.True(t, env.mr.Exists(cache.TenantKey("Toronto Chapter")))

	// Served from cache after the row is renamed.
	require.NoError(t, env.db.Model(tenant).Update("name", "Renamed").Error)
	got, err := env.tenants.Resolve(ctx, "Toronto Chapter")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, got.ID)

	env.tenants.Invalidate(ctx, "Toronto Chapter")
	_, err = env.tenants.Resolve(ctx, "Toronto Chapter")
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestTenantResolver_CaseSensitiveExactMatchesCachedApart(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	upper := testutil.CreateTenant(t, env.db, "ABC")
	lower := testutil.CreateTenant(t, env.db, "abc")

	got, err := env.tenants.Resolve(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, upper.ID, got.ID)

	got, err = env.tenants.Resolve(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, lower.ID, got.ID)

	got, err = env.tenants.Resolve(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, upper.ID, got.ID)
}
