package repository

import (
	"context"
	"testing"

	"chapterhub/internal/models"
	"chapterhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantRepository_Lookups(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewTenantRepository(db)
	ctx := context.Background()

	addis := testutil.CreateTenant(t, db, "Addis Ababa Chapter")
	require.NoError(t, repo.CreateAlias(ctx, &models.TenantAlias{Alias: "AA", TenantID: addis.ID}))

	exact, err := repo.FindByName(ctx, "Addis Ababa Chapter")
	require.NoError(t, err)
	require.NotNil(t, exact)
	assert.Equal(t, addis.ID, exact.ID)

	miss, err := repo.FindByName(ctx, "addis ababa chapter")
	require.NoError(t, err)
	assert.Nil(t, miss)

	fold, err := repo.FindByNameFold(ctx, "addis ababa chapter")
	require.NoError(t, err)
	require.NotNil(t, fold)
	assert.Equal(t, addis.ID, fold.ID)

	alias, err := repo.FindByAlias(ctx, "aa")
	require.NoError(t, err)
	require.NotNil(t, alias)
	assert.Equal(t, addis.ID, alias.ID)

	err = repo.Create(ctx, &models.Tenant{Name: "Addis Ababa Chapter", Active: true})
	assert.True(t, models.IsCode(err, models.CodeConflict))

	err = repo.CreateAlias(ctx, &models.TenantAlias{Alias: "AA", TenantID: addis.ID})
	assert.True(t, models.IsCode(err, models.CodeConflict))
}
