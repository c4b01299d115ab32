package repository

import (
	"context"
	"testing"
	"time"

	"chapterhub/internal/models"
	"chapterhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanRepository_Lifecycle(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewBanRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	expires := now.Add(time.Hour)
	ban := &models.Ban{TargetType: models.BanTargetUser, TargetID: 7, Reason: "spam", ModeratorID: 1, ExpiresAt: &expires, Active: true}
	require.NoError(t, repo.Create(ctx, ban))

	found, err := repo.FindActive(ctx, models.BanTargetUser, 7)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.EffectiveActive(now))
	assert.False(t, found.EffectiveActive(expires.Add(time.Second)))

	n, err := repo.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.ExpireDue(ctx, expires.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	found, err = repo.FindActive(ctx, models.BanTargetUser, 7)
	require.NoError(t, err)
	assert.Nil(t, found)

	assert.ErrorIs(t, repo.Lift(ctx, ban.ID, 1, now), ErrNoRowsAffected)

	bans, total, err := repo.List(ctx, BanFilter{TargetType: models.BanTargetUser}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.False(t, bans[0].Active, "history is kept")
}

func TestBanRepository_LiftPermanent(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewBanRepository(db)
	ctx := context.Background()

	ban := &models.Ban{TargetType: models.BanTargetPost, TargetID: 3, Reason: "off-topic", ModeratorID: 1, Active: true}
	require.NoError(t, repo.Create(ctx, ban))

	n, err := repo.ExpireDue(ctx, time.Now().Add(24*365*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "permanent bans never expire")

	require.NoError(t, repo.Lift(ctx, ban.ID, 2, time.Now()))
	bans, _, err := repo.List(ctx, BanFilter{TargetID: 3}, 10, 0)
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.False(t, bans[0].Active)
	require.NotNil(t, bans[0].LiftedBy)
	assert.Equal(t, uint(2), *bans[0].LiftedBy)
}
