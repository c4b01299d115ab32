package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"chapterhub/internal/models"
	"chapterhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newPendingUpload(t *testing.T, repo UploadRepository, tenantID, ownerID uint) *models.Upload {
	t.Helper()
	u := &models.Upload{
		OwnerID:    ownerID,
		TenantID:   tenantID,
		MediaKind:  models.MediaImage,
		MimeType:   "image/png",
		SizeBytes:  128,
		BlobHandle: "2026/01/01/abc",
		Title:      "Diagram",
		Status:     models.UploadPending,
	}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func TestUploadRepository_ReviewIsConditional(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, db, "Accra Chapter")
	admin := testutil.CreateUser(t, db, models.RoleAdmin, nil)

	u := newPendingUpload(t, repo, tenant.ID, admin.ID)

	review := UploadReview{Status: models.UploadApproved, ReviewerID: admin.ID, ReviewedAt: time.Now()}
	require.NoError(t, repo.Review(ctx, u.ID, review))
	assert.ErrorIs(t, repo.Review(ctx, u.ID, review), ErrNoRowsAffected)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadApproved, got.Status)
	require.NotNil(t, got.ReviewerID)
	assert.Equal(t, admin.ID, *got.ReviewerID)
	assert.NotNil(t, got.ReviewedAt)

	err = repo.Review(ctx, u.ID, UploadReview{Status: models.UploadPending, ReviewerID: admin.ID})
	assert.Error(t, err)
}

func TestUploadRepository_FailAndRetryKeepsID(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, db, "Accra Chapter")
	owner := testutil.CreateUser(t, db, models.RoleInstructor, &tenant.ID)

	u := newPendingUpload(t, repo, tenant.ID, owner.ID)

	assert.ErrorIs(t, repo.Retry(ctx, u.ID, nil), ErrNoRowsAffected, "only failed uploads retry")

	require.NoError(t, repo.MarkFailed(ctx, u.ID, "blob missing"))
	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadFailed, got.Status)
	assert.Equal(t, "blob missing", got.FailureReason)

	blob := &UploadBlob{Handle: "2026/01/02/new", MimeType: "image/jpeg", SizeBytes: 64, MediaKind: models.MediaImage}
	require.NoError(t, repo.Retry(ctx, u.ID, blob))
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, models.UploadPending, got.Status)
	assert.Equal(t, "2026/01/02/new", got.BlobHandle)
	assert.Empty(t, got.FailureReason)
	assert.Nil(t, got.ReviewerID)
	assert.Zero(t, got.ProcessingAttempts)
}

func TestUploadRepository_VerificationQueue(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, db, "Accra Chapter")
	owner := testutil.CreateUser(t, db, models.RoleInstructor, &tenant.ID)

	first := newPendingUpload(t, repo, tenant.ID, owner.ID)
	second := newPendingUpload(t, repo, tenant.ID, owner.ID)

	claimed, err := repo.ClaimNextUnverified(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, 1, claimed.ProcessingAttempts)
	require.NotNil(t, claimed.ProcessingStartedAt)

	claimed2, err := repo.ClaimNextUnverified(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed2.ID)

	_, err = repo.ClaimNextUnverified(ctx)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	require.NoError(t, repo.MarkVerified(ctx, first.ID))

	// Make the second claim stale and requeue it.
	require.NoError(t, db.Model(&models.Upload{}).Where("id = ?", second.ID).
		Update("processing_started_at", time.Now().UTC().Add(-time.Hour)).Error)
	n, err := repo.RequeueStaleProcessing(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	again, err := repo.ClaimNextUnverified(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, again.ID)
	assert.Equal(t, 2, again.ProcessingAttempts)

	_, err = repo.RequeueStaleProcessing(ctx, 0)
	assert.Error(t, err)
}

func TestUploadRepository_List(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()
	tenant := testutil.CreateTenant(t, db, "Accra Chapter")
	owner := testutil.CreateUser(t, db, models.RoleInstructor, &tenant.ID)

	a := newPendingUpload(t, repo, tenant.ID, owner.ID)
	newPendingUpload(t, repo, tenant.ID, owner.ID)
	require.NoError(t, repo.MarkFailed(ctx, a.ID, "bad"))

	pending, total, err := repo.List(ctx, UploadFilter{Status: models.UploadPending}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, pending, 1)

	all, total, err := repo.List(ctx, UploadFilter{TenantID: tenant.ID}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, all, 2)
}
