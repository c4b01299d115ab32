package repository

import (
	"context"
	"errors"
	"time"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

const maxFailureReasonLen = 4000

// UploadFilter narrows an upload listing. Zero values are ignored.
type UploadFilter struct {
	Status   models.UploadStatus
	TenantID uint
	OwnerID  uint
}

// UploadReview carries the terminal transition applied by a reviewer.
type UploadReview struct {
	Status          models.UploadStatus
	ReviewerID      uint
	RejectionReason *string
	ReviewedAt      time.Time
}

// UploadBlob replaces the stored body of an upload on retry.
type UploadBlob struct {
	Handle    string
	MimeType  string
	SizeBytes int64
	MediaKind models.MediaKind
}

// UploadRepository defines storage operations for uploads and their
// verification queue.
type UploadRepository interface {
	Create(ctx context.Context, upload *models.Upload) error
	GetByID(ctx context.Context, id uint) (*models.Upload, error)
	List(ctx context.Context, filter UploadFilter, limit, offset int) ([]models.Upload, int64, error)
	Review(ctx context.Context, id uint, review UploadReview) error
	Retry(ctx context.Context, id uint, blob *UploadBlob) error
	UpdateDescriptive(ctx context.Context, id uint, fields map[string]interface{}) error
	ClaimNextUnverified(ctx context.Context) (*models.Upload, error)
	MarkVerified(ctx context.Context, id uint) error
	MarkFailed(ctx context.Context, id uint, reason string) error
	RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
}

type uploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository returns an UploadRepository backed by db.
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

func (r *uploadRepository) Create(ctx context.Context, upload *models.Upload) error {
	return r.db.WithContext(ctx).Create(upload).Error
}

func (r *uploadRepository) GetByID(ctx context.Context, id uint) (*models.Upload, error) {
	var upload models.Upload
	if err := readDB(r.db).WithContext(ctx).First(&upload, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Upload", id)
		}
		return nil, err
	}
	return &upload, nil
}

func (r *uploadRepository) List(ctx context.Context, filter UploadFilter, limit, offset int) ([]models.Upload, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.Upload{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.TenantID != 0 {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.OwnerID != 0 {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var uploads []models.Upload
	err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&uploads).Error
	return uploads, total, err
}

// Review moves a pending upload to a terminal status. It returns
// ErrNoRowsAffected when the upload is no longer pending.
func (r *uploadRepository) Review(ctx context.Context, id uint, review UploadReview) error {
	if !review.Status.IsTerminal() {
		return errors.New("review status must be terminal")
	}
	res := r.db.WithContext(ctx).Model(&models.Upload{}).
		Where("id = ? AND status = ?", id, models.UploadPending).
		Updates(map[string]interface{}{
			"status":           review.Status,
			"reviewer_id":      review.ReviewerID,
			"rejection_reason": review.RejectionReason,
			"reviewed_at":      review.ReviewedAt.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// Retry returns a failed upload to pending. It returns ErrNoRowsAffected when
// the upload is not failed.
func (r *uploadRepository) Retry(ctx context.Context, id uint, blob *UploadBlob) error {
	fields := map[string]interface{}{
		"status":                models.UploadPending,
		"reviewer_id":           nil,
		"rejection_reason":      nil,
		"reviewed_at":           nil,
		"failure_reason":        "",
		"verified_at":           nil,
		"processing_started_at": nil,
		"processing_attempts":   0,
	}
	if blob != nil {
		fields["blob_handle"] = blob.Handle
		fields["mime_type"] = blob.MimeType
		fields["size_bytes"] = blob.SizeBytes
		fields["media_kind"] = blob.MediaKind
	}
	res := r.db.WithContext(ctx).Model(&models.Upload{}).
		Where("id = ? AND status = ?", id, models.UploadFailed).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *uploadRepository) UpdateDescriptive(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Upload{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Upload", id)
	}
	return nil
}

// ClaimNextUnverified claims the oldest pending upload whose blob has not been
// verified. It returns gorm.ErrRecordNotFound when the queue is empty.
func (r *uploadRepository) ClaimNextUnverified(ctx context.Context) (*models.Upload, error) {
	if r.db.Name() == "postgres" {
		var claimed models.Upload
		err := r.db.WithContext(ctx).Raw(`
WITH picked AS (
	SELECT id
	FROM uploads
	WHERE status = ? AND verified_at IS NULL AND processing_started_at IS NULL
	ORDER BY id
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
UPDATE uploads u
SET processing_started_at = NOW(),
    processing_attempts = u.processing_attempts + 1
FROM picked
WHERE u.id = picked.id
RETURNING u.*
`, models.UploadPending).Scan(&claimed).Error
		if err != nil {
			return nil, err
		}
		if claimed.ID == 0 {
			return nil, gorm.ErrRecordNotFound
		}
		return &claimed, nil
	}

	// SQLite/test fallback (best-effort atomicity).
	var claimed models.Upload
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ? AND verified_at IS NULL AND processing_started_at IS NULL", models.UploadPending).
			Order("id ASC").First(&claimed).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Upload{}).
			Where("id = ? AND processing_started_at IS NULL", claimed.ID).
			Updates(map[string]interface{}{
				"processing_started_at": time.Now().UTC(),
				"processing_attempts":   gorm.Expr("processing_attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&claimed, claimed.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

func (r *uploadRepository) MarkVerified(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Upload{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"verified_at":           time.Now().UTC(),
			"processing_started_at": nil,
		}).Error
}

// MarkFailed moves a pending upload to failed. Reviewed uploads are left alone.
func (r *uploadRepository) MarkFailed(ctx context.Context, id uint, reason string) error {
	reason = truncate(reason, maxFailureReasonLen)
	res := r.db.WithContext(ctx).Model(&models.Upload{}).
		Where("id = ? AND status = ?", id, models.UploadPending).
		Updates(map[string]interface{}{
			"status":                models.UploadFailed,
			"failure_reason":        reason,
			"processing_started_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *uploadRepository) RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.db.WithContext(ctx).Model(&models.Upload{}).
		Where("status = ? AND verified_at IS NULL AND processing_started_at IS NOT NULL AND processing_started_at < ?", models.UploadPending, cutoff).
		Update("processing_started_at", nil)
	return res.RowsAffected, res.Error
}
