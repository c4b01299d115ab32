package repository

import (
	"context"
	"errors"
	"time"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

// FlagResolution is the terminal state written by a reviewer.
type FlagResolution struct {
	Status            models.FlagStatus
	ReviewerID        uint
	Notes             string
	Action            string
	ReviewedAt        time.Time
	ResolutionSeconds int64
}

// FlaggedContent is a content item with its pending flag count.
type FlaggedContent struct {
	ContentType models.ContentType `json:"content_type"`
	ContentID   uint               `json:"content_id"`
	FlagCount   int64              `json:"flag_count"`
}

// FlagRepository defines persistence operations for user flags.
type FlagRepository interface {
	Create(ctx context.Context, flag *models.Flag) error
	GetByID(ctx context.Context, id uint) (*models.Flag, error)
	List(ctx context.Context, status models.FlagStatus, limit, offset int) ([]models.Flag, int64, error)
	Resolve(ctx context.Context, id uint, res FlagResolution) error
	CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ListHeavilyFlagged(ctx context.Context, since time.Time, minFlags int) ([]FlaggedContent, error)
}

type flagRepository struct {
	db *gorm.DB
}

// NewFlagRepository returns a FlagRepository backed by db.
func NewFlagRepository(db *gorm.DB) FlagRepository {
	return &flagRepository{db: db}
}

func (r *flagRepository) Create(ctx context.Context, flag *models.Flag) error {
	return r.db.WithContext(ctx).Create(flag).Error
}

func (r *flagRepository) GetByID(ctx context.Context, id uint) (*models.Flag, error) {
	var flag models.Flag
	if err := readDB(r.db).WithContext(ctx).First(&flag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Flag", id)
		}
		return nil, err
	}
	return &flag, nil
}

func (r *flagRepository) List(ctx context.Context, status models.FlagStatus, limit, offset int) ([]models.Flag, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.Flag{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var flags []models.Flag
	err := q.Order("created_at ASC, id ASC").Limit(limit).Offset(offset).Find(&flags).Error
	return flags, total, err
}

// Resolve closes a pending flag. It returns ErrNoRowsAffected when another
// reviewer closed it first.
func (r *flagRepository) Resolve(ctx context.Context, id uint, in FlagResolution) error {
	res := r.db.WithContext(ctx).Model(&models.Flag{}).
		Where("id = ? AND status = ?", id, models.FlagPending).
		Updates(map[string]interface{}{
			"status":             in.Status,
			"reviewer_id":        in.ReviewerID,
			"review_notes":       in.Notes,
			"action_taken":       in.Action,
			"reviewed_at":        in.ReviewedAt.UTC(),
			"resolution_seconds": in.ResolutionSeconds,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *flagRepository) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := readDB(r.db).WithContext(ctx).Model(&models.Flag{}).
		Where("status = ? AND created_at < ?", models.FlagPending, cutoff.UTC()).
		Count(&count).Error
	return count, err
}

func (r *flagRepository) ListHeavilyFlagged(ctx context.Context, since time.Time, minFlags int) ([]FlaggedContent, error) {
	var out []FlaggedContent
	err := readDB(r.db).WithContext(ctx).Model(&models.Flag{}).
		Select("content_type, content_id, COUNT(*) AS flag_count").
		Where("status = ? AND created_at >= ?", models.FlagPending, since.UTC()).
		Group("content_type, content_id").
		Having("COUNT(*) >= ?", minFlags).
		Order("flag_count DESC").
		Scan(&out).Error
	return out, err
}
