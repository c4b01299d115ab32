package repository

import (
	"context"
	"errors"
	"time"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

// BanFilter narrows a ban listing.
type BanFilter struct {
	TargetType models.BanTarget
	TargetID   uint
	ActiveOnly bool
}

// BanRepository stores ban history. Rows are never deleted.
type BanRepository interface {
	Create(ctx context.Context, ban *models.Ban) error
	FindActive(ctx context.Context, target models.BanTarget, targetID uint) (*models.Ban, error)
	Deactivate(ctx context.Context, id uint) error
	Lift(ctx context.Context, id uint, liftedBy uint, at time.Time) error
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	List(ctx context.Context, filter BanFilter, limit, offset int) ([]models.Ban, int64, error)
}

type banRepository struct {
	db *gorm.DB
}

// NewBanRepository returns a BanRepository backed by db.
func NewBanRepository(db *gorm.DB) BanRepository {
	return &banRepository{db: db}
}

func (r *banRepository) Create(ctx context.Context, ban *models.Ban) error {
	if err := r.db.WithContext(ctx).Create(ban).Error; err != nil {
		if IsUniqueViolation(err) {
			return models.NewConflictError("Target is already banned")
		}
		return err
	}
	return nil
}

// FindActive returns the stored active ban for a target, or nil. The caller
// decides whether it has expired.
func (r *banRepository) FindActive(ctx context.Context, target models.BanTarget, targetID uint) (*models.Ban, error) {
	var ban models.Ban
	err := r.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ? AND active = ?", target, targetID, true).
		Order("id DESC").
		First(&ban).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ban, nil
}

// Deactivate persists the expiry of a ban.
func (r *banRepository) Deactivate(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Ban{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false).Error
}

// Lift ends an active ban early. It returns ErrNoRowsAffected when the ban
// was not active.
func (r *banRepository) Lift(ctx context.Context, id uint, liftedBy uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Ban{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]interface{}{
			"active":    false,
			"lifted_by": liftedBy,
			"lifted_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// ExpireDue deactivates every ban whose expiry has passed.
func (r *banRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Ban{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now.UTC()).
		Update("active", false)
	return res.RowsAffected, res.Error
}

func (r *banRepository) List(ctx context.Context, filter BanFilter, limit, offset int) ([]models.Ban, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.Ban{})
	if filter.TargetType != "" {
		q = q.Where("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != 0 {
		q = q.Where("target_id = ?", filter.TargetID)
	}
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var bans []models.Ban
	err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&bans).Error
	return bans, total, err
}
