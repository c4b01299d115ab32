package repository

import (
	"context"
	"errors"
	"time"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

// ModerationRepository stores automatically scored items and their escalations.
type ModerationRepository interface {
	CreateItem(ctx context.Context, item *models.ModeratedItem) error
	GetItem(ctx context.Context, id uint) (*models.ModeratedItem, error)
	ListItems(ctx context.Context, status models.ModerationStatus, limit, offset int) ([]models.ModeratedItem, int64, error)
	ReviewItem(ctx context.Context, id uint, status models.ModerationStatus, reviewerID uint, notes string, at time.Time) error

	CreateEscalation(ctx context.Context, esc *models.Escalation) error
	GetEscalation(ctx context.Context, id uint) (*models.Escalation, error)
	ListEscalations(ctx context.Context, status models.EscalationStatus, limit, offset int) ([]models.Escalation, int64, error)
	ResolveEscalation(ctx context.Context, id uint, reviewerID uint, resolution string, at time.Time) error
}

type moderationRepository struct {
	db *gorm.DB
}

// NewModerationRepository returns a ModerationRepository backed by db.
func NewModerationRepository(db *gorm.DB) ModerationRepository {
	return &moderationRepository{db: db}
}

func (r *moderationRepository) CreateItem(ctx context.Context, item *models.ModeratedItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *moderationRepository) GetItem(ctx context.Context, id uint) (*models.ModeratedItem, error) {
	var item models.ModeratedItem
	if err := readDB(r.db).WithContext(ctx).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Moderation item", id)
		}
		return nil, err
	}
	return &item, nil
}

func (r *moderationRepository) ListItems(ctx context.Context, status models.ModerationStatus, limit, offset int) ([]models.ModeratedItem, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.ModeratedItem{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []models.ModeratedItem
	err := q.Order("faith_alignment_score DESC, id ASC").Limit(limit).Offset(offset).Find(&items).Error
	return items, total, err
}

// ReviewItem closes a pending item. It returns ErrNoRowsAffected when the
// item is no longer pending.
func (r *moderationRepository) ReviewItem(ctx context.Context, id uint, status models.ModerationStatus, reviewerID uint, notes string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.ModeratedItem{}).
		Where("id = ? AND status = ?", id, models.ModerationPending).
		Updates(map[string]interface{}{
			"status":       status,
			"reviewer_id":  reviewerID,
			"review_notes": notes,
			"reviewed_at":  at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *moderationRepository) CreateEscalation(ctx context.Context, esc *models.Escalation) error {
	return r.db.WithContext(ctx).Create(esc).Error
}

func (r *moderationRepository) GetEscalation(ctx context.Context, id uint) (*models.Escalation, error) {
	var esc models.Escalation
	if err := readDB(r.db).WithContext(ctx).Preload("ModeratedItem").First(&esc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Escalation", id)
		}
		return nil, err
	}
	return &esc, nil
}

func (r *moderationRepository) ListEscalations(ctx context.Context, status models.EscalationStatus, limit, offset int) ([]models.Escalation, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.Escalation{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var escs []models.Escalation
	err := q.Preload("ModeratedItem").
		Order("CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at ASC, id ASC").
		Limit(limit).Offset(offset).
		Find(&escs).Error
	return escs, total, err
}

// ResolveEscalation closes a pending escalation. It returns
// ErrNoRowsAffected when the escalation is already resolved.
func (r *moderationRepository) ResolveEscalation(ctx context.Context, id uint, reviewerID uint, resolution string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Escalation{}).
		Where("id = ? AND status = ?", id, models.EscalationPending).
		Updates(map[string]interface{}{
			"status":      models.EscalationResolved,
			"reviewer_id": reviewerID,
			"resolution":  resolution,
			"resolved_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
