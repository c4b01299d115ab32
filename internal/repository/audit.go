package repository

import (
	"context"
	"time"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

// AuditFilter narrows an audit query. Zero values are ignored.
type AuditFilter struct {
	ActorID    uint
	ActionType string
	TargetType string
	TargetID   uint
	From       *time.Time
	To         *time.Time
}

// AuditRepository appends and queries audit entries. There is no update or delete.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
	Query(ctx context.Context, filter AuditFilter, limit, offset int) ([]models.AuditEntry, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository returns an AuditRepository backed by db.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// Query returns matching entries newest first along with the total match count.
func (r *auditRepository) Query(ctx context.Context, filter AuditFilter, limit, offset int) ([]models.AuditEntry, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.AuditEntry{})
	if filter.ActorID != 0 {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.ActionType != "" {
		q = q.Where("action_type = ?", filter.ActionType)
	}
	if filter.TargetType != "" {
		q = q.Where("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != 0 {
		q = q.Where("target_id = ?", filter.TargetID)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("created_at <= ?", filter.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []models.AuditEntry
	err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&entries).Error
	return entries, total, err
}
