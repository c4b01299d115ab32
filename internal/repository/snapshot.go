package repository

import (
	"context"
	"errors"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

// SnapshotRepository stores analytics snapshots.
type SnapshotRepository interface {
	Create(ctx context.Context, snap *models.AnalyticsSnapshot) error
	GetByID(ctx context.Context, id uint) (*models.AnalyticsSnapshot, error)
	Latest(ctx context.Context, kind models.SnapshotKind) (*models.AnalyticsSnapshot, error)
}

type snapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository returns a SnapshotRepository backed by db.
func NewSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Create(ctx context.Context, snap *models.AnalyticsSnapshot) error {
	return r.db.WithContext(ctx).Create(snap).Error
}

func (r *snapshotRepository) GetByID(ctx context.Context, id uint) (*models.AnalyticsSnapshot, error) {
	var snap models.AnalyticsSnapshot
	if err := readDB(r.db).WithContext(ctx).First(&snap, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Snapshot", id)
		}
		return nil, err
	}
	return &snap, nil
}

// Latest returns the newest snapshot of kind, or nil when none exists.
// It reads the primary so a just-written snapshot is visible.
func (r *snapshotRepository) Latest(ctx context.Context, kind models.SnapshotKind) (*models.AnalyticsSnapshot, error) {
	var snap models.AnalyticsSnapshot
	err := r.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("as_of DESC, id DESC").
		First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}
