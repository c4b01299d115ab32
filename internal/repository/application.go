package repository

import (
	"context"
	"errors"
	"time"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

// ApplicationRepository stores instructor applications.
type ApplicationRepository interface {
	Create(ctx context.Context, app *models.InstructorApplication) error
	GetByID(ctx context.Context, id uint) (*models.InstructorApplication, error)
	List(ctx context.Context, status models.ApplicationStatus, limit, offset int) ([]models.InstructorApplication, int64, error)
	Review(ctx context.Context, id uint, status models.ApplicationStatus, reviewerID uint, notes string, at time.Time) error
}

type applicationRepository struct {
	db *gorm.DB
}

// NewApplicationRepository returns an ApplicationRepository backed by db.
func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &applicationRepository{db: db}
}

func (r *applicationRepository) Create(ctx context.Context, app *models.InstructorApplication) error {
	return r.db.WithContext(ctx).Create(app).Error
}

func (r *applicationRepository) GetByID(ctx context.Context, id uint) (*models.InstructorApplication, error) {
	var app models.InstructorApplication
	if err := readDB(r.db).WithContext(ctx).Preload("User").First(&app, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Application", id)
		}
		return nil, err
	}
	return &app, nil
}

func (r *applicationRepository) List(ctx context.Context, status models.ApplicationStatus, limit, offset int) ([]models.InstructorApplication, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.InstructorApplication{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var apps []models.InstructorApplication
	err := q.Preload("User").Order("created_at ASC, id ASC").Limit(limit).Offset(offset).Find(&apps).Error
	return apps, total, err
}

// Review closes a pending application. It returns ErrNoRowsAffected when the
// application was already reviewed.
func (r *applicationRepository) Review(ctx context.Context, id uint, status models.ApplicationStatus, reviewerID uint, notes string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.InstructorApplication{}).
		Where("id = ? AND status = ?", id, models.ApplicationPending).
		Updates(map[string]interface{}{
			"status":              status,
			"reviewed_by_user_id": reviewerID,
			"review_notes":        notes,
			"reviewed_at":         at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
