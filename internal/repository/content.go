package repository

import (
	"context"
	"errors"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

// ContentRepository touches the collaborator-owned content tables the
// moderation pipeline acts on.
type ContentRepository interface {
	GetForumPost(ctx context.Context, id uint) (*models.ForumPost, error)
	GetResource(ctx context.Context, id uint) (*models.Resource, error)
	AuthorOf(ctx context.Context, contentType models.ContentType, id uint) (uint, error)
	HideForumPost(ctx context.Context, id uint) (bool, error)
	HideResource(ctx context.Context, id uint) (bool, error)
	UpdateForumPost(ctx context.Context, id uint, fields map[string]interface{}) error
	UpdateResource(ctx context.Context, id uint, fields map[string]interface{}) error
	CreateWarning(ctx context.Context, w *models.UserWarning) error
	CreateNotifications(ctx context.Context, notes []models.Notification) error
	MarkNotificationsRead(ctx context.Context, refType string, refID uint) (int64, error)
}

type contentRepository struct {
	db *gorm.DB
}

// NewContentRepository returns a ContentRepository backed by db.
func NewContentRepository(db *gorm.DB) ContentRepository {
	return &contentRepository{db: db}
}

func (r *contentRepository) GetForumPost(ctx context.Context, id uint) (*models.ForumPost, error) {
	var post models.ForumPost
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Forum post", id)
		}
		return nil, err
	}
	return &post, nil
}

func (r *contentRepository) GetResource(ctx context.Context, id uint) (*models.Resource, error) {
	var res models.Resource
	if err := r.db.WithContext(ctx).First(&res, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Resource", id)
		}
		return nil, err
	}
	return &res, nil
}

// AuthorOf returns the principal that owns a piece of content. A missing
// target yields a not-found AppError.
func (r *contentRepository) AuthorOf(ctx context.Context, contentType models.ContentType, id uint) (uint, error) {
	switch contentType {
	case models.ContentForumPost:
		post, err := r.GetForumPost(ctx, id)
		if err != nil {
			return 0, err
		}
		return post.AuthorID, nil
	case models.ContentResource:
		res, err := r.GetResource(ctx, id)
		if err != nil {
			return 0, err
		}
		return res.OwnerID, nil
	case models.ContentUpload:
		var upload models.Upload
		if err := r.db.WithContext(ctx).Select("id", "owner_id").First(&upload, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, models.NewNotFoundError("Upload", id)
			}
			return 0, err
		}
		return upload.OwnerID, nil
	default:
		return 0, models.NewValidationError("unsupported content type")
	}
}

// HideForumPost reports whether a post was found and hidden.
func (r *contentRepository) HideForumPost(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ForumPost{}).Where("id = ?", id).Update("is_moderated", true)
	return res.RowsAffected > 0, res.Error
}

// HideResource reports whether a resource was found and made private.
func (r *contentRepository) HideResource(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Resource{}).Where("id = ?", id).Update("visibility", models.VisibilityPrivate)
	return res.RowsAffected > 0, res.Error
}

func (r *contentRepository) UpdateForumPost(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.update(ctx, &models.ForumPost{}, "Forum post", id, fields)
}

func (r *contentRepository) UpdateResource(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.update(ctx, &models.Resource{}, "Resource", id, fields)
}

func (r *contentRepository) update(ctx context.Context, model interface{}, name string, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError(name, id)
	}
	return nil
}

func (r *contentRepository) CreateWarning(ctx context.Context, w *models.UserWarning) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *contentRepository) CreateNotifications(ctx context.Context, notes []models.Notification) error {
	if len(notes) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&notes).Error
}

func (r *contentRepository) MarkNotificationsRead(ctx context.Context, refType string, refID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("ref_type = ? AND ref_id = ? AND read = ?", refType, refID, false).
		Update("read", true)
	return res.RowsAffected, res.Error
}
