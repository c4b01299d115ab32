package service

import (
	"context"

	"chapterhub/internal/authz"
	"chapterhub/internal/models"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

// ContentPatch is a partial edit. Nil fields are left unchanged; fields that
// do not apply to the target type are rejected.
type ContentPatch struct {
	Title       *string  `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=2000"`
	Body        *string  `json:"body" validate:"omitempty,max=20000"`
	Category    *string  `json:"category" validate:"omitempty,max=100"`
	Tags        []string `json:"tags" validate:"omitempty,max=20,dive,max=50"`
	URL         *string  `json:"url" validate:"omitempty,url,max=500"`
	Visibility  *string  `json:"visibility" validate:"omitempty,oneof=public tenant private"`
}

// ContentService applies reviewer edits to uploads and collaborator content.
type ContentService struct {
	db     *gorm.DB
	audit  *AuditService
	outbox *OutboxService
}

// NewContentService returns a new ContentService.
func NewContentService(db *gorm.DB, audit *AuditService, outbox *OutboxService) *ContentService {
	return &ContentService{db: db, audit: audit, outbox: outbox}
}

// EditContent writes patch to the target and records before and after.
func (s *ContentService) EditContent(ctx context.Context, p *authz.Principal, contentType models.ContentType, id uint, patch ContentPatch) (any, error) {
	if err := authz.Check(p, authz.ActionEditContent, authz.Target{}); err != nil {
		return nil, err
	}
	if _, ok := models.ParseContentType(string(contentType)); !ok {
		return nil, models.NewValidationError("content type must be one of upload, forum_post, resource")
	}
	if patch.Tags != nil {
		patch.Tags = normalizeTags(patch.Tags)
	}
	if err := validateStruct(patch); err != nil {
		return nil, err
	}
	fields, err := patchFields(contentType, patch)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, models.NewValidationError("patch has no fields to change")
	}

	var after any
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, ownerID, err := loadContent(ctx, tx, contentType, id)
		if err != nil {
			return err
		}
		if err := writeContent(ctx, tx, contentType, id, fields); err != nil {
			return err
		}
		after, _, err = loadContent(ctx, tx, contentType, id)
		if err != nil {
			return err
		}

		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     models.AuditContentEdit,
			TargetType: string(contentType),
			TargetID:   id,
			Before:     before,
			After:      after,
		})
		s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
			Kind:      models.OutboxContent,
			EventType: "content.edited",
			SubjectID: ownerID,
			Payload: map[string]any{
				"content_type": contentType,
				"content_id":   id,
				"fields":       fieldNames(fields),
			},
		})
		return nil
	})
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	return after, nil
}

func patchFields(contentType models.ContentType, patch ContentPatch) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	if patch.Title != nil {
		fields["title"] = *patch.Title
	}

	reject := func(name string) error {
		return models.NewValidationError(name + " cannot be edited on " + string(contentType))
	}
	switch contentType {
	case models.ContentUpload:
		if patch.Body != nil {
			return nil, reject("body")
		}
		if patch.URL != nil {
			return nil, reject("url")
		}
		if patch.Visibility != nil {
			return nil, reject("visibility")
		}
		if patch.Description != nil {
			fields["description"] = *patch.Description
		}
		if patch.Category != nil {
			fields["category"] = *patch.Category
		}
		if patch.Tags != nil {
			fields["tags"] = toJSON(patch.Tags)
		}
	case models.ContentForumPost:
		if patch.Description != nil {
			return nil, reject("description")
		}
		if patch.Category != nil {
			return nil, reject("category")
		}
		if patch.Tags != nil {
			return nil, reject("tags")
		}
		if patch.URL != nil {
			return nil, reject("url")
		}
		if patch.Visibility != nil {
			return nil, reject("visibility")
		}
		if patch.Body != nil {
			fields["body"] = *patch.Body
		}
	case models.ContentResource:
		if patch.Body != nil {
			return nil, reject("body")
		}
		if patch.Category != nil {
			return nil, reject("category")
		}
		if patch.Tags != nil {
			return nil, reject("tags")
		}
		if patch.Description != nil {
			fields["description"] = *patch.Description
		}
		if patch.URL != nil {
			fields["url"] = *patch.URL
		}
		if patch.Visibility != nil {
			fields["visibility"] = *patch.Visibility
		}
	}
	return fields, nil
}

func loadContent(ctx context.Context, tx *gorm.DB, contentType models.ContentType, id uint) (any, uint, error) {
	switch contentType {
	case models.ContentUpload:
		u, err := repository.NewUploadRepository(tx).GetByID(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		return u, u.OwnerID, nil
	case models.ContentForumPost:
		post, err := repository.NewContentRepository(tx).GetForumPost(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		return post, post.AuthorID, nil
	default:
		res, err := repository.NewContentRepository(tx).GetResource(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		return res, res.OwnerID, nil
	}
}

func writeContent(ctx context.Context, tx *gorm.DB, contentType models.ContentType, id uint, fields map[string]interface{}) error {
	switch contentType {
	case models.ContentUpload:
		return repository.NewUploadRepository(tx).UpdateDescriptive(ctx, id, fields)
	case models.ContentForumPost:
		return repository.NewContentRepository(tx).UpdateForumPost(ctx, id, fields)
	default:
		return repository.NewContentRepository(tx).UpdateResource(ctx, id, fields)
	}
}

func fieldNames(fields map[string]interface{}) []string {
	names := make([]string, 0, len(fields))
	for _, name := range []string{"title", "description", "body", "category", "tags", "url", "visibility"} {
		if _, ok := fields[name]; ok {
			names = append(names, name)
		}
	}
	return names
}
