package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"chapterhub/internal/authz"
	"chapterhub/internal/models"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

// ApplicationService reviews instructor applications.
type ApplicationService struct {
	db     *gorm.DB
	audit  *AuditService
	outbox *OutboxService
	Clock  Clock
}

// NewApplicationService returns a new ApplicationService.
func NewApplicationService(db *gorm.DB, audit *AuditService, outbox *OutboxService) *ApplicationService {
	return &ApplicationService{db: db, audit: audit, outbox: outbox}
}

// Apply records a member's request to become an instructor.
func (s *ApplicationService) Apply(ctx context.Context, p *authz.Principal, motivation string) (*models.InstructorApplication, error) {
	if err := authz.Check(p, authz.ActionReadOwn, authz.Target{}); err != nil {
		return nil, err
	}
	motivation = strings.TrimSpace(motivation)
	if motivation == "" {
		return nil, models.NewValidationError("motivation is required")
	}
	if len(motivation) > 4000 {
		return nil, models.NewValidationError("motivation must be at most 4000 characters")
	}
	if p.Role != models.RoleMember {
		return nil, models.NewConflictError("only members can apply to become instructors")
	}
	app := &models.InstructorApplication{
		UserID:     p.ID,
		Motivation: motivation,
		Status:     models.ApplicationPending,
	}
	if err := repository.NewApplicationRepository(s.db).Create(ctx, app); err != nil {
		return nil, models.NewInternalError(err)
	}
	return app, nil
}

// ApplicationPage is one page of applications.
type ApplicationPage struct {
	Applications []models.InstructorApplication `json:"applications"`
	Total        int64                          `json:"total"`
}

// List returns applications by status, oldest first.
func (s *ApplicationService) List(ctx context.Context, p *authz.Principal, status models.ApplicationStatus, limit, offset int) (*ApplicationPage, error) {
	if err := authz.Check(p, authz.ActionReviewApp, authz.Target{}); err != nil {
		return nil, err
	}
	apps, total, err := repository.NewApplicationRepository(s.db).List(ctx, status, limit, offset)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			slog.WarnContext(ctx, "instructor applications table missing, returning empty page")
			return &ApplicationPage{Applications: []models.InstructorApplication{}}, nil
		}
		return nil, models.NewInternalError(err)
	}
	if apps == nil {
		apps = []models.InstructorApplication{}
	}
	return &ApplicationPage{Applications: apps, Total: total}, nil
}

// Review approves or rejects a pending application. Approval promotes the
// applicant to instructor in the same transaction.
func (s *ApplicationService) Review(ctx context.Context, p *authz.Principal, id uint, approve bool, notes string) (*models.InstructorApplication, error) {
	if err := authz.Check(p, authz.ActionReviewApp, authz.Target{}); err != nil {
		return nil, err
	}
	status := models.ApplicationRejected
	if approve {
		status = models.ApplicationApproved
	}
	notes = strings.TrimSpace(notes)

	var reviewed *models.InstructorApplication
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewApplicationRepository(tx)
		before, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if before.Status != models.ApplicationPending {
			return models.NewAlreadyProcessedError("Application", id)
		}
		if err := repo.Review(ctx, id, status, p.ID, notes, s.Clock.now()); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return models.NewAlreadyProcessedError("Application", id)
			}
			return err
		}
		if approve {
			users := repository.NewUserRepository(tx)
			applicant, err := users.GetByID(ctx, before.UserID)
			if err != nil {
				return err
			}
			if applicant.Role == models.RoleMember {
				if err := users.UpdateFields(ctx, applicant.ID, map[string]interface{}{"role": models.RoleInstructor}); err != nil {
					return err
				}
			}
		}
		after, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		reviewed = after

		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     models.AuditApplicationReview,
			TargetType: "instructor_application",
			TargetID:   id,
			Detail:     string(status),
			Before:     before,
			After:      after,
		})
		s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
			Kind:      models.OutboxUser,
			EventType: "application." + string(status),
			SubjectID: before.UserID,
			Payload: map[string]any{
				"application_id": id,
				"status":         status,
			},
		})
		return nil
	})
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	return reviewed, nil
}
