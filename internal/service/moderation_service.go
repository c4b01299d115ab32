package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chapterhub/internal/authz"
	"chapterhub/internal/models"
	"chapterhub/internal/observability"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

// DefaultFlagSLO is the flag resolution target when none is configured.
const DefaultFlagSLO = 120 * time.Minute

// ModerationService runs the upload, flag and automated-review state machines.
type ModerationService struct {
	db      *gorm.DB
	audit   *AuditService
	outbox  *OutboxService
	flagSLO time.Duration
	Clock   Clock
}

// NewModerationService returns a new ModerationService.
func NewModerationService(db *gorm.DB, audit *AuditService, outbox *OutboxService, flagSLO time.Duration) *ModerationService {
	if flagSLO <= 0 {
		flagSLO = DefaultFlagSLO
	}
	return &ModerationService{db: db, audit: audit, outbox: outbox, flagSLO: flagSLO}
}

// FlagSLO returns the configured flag resolution target.
func (s *ModerationService) FlagSLO() time.Duration {
	return s.flagSLO
}

// ApproveUpload moves a pending upload to approved.
func (s *ModerationService) ApproveUpload(ctx context.Context, p *authz.Principal, id uint) (*models.Upload, error) {
	return s.reviewUpload(ctx, p, id, models.UploadApproved, "")
}

// RejectUpload moves a pending upload to rejected. A reason is required.
func (s *ModerationService) RejectUpload(ctx context.Context, p *authz.Principal, id uint, reason string) (*models.Upload, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewValidationError("rejection reason is required")
	}
	return s.reviewUpload(ctx, p, id, models.UploadRejected, reason)
}

func (s *ModerationService) reviewUpload(ctx context.Context, p *authz.Principal, id uint, status models.UploadStatus, reason string) (*models.Upload, error) {
	if err := authz.Check(p, authz.ActionReviewUpload, authz.Target{}); err != nil {
		return nil, err
	}

	current, err := repository.NewUploadRepository(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	if err := uploadReviewable(current); err != nil {
		return nil, err
	}

	action := models.AuditContentApprove
	if status == models.UploadRejected {
		action = models.AuditContentReject
	}
	review := repository.UploadReview{
		Status:     status,
		ReviewerID: p.ID,
		ReviewedAt: s.Clock.now(),
	}
	if reason != "" {
		review.RejectionReason = &reason
	}

	var updated *models.Upload
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewUploadRepository(tx)
		if err := repo.Review(ctx, id, review); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				// Lost the race; report what the winner left behind.
				latest, gerr := repo.GetByID(ctx, id)
				if gerr != nil {
					return gerr
				}
				if rerr := uploadReviewable(latest); rerr != nil {
					return rerr
				}
				return models.NewAlreadyProcessedError("Upload", id)
			}
			return err
		}
		after, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		updated = after

		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     action,
			TargetType: string(models.ContentUpload),
			TargetID:   id,
			Detail:     reason,
			Before:     current,
			After:      after,
		})
		s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
			Kind:      models.OutboxModeration,
			EventType: "upload." + string(status),
			SubjectID: after.OwnerID,
			Payload:   uploadEventPayload(after),
		})
		return nil
	})
	if err != nil {
		return nil, wrapRepoErr(err)
	}

	observability.ModerationActions.WithLabelValues("upload", string(status)).Inc()
	return updated, nil
}

func uploadReviewable(u *models.Upload) error {
	switch {
	case u.Status.IsTerminal():
		return models.NewAlreadyProcessedError("Upload", u.ID)
	case u.Status == models.UploadFailed:
		return models.NewConflictError(fmt.Sprintf("upload %d failed verification; retry it before review", u.ID))
	}
	return nil
}

// FlagPage is one page of flags.
type FlagPage struct {
	Flags []models.Flag `json:"flags"`
	Total int64         `json:"total"`
}

// ListFlags returns flags by status, oldest first.
func (s *ModerationService) ListFlags(ctx context.Context, p *authz.Principal, status models.FlagStatus, limit, offset int) (*FlagPage, error) {
	if err := authz.Check(p, authz.ActionReviewFlag, authz.Target{}); err != nil {
		return nil, err
	}
	flags, total, err := repository.NewFlagRepository(s.db).List(ctx, status, limit, offset)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			slog.WarnContext(ctx, "flags table missing, returning empty page")
			return &FlagPage{Flags: []models.Flag{}}, nil
		}
		return nil, models.NewInternalError(err)
	}
	if flags == nil {
		flags = []models.Flag{}
	}
	return &FlagPage{Flags: flags, Total: total}, nil
}

// ReportContent records a user flag against existing content.
func (s *ModerationService) ReportContent(ctx context.Context, p *authz.Principal, contentType models.ContentType, contentID uint, reason string) (*models.Flag, error) {
	if err := authz.Check(p, authz.ActionReadOwn, authz.Target{}); err != nil {
		return nil, err
	}
	if _, ok := models.ParseContentType(string(contentType)); !ok {
		return nil, models.NewValidationError("unsupported content type")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.NewValidationError("reason is required")
	}
	flag := &models.Flag{
		ContentType: contentType,
		ContentID:   contentID,
		ReporterID:  p.ID,
		Reason:      reason,
		Status:      models.FlagPending,
	}
	if err := repository.NewFlagRepository(s.db).Create(ctx, flag); err != nil {
		return nil, models.NewInternalError(err)
	}
	return flag, nil
}

// ReviewFlag closes a pending flag with the given action. The first reviewer wins.
func (s *ModerationService) ReviewFlag(ctx context.Context, p *authz.Principal, id uint, action FlagAction, notes string) (*models.Flag, error) {
	ctx, span := observability.StartOperation(ctx, "moderation.review_flag", principalAttr(p))
	flag, err := s.reviewFlag(ctx, p, id, action, notes)
	observability.EndOperation(span, err)
	return flag, err
}

func (s *ModerationService) reviewFlag(ctx context.Context, p *authz.Principal, id uint, action FlagAction, notes string) (*models.Flag, error) {
	if err := authz.Check(p, authz.ActionReviewFlag, authz.Target{}); err != nil {
		return nil, err
	}
	if action == nil {
		return nil, models.NewValidationError("action is required")
	}

	flag, err := repository.NewFlagRepository(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	if flag.Status != models.FlagPending {
		return nil, models.NewAlreadyProcessedError("Flag", id)
	}

	now := s.Clock.now()
	elapsed := now.Sub(flag.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	var resolved *models.Flag
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		outcome, err := action.apply(ctx, tx, p, flag, now)
		if err != nil {
			return err
		}
		repo := repository.NewFlagRepository(tx)
		if err := repo.Resolve(ctx, id, repository.FlagResolution{
			Status:            outcome.status,
			ReviewerID:        p.ID,
			Notes:             strings.TrimSpace(notes),
			Action:            outcome.action,
			ReviewedAt:        now,
			ResolutionSeconds: int64(elapsed / time.Second),
		}); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return models.NewAlreadyProcessedError("Flag", id)
			}
			return err
		}
		after, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		resolved = after

		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     models.AuditFlagReview,
			TargetType: "flag",
			TargetID:   id,
			Detail:     outcome.action,
			Before:     flag,
			After:      after,
		})
		s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
			Kind:      models.OutboxFlag,
			EventType: "flag.resolved",
			SubjectID: flag.ReporterID,
			Payload: map[string]any{
				"flag_id":      id,
				"content_type": flag.ContentType,
				"content_id":   flag.ContentID,
				"action":       outcome.action,
			},
		})
		return nil
	})
	if err != nil {
		return nil, wrapRepoErr(err)
	}

	observability.ModerationActions.WithLabelValues("flag", resolved.ActionTaken).Inc()
	observability.ObserveFlagResolution(elapsed, s.flagSLO)
	return resolved, nil
}

// ModeratedItemPage is one page of automatically scored items.
type ModeratedItemPage struct {
	Items []models.ModeratedItem `json:"items"`
	Total int64                  `json:"total"`
}

// ListModeratedItems returns scored items by status, highest score first.
func (s *ModerationService) ListModeratedItems(ctx context.Context, p *authz.Principal, status models.ModerationStatus, limit, offset int) (*ModeratedItemPage, error) {
	if err := authz.Check(p, authz.ActionReviewAI, authz.Target{}); err != nil {
		return nil, err
	}
	items, total, err := repository.NewModerationRepository(s.db).ListItems(ctx, status, limit, offset)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			slog.WarnContext(ctx, "moderation queue table missing, returning empty page")
			return &ModeratedItemPage{Items: []models.ModeratedItem{}}, nil
		}
		return nil, models.NewInternalError(err)
	}
	if items == nil {
		items = []models.ModeratedItem{}
	}
	return &ModeratedItemPage{Items: items, Total: total}, nil
}

// Automated review actions.
const (
	AIActionApprove  = "approve"
	AIActionReject   = "reject"
	AIActionEscalate = "escalate"
)

// ModeratedItemReview is the outcome of ReviewModeratedItem.
type ModeratedItemReview struct {
	Item       *models.ModeratedItem `json:"item"`
	Escalation *models.Escalation    `json:"escalation,omitempty"`
}

// ReviewModeratedItem applies a reviewer decision to a scored item.
// Escalation opens an Escalation and notifies every active admin.
func (s *ModerationService) ReviewModeratedItem(ctx context.Context, p *authz.Principal, id uint, action, notes string) (*ModeratedItemReview, error) {
	if err := authz.Check(p, authz.ActionReviewAI, authz.Target{}); err != nil {
		return nil, err
	}

	var status models.ModerationStatus
	switch action {
	case AIActionApprove:
		status = models.ModerationApproved
	case AIActionReject:
		status = models.ModerationRejected
	case AIActionEscalate:
		status = models.ModerationEscalated
	default:
		return nil, models.NewValidationError("action must be one of approve, reject, escalate")
	}
	notes = strings.TrimSpace(notes)

	item, err := repository.NewModerationRepository(s.db).GetItem(ctx, id)
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	if item.Status != models.ModerationPending {
		return nil, models.NewAlreadyProcessedError("Moderation item", id)
	}

	now := s.Clock.now()
	result := &ModeratedItemReview{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewModerationRepository(tx)
		if err := repo.ReviewItem(ctx, id, status, p.ID, notes, now); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return models.NewAlreadyProcessedError("Moderation item", id)
			}
			return err
		}

		if status == models.ModerationEscalated {
			esc := &models.Escalation{
				ModeratedItemID: id,
				Priority:        models.PriorityForScore(item.FaithAlignmentScore),
				Status:          models.EscalationPending,
				Reason:          notes,
			}
			if err := repo.CreateEscalation(ctx, esc); err != nil {
				return err
			}
			result.Escalation = esc
			if err := s.notifyAdmins(ctx, tx, esc); err != nil {
				return err
			}
		} else {
			s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
				Kind:      models.OutboxModeration,
				EventType: "moderation." + string(status),
				SubjectID: s.contentAuthor(ctx, tx, item),
				Payload: map[string]any{
					"moderated_item_id": id,
					"content_type":      item.ContentType,
					"content_id":        item.ContentID,
					"status":            status,
				},
			})
		}

		after, err := repo.GetItem(ctx, id)
		if err != nil {
			return err
		}
		result.Item = after

		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     models.AuditAIReview,
			TargetType: "moderated_item",
			TargetID:   id,
			Detail:     action,
			Before:     item,
			After:      after,
		})
		return nil
	})
	if err != nil {
		return nil, wrapRepoErr(err)
	}

	observability.ModerationActions.WithLabelValues("ai", action).Inc()
	return result, nil
}

// contentAuthor returns the author of a scored item's content, or zero when
// the content no longer exists.
func (s *ModerationService) contentAuthor(ctx context.Context, tx *gorm.DB, item *models.ModeratedItem) uint {
	authorID, err := repository.NewContentRepository(tx).AuthorOf(ctx, item.ContentType, item.ContentID)
	if err != nil {
		slog.WarnContext(ctx, "moderation review: content author unavailable",
			slog.Uint64("moderated_item_id", uint64(item.ID)),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return authorID
}

func (s *ModerationService) notifyAdmins(ctx context.Context, tx *gorm.DB, esc *models.Escalation) error {
	admins, err := repository.NewUserRepository(tx).ListActiveAdmins(ctx)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		return nil
	}
	message := fmt.Sprintf("Moderation item %d escalated with %s priority", esc.ModeratedItemID, esc.Priority)
	notes := make([]models.Notification, 0, len(admins))
	for _, admin := range admins {
		notes = append(notes, models.Notification{
			UserID:  admin.ID,
			Type:    "escalation",
			Message: message,
			RefType: "escalation",
			RefID:   esc.ID,
		})
	}
	if err := repository.NewContentRepository(tx).CreateNotifications(ctx, notes); err != nil {
		return err
	}
	for _, admin := range admins {
		s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
			Kind:      models.OutboxEscalation,
			EventType: "escalation.created",
			SubjectID: admin.ID,
			Payload: map[string]any{
				"escalation_id":     esc.ID,
				"moderated_item_id": esc.ModeratedItemID,
				"priority":          esc.Priority,
			},
		})
	}
	return nil
}

// EscalationPage is one page of escalations.
type EscalationPage struct {
	Escalations []models.Escalation `json:"escalations"`
	Total       int64               `json:"total"`
}

// ListEscalations returns escalations by status, highest priority first.
func (s *ModerationService) ListEscalations(ctx context.Context, p *authz.Principal, status models.EscalationStatus, limit, offset int) (*EscalationPage, error) {
	if err := authz.Check(p, authz.ActionResolveEsc, authz.Target{}); err != nil {
		return nil, err
	}
	escs, total, err := repository.NewModerationRepository(s.db).ListEscalations(ctx, status, limit, offset)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			slog.WarnContext(ctx, "escalations table missing, returning empty page")
			return &EscalationPage{Escalations: []models.Escalation{}}, nil
		}
		return nil, models.NewInternalError(err)
	}
	if escs == nil {
		escs = []models.Escalation{}
	}
	return &EscalationPage{Escalations: escs, Total: total}, nil
}

// ResolveEscalation closes a pending escalation and marks its notifications read.
func (s *ModerationService) ResolveEscalation(ctx context.Context, p *authz.Principal, id uint, resolution string) (*models.Escalation, error) {
	if err := authz.Check(p, authz.ActionResolveEsc, authz.Target{}); err != nil {
		return nil, err
	}
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, models.NewValidationError("resolution is required")
	}

	esc, err := repository.NewModerationRepository(s.db).GetEscalation(ctx, id)
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	if esc.Status != models.EscalationPending {
		return nil, models.NewAlreadyProcessedError("Escalation", id)
	}

	var resolved *models.Escalation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewModerationRepository(tx)
		if err := repo.ResolveEscalation(ctx, id, p.ID, resolution, s.Clock.now()); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return models.NewAlreadyProcessedError("Escalation", id)
			}
			return err
		}
		if _, err := repository.NewContentRepository(tx).MarkNotificationsRead(ctx, "escalation", id); err != nil {
			return err
		}
		after, err := repo.GetEscalation(ctx, id)
		if err != nil {
			return err
		}
		resolved = after
		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     models.AuditEscalationResolve,
			TargetType: "escalation",
			TargetID:   id,
			Detail:     resolution,
			Before:     esc,
			After:      after,
		})
		admins, err := repository.NewUserRepository(tx).ListActiveAdmins(ctx)
		if err != nil {
			return err
		}
		for _, admin := range admins {
			s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
				Kind:      models.OutboxEscalation,
				EventType: "escalation.resolved",
				SubjectID: admin.ID,
				Payload: map[string]any{
					"escalation_id":     id,
					"moderated_item_id": esc.ModeratedItemID,
					"resolved_by":       p.ID,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, wrapRepoErr(err)
	}

	observability.ModerationActions.WithLabelValues("escalation", "resolve").Inc()
	return resolved, nil
}
