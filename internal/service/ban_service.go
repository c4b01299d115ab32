package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"chapterhub/internal/authz"
	"chapterhub/internal/models"
	"chapterhub/internal/observability"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

// BanInput is the request to ban a user or a post. Duration is in seconds and
// capped at ten years; omit it for a permanent ban.
type BanInput struct {
	Reason          string `json:"reason" validate:"required,max=2000"`
	DurationSeconds *int64 `json:"duration" validate:"omitempty,min=1,max=315360000"`
}

// BanService issues, lifts and expires bans.
type BanService struct {
	db     *gorm.DB
	audit  *AuditService
	outbox *OutboxService
	Clock  Clock
}

// NewBanService returns a new BanService.
func NewBanService(db *gorm.DB, audit *AuditService, outbox *OutboxService) *BanService {
	return &BanService{db: db, audit: audit, outbox: outbox}
}

// BanUser bans a principal, optionally for a limited time.
func (s *BanService) BanUser(ctx context.Context, p *authz.Principal, userID uint, in BanInput) (*models.Ban, error) {
	if err := authz.Check(p, authz.ActionBan, authz.Target{UserID: userID}); err != nil {
		return nil, err
	}
	if _, err := repository.NewUserRepository(s.db).GetByID(ctx, userID); err != nil {
		return nil, wrapRepoErr(err)
	}
	return s.ban(ctx, p, models.BanTargetUser, userID, userID, in)
}

// BanPost bans a forum post, optionally for a limited time.
func (s *BanService) BanPost(ctx context.Context, p *authz.Principal, postID uint, in BanInput) (*models.Ban, error) {
	if err := authz.Check(p, authz.ActionBan, authz.Target{}); err != nil {
		return nil, err
	}
	post, err := repository.NewContentRepository(s.db).GetForumPost(ctx, postID)
	if err != nil {
		return nil, wrapRepoErr(err)
	}
	return s.ban(ctx, p, models.BanTargetPost, postID, post.AuthorID, in)
}

func (s *BanService) ban(ctx context.Context, p *authz.Principal, target models.BanTarget, targetID, subjectID uint, in BanInput) (*models.Ban, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	now := s.Clock.now()
	ban := &models.Ban{
		TargetType:  target,
		TargetID:    targetID,
		Reason:      in.Reason,
		ModeratorID: p.ID,
		Active:      true,
	}
	if in.DurationSeconds != nil {
		expires := now.Add(time.Duration(*in.DurationSeconds) * time.Second)
		ban.ExpiresAt = &expires
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewBanRepository(tx)
		existing, err := repo.FindActive(ctx, target, targetID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.EffectiveActive(now) {
				return models.NewConflictError("Target is already banned")
			}
			if err := repo.Deactivate(ctx, existing.ID); err != nil {
				return err
			}
		}
		if err := repo.Create(ctx, ban); err != nil {
			return err
		}
		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     models.AuditBanCreate,
			TargetType: string(target),
			TargetID:   targetID,
			Detail:     in.Reason,
			After:      ban,
		})
		s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
			Kind:      models.OutboxBan,
			EventType: "ban.created",
			SubjectID: subjectID,
			Payload: map[string]any{
				"ban_id":      ban.ID,
				"target_type": target,
				"target_id":   targetID,
				"expires_at":  ban.ExpiresAt,
			},
		})
		return nil
	})
	if err != nil {
		return nil, wrapRepoErr(err)
	}

	observability.ModerationActions.WithLabelValues("ban", "create").Inc()
	return ban, nil
}

// Unban lifts the active ban on a target. It reports false, with no error,
// when there was nothing in force to lift.
func (s *BanService) Unban(ctx context.Context, p *authz.Principal, target models.BanTarget, targetID uint) (*models.Ban, bool, error) {
	if err := authz.Check(p, authz.ActionUnban, authz.Target{}); err != nil {
		return nil, false, err
	}
	if target != models.BanTargetUser && target != models.BanTargetPost {
		return nil, false, models.NewValidationError("ban target must be user or post")
	}

	now := s.Clock.now()
	var (
		lifted *models.Ban
		done   bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewBanRepository(tx)
		existing, err := repo.FindActive(ctx, target, targetID)
		if err != nil || existing == nil {
			return err
		}
		if !existing.EffectiveActive(now) {
			return repo.Deactivate(ctx, existing.ID)
		}
		if err := repo.Lift(ctx, existing.ID, p.ID, now); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return nil
			}
			return err
		}
		before := *existing
		existing.Active = false
		existing.LiftedAt = &now
		liftedBy := p.ID
		existing.LiftedBy = &liftedBy
		lifted = existing
		done = true

		subjectID := targetID
		if target == models.BanTargetPost {
			subjectID = s.postAuthor(ctx, tx, targetID)
		}

		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    p.ID,
			Action:     models.AuditBanLift,
			TargetType: string(target),
			TargetID:   targetID,
			Before:     before,
			After:      existing,
		})
		s.outbox.EnqueueTx(ctx, tx, OutboxMessage{
			Kind:      models.OutboxBan,
			EventType: "ban.lifted",
			SubjectID: subjectID,
			Payload: map[string]any{
				"ban_id":      existing.ID,
				"target_type": target,
				"target_id":   targetID,
			},
		})
		return nil
	})
	if err != nil {
		return nil, false, wrapRepoErr(err)
	}
	if done {
		observability.ModerationActions.WithLabelValues("ban", "lift").Inc()
	}
	return lifted, done, nil
}

// postAuthor returns the author of a banned post, or zero when the post is gone.
func (s *BanService) postAuthor(ctx context.Context, tx *gorm.DB, postID uint) uint {
	post, err := repository.NewContentRepository(tx).GetForumPost(ctx, postID)
	if err != nil {
		slog.WarnContext(ctx, "ban lift: post author unavailable",
			slog.Uint64("post_id", uint64(postID)),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return post.AuthorID
}

// BanPage is one page of bans.
type BanPage struct {
	Bans  []models.Ban `json:"bans"`
	Total int64        `json:"total"`
}

// List returns bans newest first. Expired bans read back inactive and are
// persisted inactive on the way.
func (s *BanService) List(ctx context.Context, p *authz.Principal, filter repository.BanFilter, limit, offset int) (*BanPage, error) {
	if err := authz.Check(p, authz.ActionBan, authz.Target{}); err != nil {
		return nil, err
	}
	now := s.Clock.now()
	if filter.ActiveOnly {
		if _, err := s.SweepExpired(ctx); err != nil {
			slog.WarnContext(ctx, "ban expiry sweep failed", slog.String("error", err.Error()))
		}
	}

	repo := repository.NewBanRepository(s.db)
	bans, total, err := repo.List(ctx, filter, limit, offset)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			slog.WarnContext(ctx, "bans table missing, returning empty page")
			return &BanPage{Bans: []models.Ban{}}, nil
		}
		return nil, models.NewInternalError(err)
	}
	for i := range bans {
		if bans[i].Active && !bans[i].EffectiveActive(now) {
			bans[i].Active = false
			if err := repo.Deactivate(ctx, bans[i].ID); err != nil {
				slog.WarnContext(ctx, "failed to persist ban expiry",
					slog.Uint64("ban_id", uint64(bans[i].ID)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if bans == nil {
		bans = []models.Ban{}
	}
	return &BanPage{Bans: bans, Total: total}, nil
}

// Status returns the ban currently in force on a target, or nil.
func (s *BanService) Status(ctx context.Context, target models.BanTarget, targetID uint) (*models.Ban, error) {
	repo := repository.NewBanRepository(s.db)
	ban, err := repo.FindActive(ctx, target, targetID)
	if err != nil || ban == nil {
		return nil, err
	}
	if !ban.EffectiveActive(s.Clock.now()) {
		if err := repo.Deactivate(ctx, ban.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return ban, nil
}

// SweepExpired persists every ban whose expiry has passed as inactive.
func (s *BanService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := repository.NewBanRepository(s.db).ExpireDue(ctx, s.Clock.now())
	if err != nil {
		if repository.IsSchemaMissing(err) {
			return 0, nil
		}
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "expired bans deactivated", slog.Int64("count", n))
	}
	return n, nil
}
