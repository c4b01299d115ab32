package service

import (
	"context"
	"strings"
	"time"

	"chapterhub/internal/authz"
	"chapterhub/internal/models"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

// FlagAction is a reviewer decision on a flag. The set is closed: only
// DismissFlag, RemoveContent and WarnAuthor implement it.
type FlagAction interface {
	Name() string
	apply(ctx context.Context, tx *gorm.DB, p *authz.Principal, flag *models.Flag, now time.Time) (flagOutcome, error)
}

type flagOutcome struct {
	status models.FlagStatus
	action string
}

// DismissFlag closes the flag without touching the content.
type DismissFlag struct{}

// RemoveContent hides the flagged content.
type RemoveContent struct{}

// WarnAuthor records a warning against the content's author.
type WarnAuthor struct {
	Reason string
}

// ParseFlagAction maps the wire action name onto a FlagAction.
func ParseFlagAction(name, notes string) (FlagAction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dismiss":
		return DismissFlag{}, nil
	case "remove":
		return RemoveContent{}, nil
	case "warn":
		return WarnAuthor{Reason: notes}, nil
	default:
		return nil, models.NewValidationError("action must be one of dismiss, remove, warn")
	}
}

func (DismissFlag) Name() string   { return "dismiss" }
func (RemoveContent) Name() string { return "remove" }
func (WarnAuthor) Name() string    { return "warn" }

func (DismissFlag) apply(context.Context, *gorm.DB, *authz.Principal, *models.Flag, time.Time) (flagOutcome, error) {
	return flagOutcome{status: models.FlagDismissed, action: models.FlagActionDismissed}, nil
}

func (RemoveContent) apply(ctx context.Context, tx *gorm.DB, _ *authz.Principal, flag *models.Flag, _ time.Time) (flagOutcome, error) {
	repo := repository.NewContentRepository(tx)
	var (
		found bool
		err   error
	)
	switch flag.ContentType {
	case models.ContentForumPost:
		found, err = repo.HideForumPost(ctx, flag.ContentID)
	case models.ContentResource:
		found, err = repo.HideResource(ctx, flag.ContentID)
	default:
		// Uploads have no hidden state; reviewers reject or edit them instead.
	}
	if err != nil {
		return flagOutcome{}, err
	}
	if !found {
		return flagOutcome{status: models.FlagActionTaken, action: models.FlagActionNoOp}, nil
	}
	return flagOutcome{status: models.FlagActionTaken, action: models.FlagActionRemoved}, nil
}

func (w WarnAuthor) apply(ctx context.Context, tx *gorm.DB, p *authz.Principal, flag *models.Flag, _ time.Time) (flagOutcome, error) {
	repo := repository.NewContentRepository(tx)
	authorID, err := repo.AuthorOf(ctx, flag.ContentType, flag.ContentID)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			return flagOutcome{status: models.FlagActionTaken, action: models.FlagActionNoOp}, nil
		}
		return flagOutcome{}, err
	}

	reason := strings.TrimSpace(w.Reason)
	if reason == "" {
		reason = flag.Reason
	}
	flagID := flag.ID
	if err := repo.CreateWarning(ctx, &models.UserWarning{
		UserID:      authorID,
		ModeratorID: p.ID,
		FlagID:      &flagID,
		Reason:      reason,
	}); err != nil {
		return flagOutcome{}, err
	}
	return flagOutcome{status: models.FlagActionTaken, action: models.FlagActionWarned}, nil
}
