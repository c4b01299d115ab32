package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chapterhub/internal/models"
	"chapterhub/internal/observability"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

// QuotaStatus is the ledger state for one tenant, kind and month.
// Tracked is false when the ledger is unavailable and intake runs unlimited.
type QuotaStatus struct {
	TenantID    uint             `json:"tenant_id"`
	MediaKind   models.MediaKind `json:"media_kind"`
	Limit       int              `json:"limit"`
	Usage       int              `json:"usage"`
	Tracked     bool             `json:"tracked"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
}

// Exhausted reports whether no further upload fits.
func (q *QuotaStatus) Exhausted() bool {
	return q.Tracked && q.Limit > 0 && q.Usage >= q.Limit
}

// QuotaService is the monthly per-tenant quota ledger.
type QuotaService struct {
	db       *gorm.DB
	defaults map[models.MediaKind]int
	audit    *AuditService
	Clock    Clock
}

// NewQuotaService returns a ledger using the per-kind default limits.
func NewQuotaService(db *gorm.DB, defaults map[string]int, audit *AuditService) *QuotaService {
	d := make(map[models.MediaKind]int, len(defaults))
	for k, v := range defaults {
		d[models.MediaKind(k)] = v
	}
	return &QuotaService{db: db, defaults: d, audit: audit}
}

func (s *QuotaService) period() (time.Time, time.Time) {
	return models.MonthPeriod(s.Clock.now())
}

// Check returns the current month's status, creating the row on first use.
// A missing ledger table degrades open.
func (s *QuotaService) Check(ctx context.Context, tenantID uint, kind models.MediaKind) (*QuotaStatus, error) {
	start, end := s.period()
	row, err := repository.NewQuotaRepository(s.db).EnsureRow(ctx, tenantID, kind, start, end, s.defaults[kind])
	if err != nil {
		if repository.IsSchemaMissing(err) {
			softFailure(ctx, "quota", err)
			return &QuotaStatus{TenantID: tenantID, MediaKind: kind, PeriodStart: start, PeriodEnd: end}, nil
		}
		return nil, models.NewInternalError(err)
	}
	return statusFromRow(row), nil
}

// Increment consumes one unit inside tx. Losing the race for the last unit
// is a conflict; a missing ledger table is skipped.
func (s *QuotaService) Increment(ctx context.Context, tx *gorm.DB, tenantID uint, kind models.MediaKind) error {
	start, end := s.period()
	const sp = "sp_quota_increment"
	if err := tx.SavePoint(sp).Error; err != nil {
		return err
	}

	repo := repository.NewQuotaRepository(tx)
	err := repo.Increment(ctx, tenantID, kind, start)
	if errors.Is(err, repository.ErrNoRowsAffected) {
		row, getErr := repo.Get(ctx, tenantID, kind, start)
		if getErr != nil {
			err = getErr
		} else if row == nil {
			// The month rolled over between check and commit.
			if _, err = repo.EnsureRow(ctx, tenantID, kind, start, end, s.defaults[kind]); err == nil {
				err = repo.Increment(ctx, tenantID, kind, start)
			}
		}
	}

	switch {
	case err == nil:
		return nil
	case repository.IsSchemaMissing(err):
		_ = tx.RollbackTo(sp).Error
		softFailure(ctx, "quota", err)
		return nil
	case errors.Is(err, repository.ErrNoRowsAffected):
		observability.QuotaRejections.WithLabelValues(string(kind), "race").Inc()
		return models.NewConflictError(fmt.Sprintf("quota exceeded: monthly %s limit reached by a concurrent upload", kind))
	default:
		return err
	}
}

// SetLimit overrides the current month's limit for a tenant and kind.
func (s *QuotaService) SetLimit(ctx context.Context, actorID, tenantID uint, kind models.MediaKind, limit int) (*QuotaStatus, error) {
	if limit < 0 {
		return nil, models.NewValidationError("limit must be zero (unlimited) or positive")
	}
	start, end := s.period()

	var out *QuotaStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewQuotaRepository(tx)
		before, err := repo.EnsureRow(ctx, tenantID, kind, start, end, s.defaults[kind])
		if err != nil {
			return err
		}
		if err := repo.SetLimit(ctx, tenantID, kind, start, limit); err != nil {
			if errors.Is(err, repository.ErrNoRowsAffected) {
				return models.NewValidationError(fmt.Sprintf("limit %d is below current usage %d", limit, before.Usage))
			}
			return err
		}
		after, err := repo.Get(ctx, tenantID, kind, start)
		if err != nil {
			return err
		}
		out = statusFromRow(after)
		if s.audit != nil {
			s.audit.LogTx(ctx, tx, AuditRecord{
				ActorID:    actorID,
				Action:     models.AuditQuotaSetLimit,
				TargetType: "quota",
				TargetID:   after.ID,
				Before:     statusFromRow(before),
				After:      out,
			})
		}
		return nil
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, models.NewInternalError(err)
	}
	return out, nil
}

// List returns the current month's status for every kind of one tenant, or
// the stored rows of every tenant when tenantID is 0.
func (s *QuotaService) List(ctx context.Context, tenantID uint) ([]QuotaStatus, error) {
	if tenantID != 0 {
		out := make([]QuotaStatus, 0, len(models.MediaKinds))
		for _, kind := range models.MediaKinds {
			st, err := s.Check(ctx, tenantID, kind)
			if err != nil {
				return nil, err
			}
			out = append(out, *st)
		}
		return out, nil
	}

	start, _ := s.period()
	rows, err := repository.NewQuotaRepository(s.db).ListForPeriod(ctx, start, 0)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			return []QuotaStatus{}, nil
		}
		return nil, models.NewInternalError(err)
	}
	out := make([]QuotaStatus, 0, len(rows))
	for i := range rows {
		out = append(out, *statusFromRow(&rows[i]))
	}
	return out, nil
}

// NearLimit returns limited rows at or above ratio of their limit.
func (s *QuotaService) NearLimit(ctx context.Context, ratio float64) ([]QuotaStatus, error) {
	start, _ := s.period()
	rows, err := repository.NewQuotaRepository(s.db).ListNearLimit(ctx, start, ratio)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			slog.WarnContext(ctx, "quota table missing, skipping quota alerts")
			return nil, nil
		}
		return nil, err
	}
	out := make([]QuotaStatus, 0, len(rows))
	for i := range rows {
		out = append(out, *statusFromRow(&rows[i]))
	}
	return out, nil
}

func statusFromRow(row *models.QuotaRow) *QuotaStatus {
	return &QuotaStatus{
		TenantID:    row.TenantID,
		MediaKind:   row.MediaKind,
		Limit:       row.Limit,
		Usage:       row.Usage,
		Tracked:     true,
		PeriodStart: row.PeriodStart,
		PeriodEnd:   row.PeriodEnd,
	}
}
