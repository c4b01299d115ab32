package service

import (
	"context"
	"fmt"
	"time"

	"chapterhub/internal/authz"
	"chapterhub/internal/models"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

const (
	spikeFactor       = 3.0
	spikeMinUploads   = 3
	heavyFlagMinimum  = 3
	anomalyWindow     = 24 * time.Hour
	anomalyBaseWindow = 7
)

// UploadSpike is a tenant whose uploads in the last day exceed the trailing mean.
type UploadSpike struct {
	TenantID     uint    `json:"tenant_id"`
	TenantName   string  `json:"tenant_name"`
	LastDay      int64   `json:"last_day"`
	TrailingMean float64 `json:"trailing_mean"`
}

// AnomalyReport lists unusual activity.
type AnomalyReport struct {
	GeneratedAt    time.Time                   `json:"generated_at"`
	UploadSpikes   []UploadSpike               `json:"upload_spikes"`
	HeavilyFlagged []repository.FlaggedContent `json:"heavily_flagged"`
}

// RetentionReport is cohort retention for one timeframe.
type RetentionReport struct {
	Timeframe   string    `json:"timeframe"`
	CohortStart time.Time `json:"cohort_start"`
	CohortEnd   time.Time `json:"cohort_end"`
	CohortSize  int64     `json:"cohort_size"`
	Retained    int64     `json:"retained"`
	Rate        float64   `json:"rate"`
}

// InsightsService computes on-demand analytics that are not snapshotted.
type InsightsService struct {
	db    *gorm.DB
	Clock Clock
}

// NewInsightsService returns a new InsightsService.
func NewInsightsService(db *gorm.DB) *InsightsService {
	return &InsightsService{db: db}
}

// Anomalies reports per-tenant upload spikes and heavily flagged content.
func (s *InsightsService) Anomalies(ctx context.Context, p *authz.Principal) (*AnomalyReport, error) {
	if err := authz.Check(p, authz.ActionViewAnalytic, authz.Target{}); err != nil {
		return nil, err
	}
	now := s.Clock.now()
	report := &AnomalyReport{
		GeneratedAt:    now,
		UploadSpikes:   []UploadSpike{},
		HeavilyFlagged: []repository.FlaggedContent{},
	}

	tenants, err := repository.NewTenantRepository(s.db).List(ctx)
	if err != nil && !repository.IsSchemaMissing(err) {
		return nil, models.NewInternalError(err)
	}
	r := statReader{db: s.db}
	dayStart := now.Add(-anomalyWindow)
	baseStart := dayStart.Add(-anomalyBaseWindow * anomalyWindow)
	for _, tenant := range tenants {
		tenantID := tenant.ID
		lastDay, err := r.count(ctx, "uploads", func(q *gorm.DB) *gorm.DB {
			return q.Where("tenant_id = ? AND created_at > ? AND created_at <= ?", tenantID, dayStart, now)
		})
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		if lastDay < spikeMinUploads {
			continue
		}
		trailing, err := r.count(ctx, "uploads", func(q *gorm.DB) *gorm.DB {
			return q.Where("tenant_id = ? AND created_at > ? AND created_at <= ?", tenantID, baseStart, dayStart)
		})
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		mean := float64(trailing) / anomalyBaseWindow
		if float64(lastDay) >= spikeFactor*mean {
			report.UploadSpikes = append(report.UploadSpikes, UploadSpike{
				TenantID:     tenantID,
				TenantName:   tenant.Name,
				LastDay:      lastDay,
				TrailingMean: round4(mean),
			})
		}
	}

	flagged, err := repository.NewFlagRepository(s.db).ListHeavilyFlagged(ctx, dayStart, heavyFlagMinimum)
	if err != nil {
		if !repository.IsSchemaMissing(err) {
			return nil, models.NewInternalError(err)
		}
		softFailure(ctx, "flags", err)
	}
	if flagged != nil {
		report.HeavilyFlagged = flagged
	}
	return report, nil
}

// RetentionTimeframe parses 7d, 30d or 90d.
func RetentionTimeframe(s string) (time.Duration, error) {
	switch s {
	case "", "30d":
		return 30 * 24 * time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, nil
	case "90d":
		return 90 * 24 * time.Hour, nil
	default:
		return 0, models.NewValidationError("timeframe must be one of 7d, 30d, 90d")
	}
}

// Retention reports how many users who joined in the previous window were
// active in the latest one.
func (s *InsightsService) Retention(ctx context.Context, p *authz.Principal, timeframe string) (*RetentionReport, error) {
	if err := authz.Check(p, authz.ActionViewAnalytic, authz.Target{}); err != nil {
		return nil, err
	}
	window, err := RetentionTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if timeframe == "" {
		timeframe = "30d"
	}

	now := s.Clock.now()
	cohortEnd := now.Add(-window)
	cohortStart := cohortEnd.Add(-window)
	r := statReader{db: s.db}

	size, err := r.count(ctx, "users", func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at >= ? AND created_at < ?", cohortStart, cohortEnd)
	})
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("count cohort: %w", err))
	}
	retained, err := r.count(ctx, "users", func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at >= ? AND created_at < ? AND last_active_at >= ?", cohortStart, cohortEnd, cohortEnd)
	})
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("count retained: %w", err))
	}
	return &RetentionReport{
		Timeframe:   timeframe,
		CohortStart: cohortStart,
		CohortEnd:   cohortEnd,
		CohortSize:  size,
		Retained:    retained,
		Rate:        ratio(retained, size),
	}, nil
}
