package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"chapterhub/internal/authz"
	"chapterhub/internal/cache"
	"chapterhub/internal/models"
	"chapterhub/internal/observability"
	"chapterhub/internal/repository"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Snapshot and alert defaults.
const (
	DefaultSnapshotMaxAge    = 24 * time.Hour
	DefaultQuotaWarningRatio = 0.8

	snapshotWaitPoll    = 250 * time.Millisecond
	snapshotWaitTimeout = 30 * time.Second
)

// Alert types surfaced alongside a snapshot.
const (
	AlertQuotaWarning = "quota_warning"
	AlertPendingFlags = "pending_flags"
)

// Regeneration triggers.
const (
	TriggerStale     = "stale"
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// Alert is a condition derived from live data when analytics are read.
type Alert struct {
	Type    string `json:"type"`
	Count   int64  `json:"count"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// AnalyticsView is what the dashboard reads.
type AnalyticsView struct {
	Snapshot     *models.AnalyticsSnapshot `json:"snapshot"`
	Stale        bool                      `json:"stale"`
	Regenerating bool                      `json:"regenerating"`
	Alerts       []Alert                   `json:"alerts"`
}

// AccuracyReport compares a stored snapshot against its source tables.
type AccuracyReport struct {
	SnapshotID uint      `json:"snapshot_id"`
	AsOf       time.Time `json:"as_of"`
	Checked    int       `json:"checked"`
	Matched    int       `json:"matched"`
	Accuracy   float64   `json:"accuracy"`
	Mismatches []string  `json:"mismatches,omitempty"`
}

// AnalyticsConfig tunes the snapshotter.
type AnalyticsConfig struct {
	MaxAge            time.Duration
	FlagSLO           time.Duration
	QuotaWarningRatio float64
	// LockWait bounds how long a caller waits for another process's snapshot.
	LockWait time.Duration
}

// AnalyticsService serves and regenerates analytics snapshots. At most one
// regeneration per kind runs at a time: in-process through singleflight and
// across processes through a Redis lock.
type AnalyticsService struct {
	db    *gorm.DB
	rdb   *redis.Client
	quota *QuotaService
	audit *AuditService
	cfg   AnalyticsConfig
	group singleflight.Group
	Clock Clock
}

// NewAnalyticsService returns a new AnalyticsService.
func NewAnalyticsService(db *gorm.DB, rdb *redis.Client, quota *QuotaService, audit *AuditService, cfg AnalyticsConfig) *AnalyticsService {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultSnapshotMaxAge
	}
	if cfg.FlagSLO <= 0 {
		cfg.FlagSLO = DefaultFlagSLO
	}
	if cfg.QuotaWarningRatio <= 0 || cfg.QuotaWarningRatio > 1 {
		cfg.QuotaWarningRatio = DefaultQuotaWarningRatio
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = snapshotWaitTimeout
	}
	return &AnalyticsService{db: db, rdb: rdb, quota: quota, audit: audit, cfg: cfg}
}

func (s *AnalyticsService) maxAge(kind models.SnapshotKind) time.Duration {
	if kind == models.SnapshotWeekly {
		return 7 * 24 * time.Hour
	}
	return s.cfg.MaxAge
}

// Get returns the latest snapshot of kind, regenerating it first when it is
// missing or stale, plus the live alerts.
func (s *AnalyticsService) Get(ctx context.Context, p *authz.Principal, kind models.SnapshotKind) (*AnalyticsView, error) {
	if err := authz.Check(p, authz.ActionViewAnalytic, authz.Target{}); err != nil {
		return nil, err
	}
	if kind == "" {
		kind = models.SnapshotDaily
	}
	if kind != models.SnapshotDaily && kind != models.SnapshotWeekly {
		return nil, models.NewValidationError("kind must be daily or weekly")
	}

	view := &AnalyticsView{}
	snap, err := s.latest(ctx, kind)
	if err != nil {
		return nil, err
	}
	if snap.IsStale(s.Clock.now(), s.maxAge(kind)) {
		fresh, rerr := s.Regenerate(ctx, kind, TriggerStale, 0)
		switch {
		case rerr == nil:
			snap = fresh
		case snap != nil:
			slog.WarnContext(ctx, "serving stale analytics snapshot", slog.String("error", rerr.Error()))
			view.Stale = true
			// Conflict means another process still holds the snapshot lock.
			view.Regenerating = models.IsCode(rerr, models.CodeConflict)
		default:
			return nil, rerr
		}
	}
	view.Snapshot = snap

	alerts, err := s.Alerts(ctx)
	if err != nil {
		return nil, err
	}
	view.Alerts = alerts
	return view, nil
}

func (s *AnalyticsService) latest(ctx context.Context, kind models.SnapshotKind) (*models.AnalyticsSnapshot, error) {
	var snap *models.AnalyticsSnapshot
	err := cache.CacheAside(ctx, s.rdb, cache.LatestSnapshotKey(string(kind)), &snap, cache.LatestSnapshotTTL, func() error {
		latest, err := repository.NewSnapshotRepository(s.db).Latest(ctx, kind)
		if err != nil {
			if repository.IsSchemaMissing(err) {
				softFailure(ctx, "analytics_snapshots", err)
				return nil
			}
			return err
		}
		snap = latest
		return nil
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return snap, nil
}

// RegenerateNow regenerates a snapshot on behalf of an admin.
func (s *AnalyticsService) RegenerateNow(ctx context.Context, p *authz.Principal, kind models.SnapshotKind) (*models.AnalyticsSnapshot, error) {
	if err := authz.Check(p, authz.ActionViewAnalytic, authz.Target{}); err != nil {
		return nil, err
	}
	if kind == "" {
		kind = models.SnapshotDaily
	}
	if kind != models.SnapshotDaily && kind != models.SnapshotWeekly {
		return nil, models.NewValidationError("kind must be daily or weekly")
	}
	return s.Regenerate(ctx, kind, TriggerManual, p.ID)
}

// Regenerate computes and stores a new snapshot. Concurrent callers share
// one computation; a caller that finds another process holding the lock
// waits for that process's snapshot instead.
func (s *AnalyticsService) Regenerate(ctx context.Context, kind models.SnapshotKind, trigger string, actorID uint) (*models.AnalyticsSnapshot, error) {
	v, err, _ := s.group.Do(string(kind), func() (interface{}, error) {
		started := time.Now().UTC()
		lock, err := s.acquire(ctx, kind)
		if err != nil {
			return nil, err
		}
		if lock == nil {
			return s.awaitSnapshot(ctx, kind, started)
		}
		defer func() {
			if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
				slog.WarnContext(ctx, "failed to release snapshot lock", slog.String("error", rerr.Error()))
			}
		}()
		return s.generate(ctx, kind, trigger, actorID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.AnalyticsSnapshot), nil
}

// heldLock is satisfied by *cache.Lock and by the no-op lock used without Redis.
type heldLock interface {
	Release(ctx context.Context) error
}

type localLock struct{}

func (localLock) Release(context.Context) error { return nil }

func (s *AnalyticsService) acquire(ctx context.Context, kind models.SnapshotKind) (heldLock, error) {
	if s.rdb == nil {
		return localLock{}, nil
	}
	lock, err := cache.TryLock(ctx, s.rdb, cache.SnapshotLockKey(string(kind)), cache.SnapshotLockTTL)
	if err != nil {
		// Redis is a soft dependency here; fall back to the in-process guard.
		observability.RedisErrorRate.WithLabelValues("snapshot_lock").Inc()
		softFailure(ctx, "snapshot_lock", err)
		return localLock{}, nil
	}
	if lock == nil {
		return nil, nil
	}
	return lock, nil
}

func (s *AnalyticsService) awaitSnapshot(ctx context.Context, kind models.SnapshotKind, since time.Time) (*models.AnalyticsSnapshot, error) {
	deadline := time.Now().Add(s.cfg.LockWait)
	repo := repository.NewSnapshotRepository(s.db)
	for time.Now().Before(deadline) {
		snap, err := repo.Latest(ctx, kind)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		if snap != nil && !snap.CreatedAt.Before(since) {
			return snap, nil
		}
		if !sleepContext(ctx, snapshotWaitPoll) {
			return nil, ctx.Err()
		}
	}
	return nil, models.NewConflictError("analytics snapshot regeneration is already in progress")
}

func (s *AnalyticsService) generate(ctx context.Context, kind models.SnapshotKind, trigger string, actorID uint) (*models.AnalyticsSnapshot, error) {
	ctx, span := observability.StartOperation(ctx, "analytics.generate",
		attribute.String("snapshot.kind", string(kind)),
		attribute.String("snapshot.trigger", trigger),
	)
	snap, err := s.generateSnapshot(ctx, kind, trigger, actorID)
	observability.EndOperation(span, err)
	return snap, err
}

func (s *AnalyticsService) generateSnapshot(ctx context.Context, kind models.SnapshotKind, trigger string, actorID uint) (*models.AnalyticsSnapshot, error) {
	start := time.Now()
	asOf := s.Clock.now()
	metrics, err := computeMetrics(ctx, s.db, asOf)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("compute metrics: %w", err))
	}
	tenants, err := computeTenantComparison(ctx, s.db, asOf)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("compute tenant comparison: %w", err))
	}
	trends, err := computeTrends(ctx, s.db, asOf)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("compute trends: %w", err))
	}

	snap := &models.AnalyticsSnapshot{
		Kind:             kind,
		AsOf:             asOf,
		Metrics:          toJSON(metrics),
		TenantComparison: toJSON(tenants),
		Trends:           toJSON(trends),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewSnapshotRepository(tx).Create(ctx, snap); err != nil {
			return err
		}
		s.audit.LogTx(ctx, tx, AuditRecord{
			ActorID:    actorID,
			Action:     models.AuditSnapshotGenerate,
			TargetType: "analytics_snapshot",
			TargetID:   snap.ID,
			Detail:     string(kind) + " " + trigger,
		})
		return nil
	})
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("store snapshot: %w", err))
	}

	if err := cache.SetJSON(ctx, s.rdb, cache.LatestSnapshotKey(string(kind)), snap, cache.LatestSnapshotTTL); err != nil {
		observability.RedisErrorRate.WithLabelValues("snapshot_cache").Inc()
	}
	observability.SnapshotRegenerations.WithLabelValues(string(kind), trigger).Inc()
	observability.SnapshotRegenerationSeconds.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	slog.InfoContext(ctx, "analytics snapshot regenerated",
		slog.String("kind", string(kind)),
		slog.String("trigger", trigger),
		slog.Uint64("snapshot_id", uint64(snap.ID)),
	)
	return snap, nil
}

// VerifyAccuracy recomputes the metrics of a stored snapshot as of its as-of
// time and reports the fraction that still match.
func (s *AnalyticsService) VerifyAccuracy(ctx context.Context, p *authz.Principal, snapshotID uint) (*AccuracyReport, error) {
	if err := authz.Check(p, authz.ActionViewAnalytic, authz.Target{}); err != nil {
		return nil, err
	}
	snap, err := repository.NewSnapshotRepository(s.db).GetByID(ctx, snapshotID)
	if err != nil {
		return nil, wrapRepoErr(err)
	}

	var stored models.PlatformMetrics
	if err := json.Unmarshal(snap.Metrics, &stored); err != nil {
		return nil, models.NewInternalError(fmt.Errorf("decode snapshot metrics: %w", err))
	}
	fresh, err := computeMetrics(ctx, s.db, snap.AsOf)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	report := &AccuracyReport{SnapshotID: snap.ID, AsOf: snap.AsOf}
	for _, c := range metricComparisons(stored, fresh) {
		report.Checked++
		if withinTolerance(c.stored, c.fresh) {
			report.Matched++
			continue
		}
		report.Mismatches = append(report.Mismatches, fmt.Sprintf("%s: stored %v, recomputed %v", c.name, c.stored, c.fresh))
	}
	if report.Checked > 0 {
		report.Accuracy = round4(float64(report.Matched) / float64(report.Checked))
	}
	observability.SnapshotAccuracy.Set(report.Accuracy)
	return report, nil
}

type metricComparison struct {
	name          string
	stored, fresh float64
}

func metricComparisons(a, b models.PlatformMetrics) []metricComparison {
	return []metricComparison{
		{"total_users", float64(a.TotalUsers), float64(b.TotalUsers)},
		{"active_users", float64(a.ActiveUsers), float64(b.ActiveUsers)},
		{"new_content", float64(a.NewContent), float64(b.NewContent)},
		{"forum_activity", float64(a.ForumActivity), float64(b.ForumActivity)},
		{"completion_rate", a.CompletionRate, b.CompletionRate},
		{"avg_session_minutes", a.AvgSessionMinutes, b.AvgSessionMinutes},
		{"today_uploads", float64(a.TodayUploads), float64(b.TodayUploads)},
		{"approval_rate", a.ApprovalRate, b.ApprovalRate},
		{"user_growth_percent", a.UserGrowthPercent, b.UserGrowthPercent},
	}
}

// withinTolerance accepts a 1% relative or 0.01 absolute difference.
func withinTolerance(stored, fresh float64) bool {
	diff := math.Abs(stored - fresh)
	if diff <= 0.01 {
		return true
	}
	base := math.Max(math.Abs(stored), math.Abs(fresh))
	return diff/base <= 0.01
}

// Alerts derives the live quota and flag alerts.
func (s *AnalyticsService) Alerts(ctx context.Context) ([]Alert, error) {
	alerts := []Alert{}

	near, err := s.quota.NearLimit(ctx, s.cfg.QuotaWarningRatio)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(near) > 0 {
		alerts = append(alerts, Alert{
			Type:    AlertQuotaWarning,
			Count:   int64(len(near)),
			Message: fmt.Sprintf("%d tenant quotas are at or above %.0f%% of their monthly limit", len(near), s.cfg.QuotaWarningRatio*100),
			Details: near,
		})
	}

	cutoff := s.Clock.now().Add(-s.cfg.FlagSLO)
	pending, err := repository.NewFlagRepository(s.db).CountPendingOlderThan(ctx, cutoff)
	if err != nil {
		if !repository.IsSchemaMissing(err) {
			return nil, models.NewInternalError(err)
		}
		softFailure(ctx, "flags", err)
	}
	if pending > 0 {
		alerts = append(alerts, Alert{
			Type:    AlertPendingFlags,
			Count:   pending,
			Message: fmt.Sprintf("%d flags have been pending longer than %s", pending, s.cfg.FlagSLO),
		})
	}
	return alerts, nil
}
