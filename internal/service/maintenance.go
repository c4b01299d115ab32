package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chapterhub/internal/models"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

// DefaultSnapshotInterval is how often the scheduler refreshes the daily snapshot.
const DefaultSnapshotInterval = 60 * time.Minute

const maintenanceTick = time.Minute

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	ExpiredBans         int64 `json:"expired_bans"`
	RequeuedUploads     int64 `json:"requeued_uploads"`
	SnapshotRegenerated bool  `json:"snapshot_regenerated"`
}

// Maintenance runs periodic housekeeping: ban expiry, stale media claims and
// scheduled snapshot regeneration.
type Maintenance struct {
	db               *gorm.DB
	bans             *BanService
	analytics        *AnalyticsService
	snapshotInterval time.Duration
	lastSnapshot     time.Time
	mu               sync.Mutex
	workerOnce       sync.Once
}

// NewMaintenance returns a new Maintenance runner.
func NewMaintenance(db *gorm.DB, bans *BanService, analytics *AnalyticsService, snapshotInterval time.Duration) *Maintenance {
	if snapshotInterval <= 0 {
		snapshotInterval = DefaultSnapshotInterval
	}
	return &Maintenance{db: db, bans: bans, analytics: analytics, snapshotInterval: snapshotInterval}
}

// RunOnce performs one maintenance pass. Individual steps log and continue on failure.
func (m *Maintenance) RunOnce(ctx context.Context) MaintenanceReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report MaintenanceReport
	if n, err := m.bans.SweepExpired(ctx); err != nil {
		slog.ErrorContext(ctx, "ban expiry sweep failed", slog.String("error", err.Error()))
	} else {
		report.ExpiredBans = n
	}

	n, err := repository.NewUploadRepository(m.db).RequeueStaleProcessing(ctx, mediaStaleClaim)
	if err != nil && !repository.IsSchemaMissing(err) {
		slog.ErrorContext(ctx, "media requeue failed", slog.String("error", err.Error()))
	}
	report.RequeuedUploads = n

	if m.analytics != nil && time.Since(m.lastSnapshot) >= m.snapshotInterval {
		if _, err := m.analytics.Regenerate(ctx, models.SnapshotDaily, TriggerScheduled, 0); err != nil {
			slog.ErrorContext(ctx, "scheduled snapshot regeneration failed", slog.String("error", err.Error()))
		} else {
			m.lastSnapshot = time.Now()
			report.SnapshotRegenerated = true
		}
	}
	return report
}

// StartBackgroundWorker runs RunOnce every minute until ctx is cancelled.
func (m *Maintenance) StartBackgroundWorker(ctx context.Context) {
	m.workerOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(maintenanceTick)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.RunOnce(ctx)
				}
			}
		}()
	})
}
