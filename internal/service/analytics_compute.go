package service

import (
	"context"
	"database/sql"
	"log/slog"
	"math"
	"time"

	"chapterhub/internal/models"
	"chapterhub/internal/observability"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

const (
	activeWindow = 30 * 24 * time.Hour
	recentWindow = 7 * 24 * time.Hour
	trendDays    = 7
)

// statReader runs the aggregate queries behind a snapshot. A missing
// collaborator table contributes zero instead of failing the snapshot.
type statReader struct {
	db *gorm.DB
}

func (r statReader) count(ctx context.Context, table string, q func(*gorm.DB) *gorm.DB) (int64, error) {
	var n int64
	err := q(r.db.WithContext(ctx).Table(table)).Count(&n).Error
	if err != nil {
		if repository.IsSchemaMissing(err) {
			r.degraded(ctx, table, err)
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (r statReader) float(ctx context.Context, table, expr string, q func(*gorm.DB) *gorm.DB) (float64, error) {
	var v sql.NullFloat64
	err := q(r.db.WithContext(ctx).Table(table)).Select(expr).Row().Scan(&v)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			r.degraded(ctx, table, err)
			return 0, nil
		}
		return 0, err
	}
	return v.Float64, nil
}

func (r statReader) times(ctx context.Context, table string, from, to time.Time) ([]time.Time, error) {
	var out []time.Time
	err := r.db.WithContext(ctx).Table(table).
		Where("created_at >= ? AND created_at < ?", from, to).
		Pluck("created_at", &out).Error
	if err != nil {
		if repository.IsSchemaMissing(err) {
			r.degraded(ctx, table, err)
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (r statReader) degraded(ctx context.Context, table string, err error) {
	observability.SoftDependencyFailures.WithLabelValues("analytics_" + table).Inc()
	slog.WarnContext(ctx, "analytics source table unavailable",
		slog.String("table", table),
		slog.String("error", err.Error()),
	)
}

func computeMetrics(ctx context.Context, db *gorm.DB, asOf time.Time) (models.PlatformMetrics, error) {
	r := statReader{db: db}
	asOf = asOf.UTC()
	var m models.PlatformMetrics
	var err error

	if m.TotalUsers, err = r.count(ctx, "users", func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at <= ?", asOf)
	}); err != nil {
		return m, err
	}
	if m.ActiveUsers, err = r.count(ctx, "users", func(q *gorm.DB) *gorm.DB {
		return q.Where("is_active = ? AND last_active_at > ? AND last_active_at <= ?", true, asOf.Add(-activeWindow), asOf)
	}); err != nil {
		return m, err
	}
	if m.NewContent, err = r.count(ctx, "uploads", func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at > ? AND created_at <= ?", asOf.Add(-recentWindow), asOf)
	}); err != nil {
		return m, err
	}
	if m.ForumActivity, err = r.count(ctx, "forum_posts", func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at > ? AND created_at <= ?", asOf.Add(-recentWindow), asOf)
	}); err != nil {
		return m, err
	}

	progressRows, err := r.count(ctx, "lesson_progress", func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at <= ?", asOf)
	})
	if err != nil {
		return m, err
	}
	completed, err := r.count(ctx, "lesson_progress", func(q *gorm.DB) *gorm.DB {
		return q.Where("completed = ? AND completed_at <= ?", true, asOf)
	})
	if err != nil {
		return m, err
	}
	m.CompletionRate = ratio(completed, progressRows)

	if m.AvgSessionMinutes, err = r.float(ctx, "study_sessions", "AVG(duration_minutes)", func(q *gorm.DB) *gorm.DB {
		return q.Where("started_at > ? AND started_at <= ?", asOf.Add(-activeWindow), asOf)
	}); err != nil {
		return m, err
	}
	m.AvgSessionMinutes = round4(m.AvgSessionMinutes)

	dayStart := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	if m.TodayUploads, err = r.count(ctx, "uploads", func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at >= ? AND created_at <= ?", dayStart, asOf)
	}); err != nil {
		return m, err
	}

	approved, err := r.count(ctx, "uploads", func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND reviewed_at <= ?", models.UploadApproved, asOf)
	})
	if err != nil {
		return m, err
	}
	rejected, err := r.count(ctx, "uploads", func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND reviewed_at <= ?", models.UploadRejected, asOf)
	})
	if err != nil {
		return m, err
	}
	m.ApprovalRate = ratio(approved, approved+rejected)

	if m.UsersThirtyDaysAgo, err = r.count(ctx, "users", func(q *gorm.DB) *gorm.DB {
		return q.Where("created_at <= ?", asOf.Add(-activeWindow))
	}); err != nil {
		return m, err
	}
	m.UserGrowthPercent = growthPercent(m.TotalUsers, m.UsersThirtyDaysAgo)
	return m, nil
}

func computeTenantComparison(ctx context.Context, db *gorm.DB, asOf time.Time) ([]models.TenantStats, error) {
	tenants, err := repository.NewTenantRepository(db).List(ctx)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			return []models.TenantStats{}, nil
		}
		return nil, err
	}

	r := statReader{db: db}
	asOf = asOf.UTC()
	since := asOf.Add(-activeWindow)
	out := make([]models.TenantStats, 0, len(tenants))
	for _, tenant := range tenants {
		if !tenant.Active {
			continue
		}
		tenantID := tenant.ID
		members := func() *gorm.DB {
			return db.Session(&gorm.Session{NewDB: true}).Table("users").Select("id").Where("tenant_id = ?", tenantID)
		}
		stats := models.TenantStats{TenantID: tenant.ID, TenantName: tenant.Name}

		if stats.UserCount, err = r.count(ctx, "users", func(q *gorm.DB) *gorm.DB {
			return q.Where("tenant_id = ? AND created_at <= ?", tenant.ID, asOf)
		}); err != nil {
			return nil, err
		}
		if stats.ActiveUsers, err = r.count(ctx, "users", func(q *gorm.DB) *gorm.DB {
			return q.Where("tenant_id = ? AND is_active = ? AND last_active_at > ? AND last_active_at <= ?", tenant.ID, true, since, asOf)
		}); err != nil {
			return nil, err
		}
		if stats.RecentPosts, err = r.count(ctx, "forum_posts", func(q *gorm.DB) *gorm.DB {
			return q.Where("author_id IN (?) AND created_at > ? AND created_at <= ?", members(), since, asOf)
		}); err != nil {
			return nil, err
		}
		posters, err := r.count(ctx, "forum_posts", func(q *gorm.DB) *gorm.DB {
			return q.Distinct("author_id").Where("author_id IN (?) AND created_at > ? AND created_at <= ?", members(), since, asOf)
		})
		if err != nil {
			return nil, err
		}
		learners, err := r.count(ctx, "lesson_progress", func(q *gorm.DB) *gorm.DB {
			return q.Distinct("user_id").Where("user_id IN (?) AND updated_at > ? AND updated_at <= ?", members(), since, asOf)
		})
		if err != nil {
			return nil, err
		}

		stats.ActivityRate = clampedRatio(stats.ActiveUsers, stats.UserCount)
		stats.ConsumptionRate = clampedRatio(learners, stats.UserCount)
		stats.ForumRate = clampedRatio(posters, stats.UserCount)
		stats.EngagementScore = EngagementScore(stats.ActivityRate, stats.ConsumptionRate, stats.ForumRate)
		out = append(out, stats)
	}
	return out, nil
}

func computeTrends(ctx context.Context, db *gorm.DB, asOf time.Time) ([]models.TrendPoint, error) {
	r := statReader{db: db}
	asOf = asOf.UTC()
	today := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -(trendDays - 1))
	to := today.AddDate(0, 0, 1)
	if to.After(asOf) {
		to = asOf.Add(time.Nanosecond)
	}

	points := make([]models.TrendPoint, trendDays)
	index := make(map[string]int, trendDays)
	for i := range points {
		day := from.AddDate(0, 0, i).Format("2006-01-02")
		points[i].Date = day
		index[day] = i
	}

	users, err := r.times(ctx, "users", from, to)
	if err != nil {
		return nil, err
	}
	for _, t := range users {
		if i, ok := index[t.UTC().Format("2006-01-02")]; ok {
			points[i].NewUsers++
		}
	}
	uploads, err := r.times(ctx, "uploads", from, to)
	if err != nil {
		return nil, err
	}
	for _, t := range uploads {
		if i, ok := index[t.UTC().Format("2006-01-02")]; ok {
			points[i].Uploads++
		}
	}
	return points, nil
}

// EngagementScore is the mean of the three sub-scores, each clamped to [0,1].
func EngagementScore(activity, consumption, forum float64) float64 {
	return round4((clamp01(activity) + clamp01(consumption) + clamp01(forum)) / 3)
}

func ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return round4(float64(num) / float64(den))
}

func clampedRatio(num, den int64) float64 {
	return clamp01(ratio(num, den))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func growthPercent(now, then int64) float64 {
	if then <= 0 {
		if now > 0 {
			return 100
		}
		return 0
	}
	return round4(float64(now-then) / float64(then) * 100)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
