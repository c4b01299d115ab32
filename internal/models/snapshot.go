package models

import (
	"time"

	"gorm.io/datatypes"
)

// SnapshotKind names the cadence of an analytics snapshot.
type SnapshotKind string

const (
	SnapshotDaily  SnapshotKind = "daily"
	SnapshotWeekly SnapshotKind = "weekly"
)

// AnalyticsSnapshot is a point-in-time precomputed analytics document.
type AnalyticsSnapshot struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Kind             SnapshotKind   `gorm:"type:varchar(10);not null;index:idx_snapshot_kind_asof" json:"kind"`
	AsOf             time.Time      `gorm:"not null;index:idx_snapshot_kind_asof" json:"as_of"`
	Metrics          datatypes.JSON `json:"metrics"`
	TenantComparison datatypes.JSON `json:"tenant_comparison"`
	Trends           datatypes.JSON `json:"trends"`
	CreatedAt        time.Time      `json:"created_at"`
}

// IsStale reports whether the snapshot is older than maxAge at now.
func (s *AnalyticsSnapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	return s == nil || now.Sub(s.AsOf) > maxAge
}

// PlatformMetrics is the metrics payload of a snapshot.
type PlatformMetrics struct {
	TotalUsers         int64   `json:"total_users"`
	ActiveUsers        int64   `json:"active_users"`
	NewContent         int64   `json:"new_content"`
	ForumActivity      int64   `json:"forum_activity"`
	CompletionRate     float64 `json:"completion_rate"`
	AvgSessionMinutes  float64 `json:"avg_session_minutes"`
	TodayUploads       int64   `json:"today_uploads"`
	ApprovalRate       float64 `json:"approval_rate"`
	UserGrowthPercent  float64 `json:"user_growth_percent"`
	UsersThirtyDaysAgo int64   `json:"users_thirty_days_ago"`
}

// TenantStats is one row of the tenant comparison payload.
type TenantStats struct {
	TenantID        uint    `json:"tenant_id"`
	TenantName      string  `json:"tenant_name"`
	UserCount       int64   `json:"user_count"`
	ActiveUsers     int64   `json:"active_users"`
	RecentPosts     int64   `json:"recent_posts"`
	ActivityRate    float64 `json:"activity_rate"`
	ConsumptionRate float64 `json:"consumption_rate"`
	ForumRate       float64 `json:"forum_rate"`
	EngagementScore float64 `json:"engagement_score"`
}

// TrendPoint is one day of a trend series.
type TrendPoint struct {
	Date     string `json:"date"`
	NewUsers int64  `json:"new_users"`
	Uploads  int64  `json:"uploads"`
}
