package models

import "time"

// QuotaRow tracks monthly usage of one media kind for one tenant.
// Limit 0 means unlimited.
type QuotaRow struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TenantID    uint      `gorm:"not null;uniqueIndex:idx_quota_period" json:"tenant_id"`
	MediaKind   MediaKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_quota_period" json:"media_kind"`
	PeriodStart time.Time `gorm:"not null;uniqueIndex:idx_quota_period" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`
	Limit       int       `gorm:"column:quota_limit;not null;default:0" json:"limit"`
	Usage       int       `gorm:"not null;default:0" json:"usage"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MonthPeriod returns the UTC calendar-month window containing t.
func MonthPeriod(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}
