package models

import "time"

// Tenant is an isolation scope for users, quotas and analytics (a chapter).
type Tenant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:160;uniqueIndex;not null" json:"name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantAlias maps an alternate spelling onto a tenant.
type TenantAlias struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Alias     string    `gorm:"size:160;uniqueIndex;not null" json:"alias"`
	TenantID  uint      `gorm:"not null;index" json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}
