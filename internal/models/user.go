// Package models contains data structures for the application's domain models.
package models

import "time"

// Role is a principal's platform role.
type Role string

const (
	RoleMember     Role = "member"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleMember, RoleInstructor, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// User is a principal of the platform. A user belongs to at most one tenant.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	FirstName    string     `gorm:"size:100;not null" json:"first_name"`
	LastName     string     `gorm:"size:100;not null" json:"last_name"`
	Email        string     `gorm:"size:254;uniqueIndex;not null" json:"email"`
	Password     string     `gorm:"not null" json:"-"`
	Role         Role       `gorm:"type:varchar(20);not null;default:'member';index" json:"role"`
	TenantID     *uint      `gorm:"index" json:"tenant_id,omitempty"`
	Tenant       *Tenant    `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
	LastActiveAt *time.Time `gorm:"index" json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
