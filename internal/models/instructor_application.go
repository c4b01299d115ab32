package models

import "time"

// ApplicationStatus defines lifecycle states for instructor applications.
type ApplicationStatus string

const (
	// ApplicationPending indicates the application is awaiting review.
	ApplicationPending ApplicationStatus = "pending"
	// ApplicationApproved indicates the applicant was promoted to instructor.
	ApplicationApproved ApplicationStatus = "approved"
	// ApplicationRejected indicates the application was denied.
	ApplicationRejected ApplicationStatus = "rejected"
)

// InstructorApplication is a member's request to become an instructor.
type InstructorApplication struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	UserID           uint              `gorm:"not null;index" json:"user_id"`
	User             *User             `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Motivation       string            `gorm:"type:text;not null" json:"motivation"`
	Status           ApplicationStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ReviewedByUserID *uint             `json:"reviewed_by_user_id"`
	ReviewNotes      string            `gorm:"type:text" json:"review_notes"`
	ReviewedAt       *time.Time        `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
