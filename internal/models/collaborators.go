package models

import "time"

// The tables below are owned by the wider platform. The core reads them for
// analytics and touches a few columns during moderation.

// ForumPost is a discussion post authored by a principal.
type ForumPost struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AuthorID    uint      `gorm:"not null;index" json:"author_id"`
	TenantID    *uint     `gorm:"index" json:"tenant_id,omitempty"`
	Title       string    `gorm:"size:200" json:"title"`
	Body        string    `gorm:"type:text" json:"body"`
	IsModerated bool      `gorm:"not null;default:false" json:"is_moderated"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Resource visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityTenant  = "tenant"
	VisibilityPrivate = "private"
)

// Resource is a shared learning resource (link, handout).
type Resource struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OwnerID     uint      `gorm:"not null;index" json:"owner_id"`
	Title       string    `gorm:"size:200" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	URL         string    `gorm:"size:500" json:"url"`
	Visibility  string    `gorm:"type:varchar(20);not null;default:'public'" json:"visibility"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LessonProgress records a learner touching a lesson.
type LessonProgress struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"not null;index" json:"user_id"`
	LessonID    uint       `gorm:"not null" json:"lesson_id"`
	Completed   bool       `gorm:"not null;default:false" json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `gorm:"index" json:"updated_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName keeps the platform's singular table name.
func (LessonProgress) TableName() string { return "lesson_progress" }

// StudySession is one timed learning session.
type StudySession struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	DurationMinutes float64   `gorm:"not null;default:0" json:"duration_minutes"`
	StartedAt       time.Time `gorm:"index" json:"started_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// UserWarning is a moderation warning recorded against a principal.
type UserWarning struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	ModeratorID uint      `gorm:"not null" json:"moderator_id"`
	FlagID      *uint     `gorm:"index" json:"flag_id,omitempty"`
	Reason      string    `gorm:"type:text" json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification is an in-app notice for a principal.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Type      string    `gorm:"size:64;not null" json:"type"`
	Message   string    `gorm:"type:text" json:"message"`
	RefType   string    `gorm:"size:64;index:idx_notification_ref" json:"ref_type,omitempty"`
	RefID     uint      `gorm:"index:idx_notification_ref" json:"ref_id,omitempty"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
