package models

import "time"

// ContentType names the kind of content a flag, ban or edit targets.
type ContentType string

const (
	ContentUpload    ContentType = "upload"
	ContentForumPost ContentType = "forum_post"
	ContentResource  ContentType = "resource"
)

// ParseContentType validates a content type string.
func ParseContentType(s string) (ContentType, bool) {
	switch t := ContentType(s); t {
	case ContentUpload, ContentForumPost, ContentResource:
		return t, true
	default:
		return "", false
	}
}

// FlagStatus is the lifecycle state of a user flag.
type FlagStatus string

const (
	FlagPending     FlagStatus = "pending"
	FlagDismissed   FlagStatus = "dismissed"
	FlagActionTaken FlagStatus = "action_taken"
)

// Actions recorded on a resolved flag.
const (
	FlagActionDismissed = "dismissed"
	FlagActionRemoved   = "removed"
	FlagActionWarned    = "warned"
	FlagActionNoOp      = "no_op"
)

// Flag is a user-reported moderation request against existing content.
type Flag struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	ContentType       ContentType `gorm:"type:varchar(30);not null;index:idx_flag_target" json:"content_type"`
	ContentID         uint        `gorm:"not null;index:idx_flag_target" json:"content_id"`
	ReporterID        uint        `gorm:"not null;index" json:"reporter_id"`
	Reason            string      `gorm:"type:text;not null" json:"reason"`
	Status            FlagStatus  `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ReviewerID        *uint       `json:"reviewer_id,omitempty"`
	ReviewNotes       string      `gorm:"type:text" json:"review_notes,omitempty"`
	ActionTaken       string      `gorm:"type:varchar(20)" json:"action_taken,omitempty"`
	ReviewedAt        *time.Time  `json:"reviewed_at,omitempty"`
	ResolutionSeconds *int64      `json:"resolution_seconds,omitempty"`
	CreatedAt         time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// ModerationStatus is the lifecycle state of an automatically scored item.
type ModerationStatus string

const (
	ModerationPending   ModerationStatus = "pending"
	ModerationApproved  ModerationStatus = "approved"
	ModerationRejected  ModerationStatus = "rejected"
	ModerationEscalated ModerationStatus = "escalated"
)

// ModeratedItem is an automatically scored piece of content in the review queue.
type ModeratedItem struct {
	ID                  uint             `gorm:"primaryKey" json:"id"`
	ContentType         ContentType      `gorm:"type:varchar(30);not null" json:"content_type"`
	ContentID           uint             `gorm:"not null;index" json:"content_id"`
	FaithAlignmentScore int              `gorm:"not null;default:0" json:"faith_alignment_score"`
	Status              ModerationStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ReviewerID          *uint            `json:"reviewer_id,omitempty"`
	ReviewNotes         string           `gorm:"type:text" json:"review_notes,omitempty"`
	ReviewedAt          *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// EscalationPriority orders escalations for review.
type EscalationPriority string

const (
	PriorityLow    EscalationPriority = "low"
	PriorityMedium EscalationPriority = "medium"
	PriorityHigh   EscalationPriority = "high"
)

// PriorityForScore derives the escalation priority from a moderation score.
func PriorityForScore(score int) EscalationPriority {
	switch {
	case score >= 80:
		return PriorityHigh
	case score >= 50:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// EscalationStatus is the lifecycle state of an escalation.
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationResolved EscalationStatus = "resolved"
)

// Escalation is a moderation item elevated for further review.
type Escalation struct {
	ID              uint               `gorm:"primaryKey" json:"id"`
	ModeratedItemID uint               `gorm:"not null;index" json:"moderated_item_id"`
	ModeratedItem   *ModeratedItem     `gorm:"foreignKey:ModeratedItemID" json:"moderated_item,omitempty"`
	Priority        EscalationPriority `gorm:"type:varchar(10);not null;index" json:"priority"`
	Status          EscalationStatus   `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Reason          string             `gorm:"type:text" json:"reason,omitempty"`
	Resolution      string             `gorm:"type:text" json:"resolution,omitempty"`
	ReviewerID      *uint              `json:"reviewer_id,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// BanTarget names what a ban applies to.
type BanTarget string

const (
	BanTargetUser BanTarget = "user"
	BanTargetPost BanTarget = "post"
)

// Ban records a user or post ban. History is preserved: unban only clears Active.
type Ban struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	TargetType  BanTarget  `gorm:"type:varchar(10);not null;index:idx_ban_target" json:"target_type"`
	TargetID    uint       `gorm:"not null;index:idx_ban_target" json:"target_id"`
	Reason      string     `gorm:"type:text;not null" json:"reason"`
	ModeratorID uint       `gorm:"not null" json:"moderator_id"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Active      bool       `gorm:"not null;default:true;index" json:"active"`
	LiftedAt    *time.Time `json:"lifted_at,omitempty"`
	LiftedBy    *uint      `json:"lifted_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// EffectiveActive reports whether the ban is in force at now.
func (b *Ban) EffectiveActive(now time.Time) bool {
	if !b.Active {
		return false
	}
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}
