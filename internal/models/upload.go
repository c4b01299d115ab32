package models

import (
	"time"

	"gorm.io/datatypes"
)

// MediaKind classifies an upload for quota purposes.
type MediaKind string

const (
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaImage    MediaKind = "image"
	MediaOther    MediaKind = "other"
)

// MediaKinds lists every kind a quota row can be keyed on.
var MediaKinds = []MediaKind{MediaVideo, MediaDocument, MediaImage, MediaOther}

// UploadStatus is the lifecycle state of an upload.
type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadApproved UploadStatus = "approved"
	UploadRejected UploadStatus = "rejected"
	UploadFailed   UploadStatus = "failed"
)

// IsTerminal reports whether the status ends the review lifecycle.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadApproved || s == UploadRejected
}

// Upload is a user-submitted media item awaiting or past moderation.
type Upload struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	OwnerID             uint           `gorm:"not null;index" json:"owner_id"`
	TenantID            uint           `gorm:"not null;index" json:"tenant_id"`
	MediaKind           MediaKind      `gorm:"type:varchar(20);not null" json:"media_kind"`
	MimeType            string         `gorm:"size:255;not null" json:"mime_type"`
	SizeBytes           int64          `gorm:"not null" json:"size_bytes"`
	BlobHandle          string         `gorm:"size:512;not null" json:"blob_handle"`
	Title               string         `gorm:"size:200;not null" json:"title"`
	Description         string         `gorm:"type:text" json:"description"`
	Tags                datatypes.JSON `json:"tags"`
	Category            string         `gorm:"size:100" json:"category"`
	Status              UploadStatus   `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ReviewerID          *uint          `json:"reviewer_id,omitempty"`
	RejectionReason     *string        `gorm:"type:text" json:"rejection_reason,omitempty"`
	FailureReason       string         `gorm:"type:text" json:"failure_reason,omitempty"`
	ReviewedAt          *time.Time     `json:"reviewed_at,omitempty"`
	VerifiedAt          *time.Time     `json:"verified_at,omitempty"`
	ProcessingStartedAt *time.Time     `json:"-"`
	ProcessingAttempts  int            `gorm:"not null;default:0" json:"processing_attempts"`
	CreatedAt           time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}
