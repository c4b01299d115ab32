package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEntry is an append-only record of a privileged action.
type AuditEntry struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	InvocationID string         `gorm:"size:36;uniqueIndex;not null" json:"invocation_id"`
	ActorID      uint           `gorm:"not null;index" json:"actor_id"`
	ActionType   string         `gorm:"size:64;not null;index" json:"action_type"`
	TargetType   string         `gorm:"size:64;not null" json:"target_type"`
	TargetID     uint           `gorm:"not null" json:"target_id"`
	Detail       string         `gorm:"type:text" json:"detail,omitempty"`
	Before       datatypes.JSON `json:"before,omitempty"`
	After        datatypes.JSON `json:"after,omitempty"`
	IP           string         `gorm:"size:64" json:"ip,omitempty"`
	UserAgent    string         `gorm:"size:512" json:"user_agent,omitempty"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

// Audit action types.
const (
	AuditContentUpload     = "content_upload"
	AuditContentRetry      = "content_retry"
	AuditContentApprove    = "content_approve"
	AuditContentReject     = "content_reject"
	AuditContentEdit       = "content_edit"
	AuditContentFailed     = "content_failed"
	AuditFlagReview        = "flag_review"
	AuditAIReview          = "ai_moderation_review"
	AuditEscalationResolve = "escalation_resolve"
	AuditBanCreate         = "ban_create"
	AuditBanLift           = "ban_lift"
	AuditUserCreate        = "user_create"
	AuditUserUpdate        = "user_update"
	AuditUserRoleChange    = "user_role_change"
	AuditUserStatusChange  = "user_status_change"
	AuditQuotaSetLimit     = "quota_set_limit"
	AuditApplicationReview = "instructor_application_review"
	AuditSnapshotGenerate  = "analytics_snapshot"
)
