package models

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxKind classifies realtime events.
type OutboxKind string

const (
	OutboxUpload     OutboxKind = "upload"
	OutboxModeration OutboxKind = "moderation"
	OutboxFlag       OutboxKind = "flag"
	OutboxEscalation OutboxKind = "escalation"
	OutboxBan        OutboxKind = "ban"
	OutboxUser       OutboxKind = "user"
	OutboxContent    OutboxKind = "content"
)

// OutboxStatus is the delivery state of an outbox event.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxEvent is a durable realtime event awaiting delivery.
// SubjectID is the principal the event is addressed to; events for one
// subject are delivered in id order.
type OutboxEvent struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Kind        OutboxKind     `gorm:"type:varchar(20);not null" json:"kind"`
	EventType   string         `gorm:"size:64;not null" json:"event_type"`
	SubjectID   uint           `gorm:"not null;index:idx_outbox_subject_status" json:"subject_id"`
	Payload     datatypes.JSON `json:"payload"`
	Status      OutboxStatus   `gorm:"type:varchar(20);not null;default:'pending';index:idx_outbox_subject_status;index" json:"status"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	LastError   string         `gorm:"type:text" json:"last_error,omitempty"`
	AvailableAt time.Time      `gorm:"not null;index" json:"available_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
