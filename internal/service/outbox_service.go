package service

import (
	"context"

	"chapterhub/internal/models"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

// OutboxMessage is a realtime event addressed to one principal.
type OutboxMessage struct {
	Kind      models.OutboxKind
	EventType string
	SubjectID uint
	Payload   any
}

func (m OutboxMessage) event() *models.OutboxEvent {
	return &models.OutboxEvent{
		Kind:      m.Kind,
		EventType: m.EventType,
		SubjectID: m.SubjectID,
		Payload:   toJSON(m.Payload),
		Status:    models.OutboxPending,
	}
}

// OutboxService enqueues realtime events next to the state changes they describe.
type OutboxService struct {
	db *gorm.DB
}

// NewOutboxService returns an OutboxService writing through db.
func NewOutboxService(db *gorm.DB) *OutboxService {
	return &OutboxService{db: db}
}

// EnqueueTx adds msg inside tx behind a savepoint. Failures are logged only.
func (s *OutboxService) EnqueueTx(ctx context.Context, tx *gorm.DB, msg OutboxMessage) {
	if msg.SubjectID == 0 {
		return
	}
	ev := msg.event()
	softWrite(ctx, tx, "outbox", func(tx *gorm.DB) error {
		return repository.NewOutboxRepository(tx).Enqueue(ctx, ev)
	})
}

// Enqueue adds msg outside any transaction. Failures are logged only.
func (s *OutboxService) Enqueue(ctx context.Context, msg OutboxMessage) {
	if msg.SubjectID == 0 {
		return
	}
	if err := repository.NewOutboxRepository(s.db).Enqueue(ctx, msg.event()); err != nil {
		softFailure(ctx, "outbox", err)
	}
}

// OutboxPage is one page of the operator view.
type OutboxPage struct {
	Events []models.OutboxEvent `json:"events"`
	Total  int64                `json:"total"`
}

// List returns events for the operator view, newest first.
func (s *OutboxService) List(ctx context.Context, status models.OutboxStatus, limit, offset int) (*OutboxPage, error) {
	events, total, err := repository.NewOutboxRepository(s.db).List(ctx, status, limit, offset)
	if err != nil {
		if repository.IsSchemaMissing(err) {
			return &OutboxPage{Events: []models.OutboxEvent{}}, nil
		}
		return nil, models.NewInternalError(err)
	}
	if events == nil {
		events = []models.OutboxEvent{}
	}
	return &OutboxPage{Events: events, Total: total}, nil
}
