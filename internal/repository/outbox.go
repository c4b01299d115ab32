package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"chapterhub/internal/models"

	"gorm.io/gorm"
)

const maxOutboxErrorLen = 4000

// OutboxRepository is the durable queue behind realtime delivery.
type OutboxRepository interface {
	Enqueue(ctx context.Context, ev *models.OutboxEvent) error
	ClaimBatch(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.OutboxEvent, error)
	MarkDelivered(ctx context.Context, id uint, at time.Time) error
	MarkRetry(ctx context.Context, id uint, errMsg string, next time.Time) error
	MarkFailed(ctx context.Context, id uint, errMsg string) error
	List(ctx context.Context, status models.OutboxStatus, limit, offset int) ([]models.OutboxEvent, int64, error)
	OldestPending(ctx context.Context) (*time.Time, error)
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository returns an OutboxRepository backed by db.
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Enqueue(ctx context.Context, ev *models.OutboxEvent) error {
	if ev.Status == "" {
		ev.Status = models.OutboxPending
	}
	if ev.AvailableAt.IsZero() {
		ev.AvailableAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

// ClaimBatch leases up to limit deliverable events. Only the earliest pending
// event of each subject is eligible, so a subject's events go out in id order.
// A claimed event stays pending with AvailableAt pushed out by lease until
// the relay marks it.
func (r *outboxRepository) ClaimBatch(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	now = now.UTC()
	leaseUntil := now.Add(lease)

	if r.db.Name() == "postgres" {
		var claimed []models.OutboxEvent
		err := r.db.WithContext(ctx).Raw(`
WITH picked AS (
	SELECT e.id
	FROM outbox_events e
	WHERE e.status = ? AND e.available_at <= ?
	  AND NOT EXISTS (
		SELECT 1 FROM outbox_events p
		WHERE p.subject_id = e.subject_id AND p.status = ? AND p.id < e.id
	  )
	ORDER BY e.id
	FOR UPDATE SKIP LOCKED
	LIMIT ?
)
UPDATE outbox_events o
SET available_at = ?,
    attempts = o.attempts + 1
FROM picked
WHERE o.id = picked.id
RETURNING o.*
`, models.OutboxPending, now, models.OutboxPending, limit, leaseUntil).Scan(&claimed).Error
		if err != nil {
			return nil, err
		}
		sort.Slice(claimed, func(i, j int) bool { return claimed[i].ID < claimed[j].ID })
		return claimed, nil
	}

	// SQLite/test fallback (best-effort atomicity).
	var claimed []models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.OutboxEvent
		if err := tx.Raw(`
SELECT e.* FROM outbox_events e
WHERE e.status = ? AND e.available_at <= ?
  AND NOT EXISTS (
	SELECT 1 FROM outbox_events p
	WHERE p.subject_id = e.subject_id AND p.status = ? AND p.id < e.id
  )
ORDER BY e.id
LIMIT ?
`, models.OutboxPending, now, models.OutboxPending, limit).Scan(&candidates).Error; err != nil {
			return err
		}
		for _, ev := range candidates {
			res := tx.Model(&models.OutboxEvent{}).
				Where("id = ? AND status = ? AND available_at <= ?", ev.ID, models.OutboxPending, now).
				Updates(map[string]interface{}{
					"available_at": leaseUntil,
					"attempts":     gorm.Expr("attempts + 1"),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			ev.AvailableAt = leaseUntil
			ev.Attempts++
			claimed = append(claimed, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, models.OutboxPending).
		Updates(map[string]interface{}{
			"status":       models.OutboxDelivered,
			"delivered_at": at.UTC(),
			"last_error":   "",
		}).Error
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id uint, errMsg string, next time.Time) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, models.OutboxPending).
		Updates(map[string]interface{}{
			"available_at": next.UTC(),
			"last_error":   truncate(errMsg, maxOutboxErrorLen),
		}).Error
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uint, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, models.OutboxPending).
		Updates(map[string]interface{}{
			"status":     models.OutboxFailed,
			"last_error": truncate(errMsg, maxOutboxErrorLen),
		}).Error
}

func (r *outboxRepository) List(ctx context.Context, status models.OutboxStatus, limit, offset int) ([]models.OutboxEvent, int64, error) {
	limit, offset = clampPage(limit, offset)
	q := readDB(r.db).WithContext(ctx).Model(&models.OutboxEvent{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var events []models.OutboxEvent
	err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&events).Error
	return events, total, err
}

// OldestPending returns the creation time of the oldest pending event, or nil.
func (r *outboxRepository) OldestPending(ctx context.Context) (*time.Time, error) {
	var ev models.OutboxEvent
	err := readDB(r.db).WithContext(ctx).
		Where("status = ?", models.OutboxPending).
		Order("id ASC").
		First(&ev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ev.CreatedAt, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
