package notifications

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"chapterhub/internal/models"
	"chapterhub/internal/observability"
	"chapterhub/internal/repository"

	"gorm.io/gorm"
)

// Relay defaults.
const (
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 50
	DefaultMaxAttempts  = 8

	relayLease      = 30 * time.Second
	relayBaseDelay  = time.Second
	relayMaxDelay   = 5 * time.Minute
	relayErrorDelay = 5 * time.Second
)

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// RelayReport summarizes one relay pass.
type RelayReport struct {
	Claimed   int `json:"claimed"`
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// Envelope is the wire form of a relayed event.
type Envelope struct {
	ID        uint            `json:"id"`
	Kind      string          `json:"kind"`
	Type      string          `json:"type"`
	SubjectID uint            `json:"subject_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Relay drains the outbox into Redis. Only the earliest pending event of a
// subject is ever in flight, so each subject sees its events in order.
type Relay struct {
	db         *gorm.DB
	notifier   *Notifier
	cfg        RelayConfig
	Clock      func() time.Time
	workerOnce sync.Once
}

// NewRelay returns a relay publishing through notifier.
func NewRelay(db *gorm.DB, notifier *Notifier, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Relay{db: db, notifier: notifier, cfg: cfg}
}

func (r *Relay) now() time.Time {
	if r.Clock == nil {
		return time.Now().UTC()
	}
	return r.Clock().UTC()
}

// RunOnce claims one batch and publishes it.
func (r *Relay) RunOnce(ctx context.Context) (RelayReport, error) {
	var report RelayReport
	repo := repository.NewOutboxRepository(r.db)
	events, err := repo.ClaimBatch(ctx, r.now(), relayLease, r.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	report.Claimed = len(events)
	if len(events) == 0 {
		return report, nil
	}

	ctx, span := observability.StartOperation(ctx, "outbox.relay", observability.AttrEventCount.Int(len(events)))
	defer span.End()

	for i := range events {
		ev := &events[i]
		perr := r.notifier.PublishEvent(ctx, ev.SubjectID, encodeEnvelope(ev))
		now := r.now()
		switch {
		case perr == nil:
			if err := repo.MarkDelivered(ctx, ev.ID, now); err != nil {
				return report, err
			}
			report.Delivered++
			observability.OutboxDeliveries.WithLabelValues("delivered").Inc()
			observability.OutboxLag.Observe(now.Sub(ev.CreatedAt).Seconds())
		case ev.Attempts >= r.cfg.MaxAttempts:
			if err := repo.MarkFailed(ctx, ev.ID, perr.Error()); err != nil {
				return report, err
			}
			report.Failed++
			observability.OutboxDeliveries.WithLabelValues("failed").Inc()
			slog.ErrorContext(ctx, "outbox event failed permanently",
				slog.Uint64("event_id", uint64(ev.ID)),
				slog.Int("attempts", ev.Attempts),
				slog.String("error", perr.Error()),
			)
		default:
			if err := repo.MarkRetry(ctx, ev.ID, perr.Error(), now.Add(Backoff(ev.Attempts))); err != nil {
				return report, err
			}
			report.Retried++
			observability.OutboxDeliveries.WithLabelValues("retry").Inc()
		}
	}
	return report, nil
}

// Backoff is the delay before retry number attempts: 1s doubling to 5m.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := relayBaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= relayMaxDelay {
			return relayMaxDelay
		}
	}
	return d
}

func encodeEnvelope(ev *models.OutboxEvent) string {
	env := Envelope{
		ID:        ev.ID,
		Kind:      string(ev.Kind),
		Type:      ev.EventType,
		SubjectID: ev.SubjectID,
		CreatedAt: ev.CreatedAt,
	}
	if len(ev.Payload) > 0 {
		env.Payload = json.RawMessage(ev.Payload)
	}
	b, _ := json.Marshal(env)
	return string(b)
}

// StartBackgroundWorker polls the outbox until ctx is cancelled. A full batch
// is followed immediately by the next one.
func (r *Relay) StartBackgroundWorker(ctx context.Context) {
	r.workerOnce.Do(func() {
		if !r.notifier.Enabled() {
			slog.WarnContext(ctx, "outbox relay disabled: redis is not configured")
			return
		}
		go r.loop(ctx)
	})
}

func (r *Relay) loop(ctx context.Context) {
	for {
		report, err := r.RunOnce(ctx)
		wait := r.cfg.PollInterval
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(ctx, "outbox relay pass failed", slog.String("error", err.Error()))
			wait = relayErrorDelay
		case report.Claimed >= r.cfg.BatchSize:
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
