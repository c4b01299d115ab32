package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chapterhub/internal/models"
	"chapterhub/internal/repository"
	"chapterhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func enqueueEvent(t *testing.T, db *gorm.DB, subject uint, eventType string) *models.OutboxEvent {
	t.Helper()
	ev := &models.OutboxEvent{
		Kind:      models.OutboxUpload,
		EventType: eventType,
		SubjectID: subject,
		Payload:   []byte(`{"upload_id":1}`),
	}
	require.NoError(t, repository.NewOutboxRepository(db).Enqueue(context.Background(), ev))
	return ev
}

func reloadEvent(t *testing.T, db *gorm.DB, id uint) models.OutboxEvent {
	t.Helper()
	var ev models.OutboxEvent
	require.NoError(t, db.First(&ev, id).Error)
	return ev
}

func newTestRelay(db *gorm.DB, n *Notifier, cfg RelayConfig) (*Relay, *time.Time) {
	now := time.Now().UTC().Add(time.Second)
	r := NewRelay(db, n, cfg)
	r.Clock = func() time.Time { return now }
	return r, &now
}

func TestRelay_DeliversInSubjectOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	n, _, rdb := newTestNotifier(t)
	ctx := context.Background()

	a1 := enqueueEvent(t, db, 1, "upload.created")
	a2 := enqueueEvent(t, db, 1, "upload.approved")
	b1 := enqueueEvent(t, db, 2, "upload.created")

	sub := rdb.Subscribe(ctx, UserChannel(1))
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	relay, _ := newTestRelay(db, n, RelayConfig{})

	report, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, RelayReport{Claimed: 2, Delivered: 2}, report)
	assert.Equal(t, models.OutboxPending, reloadEvent(t, db, a2.ID).Status)
	assert.Equal(t, models.OutboxDelivered, reloadEvent(t, db, b1.ID).Status)

	report, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)

	var ids []uint
	for len(ids) < 2 {
		select {
		case msg := <-ch:
			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
			assert.Equal(t, uint(1), env.SubjectID)
			assert.Equal(t, "upload", env.Kind)
			assert.JSONEq(t, `{"upload_id":1}`, string(env.Payload))
			ids = append(ids, env.ID)
		case <-time.After(testEventuallyTimeout):
			t.Fatalf("received %d of 2 events", len(ids))
		}
	}
	assert.Equal(t, []uint{a1.ID, a2.ID}, ids)

	delivered := reloadEvent(t, db, a1.ID)
	require.NotNil(t, delivered.DeliveredAt)
	assert.Empty(t, delivered.LastError)
}

func TestRelay_RetriesWithBackoffThenFails(t *testing.T) {
	db := testutil.NewTestDB(t)
	n, mr, _ := newTestNotifier(t)
	ctx := context.Background()

	ev := enqueueEvent(t, db, 5, "flag.resolved")
	blocked := enqueueEvent(t, db, 5, "ban.created")
	mr.Close()

	relay, now := newTestRelay(db, n, RelayConfig{MaxAttempts: 2})

	report, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	retried := reloadEvent(t, db, ev.ID)
	assert.Equal(t, models.OutboxPending, retried.Status)
	assert.Equal(t, 1, retried.Attempts)
	assert.NotEmpty(t, retried.LastError)
	assert.WithinDuration(t, now.Add(Backoff(1)), retried.AvailableAt, time.Millisecond)

	// Not due yet.
	report, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Claimed)

	*now = now.Add(2 * time.Second)
	report, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	failed := reloadEvent(t, db, ev.ID)
	assert.Equal(t, models.OutboxFailed, failed.Status)
	assert.Equal(t, 2, failed.Attempts)

	// The failed head no longer holds back the subject's next event.
	assert.Equal(t, models.OutboxPending, reloadEvent(t, db, blocked.ID).Status)
	report, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
}

func TestRelay_WithoutRedisKeepsEventsPending(t *testing.T) {
	db := testutil.NewTestDB(t)
	ev := enqueueEvent(t, db, 3, "upload.created")

	relay, _ := newTestRelay(db, NewNotifier(nil), RelayConfig{})
	report, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	got := reloadEvent(t, db, ev.ID)
	assert.Equal(t, models.OutboxPending, got.Status)
	assert.Contains(t, got.LastError, "not configured")
}

func TestRelay_BackgroundWorkerDrainsOutbox(t *testing.T) {
	db := testutil.NewTestDB(t)
	n, _, _ := newTestNotifier(t)
	ev := enqueueEvent(t, db, 4, "upload.created")

	relay := NewRelay(db, n, RelayConfig{PollInterval: testPollInterval})
	relay.Clock = func() time.Time { return time.Now().UTC().Add(time.Second) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay.StartBackgroundWorker(ctx)
	relay.StartBackgroundWorker(ctx)

	assert.Eventually(t, func() bool {
		var got models.OutboxEvent
		if err := db.First(&got, ev.ID).Error; err != nil {
			return false
		}
		return got.Status == models.OutboxDelivered
	}, testEventuallyTimeout, testPollInterval)
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{9, 256 * time.Second},
		{10, 5 * time.Minute},
		{50, 5 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}
