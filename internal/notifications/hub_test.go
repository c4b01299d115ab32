package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func TestHub_RegisterEnforcesLimits(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Shutdown(context.Background()) }()

	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register(7, nil)
		require.NoError(t, err)
	}
	_, err := hub.Register(7, nil)
	assert.ErrorIs(t, err, ErrUserLimit)

	_, err = hub.Register(8, nil)
	assert.NoError(t, err)
	assert.Equal(t, maxConnsPerUser+1, hub.Connected())
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	client, err := hub.Register(3, nil)
	require.NoError(t, err)

	hub.UnregisterClient(client)
	hub.UnregisterClient(client)
	assert.Equal(t, 0, hub.Connected())

	_, ok := <-client.Send
	assert.False(t, ok, "send channel should be closed")
}

func TestHub_BroadcastAllReachesEveryClient(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Shutdown(context.Background()) }()

	a, err := hub.Register(1, nil)
	require.NoError(t, err)
	b, err := hub.Register(2, nil)
	require.NoError(t, err)

	hub.BroadcastAll(`{"type":"upload.approved"}`)

	assert.Equal(t, `{"type":"upload.approved"}`, string(<-a.Send))
	assert.Equal(t, `{"type":"upload.approved"}`, string(<-b.Send))
}

func TestHub_FullBufferDropsAndNotifies(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Shutdown(context.Background()) }()

	client, err := hub.Register(1, nil)
	require.NoError(t, err)
	for i := 0; i < sendBuffer; i++ {
		client.TrySend([]byte("x"))
	}

	// Nothing blocks once the buffer is full.
	done := make(chan struct{})
	go func() {
		client.TrySend([]byte("overflow"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testEventuallyTimeout):
		t.Fatal("TrySend blocked on a full buffer")
	}
	assert.Len(t, client.Send, sendBuffer)
	assert.EqualValues(t, 1, client.Dropped())
	assert.True(t, client.gapped.Load())
}

func TestHub_ShutdownRejectsNewConnections(t *testing.T) {
	hub := NewHub()
	client, err := hub.Register(1, nil)
	require.NoError(t, err)

	require.NoError(t, hub.Shutdown(context.Background()))
	require.NoError(t, hub.Shutdown(context.Background()))

	_, ok := <-client.Send
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Connected())

	_, err = hub.Register(1, nil)
	assert.ErrorIs(t, err, ErrHubShutdown)

	// A late unregister from the read pump must not close twice.
	assert.NotPanics(t, func() { hub.UnregisterClient(client) })
	// Sends to a closed client are swallowed.
	assert.NotPanics(t, func() { client.TrySend([]byte("late")) })
}

func TestHub_StartWiringForwardsAdminChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	hub := NewHub()
	defer func() { _ = hub.Shutdown(context.Background()) }()
	client, err := hub.Register(1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := NewNotifier(rdb)
	require.NoError(t, hub.StartWiring(ctx, n))

	require.NoError(t, n.PublishEvent(ctx, 42, `{"id":1}`))

	select {
	case msg := <-client.Send:
		assert.Equal(t, `{"id":1}`, string(msg))
	case <-time.After(testEventuallyTimeout):
		t.Fatal("admin feed did not receive the event")
	}
}
