// Package notifications delivers realtime events: the outbox relay publishes
// them to Redis and the admin hub fans them out to live-feed sockets.
package notifications

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	userChannelPrefix = "notifications:user:"
	// AdminChannel mirrors every relayed event for the admin live feed.
	AdminChannel = "notifications:admin"
)

// ErrNoTransport is returned when publishing without a Redis client.
var ErrNoTransport = errors.New("notifications: redis is not configured")

// Notifier publishes notification payloads into Redis channels.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether the notifier has a transport.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishEvent sends payload to the subject's channel and mirrors it to the
// admin channel in one round trip. It fails without Redis so the relay keeps
// the event pending.
func (n *Notifier) PublishEvent(ctx context.Context, subjectID uint, payload string) error {
	if !n.Enabled() {
		return ErrNoTransport
	}
	_, err := n.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, UserChannel(subjectID), payload)
		pipe.Publish(ctx, AdminChannel, payload)
		return nil
	})
	return err
}

// StartAdminSubscriber subscribes to the admin channel and calls onMessage for
// each incoming payload until ctx is cancelled.
func (n *Notifier) StartAdminSubscriber(ctx context.Context, onMessage func(payload string)) error {
	if !n.Enabled() {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, AdminChannel)
	// Wait for the subscription so publishes right after return are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							slog.Error("panic in admin subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return userChannelPrefix + strconv.FormatUint(uint64(userID), 10)
}
