// Package cache wraps the shared Redis client and the JSON cache-aside helpers
// built on it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chapterhub/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

var client *redis.Client

// errorCounter feeds failed commands into the redis error metric. Misses and
// cancelled requests are not failures.
type errorCounter struct{}

func countable(err error) bool {
	return err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled)
}

func (errorCounter) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (errorCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if countable(err) {
			middleware.RedisErrors(cmd.Name())
		}
		return err
	}
}

func (errorCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if countable(err) {
			middleware.RedisErrors("pipeline")
		}
		return err
	}
}

// Options parses a redis:// URL or a bare host:port.
func Options(target string) (*redis.Options, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("redis address is empty")
	}
	if !strings.Contains(target, "://") {
		return &redis.Options{Addr: target}, nil
	}
	opts, err := redis.ParseURL(target)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}

// Connect dials Redis and pings it. The returned client counts command errors.
func Connect(ctx context.Context, target string) (*redis.Client, error) {
	opts, err := Options(target)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	c.AddHook(errorCounter{})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return c, nil
}

// InitRedis sets the process-wide client. When Redis cannot be reached the
// client stays nil; quota locks, ws tickets and the relay then run degraded.
func InitRedis(target string) {
	c, err := Connect(context.Background(), target)
	if err != nil {
		middleware.Logger.Warn("redis unavailable, running without it", slog.String("error", err.Error()))
		client = nil
		return
	}
	middleware.Logger.Info("redis connected", slog.String("addr", c.Options().Addr))
	client = c
}

// GetClient returns the process-wide client, or nil.
func GetClient() *redis.Client {
	return client
}

// Close closes the process-wide client.
func Close() error {
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}
