package middleware

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"chapterhub/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Logger is the process logger. It is also installed as the slog default, so
// package-level slog calls in services pick up the request attributes.
var Logger *slog.Logger

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	TenantIDKey  contextKey = "tenant_id"
	TraceIDKey   contextKey = "trace_id"
)

// ctxHandler copies request-scoped context values onto every record.
type ctxHandler struct {
	inner slog.Handler
}

func (h ctxHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range []contextKey{RequestIDKey, TraceIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	for _, key := range []contextKey{UserIDKey, TenantIDKey} {
		if v, ok := ctx.Value(key).(uint); ok {
			r.AddAttrs(slog.Uint64(string(key), uint64(v)))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ctxHandler{h.inner.WithAttrs(attrs)}
}

func (h ctxHandler) WithGroup(name string) slog.Handler {
	return ctxHandler{h.inner.WithGroup(name)}
}

// NewLogger builds a context-aware logger writing JSON in production and text elsewhere.
func NewLogger(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if env == "production" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(ctxHandler{h})
}

func init() {
	Logger = NewLogger(os.Stdout, os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	slog.SetDefault(Logger)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithPrincipal tags ctx with the authenticated user and, when set, their tenant.
func WithPrincipal(ctx context.Context, userID uint, tenantID *uint) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	if tenantID != nil {
		ctx = context.WithValue(ctx, TenantIDKey, *tenantID)
	}
	return ctx
}

var localKeys = []struct {
	local string
	key   contextKey
}{
	{"requestid", RequestIDKey},
	{"traceID", TraceIDKey},
	{"userID", UserIDKey},
}

// ContextMiddleware moves request locals into the user context for the logger.
// The user ID is only present here for routes authenticated upstream; AuthRequired
// tags the context itself via WithPrincipal.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		for _, lk := range localKeys {
			if v := c.Locals(lk.local); v != nil {
				ctx = context.WithValue(ctx, lk.key, v)
			}
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// StructuredLogger writes one record per request. Health probes log at debug,
// client errors at warn and server errors at error.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = models.StatusFor(err)
		}

		attrs := []slog.Attr{
			slog.Int("status", status),
			slog.String("method", c.Method()),
			slog.String("route", c.Route().Path),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}

		level := slog.LevelInfo
		switch {
		case strings.HasPrefix(c.Path(), "/health"):
			level = slog.LevelDebug
		case status >= fiber.StatusInternalServerError:
			level = slog.LevelError
		case status >= fiber.StatusBadRequest:
			level = slog.LevelWarn
		}
		Logger.LogAttrs(c.UserContext(), level, "request", attrs...)
		return err
	}
}
