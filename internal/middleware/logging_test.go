package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_AddsRequestScope(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "development", "info")

	tenant := uint(3)
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = WithPrincipal(ctx, 7, &tenant)
	logger.With(slog.String("component", "uploads")).InfoContext(ctx, "submitted")

	out := buf.String()
	assert.Contains(t, out, "request_id=req-1")
	assert.Contains(t, out, "user_id=7")
	assert.Contains(t, out, "tenant_id=3")
	assert.Contains(t, out, "component=uploads")
}

func TestNewLogger_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "production", "warn")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.WarnContext(WithPrincipal(context.Background(), 5, nil), "quota near limit")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "quota near limit", rec["msg"])
	assert.EqualValues(t, 5, rec["user_id"])
	assert.NotContains(t, rec, "tenant_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" warning "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestContextMiddleware_PropagatesLocals(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("requestid", "abc")
		c.Locals("traceID", "trace-1")
		c.Locals("userID", uint(42))
		return c.Next()
	})
	app.Use(ContextMiddleware())

	var ctx context.Context
	app.Get("/", func(c *fiber.Ctx) error {
		ctx = c.UserContext()
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "abc", ctx.Value(RequestIDKey))
	assert.Equal(t, "trace-1", ctx.Value(TraceIDKey))
	assert.Equal(t, uint(42), ctx.Value(UserIDKey))
}

func TestStructuredLogger_LevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger
	Logger = NewLogger(&buf, "production", "info")
	t.Cleanup(func() { Logger = prev })

	app := fiber.New()
	app.Use(StructuredLogger())
	app.Get("/api/admin/content/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNotFound)
	})
	app.Get("/health/live", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, buf.Len(), "health probes log at debug")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/admin/content/12", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "/api/admin/content/:id", rec["route"])
	assert.Equal(t, "/api/admin/content/12", rec["path"])
	assert.EqualValues(t, 404, rec["status"])
}
