package middleware

import (
	"net/http/httptest"
	"testing"

	"chapterhub/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestTracingMiddleware_NamesSpanByRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := observability.Tracer
	observability.Tracer = tp.Tracer("test")
	t.Cleanup(func() { observability.Tracer = prev })

	app := fiber.New()
	app.Use(TracingMiddleware())
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", uint(9))
		return c.Next()
	})
	app.Get("/api/admin/content/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusServiceUnavailable, "down")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/admin/content/42", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	_, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "GET /api/admin/content/:id", ok.Name())
	assert.Contains(t, ok.Attributes(), semconv.HTTPRoute("/api/admin/content/:id"))
	assert.Contains(t, ok.Attributes(), semconv.HTTPResponseStatusCode(200))
	assert.Contains(t, ok.Attributes(), observability.PrincipalID(9))
	assert.Equal(t, codes.Unset, ok.Status().Code)

	failed := spans[1]
	assert.Contains(t, failed.Attributes(), semconv.HTTPResponseStatusCode(503))
	assert.Equal(t, codes.Error, failed.Status().Code)
}
