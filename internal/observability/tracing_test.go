package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracing_DisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{ServiceName: "chapterhub-test", Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	_, err := InitTracing(TracingConfig{ServiceName: "chapterhub-test", Enabled: true, Exporter: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.5).Description())
	assert.Contains(t, sampler(0.25).Description(), "ParentBased")
}

func TestOperationSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := Tracer
	Tracer = tp.Tracer("test")
	t.Cleanup(func() { Tracer = prev })

	_, ok := StartOperation(context.Background(), "uploads.submit", PrincipalID(7), TenantID(3))
	EndOperation(ok, nil)
	_, failed := StartOperation(context.Background(), "outbox.relay")
	EndOperation(failed, errors.New("redis down"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "uploads.submit", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), AttrTenantID.Int64(3))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "redis down", spans[1].Status().Description)
}

func TestObserveFlagResolution(t *testing.T) {
	assert.NotPanics(t, func() {
		ObserveFlagResolution(30*time.Minute, 2*time.Hour)
		ObserveFlagResolution(3*time.Hour, 2*time.Hour)
	})
}
