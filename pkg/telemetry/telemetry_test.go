package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	tel, err := Init(context.Background(), Config{ServiceName: "meetupstats"})
	require.NoError(t, err)
	assert.Nil(t, tel.tracerProvider)
	assert.Nil(t, tel.meterProvider)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{TracingEnabled: true}.Enabled())
	assert.True(t, Config{MetricsEnabled: true}.Enabled())
}

func TestSampler(t *testing.T) {
	assert.Contains(t, Sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, Sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestTraceID(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(tracetest.NewSpanRecorder()))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	assert.Len(t, TraceID(ctx), 32)
}
