package http

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthChecker_NoChecks(t *testing.T) {
	status := NewHealthChecker("v1").Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "no checks registered", status.Message)
	assert.Equal(t, "v1", status.Version)
}

func TestHealthChecker_AggregatesFailures(t *testing.T) {
	hc := NewHealthChecker("v1")
	hc.AddCheck("postgres", PingCheck(pingerFunc(func(context.Context) error { return nil })))
	hc.AddCheck("redis", PingCheck(pingerFunc(func(context.Context) error { return errors.New("refused") })))
	hc.AddCheck("cache", func(context.Context) error { return errors.New("stale") })

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "failed checks: cache, redis", status.Message)
	require.Len(t, status.Checks, 3)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.Equal(t, "OK", status.Checks["postgres"].Message)
	assert.Equal(t, "refused", status.Checks["redis"].Message)
}

func TestHealthChecker_Timeout(t *testing.T) {
	hc := NewHealthChecker("v1")
	hc.SetTimeout(20 * time.Millisecond)
	hc.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
}
