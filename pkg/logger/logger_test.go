package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" warning "))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNew_FileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputPath = filepath.Join(t.TempDir(), "app.log")
	cfg.Level = "debug"

	log, err := New(cfg)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	log.Info("hello")
	_ = log.Sync()
}

func TestWithContext_NoSpan(t *testing.T) {
	log := zap.NewNop()
	assert.Same(t, log, WithContext(context.Background(), log))
}
