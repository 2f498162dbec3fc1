package logging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewZapLoggerFrom(zap.New(core))

	logger.WithFields(F("flow_id", "f1")).Warn("unrecognized condition", F("condition", "foo bar"), Err(errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "unrecognized condition", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "f1", fields["flow_id"])
	assert.Equal(t, "foo bar", fields["condition"])
	assert.Equal(t, "boom", fields["error"])
}

func TestZapLoggerWithContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := NewZapLoggerFrom(zap.New(core))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	logger.WithContext(ctx).Info("handled")
	logger.LogFlowExecution("f1", "e1", "completed", map[string]any{"depth": 3})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "e1", entries[1].ContextMap()["execution_id"])
}

func TestNewZapLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatflow.log")
	logger, err := NewZapLogger(LogConfig{Level: "debug", Format: "json", Output: "file", FilePath: path})
	require.NoError(t, err)

	logger.Debug("hello", F("k", "v"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"hello"`))
}

func TestNewZapLoggerRejectsBadOutput(t *testing.T) {
	_, err := NewZapLogger(LogConfig{Output: "file"})
	assert.Error(t, err)

	_, err = NewZapLogger(LogConfig{Output: "syslog"})
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.WithFields(F("a", 1)).WithContext(context.Background()).Error("ignored")
	})
}
