package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	dev, err := NewLogger("debug", true)
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("verbose", false)
	assert.Error(t, err)
}

func TestWithOperation(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	WithOperation(logger, "pipeline.run", "run-1").Info("done")
	WithOperation(logger, "pipeline.metrics", "").Info("done")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]interface{}{"operation": "pipeline.run", "request_id": "run-1"}, entries[0].ContextMap())
	assert.Equal(t, map[string]interface{}{"operation": "pipeline.metrics"}, entries[1].ContextMap())
}

func TestOperationError(t *testing.T) {
	assert.NoError(t, NewOperationError("op", "id", nil))

	base := errors.New("connection reset")
	err := NewOperationError("cache.get.report", "r-1", base)
	assert.Equal(t, "cache.get.report (request_id=r-1): connection reset", err.Error())
	assert.ErrorIs(t, err, base)

	err = NewOperationError("repository.aggregate_metrics", "", base)
	assert.Equal(t, "repository.aggregate_metrics: connection reset", err.Error())

	var nilErr *OperationError
	assert.Equal(t, "", nilErr.Error())
	assert.NoError(t, nilErr.Unwrap())
}
