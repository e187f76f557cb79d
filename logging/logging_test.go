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
	for _, mode := range []string{"debug", "release"} {
		logger, err := NewLogger(mode)
		require.NoError(t, err, mode)
		assert.NotNil(t, logger)
	}
}

func TestWithOperation(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	WithOperation(logger, "session.segment", "abc").Info("hello")
	WithOperation(logger, "studio.sweep", "").Info("bye")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "session.segment", entries[0].ContextMap()["operation"])
	assert.Equal(t, "abc", entries[0].ContextMap()["session_id"])
	_, ok := entries[1].ContextMap()["session_id"]
	assert.False(t, ok)
}

func TestOperationError(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")

	assert.Nil(t, NewOperationError("x", "", nil))

	err := NewOperationError("session.segment", "abc", base)
	assert.EqualError(t, err, "session.segment (session_id=abc): boom")
	assert.ErrorIs(t, err, base)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "session.segment", opErr.Operation)

	assert.EqualError(t, NewOperationError("codec.decode", "", base), "codec.decode: boom")

	var nilErr *OperationError
	assert.Equal(t, "", nilErr.Error())
	assert.Nil(t, nilErr.Unwrap())
}
