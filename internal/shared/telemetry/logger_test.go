package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHelpersWriteStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	Info("rag.push", map[string]any{"doc_id": "doc-1", "attempts": 2})
	Warn("upload.extension_mismatch", map[string]any{"file_name": "a.txt"})
	Error("rag.failed", map[string]any{"err": errors.New("boom")})

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "doc-1", entries[0].ContextMap()["doc_id"])
	assert.EqualValues(t, 2, entries[0].ContextMap()["attempts"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "boom", entries[2].ContextMap()["err"])
}

func TestSetLoggerNilFallsBackToNop(t *testing.T) {
	SetLogger(nil)
	require.NotNil(t, L())
	Info("ignored", nil)
}
