package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeKVs_RedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"api_key", "sk-123", "provider", "openai", "dangling"})

	assert.Equal(t, []interface{}{"api_key", "[REDACTED]", "provider", "openai", "dangling"}, out)
}

func TestLogger_WritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("component", "pipeline").Info("document ingested", "doc_id", "abc", "password", "hunter2")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "pipeline", fields["component"])
		assert.Equal(t, "abc", fields["doc_id"])
		assert.Equal(t, "[REDACTED]", fields["password"])
	}
}

func TestNilLogger_IsSafe(t *testing.T) {
	var l *Logger
	l.Info("ignored", "k", "v")
	l.Sync()
	assert.Nil(t, l.With("k", "v"))
}
