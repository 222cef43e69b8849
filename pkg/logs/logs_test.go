package logs

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONFormat(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := NewLogger(buf, slog.LevelInfo, JSONFormat)

	logger.WithFields(map[string]interface{}{"script": "a"}).Info(context.Background(), "worker started", "pending", 2)
	logger.Debug(context.Background(), "hidden")

	out := buf.String()
	assert.Contains(t, out, `"msg":"worker started"`)
	assert.Contains(t, out, `"script":"a"`)
	assert.Contains(t, out, `"pending":2`)
	assert.NotContains(t, out, "hidden")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestRecorderSharesEntriesAcrossFields(t *testing.T) {
	rec := NewRecorder()
	child := rec.WithFields(map[string]interface{}{"script": "b"})

	child.Warn(context.Background(), "dangling reply", "checkpoint_id", "x")
	rec.Info(context.Background(), "other")

	entries := rec.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Fields["script"])
	assert.Equal(t, "x", entries[0].Fields["checkpoint_id"])
	assert.True(t, rec.Contains("WARN", "dangling"))
	assert.False(t, rec.Contains("ERROR", "dangling"))
}

func TestSetDefaultIgnoresNil(t *testing.T) {
	before := Default()
	SetDefault(nil)
	assert.Same(t, before, Default())

	rec := NewRecorder()
	SetDefault(rec)
	defer SetDefault(before)

	Warn(context.Background(), "through package")
	assert.True(t, rec.Contains("WARN", "through package"))
}
