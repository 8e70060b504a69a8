package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestConfigure_JSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "debug", JSON: true, Output: &buf})
	t.Cleanup(func() { Configure(Options{}) })

	With("queue").Debug("pushed", "offset", 7)
	require.Contains(t, buf.String(), `"component":"queue"`)
	assert.Contains(t, buf.String(), `"offset":7`)
}

func TestInitFromEnv(t *testing.T) {
	t.Setenv("SLUICE_LOG_LEVEL", "warn")
	assert.True(t, InitFromEnv())
	t.Cleanup(func() { Configure(Options{}) })
	assert.False(t, L().Enabled(t.Context(), slog.LevelInfo))
}
