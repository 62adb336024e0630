package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("DEBUG")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, ok = ParseLevel("")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelInfo, lvl)

	lvl, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, slog.LevelInfo).With("reference", "T1")

	ctx := ToContext(context.Background(), l)
	FromContext(ctx).Info("posting committed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "T1", line["reference"])
	assert.Equal(t, "posting committed", line["msg"])

	assert.NotNil(t, FromContext(context.Background()), "falls back to the default logger")
}
