package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuildJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := build("warn", "json", "bloodlink", zapcore.AddSync(&buf))
	require.NoError(t, err)

	l.Info("dropped below level")
	l.Warn("pledge rejected")
	require.NoError(t, l.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "pledge rejected", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "bloodlink", entry["service_name"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, entry, "hostname")
}

func TestBuildConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := build("debug", "console", "", zapcore.AddSync(&buf))
	require.NoError(t, err)

	l.Debug("opened backend")
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.Contains(t, out, "opened backend")
	assert.NotContains(t, out, "service_name")
}

func TestBuildRejectsUnknownFormat(t *testing.T) {
	_, err := build("info", "xml", "", zapcore.AddSync(&bytes.Buffer{}))
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}
