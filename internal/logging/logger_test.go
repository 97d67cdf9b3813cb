package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalflow/internal/logging"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("stage changed", "article", "a1", "to", "Accepted")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "stage changed", rec["msg"])
	assert.Equal(t, "a1", rec["article"])
}

func TestConsoleLoggerAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jf.log")
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Output: &buf, Path: path})
	require.NoError(t, err)

	logger.Info("skipped")
	logger.Warn("workflow element missing", "element", "review")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "element=review")
	assert.NotContains(t, string(content), "skipped")
	assert.Equal(t, buf.String(), string(content))
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := logging.New(logging.Options{Format: "xml"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, logging.ParseLevel(in), in)
	}
}
