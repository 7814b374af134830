package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiodesk/notifier/internal/logger"
)

func TestNewSystemLogger_WritesJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer

	log, closer, err := logger.NewSystemLogger(logger.Options{
		Dir:        dir,
		Level:      slog.LevelInfo,
		MaxSizeMB:  1,
		MaxBackups: 1,
		Console:    &console,
	})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("notification sent", "notification_id", "n-1", "channel", "TELEGRAM")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "system.log"))
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &rec))
	assert.Equal(t, "notification sent", rec["msg"])
	assert.Equal(t, "n-1", rec["notification_id"])
	assert.NotContains(t, string(raw), "hidden")
	assert.Equal(t, string(raw), console.String())
}

func TestNewSystemLogger_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	_, _, err := logger.NewSystemLogger(logger.Options{Dir: filepath.Join(file, "logs")})
	assert.Error(t, err)
}
