package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runoshun/crewteam/internal/domain"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // default
		{"", slog.LevelInfo},        // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLogger_WritesFileAndConsole(t *testing.T) {
	logsDir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer

	l, err := New(logsDir, slog.LevelInfo, &console)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	log := l.Slog()
	log.Info("agent started", "agent", "worker")
	log.Debug("hidden")

	content, err := os.ReadFile(domain.ControllerLogPath(logsDir))
	require.NoError(t, err)
	assert.Contains(t, string(content), "level=INFO")
	assert.Contains(t, string(content), `msg="agent started"`)
	assert.Contains(t, string(content), "agent=worker")
	assert.NotContains(t, string(content), "hidden")
	assert.Equal(t, string(content), console.String())
	assert.Equal(t, domain.ControllerLogPath(logsDir), l.Path())
}

func TestLogger_NoConsole(t *testing.T) {
	logsDir := t.TempDir()
	l, err := New(logsDir, slog.LevelDebug, nil)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	l.Slog().Info("file only")
	content, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(content), "file only")
}

func TestLogger_Disabled(t *testing.T) {
	l, err := New("", slog.LevelInfo, nil)
	require.NoError(t, err)
	assert.Empty(t, l.Path())
	l.Slog().Info("nowhere")
	assert.NoError(t, l.Close())
}
