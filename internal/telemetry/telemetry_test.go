package telemetry_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/telemetry"
)

func TestSetupWithoutLogFile(t *testing.T) {
	logger, closeFn, err := telemetry.Setup(telemetry.Options{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NoError(t, closeFn())
}

func TestSetupWritesJSONLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.log")
	logger, closeFn, err := telemetry.Setup(telemetry.Options{LogFile: path})
	require.NoError(t, err)

	logger.Info("job started", "job", 1)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "job started")
}

func TestParseVerbosity(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, telemetry.ParseVerbosity("quiet"))
	assert.Equal(t, slog.LevelDebug, telemetry.ParseVerbosity("verbose"))
	assert.Equal(t, slog.LevelInfo, telemetry.ParseVerbosity("normal"))
}

func TestWithJobAddsContextualFields(t *testing.T) {
	var buf mockWriter
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	jl := telemetry.WithJob(logger, ids.JobId(7), ids.ReqId(2))
	jl.Info("running")
	assert.Contains(t, buf.String(), "job=7")
	assert.Contains(t, buf.String(), "req=2")
}

type mockWriter struct {
	data []byte
}

func (w *mockWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *mockWriter) String() string { return string(w.data) }
