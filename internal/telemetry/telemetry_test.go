package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseLevel(tc.input), "level %q", tc.input)
	}
}

func TestInitLogger_WritesJSONToRotatingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := InitLogger(LoggerOptions{Dir: dir, Name: "chatpane", Level: "warn"})
	require.NoError(t, err)

	logger.Info("dropped below level")
	logger.Warn("session creation failed", "error", "boom")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "chatpane.log"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"session creation failed"`)
	assert.Contains(t, lines[0], `"error":"boom"`)
}

func TestInitTelemetry_ExportsOnCleanup(t *testing.T) {
	dir := t.TempDir()
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), "chatpane-test", dir)
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "chat.send")
	span.End()
	RecordDuration(context.Background(), meter, time.Now().Add(-5*time.Millisecond))

	cleanup()

	_, err = os.Stat(filepath.Join(dir, "chatpane-test_traces.log"))
	assert.NoError(t, err)
}

func TestRecordDuration_NoopMeter(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDuration(context.Background(), noop.NewMeterProvider().Meter("test"), time.Now())
	})
}
