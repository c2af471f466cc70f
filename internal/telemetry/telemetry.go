// Package telemetry wires forge's structured logging exactly the way
// cmd/beam/main.go wires its own: a slog.TextHandler on stderr as the
// default, optionally teed to a slog.JSONHandler log file through
// internal/ui's fan-out handler. The engine thread and each gather/backend
// goroutine attach contextual fields (job, req, node) rather than folding
// identifiers into free-text messages, per cmd/beam/daemon.go's use of
// slog.LogAttrs for structured event records.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/ui"
)

// Options configures Setup.
type Options struct {
	Verbose bool
	Quiet   bool
	LogFile string // optional path for a JSON trail, matching --log
}

// Setup builds forge's default logger and installs it via
// slog.SetDefault, returning a close func for the optional log file (a
// no-op when LogFile is empty).
func Setup(opts Options) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	switch {
	case opts.Verbose:
		level = slog.LevelDebug
	case opts.Quiet:
		level = slog.LevelWarn
	}

	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	var handler slog.Handler = textHandler
	closeFn := func() error { return nil }

	if opts.LogFile != "" {
		f, err := os.Create(opts.LogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: open log file: %w", err)
		}
		jsonHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = ui.NewMultiHandler(textHandler, jsonHandler)
		closeFn = f.Close
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// ParseVerbosity maps a config/CLI verbosity name to a slog level, used
// when internal/config's BuildConfig.Verbosity supplies a default that
// Options.Verbose/Quiet booleans didn't already cover.
func ParseVerbosity(name string) slog.Level {
	switch name {
	case "quiet":
		return slog.LevelWarn
	case "verbose":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// WithJob returns a logger carrying job/req contextual fields, so a
// backend or gather goroutine's log lines can be correlated back to the
// request that triggered them without string-formatting identifiers into
// the message.
func WithJob(logger *slog.Logger, job ids.JobId, req ids.ReqId) *slog.Logger {
	return logger.With(slog.Uint64("job", uint64(job)), slog.Uint64("req", uint64(req)))
}

// WithNode returns a logger carrying a node contextual field.
func WithNode(logger *slog.Logger, node ids.NodeId) *slog.Logger {
	return logger.With(slog.Uint64("node", uint64(node)))
}

// Fatal logs msg at Error with args and exits the process, mirroring
// cmd/beam/daemon.go's treatment of unrecoverable startup errors (a
// corrupt store or an unreadable rule set leaves nothing sensible to run).
func Fatal(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), slog.LevelError, msg, args...)
	os.Exit(1)
}
