// Package corelog configures the process-wide slog logger used by every
// component in the audio core.
package corelog

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// Configure sets slog's default logger from a level string and an optional
// log file path.
//
// Valid levels are "none", "error", "warn", "info", "debug"; any other
// value returns an error. When logFile is empty, logs go to stdout as text;
// otherwise they go to logFile as JSON.
//
// Returns the *os.File slog now writes to so the caller can close it on
// shutdown; nil when logging is disabled or writing to stdout.
func Configure(level string, logFile string, opts slog.HandlerOptions) (*os.File, error) {
	switch level {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, errors.New("corelog: unexpected log level " + level)
	}

	var f *os.File
	var handler slog.Handler
	if logFile == "" {
		handler = slog.NewTextHandler(os.Stdout, &opts)
	} else {
		opened, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		f = opened
		handler = slog.NewJSONHandler(f, &opts)
	}

	slog.SetDefault(slog.New(handler))
	return f, nil
}
