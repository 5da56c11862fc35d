package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New creates a console slog.Logger with provided level string. When file is
// set, records are also appended to it without colour codes.
func New(level, file string) (*slog.Logger, io.Closer, error) {
	return NewTo(os.Stdout, level, file)
}

// NewTo is New with an explicit console writer.
func NewTo(console io.Writer, level, file string) (*slog.Logger, io.Closer, error) {
	var (
		out     io.Writer = console
		closer  io.Closer = io.NopCloser(nil)
		noColor bool
	)

	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(console, f)
		closer = f
		noColor = true
	}

	return NewWithWriter(out, level, noColor), closer, nil
}

// NewWithWriter builds a tint-backed logger writing to w.
func NewWithWriter(w io.Writer, level string, noColor bool) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      levelFromString(level),
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	})
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error", "critical":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
