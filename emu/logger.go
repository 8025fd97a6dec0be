package emu

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sarchlab/esim/mesh"
)

// LevelTrace is the slog level used for per-instruction tracing.
const LevelTrace = slog.LevelDebug - 4

// Logger receives diagnostic messages from cores. Arguments are slog-style
// key/value pairs.
type Logger interface {
	Verbose(core mesh.CoreID, msg string, args ...any)
	Debug(core mesh.CoreID, msg string, args ...any)
	Trace(core mesh.CoreID, msg string, args ...any)
}

// SlogLogger forwards messages to a slog.Logger. Verbose maps to Info,
// Debug to Debug and Trace to LevelTrace; the handler decides what is
// emitted.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps a slog.Logger. A nil logger uses slog.Default.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l}
}

// NewTextLogger creates a SlogLogger writing text records at or above the
// given level.
func NewTextLogger(w io.Writer, level slog.Level) *SlogLogger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(h))
}

func (l *SlogLogger) log(level slog.Level, core mesh.CoreID, msg string, args []any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.With("core", core.String()).Log(ctx, level, msg, args...)
}

// Verbose logs at Info level.
func (l *SlogLogger) Verbose(core mesh.CoreID, msg string, args ...any) {
	l.log(slog.LevelInfo, core, msg, args)
}

// Debug logs at Debug level.
func (l *SlogLogger) Debug(core mesh.CoreID, msg string, args ...any) {
	l.log(slog.LevelDebug, core, msg, args)
}

// Trace logs at LevelTrace.
func (l *SlogLogger) Trace(core mesh.CoreID, msg string, args ...any) {
	l.log(LevelTrace, core, msg, args)
}

// NullLogger discards everything.
type NullLogger struct{}

func (NullLogger) Verbose(mesh.CoreID, string, ...any) {}
func (NullLogger) Debug(mesh.CoreID, string, ...any)   {}
func (NullLogger) Trace(mesh.CoreID, string, ...any)   {}

// ParseLevel maps verbose, debug and trace to slog levels. The empty string
// means warnings only.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return slog.LevelWarn, nil
	case "verbose", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	}
	return 0, fmt.Errorf("%w: unknown log level %q", ErrInvalidArgument, s)
}

// LevelFromEnv reads a log level from the named environment variable using
// lookup (usually os.LookupEnv).
func LevelFromEnv(name string, lookup func(string) (string, bool)) (slog.Level, error) {
	v, _ := lookup(name)
	return ParseLevel(v)
}
