package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// TeeLogger forwards every entry to each of its sinks. Each sink applies
// its own level.
type TeeLogger struct {
	sinks []ports.Logger
}

// NewTeeLogger creates a logger writing to all sinks.
func NewTeeLogger(sinks ...ports.Logger) *TeeLogger {
	return &TeeLogger{sinks: sinks}
}

// Debug logs a debug message to every sink.
func (t *TeeLogger) Debug(ctx context.Context, msg string, fields ...ports.Field) {
	for _, s := range t.sinks {
		s.Debug(ctx, msg, fields...)
	}
}

// Info logs an informational message to every sink.
func (t *TeeLogger) Info(ctx context.Context, msg string, fields ...ports.Field) {
	for _, s := range t.sinks {
		s.Info(ctx, msg, fields...)
	}
}

// Warn logs a warning to every sink.
func (t *TeeLogger) Warn(ctx context.Context, msg string, fields ...ports.Field) {
	for _, s := range t.sinks {
		s.Warn(ctx, msg, fields...)
	}
}

// Error logs an error to every sink.
func (t *TeeLogger) Error(ctx context.Context, msg string, fields ...ports.Field) {
	for _, s := range t.sinks {
		s.Error(ctx, msg, fields...)
	}
}

// With returns a tee whose sinks all carry the fields.
func (t *TeeLogger) With(fields ...ports.Field) ports.Logger {
	sinks := make([]ports.Logger, len(t.sinks))
	for i, s := range t.sinks {
		sinks[i] = s.With(fields...)
	}
	return &TeeLogger{sinks: sinks}
}

// Level returns the most verbose level among the sinks.
func (t *TeeLogger) Level() ports.Level {
	level := ports.LevelError
	for _, s := range t.sinks {
		if s.Level() < level {
			level = s.Level()
		}
	}
	return level
}

// SetLevel sets the level of every sink.
func (t *TeeLogger) SetLevel(level ports.Level) {
	for _, s := range t.sinks {
		s.SetLevel(level)
	}
}

// OpenInstallLog opens (appending) the installation log file and returns a
// debug-level JSON logger writing to it together with the file to close.
func OpenInstallLog(path string) (*ConsoleLogger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening installation log: %w", err)
	}
	return NewConsoleLogger(
		WithOutput(f),
		WithLevel(ports.LevelDebug),
		WithJSONFormat(true),
	), f, nil
}

var _ ports.Logger = (*TeeLogger)(nil)
