package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Logger pairs a slog.Logger with the level variable that gates it, so the
// level can be changed after construction without rebuilding handlers.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds a text logger writing to w at the given level.
func New(levelStr string, w io.Writer) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(levelStr))
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})),
		level:  lv,
	}
}

// Open builds a logger writing to stderr and, if logFile is non-empty, to
// that file as well. The returned closer releases the file.
func Open(levelStr, logFile string) (*Logger, io.Closer, error) {
	if logFile == "" {
		return New(levelStr, os.Stderr), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return New(levelStr, io.MultiWriter(os.Stderr, f)), f, nil
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New("error", io.Discard)
}

// SetLevel changes the log level at runtime. Valid values: debug, info, warn, error.
// Invalid values fall back to info.
func (l *Logger) SetLevel(levelStr string) {
	l.level.Set(ParseLevel(levelStr))
}

// Level reports the current level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
