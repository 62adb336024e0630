package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const loggerKey contextKey = "logger"

// ParseLevel maps a LOG_LEVEL value onto a slog level. Unknown values fall back to info.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New builds a JSON logger writing to w with RFC3339 timestamps.
func New(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Init builds the process logger on stdout and installs it as the slog default.
func Init(levelStr string) *slog.Logger {
	level, ok := ParseLevel(levelStr)
	l := New(os.Stdout, level)
	slog.SetDefault(l)
	if !ok {
		l.Warn("Invalid LOG_LEVEL specified, defaulting to INFO", "configuredLevel", levelStr)
	}
	return l
}

// FromContext retrieves the operation-scoped logger, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ToContext embeds a logger into ctx.
func ToContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}
