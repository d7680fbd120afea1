package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// SlogLogger implements Logger on top of log/slog.
type SlogLogger struct {
	handler slog.Handler
	log     *slog.Logger
}

var _ Logger = (*SlogLogger)(nil)

// NewSlogLogger creates a text logger writing to w at the given level.
// If tz is nil timestamps are rendered in local time.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) *SlogLogger {
	return newSlog(slog.NewTextHandler(w, handlerOptions(level, tz)))
}

// NewJSONLogger creates a JSON logger writing to w at the given level.
func NewJSONLogger(w io.Writer, level LogLevel, tz *time.Location) *SlogLogger {
	return newSlog(slog.NewJSONHandler(w, handlerOptions(level, tz)))
}

func newSlog(h slog.Handler) *SlogLogger {
	return &SlogLogger{handler: h, log: slog.New(h)}
}

func handlerOptions(level LogLevel, tz *time.Location) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: toSlogLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if tz != nil && len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Time(slog.TimeKey, a.Value.Time().In(tz))
			}
			return a
		},
	}
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) Debug(msg string, fields ...Field) { l.emit(slog.LevelDebug, msg, fields) }
func (l *SlogLogger) Info(msg string, fields ...Field)  { l.emit(slog.LevelInfo, msg, fields) }
func (l *SlogLogger) Warn(msg string, fields ...Field)  { l.emit(slog.LevelWarn, msg, fields) }
func (l *SlogLogger) Error(msg string, fields ...Field) { l.emit(slog.LevelError, msg, fields) }

// With returns a child logger carrying the given fields.
func (l *SlogLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return newSlog(l.handler.WithAttrs(toAttrs(fields)))
}

// Module returns a child logger tagged with module=name.
func (l *SlogLogger) Module(name string) Logger {
	return l.With(String("module", name))
}

func (l *SlogLogger) emit(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.handler.Enabled(ctx, level) {
		return
	}
	l.log.LogAttrs(ctx, level, msg, toAttrs(fields)...)
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

// Silent returns a logger that discards everything.
func Silent() Logger {
	return NewSlogLogger(io.Discard, LogLevelError, nil)
}
