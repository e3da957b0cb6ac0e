package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger builds a logger writing to w. format is "json" or "text".
func NewSlogLogger(w io.Writer, level, format string) *SlogLogger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &SlogLogger{l: slog.New(h)}
}

func (s *SlogLogger) With(fields map[string]any) *SlogLogger {
	return &SlogLogger{l: s.l.With(attrs(fields)...)}
}

func (s *SlogLogger) log(level slog.Level, msg string, fields map[string]any) {
	s.l.Log(context.Background(), level, msg, attrs(fields)...)
}

func (s *SlogLogger) Debug(msg string, fields map[string]any) {
	s.log(slog.LevelDebug, msg, fields)
}

func (s *SlogLogger) Info(msg string, fields map[string]any) {
	s.log(slog.LevelInfo, msg, fields)
}

func (s *SlogLogger) Warn(msg string, fields map[string]any) {
	s.log(slog.LevelWarn, msg, fields)
}

func (s *SlogLogger) Error(msg string, fields map[string]any) {
	s.log(slog.LevelError, msg, fields)
}

func attrs(fields map[string]any) []any {
	out := make([]any, 0, len(fields))
	for k, v := range fields {
		out = append(out, slog.Any(k, v))
	}
	return out
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
