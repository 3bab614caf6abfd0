package logger

import (
	"context"
	"fmt"
	"log/slog"
)

// SLogLogger wraps a standard library slog.Logger for embedders that already
// route their logs through slog.
type SLogLogger struct {
	l       *slog.Logger
	traceFn TraceIDFunc
}

func NewSLogLogger(l *slog.Logger) *SLogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SLogLogger{l: l}
}

// NewSLogLoggerWithTrace stamps every entry with a trace_id from fn.
func NewSLogLoggerWithTrace(l *slog.Logger, fn TraceIDFunc) *SLogLogger {
	s := NewSLogLogger(l)
	s.traceFn = fn
	return s
}

func (s *SLogLogger) Debug(msg string, keyvals ...any) {
	s.log(slog.LevelDebug, msg, keyvals...)
}

func (s *SLogLogger) Info(msg string, keyvals ...any) {
	s.log(slog.LevelInfo, msg, keyvals...)
}

func (s *SLogLogger) Error(msg string, keyvals ...any) {
	s.log(slog.LevelError, msg, keyvals...)
}

func (s *SLogLogger) log(level slog.Level, msg string, keyvals ...any) {
	attrs := make([]slog.Attr, 0, len(keyvals)/2+1)
	if s.traceFn != nil {
		attrs = append(attrs, slog.String("trace_id", s.traceFn()))
	}
	for i := 0; i < len(keyvals)-1; i += 2 {
		attrs = append(attrs, toSlogAttr(keyvals[i], keyvals[i+1]))
	}
	s.l.LogAttrs(context.Background(), level, msg, attrs...)
}

func toSlogAttr(k any, v any) slog.Attr {
	ks, ok := k.(string)
	if !ok {
		ks = fmt.Sprint(k)
	}
	switch vv := v.(type) {
	case string:
		return slog.String(ks, vv)
	case bool:
		return slog.Bool(ks, vv)
	case int:
		return slog.Int(ks, vv)
	default:
		return slog.Any(ks, vv)
	}
}
