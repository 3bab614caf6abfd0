package logger

import (
	"fmt"

	phlog "github.com/oarkflow/log"
)

// PhusluLogger wraps the phuslu-style phlog package. It is the default
// logger the engine installs when none is configured.
type PhusluLogger struct {
	traceFn TraceIDFunc
}

func NewPhusluLogger() *PhusluLogger { return &PhusluLogger{} }

// NewPhusluLoggerWithTrace stamps every entry with a trace_id from fn.
func NewPhusluLoggerWithTrace(fn TraceIDFunc) *PhusluLogger {
	return &PhusluLogger{traceFn: fn}
}

func (p *PhusluLogger) Debug(msg string, keyvals ...any) {
	p.emit(phlog.Debug(), msg, keyvals)
}

func (p *PhusluLogger) Info(msg string, keyvals ...any) {
	p.emit(phlog.Info(), msg, keyvals)
}

func (p *PhusluLogger) Error(msg string, keyvals ...any) {
	p.emit(phlog.Error(), msg, keyvals)
}

func (p *PhusluLogger) emit(b *phlog.Entry, msg string, keyvals []any) {
	if p.traceFn != nil {
		b = b.Str("trace_id", p.traceFn())
	}
	for i := 0; i < len(keyvals)-1; i += 2 {
		ks := fmt.Sprint(keyvals[i])
		switch vv := keyvals[i+1].(type) {
		case string:
			b = b.Str(ks, vv)
		case bool:
			b = b.Bool(ks, vv)
		case int:
			b = b.Int(ks, vv)
		default:
			b = b.Any(ks, vv)
		}
	}
	b.Msg(msg)
}
