package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSLogLoggerTraceID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	l := NewSLogLoggerWithTrace(base, func() string { return "trace-42" })

	l.Info("verdict recorded", "action", "allow", "attempts", 3)

	out := buf.String()
	if !strings.Contains(out, "trace_id=trace-42") {
		t.Fatalf("expected trace_id in output, got %q", out)
	}
	if !strings.Contains(out, "action=allow") || !strings.Contains(out, "attempts=3") {
		t.Fatalf("expected keyvals in output, got %q", out)
	}
}

func TestSLogLoggerWithoutTrace(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	l.Error("store unavailable", "error", "timeout")

	out := buf.String()
	if strings.Contains(out, "trace_id") {
		t.Fatalf("unexpected trace_id without a trace fn: %q", out)
	}
	if !strings.Contains(out, "store unavailable") {
		t.Fatalf("expected message in output, got %q", out)
	}
}
