package log

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer, component string) *Logger {
	return New(Config{
		Level:     slog.LevelDebug,
		Component: component,
		Handler:   slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, ComponentStorage)

	logger.Info("row stored", FieldCategory, "Goods")

	out := buf.String()
	if !strings.Contains(out, "component=storage") {
		t.Errorf("output missing component field: %q", out)
	}
	if !strings.Contains(out, "category=Goods") {
		t.Errorf("output missing category field: %q", out)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, ComponentApp).WithComponent(ComponentWorker)

	if logger.Component() != ComponentWorker {
		t.Errorf("Component() = %q, want %q", logger.Component(), ComponentWorker)
	}

	logger.Warn("queue backlog")
	if !strings.Contains(buf.String(), "component=worker") {
		t.Errorf("output missing rebound component: %q", buf.String())
	}
}

func TestLogFieldsBuilder(t *testing.T) {
	fields := NewFields().
		WithObservation("Energy", "2021-03", 104.5).
		WithOperation(OpAppend).
		WithError(errors.New("boom"))

	if fields[FieldCategory] != "Energy" {
		t.Errorf("category = %v, want Energy", fields[FieldCategory])
	}
	if fields[FieldMonth] != "2021-03" {
		t.Errorf("month = %v, want 2021-03", fields[FieldMonth])
	}
	if fields[FieldError] != "boom" {
		t.Errorf("error = %v, want boom", fields[FieldError])
	}

	slice := fields.ToSlice()
	if len(slice) != len(fields)*2 {
		t.Errorf("ToSlice() len = %d, want %d", len(slice), len(fields)*2)
	}

	// A nil error must not add a field.
	n := len(NewFields().WithError(nil))
	if n != 0 {
		t.Errorf("WithError(nil) added %d fields, want 0", n)
	}
}

func TestMiddlewareInjectsLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, ComponentHTTP)

	var got *Logger
	handler := Middleware(logger)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got == nil || got.Component() != ComponentHTTP {
		t.Fatalf("FromContext returned wrong logger: %+v", got)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	logger := FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	if logger == nil {
		t.Fatal("FromContext returned nil for bare context")
	}
}

func TestStructuredLoggerHTTPEnd(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newBufferLogger(&buf, ComponentHTTP))

	r := httptest.NewRequest(http.MethodGet, "/weights?month=2021-03", nil)
	sl.LogHTTPEnd(r.Context(), r, http.StatusInternalServerError, 12, "10.0.0.1")

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") {
		t.Errorf("5xx completion should log at error level: %q", out)
	}
	if !strings.Contains(out, "status_code=500") {
		t.Errorf("output missing status code: %q", out)
	}
}
