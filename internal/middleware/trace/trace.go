// Package trace assigns request IDs and logs the start and completion of
// every HTTP request, keeping lightweight aggregate counters for /metrics.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

type contextKey string

// RequestIDKey is the context key under which the request ID is stored.
const RequestIDKey contextKey = "request_id"

// Middleware wraps handlers with request tracing.
type Middleware struct {
	extractIP func(*http.Request) string

	totalRequests int64
	avgResponseUS int64
}

// Metrics is a snapshot of the middleware's counters.
type Metrics struct {
	TotalRequests       int64
	AverageResponseTime int64 // microseconds
}

func NewMiddleware(extractIP func(*http.Request) string) *Middleware {
	return &Middleware{extractIP: extractIP}
}

// Middleware returns the wrapping handler.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := GenerateRequestID()

		ip := ""
		if m.extractIP != nil {
			ip = m.extractIP(r)
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "HTTP request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"client_ip", ip,
			"user_agent", r.Header.Get("User-Agent"))

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		m.record(duration)

		slog.Log(ctx, levelFor(sw.status), "HTTP request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status_code", sw.status,
			"duration_ms", duration.Milliseconds(),
			"client_ip", ip,
			"success", sw.status < 400)
	})
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// record folds one request's duration into the running average. The CAS loop
// keeps concurrent requests from losing each other's updates.
func (m *Middleware) record(d time.Duration) {
	n := atomic.AddInt64(&m.totalRequests, 1)
	us := d.Microseconds()
	for {
		prev := atomic.LoadInt64(&m.avgResponseUS)
		if atomic.CompareAndSwapInt64(&m.avgResponseUS, prev, prev+(us-prev)/n) {
			return
		}
	}
}

// GetMetrics returns a snapshot of the counters.
func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:       atomic.LoadInt64(&m.totalRequests),
		AverageResponseTime: atomic.LoadInt64(&m.avgResponseUS),
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// GenerateRequestID returns a short random request identifier.
func GenerateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// GetRequestID extracts the request ID from a request context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
