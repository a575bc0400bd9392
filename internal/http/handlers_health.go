package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.startedAt).String(),
	}
	writeJSON(w, http.StatusOK, health)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	// The group table is the cheapest read every backend supports.
	if _, err := s.backend.ReadGroups(ctx); err != nil {
		checks["tables"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["tables"] = "ok"
	}

	if s.recomputer == nil {
		checks["recomputer"] = "not_configured"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["recomputer"] = "ok"
	}

	checks["cache"] = map[string]interface{}{
		"weights_entries": s.weightsCache.Size(),
		"groups_entries":  s.groupsCache.Size(),
		"status":          "ok",
	}
	checks["rate_limiter"] = map[string]interface{}{
		"active_clients": s.limiter.ActiveClients(),
		"status":         "ok",
	}

	writeJSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.tracer.GetMetrics()

	totalComputes := atomic.LoadInt64(&s.metrics.totalComputes)
	cacheHits := atomic.LoadInt64(&s.metrics.cacheHits)
	cacheMisses := atomic.LoadInt64(&s.metrics.cacheMisses)
	uptime := time.Since(s.metrics.startedAt)

	hitRate := 0.0
	if cacheHits+cacheMisses > 0 {
		hitRate = float64(cacheHits) / float64(cacheHits+cacheMisses) * 100
	}

	fmt.Fprintf(w, "# Application metrics\n")
	fmt.Fprintf(w, "uptime_seconds %d\n", int64(uptime.Seconds()))
	fmt.Fprintf(w, "weights_computes_total %d\n", totalComputes)
	fmt.Fprintf(w, "weights_cache_hits_total %d\n", cacheHits)
	fmt.Fprintf(w, "weights_cache_misses_total %d\n", cacheMisses)
	fmt.Fprintf(w, "weights_cache_hit_rate_percent %.1f\n", hitRate)
	fmt.Fprintf(w, "weights_cache_entries %d\n", s.weightsCache.Size())
	fmt.Fprintf(w, "\n# HTTP metrics\n")
	fmt.Fprintf(w, "http_requests_total %d\n", traceMetrics.TotalRequests)
	fmt.Fprintf(w, "http_response_time_avg_us %d\n", traceMetrics.AverageResponseTime)
	fmt.Fprintf(w, "\n# Rate limiting\n")
	fmt.Fprintf(w, "rate_limit_active_clients %d\n", s.limiter.ActiveClients())
}
