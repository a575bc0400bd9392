package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"cpiweights/internal/backend"
	"cpiweights/internal/cache"
	"cpiweights/internal/core"
	applog "cpiweights/internal/log"
	"cpiweights/internal/middleware/ratelimit"
	"cpiweights/internal/middleware/security"
	"cpiweights/internal/middleware/trace"
	"cpiweights/internal/services"
)

const (
	// maxRangeMonths bounds /weights/range so a single request cannot ask
	// for centuries of recomputation.
	maxRangeMonths = 120

	computeTimeout = 15 * time.Second
	readyTimeout   = 5 * time.Second
)

// Server exposes the weight tables over a JSON API. Computed weights are
// served from an LRU cache; on a miss the month is recomputed through the
// shared Recomputer, which also persists the result.
type Server struct {
	http.Server

	backend    backend.Backend
	recomputer *services.Recomputer
	tolerance  float64

	limiter *ratelimit.Limiter
	tracer  *trace.Middleware

	weightsCache *cache.LRUCache[core.MonthWeights]
	groupsCache  *cache.LRUCache[[]core.CategoryGroup]
	cacheManager *cache.Manager

	logs *applog.StructuredLogger

	metrics      *appMetrics
	shutdownOnce sync.Once
}

// appMetrics tracks request-independent application counters for /metrics.
type appMetrics struct {
	startedAt     time.Time
	totalComputes int64
	cacheHits     int64
	cacheMisses   int64
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. tolerance is the coverage tolerance reported by /coverage.
func NewServer(addr string, b backend.Backend, rec *services.Recomputer, tolerance float64) *Server {
	mux := http.NewServeMux()

	headersConfig := security.DefaultHeadersConfig()
	// JSON API: nothing is ever rendered, so lock the CSP down entirely.
	headersConfig.CSP = "default-src 'none'; frame-ancestors 'none'"

	logger := applog.New(applog.Config{
		Component: applog.ComponentHTTP,
		Handler:   slog.Default().Handler(),
	})

	s := &Server{
		backend:      b,
		recomputer:   rec,
		tolerance:    tolerance,
		limiter:      ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		tracer:       trace.NewMiddleware(clientIP),
		weightsCache: cache.NewLRUCache[core.MonthWeights](240, 5*time.Minute),
		groupsCache:  cache.NewLRUCache[[]core.CategoryGroup](1, 5*time.Minute),
		cacheManager: cache.NewManager(),
		logs:         applog.NewStructuredLogger(logger),
		metrics:      &appMetrics{startedAt: time.Now()},
	}

	s.cacheManager.Register(s.weightsCache)
	s.cacheManager.Register(s.groupsCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/metrics", s.getOnly(s.handleMetrics))
	mux.HandleFunc("/weights", s.getOnly(s.handleWeights))
	mux.HandleFunc("/weights/range", s.getOnly(s.handleWeightsRange))
	mux.HandleFunc("/coverage", s.getOnly(s.handleCoverage))
	mux.HandleFunc("/categories", s.getOnly(s.handleCategories))
	mux.HandleFunc("/series/rebased", s.getOnly(s.handleRebasedSeries))
	mux.HandleFunc("/observations", s.postOnly(s.handleCreateObservation))
	mux.HandleFunc("/anchors", s.postOnly(s.handleCreateAnchor))

	headers := security.NewHeadersMiddleware(headersConfig)
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.tracer.Middleware(applog.Middleware(logger)(headers.Middleware(mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}

// postOnly restricts a route to POST and rate-limits it per client.
func (s *Server) postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		ip := clientIP(r)
		if !s.limiter.Allow(ip) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
				applog.FieldClientIP, ip,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// monthWeights returns the weights for a month, preferring the cache, then
// the stored result, then a fresh recompute. The recompute path persists the
// result through the backend before it is cached.
func (s *Server) monthWeights(ctx context.Context, m core.Month) (core.MonthWeights, error) {
	key := m.String()
	if mw, found := s.weightsCache.Get(key); found {
		atomic.AddInt64(&s.metrics.cacheHits, 1)
		applog.FromContext(ctx).DebugContext(ctx, "Weights cache hit", applog.FieldMonth, key)
		return mw, nil
	}
	atomic.AddInt64(&s.metrics.cacheMisses, 1)

	mw, err := s.backend.ReadMonthWeights(ctx, m)
	if err != nil {
		if s.recomputer == nil {
			return core.MonthWeights{}, err
		}
		cctx, cancel := context.WithTimeout(ctx, computeTimeout)
		defer cancel()
		mw, err = s.recomputer.RecomputeMonth(cctx, m)
		if err != nil {
			return core.MonthWeights{}, err
		}
		atomic.AddInt64(&s.metrics.totalComputes, 1)
		s.logs.LogMonthRecomputed(ctx, key, mw.Month.AnchorYear(), mw.Coverage.Total, len(mw.Coverage.Skipped))
	}

	s.weightsCache.Set(key, mw)
	return mw, nil
}

// invalidateMonths drops cached results for every month an ingest can have
// changed.
func (s *Server) invalidateMonths(months []core.Month) {
	for _, m := range months {
		s.weightsCache.Delete(m.String())
	}
}
