// Package ratelimit caps request rates per client IP using fixed
// one-minute windows.
package ratelimit

import (
	"sync"
	"time"
)

const staleAfter = 10 * time.Minute

// Config holds limiter settings.
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
	}
}

// window counts requests since its start; a request more than a minute after
// start opens a fresh window.
type window struct {
	start    time.Time
	requests int
}

// Limiter tracks per-IP request windows. A background sweep drops clients
// that have been idle long enough to be irrelevant.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int

	now func() time.Time

	stopSweep    chan struct{}
	shutdownOnce sync.Once
}

func NewLimiter(config Config) *Limiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}

	l := &Limiter{
		windows:   make(map[string]*window),
		limit:     config.RequestsPerMinute,
		now:       time.Now,
		stopSweep: make(chan struct{}),
	}
	go l.sweep(config.CleanupInterval)
	return l
}

// Allow reports whether one more request from clientIP fits its current
// window.
func (l *Limiter) Allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[clientIP]
	if !ok || now.Sub(w.start) > time.Minute {
		l.windows[clientIP] = &window{start: now, requests: 1}
		return true
	}

	w.requests++
	return w.requests <= l.limit
}

// ActiveClients returns the number of tracked clients, stale or not.
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Stop halts the background sweep. Safe to call more than once.
func (l *Limiter) Stop() {
	l.shutdownOnce.Do(func() {
		close(l.stopSweep)
	})
}

func (l *Limiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.dropStale()
		case <-l.stopSweep:
			return
		}
	}
}

func (l *Limiter) dropStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-staleAfter)
	for ip, w := range l.windows {
		if w.start.Before(cutoff) {
			delete(l.windows, ip)
		}
	}
}
