package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cpiweights/internal/core"
	"cpiweights/internal/storage"
)

// MonthRecomputer is what the processor needs from the Recomputer.
type MonthRecomputer interface {
	RecomputeMonth(ctx context.Context, m core.Month) (core.MonthWeights, error)
}

// RecomputeProcessorConfig holds configuration for the queue processor.
type RecomputeProcessorConfig struct {
	// PollInterval is how often to check for pending months (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of months to process per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the maximum attempts before a month is parked in error state (default: 3)
	MaxRetries int

	// CleanupInterval is how often to clean up completed tasks (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed tasks must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

// DefaultRecomputeProcessorConfig returns sensible defaults.
func DefaultRecomputeProcessorConfig() RecomputeProcessorConfig {
	return RecomputeProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// RecomputeProcessor drains the SQLite recompute queue. It is the fallback
// path behind the AMQP worker: months enqueued while the broker was down are
// still picked up here.
type RecomputeProcessor struct {
	storage    *storage.SQLiteRepository
	recomputer MonthRecomputer
	config     RecomputeProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRecomputeProcessor(
	storage *storage.SQLiteRepository,
	recomputer MonthRecomputer,
	config RecomputeProcessorConfig,
) *RecomputeProcessor {
	return &RecomputeProcessor{
		storage:    storage,
		recomputer: recomputer,
		config:     config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *RecomputeProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("recompute processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Return tasks stranded in processing by a previous crash.
	if err := p.storage.ResetStaleRecomputes(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale recompute tasks", "error", err)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Recompute processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *RecomputeProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Recompute processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Recompute processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running.
func (p *RecomputeProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RecomputeProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Process immediately on startup.
	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.ProcessBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanupCompleted(ctx)
		}
	}
}

// ProcessBatch claims and processes one batch of pending months. It returns
// the number of months that recomputed successfully.
func (p *RecomputeProcessor) ProcessBatch(ctx context.Context) int {
	tasks, err := p.storage.ClaimPendingRecomputes(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to claim recompute batch", "error", err)
		return 0
	}

	if len(tasks) == 0 {
		return 0
	}

	slog.DebugContext(ctx, "Processing recompute batch", "count", len(tasks))

	processed := 0
	for _, task := range tasks {
		select {
		case <-p.stopCh:
			return processed
		case <-ctx.Done():
			return processed
		default:
		}

		if _, err := p.recomputer.RecomputeMonth(ctx, task.Month); err != nil {
			p.handleFailure(ctx, task, err)
			continue
		}

		if err := p.storage.MarkRecomputeCompleted(ctx, task.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark recompute completed",
				"id", task.ID, "month", task.Month.String(), "error", err)
			continue
		}
		processed++
	}
	return processed
}

func (p *RecomputeProcessor) handleFailure(ctx context.Context, task storage.RecomputeTask, processErr error) {
	slog.WarnContext(ctx, "Recompute failed",
		"id", task.ID,
		"month", task.Month.String(),
		"attempt", task.Attempts,
		"error", processErr)

	if err := p.storage.MarkRecomputeFailed(ctx, task.ID, p.config.MaxRetries); err != nil {
		slog.ErrorContext(ctx, "Failed to mark recompute failed",
			"id", task.ID, "error", err)
		return
	}

	if int(task.Attempts) >= p.config.MaxRetries {
		slog.ErrorContext(ctx, "Month recompute failed permanently after max retries",
			"id", task.ID,
			"month", task.Month.String(),
			"attempts", task.Attempts)
	}
}

func (p *RecomputeProcessor) cleanupCompleted(ctx context.Context) {
	n, err := p.storage.CleanupCompletedRecomputes(ctx, p.config.CleanupAge)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup recompute queue", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Cleaned up completed recompute tasks", "count", n)
	}
}
