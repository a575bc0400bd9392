package worker

import (
	"context"
	"fmt"
	"log/slog"

	"cpiweights/internal/amqp"
	"cpiweights/internal/core"
	"cpiweights/internal/services"
	"cpiweights/internal/storage"
	"cpiweights/internal/tables"
)

// RecomputeWorker consumes recompute messages and keeps the stored weights
// current. Recomputed months are optionally mirrored to a secondary sink
// (the Google Sheets weights sheet) for people who live in spreadsheets.
type RecomputeWorker struct {
	storage    *storage.SQLiteRepository
	recomputer services.MonthRecomputer
	mirror     tables.WeightWriter
	batchSize  int
}

func NewRecomputeWorker(
	storage *storage.SQLiteRepository,
	recomputer services.MonthRecomputer,
	mirror tables.WeightWriter,
	batchSize int,
) *RecomputeWorker {
	return &RecomputeWorker{
		storage:    storage,
		recomputer: recomputer,
		mirror:     mirror,
		batchSize:  batchSize,
	}
}

// HandleRecomputeMessage processes a single recompute message from AMQP.
func (w *RecomputeWorker) HandleRecomputeMessage(ctx context.Context, msg *amqp.RecomputeMessage) error {
	m, err := msg.ParseMonth()
	if err != nil {
		return fmt.Errorf("parse month %q: %w", msg.Month, err)
	}

	slog.InfoContext(ctx, "Processing recompute message",
		"month", msg.Month,
		"reason", msg.Reason)

	if err := w.recomputeMonth(ctx, m); err != nil {
		return err
	}

	// The same month usually sits in the SQLite queue too; settle it so the
	// poller does not repeat the work.
	if err := w.storage.CompleteRecomputesForMonth(ctx, m); err != nil {
		slog.WarnContext(ctx, "Failed to settle queue entries",
			"month", m.String(), "error", err)
	}

	return nil
}

// ProcessPendingMonths drains up to batchSize queued months. It is the
// backup mechanism for recompute requests whose AMQP messages were lost.
func (w *RecomputeWorker) ProcessPendingMonths(ctx context.Context) error {
	tasks, err := w.storage.ClaimPendingRecomputes(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("claim pending recomputes: %w", err)
	}

	if len(tasks) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending months", "count", len(tasks))

	for _, task := range tasks {
		if err := w.recomputeMonth(ctx, task.Month); err != nil {
			slog.ErrorContext(ctx, "Failed to recompute pending month",
				"month", task.Month.String(), "error", err)
			if err := w.storage.MarkRecomputeFailed(ctx, task.ID, defaultMaxAttempts); err != nil {
				slog.ErrorContext(ctx, "Failed to mark recompute failed",
					"id", task.ID, "error", err)
			}
			continue
		}
		if err := w.storage.MarkRecomputeCompleted(ctx, task.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark recompute completed",
				"id", task.ID, "error", err)
		}
	}

	return nil
}

// StartupRecomputeCheck recovers months that were enqueued while the worker
// was down or whose messages were missed.
func (w *RecomputeWorker) StartupRecomputeCheck(ctx context.Context) error {
	if err := w.storage.ResetStaleRecomputes(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale recompute tasks", "error", err)
	}

	tasks, err := w.storage.ClaimPendingRecomputes(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("claim pending recomputes for startup check: %w", err)
	}

	if len(tasks) == 0 {
		slog.InfoContext(ctx, "No pending months found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending months on startup, processing...",
		"count", len(tasks))

	successCount := 0
	errorCount := 0

	for _, task := range tasks {
		if err := w.recomputeMonth(ctx, task.Month); err != nil {
			slog.ErrorContext(ctx, "Failed to recompute month during startup",
				"month", task.Month.String(), "error", err)
			if err := w.storage.MarkRecomputeFailed(ctx, task.ID, defaultMaxAttempts); err != nil {
				slog.ErrorContext(ctx, "Failed to mark recompute failed",
					"id", task.ID, "error", err)
			}
			errorCount++
			continue
		}
		if err := w.storage.MarkRecomputeCompleted(ctx, task.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark recompute completed",
				"id", task.ID, "error", err)
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup recompute completed",
		"total", len(tasks),
		"recomputed", successCount,
		"errors", errorCount)

	return nil
}

const defaultMaxAttempts = 3

func (w *RecomputeWorker) recomputeMonth(ctx context.Context, m core.Month) error {
	mw, err := w.recomputer.RecomputeMonth(ctx, m)
	if err != nil {
		return fmt.Errorf("recompute %s: %w", m, err)
	}

	if w.mirror != nil {
		if err := w.mirror.WriteMonthWeights(ctx, mw); err != nil {
			// The primary store already has the result; the mirror catches
			// up on the next recompute.
			slog.WarnContext(ctx, "Failed to mirror weights",
				"month", m.String(), "error", err)
		}
	}

	return nil
}
