package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cpiweights/internal/amqp"
	"cpiweights/internal/core"
	"cpiweights/internal/storage"
)

// WeightService orchestrates table ingestion across SQLite and AMQP. Writes
// land in SQLite first; the months they invalidate are enqueued for
// recomputation and announced on the broker, and neither failure mode ever
// loses the write itself.
type WeightService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
}

func NewWeightService(storage *storage.SQLiteRepository, amqpClient *amqp.Client) *WeightService {
	return &WeightService{
		storage:    storage,
		amqpClient: amqpClient,
	}
}

// AddObservation stores a price-index observation and schedules recomputation
// of every month whose weights depend on it.
func (s *WeightService) AddObservation(ctx context.Context, o core.Observation) (string, error) {
	ref, err := s.storage.AppendObservation(ctx, o)
	if err != nil {
		return "", fmt.Errorf("save observation: %w", err)
	}

	months, err := s.dependentMonths(ctx, o.Month)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to resolve dependent months",
			"month", o.Month.String(), "error", err)
		months = []core.Month{o.Month}
	}
	s.scheduleRecomputes(ctx, months, "observation added")

	return ref, nil
}

// AddAnchor stores an annual anchor weight and schedules recomputation of the
// months it anchors.
func (s *WeightService) AddAnchor(ctx context.Context, a core.AnchorWeight) (string, error) {
	ref, err := s.storage.AppendAnchor(ctx, a)
	if err != nil {
		return "", fmt.Errorf("save anchor weight: %w", err)
	}

	// An anchor for year Y covers December Y and the eleven months that use
	// December Y as their base.
	from := core.NewMonth(a.Year, time.December)
	to := core.NewMonth(a.Year+1, time.November)
	months, err := s.observedMonths(ctx, from, to)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to resolve anchored months",
			"anchor_year", a.Year, "error", err)
		months = nil
	}
	s.scheduleRecomputes(ctx, months, "anchor weight added")

	return ref, nil
}

// dependentMonths lists the months whose weights must be recomputed after an
// observation at m changed: m itself, plus the months based on m when m is a
// December. Only months that actually have observations are returned.
func (s *WeightService) dependentMonths(ctx context.Context, m core.Month) ([]core.Month, error) {
	months := []core.Month{m}
	if !m.IsAnchor() {
		return months, nil
	}

	from := core.NewMonth(m.Year+1, time.January)
	to := core.NewMonth(m.Year+1, time.November)
	observed, err := s.observedMonths(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return append(months, observed...), nil
}

// observedMonths returns the distinct months in [from, to] that have at least
// one observation, in calendar order.
func (s *WeightService) observedMonths(ctx context.Context, from, to core.Month) ([]core.Month, error) {
	obs, err := s.storage.ReadSeries(ctx, from, to)
	if err != nil {
		return nil, err
	}
	seen := make(map[core.Month]bool)
	var months []core.Month
	for _, o := range obs {
		if !seen[o.Month] {
			seen[o.Month] = true
			months = append(months, o.Month)
		}
	}
	return months, nil
}

func (s *WeightService) scheduleRecomputes(ctx context.Context, months []core.Month, reason string) {
	for _, m := range months {
		if err := s.storage.EnqueueRecompute(ctx, m, reason); err != nil {
			slog.ErrorContext(ctx, "Failed to enqueue recompute",
				"month", m.String(), "error", err)
			continue
		}
		if err := s.publishRecompute(ctx, m, reason); err != nil {
			slog.ErrorContext(ctx, "Failed to publish recompute message",
				"month", m.String(), "error", err)
			// The queue row survives, the poller will pick it up.
		}
	}
}

func (s *WeightService) publishRecompute(ctx context.Context, m core.Month, reason string) error {
	if s.amqpClient == nil {
		slog.DebugContext(ctx, "AMQP client not available, relying on queue polling")
		return nil
	}
	return s.amqpClient.PublishRecompute(ctx, m, reason)
}

// Close closes both storage and AMQP connections.
func (s *WeightService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close weight service: %v", errs)
	}

	return nil
}
