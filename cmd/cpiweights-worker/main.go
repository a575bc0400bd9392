package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cpiweights/internal/amqp"
	"cpiweights/internal/cli"
	"cpiweights/internal/services"
	"cpiweights/internal/tables"
	gsheet "cpiweights/internal/tables/google"
	"cpiweights/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting cpiweights-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer sqliteRepo.Close()

	// Optional Google Sheets mirror: recomputed months are appended to the
	// year's weights sheet alongside the SQLite store.
	var mirror tables.WeightWriter
	if cfg.GoogleSpreadsheetID != "" {
		sheetsClient, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		mirror = sheetsClient
		logger.Info("Google Sheets mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets mirror disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	recomputer := services.NewRecomputer(
		sqliteRepo, sqliteRepo, sqliteRepo,
		cli.PropagatorConfig(cfg),
	)
	recomputeWorker := worker.NewRecomputeWorker(sqliteRepo, recomputer, mirror, cfg.RecomputeBatchSize)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Recover months that were enqueued while the worker was down.
	logger.Info("Performing startup recompute check...")
	if err := recomputeWorker.StartupRecomputeCheck(ctx); err != nil {
		logger.Error("Startup recompute check failed", "error", err)
		// Don't exit - continue with normal operation
	}

	go func() {
		handler := func(msg *amqp.RecomputeMessage) error {
			return recomputeWorker.HandleRecomputeMessage(ctx, msg)
		}
		if err := amqpClient.ConsumeRecompute(ctx, handler); err != nil {
			if err != context.Canceled {
				logger.Error("Message consumption failed", "error", err)
			}
			cancel()
		}
	}()

	// Periodic queue drain for recompute requests whose messages were lost.
	ticker := time.NewTicker(cfg.RecomputeInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := recomputeWorker.ProcessPendingMonths(ctx); err != nil {
					logger.Error("Periodic recompute failed", "error", err)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down worker...")
	cancel()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(5 * time.Second):
		logger.Info("Worker shutdown complete")
	}
}
