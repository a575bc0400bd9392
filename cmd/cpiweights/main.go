package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"cpiweights/internal/backend"
	"cpiweights/internal/cli"
	apphttp "cpiweights/internal/http"
	"cpiweights/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}

	factory := backend.NewFactory(logger.Logger)
	result, err := factory.CreateBackend(context.Background(), backendConfig)
	if err != nil {
		logger.Error("Failed to create backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	recomputer := services.NewRecomputer(
		result.Backend, result.Backend, result.Backend,
		cli.PropagatorConfig(cfg),
	)

	// The sqlite backend carries a recompute queue; drain it in-process so
	// ingests propagate even when no worker or broker is running.
	var processor *services.RecomputeProcessor
	if result.Repository != nil {
		processorConfig := services.DefaultRecomputeProcessorConfig()
		processorConfig.BatchSize = cfg.RecomputeBatchSize
		processorConfig.PollInterval = cfg.RecomputeInterval
		processor = services.NewRecomputeProcessor(result.Repository, recomputer, processorConfig)
		if err := processor.Start(context.Background()); err != nil {
			logger.Error("Failed to start recompute processor", "error", err)
			os.Exit(1)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, result.Backend, recomputer, cfg.CoverageTolerance)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if processor != nil {
			if err := processor.Stop(shutdownCtx); err != nil {
				logger.Error("Recompute processor stop error", "error", err)
			}
		}
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", "error", err)
			}
		}
	})

	logger.Info("Starting cpiweights server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
