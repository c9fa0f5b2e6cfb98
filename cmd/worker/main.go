// Package main provides the entry point for the trade confirmation worker.
// The worker consumes document-uploaded events and sweeps expired workflow
// state; the HTTP API lives in cmd/server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clearlane/trade-confirmation-service/internal/agent"
	"github.com/clearlane/trade-confirmation-service/internal/config"
	"github.com/clearlane/trade-confirmation-service/internal/database"
	"github.com/clearlane/trade-confirmation-service/internal/events"
	"github.com/clearlane/trade-confirmation-service/internal/idempotency"
	"github.com/clearlane/trade-confirmation-service/internal/ingest"
	"github.com/clearlane/trade-confirmation-service/internal/observability"
	"github.com/clearlane/trade-confirmation-service/internal/orchestrator"
	"github.com/clearlane/trade-confirmation-service/internal/repository"
	"github.com/clearlane/trade-confirmation-service/internal/retention"
	"github.com/clearlane/trade-confirmation-service/internal/tracker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("trade-confirmation-service worker starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Create repositories and shared metrics.
	sessionRepo := repository.NewPgSessionRepository(db)
	resultRepo := repository.NewPgResultRepository(db)
	metrics := observability.NewMetrics("trade_confirmation")

	// The worker runs the same pipeline as the HTTP server, so consumed
	// documents and API submissions converge on identical sessions.
	invoker := agent.NewClient(cfg.Agents, logger, metrics)
	statusTracker := tracker.NewTracker(sessionRepo, logger, metrics)

	guard := idempotency.NewStoreGuard(cfg.Idempotency, resultRepo, logger, metrics)
	// Probe logs its own outcome; a degraded guard runs pass-through until
	// restart and must not abort startup.
	_ = guard.Probe(ctx)

	var publisher events.Publisher = events.NopPublisher{}
	var kafkaPublisher *events.KafkaPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher = events.NewKafkaPublisher(cfg.Kafka, logger, metrics)
		publisher = kafkaPublisher
	}

	orch := orchestrator.NewOrchestrator(invoker, statusTracker, guard, publisher, cfg.Workflow, logger, metrics)

	// Start the document-uploaded consumer if configured.
	if cfg.Ingest.Enabled {
		consumer := ingest.NewConsumer(cfg.Ingest, orch, logger, metrics)
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close ingest consumer")
			}
		}()

		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("ingest consumer error")
			}
		}()

		logger.Info().
			Str("topic", cfg.Ingest.Topic).
			Str("group_id", cfg.Ingest.GroupID).
			Int("workers", cfg.Ingest.Workers).
			Msg("ingest consumer started")
	}

	// Expose Prometheus metrics if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	// Run the retention sweeper in the foreground until shutdown.
	sweeper := retention.NewSweeper(db, cfg.Workflow.SweepInterval, logger, metrics)
	if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("retention sweeper error: %w", err)
	}

	logger.Info().Msg("worker stopped via signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error().Err(err).Msg("event publisher close error")
		}
	}

	return nil
}
