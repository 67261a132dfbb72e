package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/ais-track-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/ais-track-etl/internal/adapter/kafka"
	"github.com/couchcryptid/ais-track-etl/internal/adapter/s2grid"
	"github.com/couchcryptid/ais-track-etl/internal/config"
	"github.com/couchcryptid/ais-track-etl/internal/domain"
	"github.com/couchcryptid/ais-track-etl/internal/observability"
	"github.com/couchcryptid/ais-track-etl/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	var grid domain.GridIndexer = s2grid.NewIndex()
	if cfg.GridCacheSize > 0 {
		grid = s2grid.NewCachedIndex(grid, cfg.GridCacheSize, metrics)
		logger.Info("grid cache enabled", "cache_size", cfg.GridCacheSize)
	}

	tcfg := cfg.Transformer()
	logger.Info("track transform configured",
		"max_interval_s", tcfg.MaxInterval,
		"grid_level", tcfg.GridLevel,
		"min_score", tcfg.MinScore,
		"max_score", tcfg.MaxScore,
		"normalization", tcfg.Normalization,
	)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(grid, tcfg, metrics, logger)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize,
		pipeline.WithFlushTimeout(cfg.ShutdownTimeout))

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline. It flushes the pending point on cancellation, so
	// the Kafka clients stay open until Run returns.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(runCtx) }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		cancelRun()
		runErr = <-errCh
	case runErr = <-errCh:
	}

	exitCode := 0
	if runErr != nil {
		logger.Error("pipeline error", "error", runErr)
		exitCode = 1
		if errors.Is(runErr, domain.ErrOutOfOrder) {
			logger.Error("source topic is not sorted by timestamp within each vessel")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
	return exitCode
}
