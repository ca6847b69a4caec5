package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	httpadapter "github.com/couchcryptid/station-forecast-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/station-forecast-service/internal/adapter/kafka"
	"github.com/couchcryptid/station-forecast-service/internal/adapter/ws"
	"github.com/couchcryptid/station-forecast-service/internal/config"
	"github.com/couchcryptid/station-forecast-service/internal/observability"
	"github.com/couchcryptid/station-forecast-service/internal/pipeline"
	"github.com/couchcryptid/station-forecast-service/internal/store"
)

func main() {
	// Load .env when present; deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	readings := store.NewReadingStore(cfg.StationMaxReadings)
	cache := store.NewSnapshotCache(cfg.ForecastCacheSize, cfg.ForecastCacheTTL)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	hub := ws.NewHub(logger, metrics)

	p := pipeline.New(reader, writer, hub, readings, cache, logger, metrics, cfg)

	srv := httpadapter.NewServer(cfg.HTTPAddr, cfg.DefaultHorizon, p, readings, hub, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Fan freshly computed snapshots out to WebSocket subscribers.
	go hub.Run(ctx)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingest/forecast pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

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
}
