// Command forecaster runs the moodcast hybrid forecasting pipeline.
//
// Each run:
//  1. Collects the daily target series (and optionally an exogenous series
//     such as temperature) through an adapter
//  2. Fits a seasonal ARIMA model and trains an attention LSTM on its residuals
//  3. Recombines both into a day-by-day forecast and scores the in-sample fit
//  4. Stores the snapshot for the HTTP API
//
// With -once the pipeline runs a single time and the snapshot is printed to
// stdout as JSON. Otherwise it runs every -interval and serves:
//   - GET /forecast/current?series=<name> - Latest forecast snapshot
//   - GET /healthz, /readyz - Liveness and readiness checks
//   - GET /metrics - Prometheus metrics endpoint
//   - gRPC health service on -grpc-listen
//
// Usage:
//
//	ADAPTER_PATH=mood.csv \
//	EXOG_ADAPTER=csv EXOG_PATH=temperature.csv \
//	forecaster -series=mood -horizon=7 -once
//
// Environment variables:
//
//	SERIES         - Target series name (default: mood)
//	ADAPTER        - Target adapter: csv, prometheus, victoriametrics, http
//	ADAPTER_*      - Target adapter settings (ADAPTER_PATH, ADAPTER_QUERY, ...)
//	EXOG_ADAPTER   - Exogenous series adapter (default: none)
//	EXOG_*         - Exogenous adapter settings
//	HORIZON        - Forecast horizon in days (default: 7)
//	INTERVAL       - Forecast loop interval (default: 24h)
//	SEED           - Random seed (default: 42)
//	CONFIG_FILE    - YAML pipeline hyperparameters
//	STORAGE        - memory or redis (default: memory)
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HatiCode/moodcast/cmd/forecaster/config"
	"github.com/HatiCode/moodcast/cmd/forecaster/logger"
	"github.com/HatiCode/moodcast/cmd/forecaster/metrics"
	"github.com/HatiCode/moodcast/cmd/forecaster/router"
	"github.com/HatiCode/moodcast/cmd/forecaster/store"
	"github.com/HatiCode/moodcast/pkg/httpx"
	"github.com/HatiCode/moodcast/pkg/hybrid"
	"github.com/HatiCode/moodcast/pkg/storage"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting moodcast forecaster",
		"version", version,
		"series", cfg.Series,
		"adapter", cfg.Adapter,
		"exog_adapter", cfg.ExogAdapter,
		"horizon_days", cfg.Horizon,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var err error
	if cfg.Once {
		err = runOnce(ctx, cfg, os.Stdout, logger)
	} else {
		err = serve(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("forecaster failed", "error", err)
		os.Exit(1)
	}
}

// runOnce runs the pipeline a single time and writes the snapshot to w.
func runOnce(ctx context.Context, cfg *config.Config, w io.Writer, logger *slog.Logger) error {
	target, exog, err := buildAdapters(cfg)
	if err != nil {
		return err
	}
	pipeline, err := hybrid.New(cfg.Pipeline.Options(logger)...)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	f := New(cfg.Series, target, exog, pipeline, storage.NewMemoryStore(), cfg.Horizon, logger, nil)
	snapshot, err := f.Tick(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}

// serve runs the forecast loop with the HTTP API and gRPC health service
// until ctx is canceled or a server fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	target, exog, err := buildAdapters(cfg)
	if err != nil {
		return err
	}
	pipeline, err := hybrid.New(cfg.Pipeline.Options(logger)...)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	st, err := store.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() {
		if err := store.Close(st); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	f := New(cfg.Series, target, exog, pipeline, st, cfg.Horizon, logger, metrics.New(cfg.Series, nil))

	healthSvc := newHealthService()
	f.OnStored(func(storage.Snapshot) { healthSvc.SetServing(true) })

	ready := func() error {
		if err := f.Ready(); err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return store.Ping(pingCtx, st)
	}

	// Snapshot is stale if older than 2x the interval
	mux := router.SetupRoutes(st, 2*cfg.Interval, ready, logger)
	handler := httpx.Chain(mux, httpx.LoggingMiddleware(logger), httpx.RecoveryMiddleware(logger))
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := f.Run(loopCtx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("forecast loop failed", "error", err)
		}
	}()

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()

	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			cancel()
			<-loopDone
			_ = httpServer.Stop(time.Second)
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			logger.Info("grpc health server listening", "address", cfg.GRPCListen)
			serverErr <- healthSvc.Serve(lis)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Error("server failed", "error", runErr)
		}
	}

	logger.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	healthSvc.Stop()
	<-loopDone

	logger.Info("shutdown complete")
	return runErr
}
