// This file contains the Forecaster type which drives one pipeline run per
// tick:
//
//	collect target (+ exog) → hybrid pipeline → accuracy → store snapshot
//
// The Forecaster runs continuously via Run(), executing Tick() at regular
// intervals. Each tick replaces the stored snapshot served over HTTP.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HatiCode/moodcast/cmd/forecaster/metrics"
	"github.com/HatiCode/moodcast/pkg/accuracy"
	"github.com/HatiCode/moodcast/pkg/adapters"
	"github.com/HatiCode/moodcast/pkg/hybrid"
	"github.com/HatiCode/moodcast/pkg/series"
	"github.com/HatiCode/moodcast/pkg/storage"
	"github.com/HatiCode/moodcast/pkg/train"
)

// Pipeline generates a forecast from a target and optional exogenous series.
// *hybrid.Forecaster implements it.
type Pipeline interface {
	Generate(ctx context.Context, target series.Series, exog map[string]series.Series, horizon int) (*hybrid.Result, error)
}

// Forecaster orchestrates the forecast loop: collect → forecast → store.
type Forecaster struct {
	series   string
	target   adapters.Adapter
	exog     adapters.Adapter
	pipeline Pipeline
	store    storage.Store
	horizon  int
	logger   *slog.Logger
	metrics  *metrics.Metrics

	onStored func(storage.Snapshot)

	mu       sync.Mutex
	lastGood time.Time
}

// New creates a new Forecaster. exog and m may be nil.
func New(
	name string,
	target, exog adapters.Adapter,
	pipeline Pipeline,
	store storage.Store,
	horizon int,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}

	return &Forecaster{
		series:   name,
		target:   target,
		exog:     exog,
		pipeline: pipeline,
		store:    store,
		horizon:  horizon,
		logger:   logger,
		metrics:  m,
	}
}

// OnStored registers fn to be called after every stored snapshot.
func (f *Forecaster) OnStored(fn func(storage.Snapshot)) {
	f.onStored = fn
}

// Run executes the forecast loop at regular intervals.
// Blocks until context is canceled.
func (f *Forecaster) Run(ctx context.Context, interval time.Duration) error {
	f.logger.Info("starting forecast loop", "interval", interval, "horizon_days", f.horizon)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := f.Tick(ctx); err != nil {
		f.logger.Error("initial forecast tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("forecast loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := f.Tick(ctx); err != nil {
				f.logger.Error("forecast tick failed", "error", err)
			}
		}
	}
}

// Tick performs one forecast cycle and returns the stored snapshot.
func (f *Forecaster) Tick(ctx context.Context) (storage.Snapshot, error) {
	start := time.Now()
	f.updateAge(start)

	target, err := f.collect(ctx, f.target)
	if err != nil {
		f.recordError("adapter", "collect_failed")
		return storage.Snapshot{}, fmt.Errorf("collect %s: %w", f.target.Name(), err)
	}

	var exog map[string]series.Series
	if f.exog != nil {
		s, err := f.collect(ctx, f.exog)
		switch {
		case err == nil:
			exog = map[string]series.Series{s.Name: s}
		case ctx.Err() != nil:
			return storage.Snapshot{}, ctx.Err()
		default:
			// The exogenous series is optional; forecast without it.
			f.recordError("exog", "collect_failed")
			f.logger.Warn("exogenous series unavailable", "adapter", f.exog.Name(), "error", err)
		}
	}

	res, err := f.pipeline.Generate(ctx, target, exog, f.horizon)
	if err != nil {
		f.recordError("pipeline", failureReason(err))
		return storage.Snapshot{}, fmt.Errorf("forecast: %w", err)
	}
	f.recordResult(res)

	snapshot := newSnapshot(f.series, res, time.Now().UTC())
	if snapshot.Accuracy == nil && len(res.History) > 0 {
		f.logger.Debug("accuracy undefined for history", "rows", len(res.History))
	}

	if err := f.store.Put(ctx, snapshot); err != nil {
		f.recordError("store", "put_failed")
		return storage.Snapshot{}, fmt.Errorf("store: %w", err)
	}

	f.mu.Lock()
	f.lastGood = snapshot.GeneratedAt
	f.mu.Unlock()
	if f.metrics != nil {
		f.metrics.SetForecastAge(0)
	}
	if f.onStored != nil {
		f.onStored(snapshot)
	}

	attrs := []any{
		"series", f.series,
		"stage", snapshot.Stage,
		"order", snapshot.Order,
		"history_rows", len(snapshot.History),
		"future_rows", len(snapshot.Future),
		"total_ms", time.Since(start).Milliseconds(),
	}
	if next, ok := res.NextDay(); ok {
		attrs = append(attrs, "next_day", next.Date.Format(time.DateOnly), "next_forecast", next.Forecast)
	}
	f.logger.Info("forecast tick complete", attrs...)

	return snapshot, nil
}

// collect retrieves one series from an adapter.
func (f *Forecaster) collect(ctx context.Context, a adapters.Adapter) (series.Series, error) {
	start := time.Now()

	s, err := a.Collect(ctx)
	if err != nil {
		return series.Series{}, err
	}

	duration := time.Since(start)
	if f.metrics != nil {
		f.metrics.RecordCollect(a.Name(), duration)
	}

	f.logger.Info("collected series",
		"adapter", a.Name(),
		"series", s.Name,
		"days", s.Len(),
		"duration_ms", duration.Milliseconds(),
	)

	return s, nil
}

func (f *Forecaster) recordResult(res *hybrid.Result) {
	if f.metrics == nil {
		return
	}
	for stage, d := range res.Timings {
		f.metrics.RecordStage(stage.String(), d)
	}
	if res.Stage.Fallback() {
		f.metrics.RecordFallback(res.Stage.String())
	}
	if res.BestEpoch >= 0 && res.BestEpoch < len(res.ValLosses) {
		f.metrics.SetTraining(len(res.ValLosses), res.ValLosses[res.BestEpoch])
	}
	if next, ok := res.NextDay(); ok {
		f.metrics.SetNextDayForecast(next.Forecast)
	}
}

func (f *Forecaster) recordError(component, reason string) {
	if f.metrics != nil {
		f.metrics.RecordError(component, reason)
	}
}

func (f *Forecaster) updateAge(now time.Time) {
	f.mu.Lock()
	last := f.lastGood
	f.mu.Unlock()
	if f.metrics != nil && !last.IsZero() {
		f.metrics.SetForecastAge(now.Sub(last))
	}
}

// Ready reports an error until the first snapshot has been stored.
func (f *Forecaster) Ready() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastGood.IsZero() {
		return errors.New("no forecast stored yet")
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, train.ErrTrainingDiverged):
		return "training_diverged"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, series.ErrEmpty):
		return "empty_series"
	default:
		return "generate_failed"
	}
}

// newSnapshot converts a pipeline result into its stored form.
func newSnapshot(name string, res *hybrid.Result, now time.Time) storage.Snapshot {
	s := storage.Snapshot{
		Series:      name,
		GeneratedAt: now,
		Stage:       res.Stage.String(),
		Order:       res.SeasonalOrder,
		TrainLosses: res.TrainLosses,
		ValLosses:   res.ValLosses,
		BestEpoch:   res.BestEpoch,
		History:     make([]storage.HistoryPoint, len(res.History)),
		Future:      make([]storage.ForecastPoint, len(res.Future)),
	}
	if res.Cause != nil {
		s.Cause = res.Cause.Error()
	}
	for i, row := range res.History {
		s.History[i] = storage.HistoryPoint{
			Date:     row.Date,
			Actual:   row.Actual,
			Seasonal: row.SeasonalPred,
			Hybrid:   row.HybridPred,
		}
	}
	for i, row := range res.Future {
		s.Future[i] = storage.ForecastPoint{
			Date:     row.Date,
			Forecast: row.Forecast,
			Seasonal: row.SeasonalForecast,
		}
	}

	if cmp, err := accuracy.Compare(res.History); err == nil && cmp.Finite() {
		s.Accuracy = &cmp
	}
	return s
}
