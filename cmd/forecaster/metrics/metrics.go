// Package metrics provides Prometheus metrics instrumentation for the forecaster.
//
// It exposes operational metrics about each pipeline run: how long the
// adapters and every pipeline stage took, which fallback (if any) was taken,
// how training went, and the latest forecast. All metrics are exposed via the
// /metrics HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - moodcast_adapter_collect_seconds: Histogram of series collection duration by adapter
//   - moodcast_stage_duration_seconds: Histogram of pipeline stage duration by stage
//   - moodcast_fallbacks_total: Counter of degraded runs by terminal stage
//   - moodcast_epochs_trained: Gauge of epochs run in the last training
//   - moodcast_best_val_loss: Gauge of the best validation loss of the last training
//   - moodcast_next_day_forecast: Gauge of the first forecast day
//   - moodcast_forecast_age_seconds: Gauge of current forecast age
//   - moodcast_errors_total: Counter of errors by component and reason
//
// All metrics carry the series label.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the forecaster.
type Metrics struct {
	AdapterCollectSeconds *prometheus.HistogramVec
	StageDurationSeconds  *prometheus.HistogramVec
	FallbacksTotal        *prometheus.CounterVec
	EpochsTrained         prometheus.Gauge
	BestValLoss           prometheus.Gauge
	NextDayForecast       prometheus.Gauge
	ForecastAgeSeconds    prometheus.Gauge
	ErrorsTotal           *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. A nil reg registers
// with the default registry.
func New(series string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"series": series}

	return &Metrics{
		AdapterCollectSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "moodcast_adapter_collect_seconds",
			Help:        "Time spent collecting a series from its adapter",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"adapter"}),

		// Training dominates; buckets reach into minutes.
		StageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "moodcast_stage_duration_seconds",
			Help:        "Time spent in each pipeline stage",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),

		FallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "moodcast_fallbacks_total",
			Help:        "Pipeline runs that ended in a fallback, by terminal stage",
			ConstLabels: labels,
		}, []string{"stage"}),

		EpochsTrained: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "moodcast_epochs_trained",
			Help:        "Epochs run by the last residual model training",
			ConstLabels: labels,
		}),

		BestValLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "moodcast_best_val_loss",
			Help:        "Best validation loss of the last residual model training",
			ConstLabels: labels,
		}),

		NextDayForecast: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "moodcast_next_day_forecast",
			Help:        "Forecast for the day after the series ends",
			ConstLabels: labels,
		}),

		ForecastAgeSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "moodcast_forecast_age_seconds",
			Help:        "Age of the current forecast in seconds",
			ConstLabels: labels,
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "moodcast_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

// RecordCollect records the time spent collecting from adapter.
func (m *Metrics) RecordCollect(adapter string, d time.Duration) {
	m.AdapterCollectSeconds.WithLabelValues(adapter).Observe(d.Seconds())
}

// RecordStage records the time spent in a pipeline stage.
func (m *Metrics) RecordStage(stage string, d time.Duration) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordFallback counts a run that ended in the given fallback stage.
func (m *Metrics) RecordFallback(stage string) {
	m.FallbacksTotal.WithLabelValues(stage).Inc()
}

// SetTraining records the outcome of a training run.
func (m *Metrics) SetTraining(epochs int, bestValLoss float64) {
	m.EpochsTrained.Set(float64(epochs))
	m.BestValLoss.Set(bestValLoss)
}

// SetNextDayForecast sets the latest next-day forecast.
func (m *Metrics) SetNextDayForecast(value float64) {
	m.NextDayForecast.Set(value)
}

// SetForecastAge sets the current forecast age.
func (m *Metrics) SetForecastAge(d time.Duration) {
	m.ForecastAgeSeconds.Set(d.Seconds())
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
