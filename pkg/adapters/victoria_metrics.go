package adapters

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/HatiCode/moodcast/pkg/series"
)

// VictoriaMetricsAdapter fetches a daily series from VictoriaMetrics via its
// Prometheus-compatible HTTP API.
//
// If multiple series are returned, values with the same timestamp are SUMMED.
type VictoriaMetricsAdapter struct {
	// ServerURL is the base URL to VictoriaMetrics, e.g. http://victoria-metrics:8428
	ServerURL string
	// Query is the MetricsQL/PromQL expression to evaluate.
	Query string
	// SeriesName names the resulting series. Defaults to "victoria-metrics".
	SeriesName string
	// Lookback is the history to request (defaults to DefaultLookback if <= 0).
	Lookback time.Duration
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (v *VictoriaMetricsAdapter) Name() string { return "victoria-metrics" }

// Collect implements Adapter.
func (v *VictoriaMetricsAdapter) Collect(ctx context.Context) (series.Series, error) {
	if v.ServerURL == "" || v.Query == "" {
		return series.Series{}, errors.New("victoria metrics adapter: ServerURL and Query are required")
	}
	name := v.SeriesName
	if name == "" {
		name = "victoria-metrics"
	}
	pts, err := queryRange(ctx, v.HTTPClient, v.ServerURL, v.Query, v.Lookback, "victoria-metrics")
	if err != nil {
		return series.Series{}, err
	}
	return toDaily(name, pts, true)
}
