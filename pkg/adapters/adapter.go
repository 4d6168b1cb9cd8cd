// Package adapters loads daily series from files and external systems and
// normalises them into [series.Series] values for the forecasting pipeline.
//
// Available adapters:
//   - CSVAdapter: reads date,value files
//   - HTTPAdapter: generic adapter for any REST API with JSON responses
//   - PrometheusAdapter: fetches a daily series via the Prometheus HTTP API
//   - VictoriaMetricsAdapter: same, against the VictoriaMetrics Prometheus-compatible API
//
// Adapters only fetch and shape data. Feature building and forecasting are
// left to the upper layers.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/HatiCode/moodcast/pkg/series"
)

// ErrDuplicateDay is returned when a source reports two observations for the
// same day and duplicates are not summed.
var ErrDuplicateDay = errors.New("duplicate observation for day")

// Adapter is the interface that all series sources implement.
//
// The Collect() call is synchronous and should respect context cancellation
// and deadlines.
type Adapter interface {
	// Collect fetches the series. It must never panic.
	Collect(ctx context.Context) (series.Series, error)

	// Name returns a short identifier for the adapter kind.
	// Example: "csv", "prometheus", "http".
	Name() string
}

// point is a raw dated observation.
type point struct {
	ts    time.Time
	value float64
}

// toDaily sorts points, truncates them to UTC days and builds a series. Points
// falling on the same day are summed when sum is true and rejected otherwise.
func toDaily(name string, pts []point, sum bool) (series.Series, error) {
	if len(pts) == 0 {
		return series.Series{}, fmt.Errorf("%s: %w", name, series.ErrEmpty)
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].ts.Before(pts[j].ts) })

	dates := make([]time.Time, 0, len(pts))
	values := make([]float64, 0, len(pts))
	for _, p := range pts {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			continue
		}
		day := series.Truncate(p.ts)
		if n := len(dates); n > 0 && dates[n-1].Equal(day) {
			if !sum {
				return series.Series{}, fmt.Errorf("%s: %w %s", name, ErrDuplicateDay, day.Format(time.DateOnly))
			}
			values[n-1] += p.value
			continue
		}
		dates = append(dates, day)
		values = append(values, p.value)
	}
	return series.New(name, dates, values)
}
