package hybrid

import (
	"time"

	"github.com/HatiCode/moodcast/pkg/features"
)

// HistoryRow compares in-sample predictions with the observed value.
type HistoryRow struct {
	Date         time.Time
	Actual       float64
	SeasonalPred float64
	HybridPred   float64
}

// FutureRow is one forecast day.
type FutureRow struct {
	Date             time.Time
	Forecast         float64
	SeasonalForecast float64
}

// Result is the output of a pipeline run.
type Result struct {
	// Stage is the terminal stage: StageDone or one of the fallbacks.
	Stage Stage
	// Cause is the recovered error that led to a fallback.
	Cause error

	History     []HistoryRow
	Future      []FutureRow
	TrainLosses []float64
	ValLosses   []float64
	BestEpoch   int

	SeasonalOrder string
	Features      []string
	Exog          []features.ExogReport
	Timings       map[Stage]time.Duration
}

// NextDay returns the first hybrid forecast, or false for an empty forecast.
func (r *Result) NextDay() (FutureRow, bool) {
	if len(r.Future) == 0 {
		return FutureRow{}, false
	}
	return r.Future[0], true
}
