// Package accuracy scores in-sample predictions against observed values.
package accuracy

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/HatiCode/moodcast/pkg/hybrid"
)

// ErrNoData is returned when there is nothing to score.
var ErrNoData = errors.New("no observations to score")

// Metrics are the error measures of one set of predictions.
type Metrics struct {
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	MAPE float64 `json:"mape"` // percent
	R2   float64 `json:"r2"`
}

// Evaluate scores predicted against actual. MAPE divides by 1 wherever the
// actual value is 0.
func Evaluate(actual, predicted []float64) (Metrics, error) {
	if len(actual) != len(predicted) {
		return Metrics{}, fmt.Errorf("length mismatch: %d actual, %d predicted", len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return Metrics{}, ErrNoData
	}

	var m Metrics
	n := float64(len(actual))
	for i, a := range actual {
		e := a - predicted[i]
		m.MSE += e * e
		m.MAE += math.Abs(e)
		denom := a
		if denom == 0 {
			denom = 1
		}
		m.MAPE += math.Abs(e / denom)
	}
	m.MSE /= n
	m.MAE /= n
	m.MAPE = m.MAPE / n * 100
	m.RMSE = math.Sqrt(m.MSE)
	m.R2 = stat.RSquaredFrom(predicted, actual, nil)
	return m, nil
}

// Comparison scores seasonal-only and hybrid predictions over the same rows.
type Comparison struct {
	Seasonal Metrics `json:"seasonal"`
	Hybrid   Metrics `json:"hybrid"`

	// Improvement is the percentage reduction of each error measure from
	// seasonal to hybrid; for R2 it is the absolute increase.
	Improvement Metrics `json:"improvement"`
}

// Compare scores a history table.
func Compare(history []hybrid.HistoryRow) (Comparison, error) {
	if len(history) == 0 {
		return Comparison{}, ErrNoData
	}
	actual := make([]float64, len(history))
	seasonal := make([]float64, len(history))
	hyb := make([]float64, len(history))
	for i, row := range history {
		actual[i], seasonal[i], hyb[i] = row.Actual, row.SeasonalPred, row.HybridPred
	}

	var c Comparison
	var err error
	if c.Seasonal, err = Evaluate(actual, seasonal); err != nil {
		return Comparison{}, err
	}
	if c.Hybrid, err = Evaluate(actual, hyb); err != nil {
		return Comparison{}, err
	}

	c.Improvement = Metrics{
		MSE:  reduction(c.Seasonal.MSE, c.Hybrid.MSE),
		RMSE: reduction(c.Seasonal.RMSE, c.Hybrid.RMSE),
		MAE:  reduction(c.Seasonal.MAE, c.Hybrid.MAE),
		MAPE: reduction(c.Seasonal.MAPE, c.Hybrid.MAPE),
		R2:   c.Hybrid.R2 - c.Seasonal.R2,
	}
	return c, nil
}

func reduction(before, after float64) float64 {
	if before == 0 {
		return 0
	}
	return (before - after) / before * 100
}

// Finite reports whether every measure is a finite number. R2 is undefined
// when the actual values are constant.
func (m Metrics) Finite() bool {
	for _, v := range []float64{m.MSE, m.RMSE, m.MAE, m.MAPE, m.R2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Finite reports whether all three metric sets are finite.
func (c Comparison) Finite() bool {
	return c.Seasonal.Finite() && c.Hybrid.Finite() && c.Improvement.Finite()
}
