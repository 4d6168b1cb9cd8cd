package accuracy

import (
	"errors"
	"math"
	"testing"

	"github.com/HatiCode/moodcast/pkg/hybrid"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		actual    []float64
		predicted []float64
		want      Metrics
	}{
		{
			name:      "perfect",
			actual:    []float64{1, 2, 3},
			predicted: []float64{1, 2, 3},
			want:      Metrics{R2: 1},
		},
		{
			name:      "constant offset",
			actual:    []float64{2, 4, 6, 8},
			predicted: []float64{3, 5, 7, 9},
			want: Metrics{
				MSE:  1,
				RMSE: 1,
				MAE:  1,
				MAPE: (0.5 + 0.25 + 1.0/6 + 0.125) / 4 * 100,
				R2:   1 - 4.0/20,
			},
		},
		{
			name:      "zero actual",
			actual:    []float64{0, 2},
			predicted: []float64{1, 2},
			want: Metrics{
				MSE:  0.5,
				RMSE: math.Sqrt(0.5),
				MAE:  0.5,
				MAPE: 50,
				R2:   1 - 1.0/2,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.actual, tt.predicted)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			check := func(name string, got, want float64) {
				if math.Abs(got-want) > 1e-9 {
					t.Errorf("%s = %v, want %v", name, got, want)
				}
			}
			check("MSE", got.MSE, tt.want.MSE)
			check("RMSE", got.RMSE, tt.want.RMSE)
			check("MAE", got.MAE, tt.want.MAE)
			check("MAPE", got.MAPE, tt.want.MAPE)
			check("R2", got.R2, tt.want.R2)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	if _, err := Evaluate(nil, nil); !errors.Is(err, ErrNoData) {
		t.Errorf("error = %v, want ErrNoData", err)
	}
	if _, err := Evaluate([]float64{1}, []float64{1, 2}); err == nil {
		t.Error("expected error for length mismatch")
	}
	if _, err := Compare(nil); !errors.Is(err, ErrNoData) {
		t.Errorf("error = %v, want ErrNoData", err)
	}
}

func TestCompare(t *testing.T) {
	history := []hybrid.HistoryRow{
		{Actual: 2, SeasonalPred: 4, HybridPred: 3},
		{Actual: 4, SeasonalPred: 6, HybridPred: 5},
		{Actual: 6, SeasonalPred: 8, HybridPred: 7},
		{Actual: 8, SeasonalPred: 10, HybridPred: 9},
	}
	c, err := Compare(history)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if c.Seasonal.MSE != 4 || c.Hybrid.MSE != 1 {
		t.Fatalf("mse = %v/%v, want 4/1", c.Seasonal.MSE, c.Hybrid.MSE)
	}
	if math.Abs(c.Improvement.MSE-75) > 1e-9 {
		t.Errorf("mse improvement = %v, want 75", c.Improvement.MSE)
	}
	if math.Abs(c.Improvement.MAE-50) > 1e-9 {
		t.Errorf("mae improvement = %v, want 50", c.Improvement.MAE)
	}
	if c.Improvement.R2 <= 0 {
		t.Errorf("r2 improvement = %v, want positive", c.Improvement.R2)
	}
}

func TestFinite(t *testing.T) {
	c, err := Compare([]hybrid.HistoryRow{
		{Actual: 1, SeasonalPred: 2, HybridPred: 1.5},
		{Actual: 2, SeasonalPred: 2, HybridPred: 2.5},
	})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if !c.Finite() {
		t.Errorf("comparison %+v should be finite", c)
	}

	flat, err := Compare([]hybrid.HistoryRow{
		{Actual: 5, SeasonalPred: 4, HybridPred: 6},
		{Actual: 5, SeasonalPred: 6, HybridPred: 4},
	})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if flat.Finite() {
		t.Errorf("R2 of a constant series should not be finite, got %+v", flat)
	}
}
