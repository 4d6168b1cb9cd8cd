package features

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/HatiCode/moodcast/pkg/series"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustDaily(t *testing.T, name string, from time.Time, values []float64) series.Series {
	t.Helper()
	s, err := series.Daily(name, from, values)
	if err != nil {
		t.Fatalf("series.Daily() error = %v", err)
	}
	return s
}

func randomValues(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, 0))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

func TestMinMaxScaler_RoundTrip(t *testing.T) {
	rows := [][]float64{
		{1, 10, 3},
		{2, -5, 3},
		{4, 0, 3},
		{-1, 7.5, 3},
	}
	s := NewMinMaxScaler(-1, 1)
	if err := s.Fit(rows); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	scaled, err := s.Transform(rows)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	for i, row := range scaled {
		for j, v := range row {
			if v < -1-1e-12 || v > 1+1e-12 {
				t.Errorf("scaled[%d][%d] = %v out of [-1,1]", i, j, v)
			}
		}
	}
	if scaled[0][2] != -1 {
		t.Errorf("constant column scaled to %v, want -1", scaled[0][2])
	}

	back, err := s.InverseTransform(scaled)
	if err != nil {
		t.Fatalf("InverseTransform() error = %v", err)
	}
	for i := range rows {
		for j := range rows[i] {
			if math.Abs(back[i][j]-rows[i][j]) > 1e-12 {
				t.Errorf("round trip [%d][%d] = %v, want %v", i, j, back[i][j], rows[i][j])
			}
		}
	}

	col, err := s.InverseColumn(0, []float64{-1, 1})
	if err != nil {
		t.Fatalf("InverseColumn() error = %v", err)
	}
	if col[0] != -1 || col[1] != 4 {
		t.Errorf("InverseColumn = %v, want [-1 4]", col)
	}
}

func TestMinMaxScaler_Errors(t *testing.T) {
	s := NewMinMaxScaler(-1, 1)
	if _, err := s.Transform([][]float64{{1}}); !errors.Is(err, ErrScalerNotFitted) {
		t.Errorf("error = %v, want ErrScalerNotFitted", err)
	}
	if err := s.Fit(nil); err == nil {
		t.Error("expected error fitting empty data")
	}
	if err := s.Fit([][]float64{{1, 2}, {3}}); err == nil {
		t.Error("expected error for ragged rows")
	}
	if err := s.Fit([][]float64{{1, 2}}); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if _, err := s.InverseColumn(5, []float64{0}); err == nil {
		t.Error("expected error for out of range column")
	}
}

func TestBuild_Shape(t *testing.T) {
	target := mustDaily(t, "mood", start, randomValues(40, 1))
	b := NewBuilder(DefaultConfig(), testLogger())

	res, err := b.Build(target, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []string{
		"target",
		"lag_1", "lag_2", "lag_3", "lag_4", "lag_5", "lag_6", "lag_7",
		"lag_8", "lag_9", "lag_10", "lag_11", "lag_12", "lag_13", "lag_14",
		"mean_7", "std_7", "mean_14", "std_14",
	}
	if len(res.Matrix.Columns) != len(want) {
		t.Fatalf("columns = %v, want %v", res.Matrix.Columns, want)
	}
	for i := range want {
		if res.Matrix.Columns[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, res.Matrix.Columns[i], want[i])
		}
	}

	if got := res.Windows.Len(); got != 40-14 {
		t.Errorf("windows = %d, want %d", got, 40-14)
	}
	if len(res.Windows.X[0]) != 14 || len(res.Windows.X[0][0]) != len(want) {
		t.Errorf("window shape = %dx%d", len(res.Windows.X[0]), len(res.Windows.X[0][0]))
	}
	if res.Windows.Y[0] != res.Scaled[14][0] {
		t.Errorf("label = %v, want scaled target at row 14", res.Windows.Y[0])
	}

	for i, row := range res.Matrix.Rows {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("cell [%d][%d] not finite", i, j)
			}
		}
	}
	if std := res.Matrix.Column("std_7"); std[0] != 0 {
		t.Errorf("single observation std = %v, want 0", std[0])
	}
	if lag := res.Matrix.Column("lag_3"); lag[2] != 0 || lag[3] != target.Values[0] {
		t.Errorf("lag_3 head = %v", lag[:4])
	}
}

func TestBuild_CorrelationGate(t *testing.T) {
	values := randomValues(60, 2)
	target := mustDaily(t, "mood", start, values)

	correlated := make([]float64, len(values))
	for i, v := range values {
		correlated[i] = 20 + 3*v
	}
	tests := []struct {
		name     string
		exog     series.Series
		wantKept bool
	}{
		{"correlated", mustDaily(t, "temp", start, correlated), true},
		{"constant", mustDaily(t, "temp", start, make([]float64, len(values))), false},
		{"no overlap", mustDaily(t, "temp", start.AddDate(1, 0, 0), correlated), false},
	}

	b := NewBuilder(DefaultConfig(), testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := b.Build(target, map[string]series.Series{"temp": tt.exog})
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if len(res.Exog) != 1 || res.Exog[0].Kept != tt.wantKept {
				t.Fatalf("exog report = %+v, want kept=%v", res.Exog, tt.wantKept)
			}
			for _, col := range []string{"temp", "temp_lag_1", "temp_lag_3", "temp_lag_7", "temp_lag_14"} {
				if got := res.Matrix.Index(col) >= 0; got != tt.wantKept {
					t.Errorf("column %s present = %v, want %v", col, got, tt.wantKept)
				}
			}
		})
	}
}

func TestBuild_ExogOrderAndFill(t *testing.T) {
	values := randomValues(30, 3)
	target := mustDaily(t, "mood", start, values)

	// Starts three days late and has a gap; both are filled from neighbours.
	dates := []time.Time{}
	exogValues := []float64{}
	for i := 3; i < 30; i++ {
		if i == 10 {
			continue
		}
		dates = append(dates, start.AddDate(0, 0, i))
		exogValues = append(exogValues, values[i])
	}
	b2, err := series.New("b", dates, exogValues)
	if err != nil {
		t.Fatalf("series.New() error = %v", err)
	}
	a := mustDaily(t, "a", start, values)

	res, err := NewBuilder(DefaultConfig(), testLogger()).Build(target, map[string]series.Series{"b": b2, "a": a})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if ia, ib := res.Matrix.Index("a"), res.Matrix.Index("b"); ia < 0 || ib < 0 || ia > ib {
		t.Fatalf("exogenous columns out of order: %v", res.Matrix.Columns)
	}

	col := res.Matrix.Column("b")
	if col[0] != values[3] || col[2] != values[3] {
		t.Errorf("back fill = %v, want %v", col[:3], values[3])
	}
	if col[10] != values[9] {
		t.Errorf("forward fill = %v, want %v", col[10], values[9])
	}
}

func TestBuild_Errors(t *testing.T) {
	b := NewBuilder(DefaultConfig(), testLogger())
	short := mustDaily(t, "mood", start, randomValues(14, 4))
	if _, err := b.Build(short, nil); !errors.Is(err, ErrTooShort) {
		t.Errorf("error = %v, want ErrTooShort", err)
	}

	target := mustDaily(t, "mood", start, randomValues(30, 5))
	empty := series.Series{Name: "temp"}
	if _, err := b.Build(target, map[string]series.Series{"temp": empty}); !errors.Is(err, ErrEmptyExog) {
		t.Errorf("error = %v, want ErrEmptyExog", err)
	}

	bad := target
	bad.Values = append([]float64(nil), target.Values...)
	bad.Values[3] = math.NaN()
	if _, err := b.Build(bad, nil); !errors.Is(err, ErrNonFinite) {
		t.Errorf("error = %v, want ErrNonFinite", err)
	}
}

func TestWindowSet_Split(t *testing.T) {
	rows := make([][]float64, 24)
	for i := range rows {
		rows[i] = []float64{float64(i)}
	}
	ws := Windows(rows, 4, 0)
	if ws.Len() != 20 {
		t.Fatalf("len = %d, want 20", ws.Len())
	}

	train, val := ws.Split(0.8)
	if train.Len() != 16 || val.Len() != 4 {
		t.Fatalf("split = %d/%d, want 16/4", train.Len(), val.Len())
	}
	if val.Y[0] != 20 {
		t.Errorf("first validation label = %v, want 20", val.Y[0])
	}
}

func TestNewBuilder_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero seq len")
		}
	}()
	cfg := DefaultConfig()
	cfg.SeqLen = 0
	NewBuilder(cfg, nil)
}
