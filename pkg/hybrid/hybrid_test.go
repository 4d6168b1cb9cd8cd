package hybrid

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/HatiCode/moodcast/pkg/features"
	"github.com/HatiCode/moodcast/pkg/nn"
	"github.com/HatiCode/moodcast/pkg/series"
	"github.com/HatiCode/moodcast/pkg/train"
)

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testOptions(extra ...Option) []Option {
	tc := train.DefaultConfig()
	tc.Epochs = 20
	opts := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSeed(7),
		WithNetwork(nn.Config{Input: 1, Hidden: 8, Heads: 2, Dropout: 0.2, Momentum: 0.1, Eps: 1e-5}),
		WithTrainConfig(tc),
	}
	return append(opts, extra...)
}

func moodSeries(t *testing.T, n int, seed uint64) series.Series {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 0))
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Round(6 + 2*math.Sin(2*math.Pi*float64(i)/7) + rng.NormFloat64())
	}
	s, err := series.Daily("mood", start, values)
	if err != nil {
		t.Fatalf("series.Daily() error = %v", err)
	}
	return s
}

func tempSeries(t *testing.T, n int) series.Series {
	t.Helper()
	values := make([]float64, n)
	for i := range values {
		values[i] = 15 + 5*math.Cos(2*math.Pi*float64(i)/30)
	}
	s, err := series.Daily("temp", start, values)
	if err != nil {
		t.Fatalf("series.Daily() error = %v", err)
	}
	return s
}

func checkFutureDates(t *testing.T, target series.Series, future []FutureRow) {
	t.Helper()
	last := target.Dates[target.Len()-1]
	for h, row := range future {
		if want := last.AddDate(0, 0, h+1); !row.Date.Equal(want) {
			t.Errorf("future[%d].Date = %v, want %v", h, row.Date, want)
		}
	}
}

type fakeSeasonal struct {
	inSample []float64
	forecast []float64
}

func (f fakeSeasonal) Name() string { return "fake" }
func (f fakeSeasonal) InSample() ([]float64, error) { return f.inSample, nil }
func (f fakeSeasonal) Forecast(int) ([]float64, error) { return f.forecast, nil }

func TestGenerate_Shapes(t *testing.T) {
	target := moodSeries(t, 60, 1)
	exog := map[string]series.Series{"temp": tempSeries(t, 60)}

	res, err := GenerateForecast(context.Background(), target, exog, 7, testOptions()...)
	if err != nil {
		t.Fatalf("GenerateForecast() error = %v", err)
	}

	if res.Stage != StageDone {
		t.Fatalf("stage = %v (cause %v), want done", res.Stage, res.Cause)
	}
	if len(res.Future) != 7 {
		t.Errorf("future rows = %d, want 7", len(res.Future))
	}
	if len(res.History) != 60-14 {
		t.Errorf("history rows = %d, want %d", len(res.History), 60-14)
	}
	if !res.History[0].Date.Equal(target.Dates[14]) {
		t.Errorf("history starts %v, want %v", res.History[0].Date, target.Dates[14])
	}
	checkFutureDates(t, target, res.Future)

	for h, row := range res.Future {
		if row.Forecast != math.Round(row.Forecast) || row.SeasonalForecast != math.Round(row.SeasonalForecast) {
			t.Errorf("future[%d] not rounded: %+v", h, row)
		}
	}
	if len(res.TrainLosses) == 0 || len(res.TrainLosses) != len(res.ValLosses) {
		t.Errorf("loss lengths %d/%d", len(res.TrainLosses), len(res.ValLosses))
	}
	if len(res.Exog) != 1 || res.Exog[0].Name != "temp" {
		t.Errorf("exog report = %+v", res.Exog)
	}
	if res.SeasonalOrder == "" || res.Features[0] != features.TargetColumn {
		t.Errorf("order %q features %v", res.SeasonalOrder, res.Features)
	}
	for _, s := range []Stage{StageSeasonalFit, StageFeatureBuild, StageTrain, StageRecombine} {
		if _, ok := res.Timings[s]; !ok {
			t.Errorf("missing timing for %s", s)
		}
	}
}

func TestGenerate_NaiveFallback(t *testing.T) {
	failing := WithSeasonalFitter(func(context.Context, []float64) (SeasonalModel, error) {
		return nil, errors.New("boom")
	})

	tests := []struct {
		name string
		last float64
		opts []Option
		want float64
	}{
		{"injected failure", 6.6, testOptions(failing), 7},
		{"series too short", 6.6, testOptions(), 7},
		{"tie rounds down to even", 6.5, testOptions(failing), 6},
		{"tie rounds up to even", 7.5, testOptions(failing), 8},
		{"tie at 2.5", 2.5, testOptions(failing), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := series.Daily("mood", start, []float64{5, 6, 7, 6, tt.last})
			if err != nil {
				t.Fatalf("series.Daily() error = %v", err)
			}
			res, err := GenerateForecast(context.Background(), target, nil, 4, tt.opts...)
			if err != nil {
				t.Fatalf("GenerateForecast() error = %v", err)
			}
			if res.Stage != StageNaiveFallback {
				t.Fatalf("stage = %v, want naive fallback", res.Stage)
			}
			var sfe *SeasonalFitError
			if !errors.As(res.Cause, &sfe) {
				t.Errorf("cause = %v, want SeasonalFitError", res.Cause)
			}
			if len(res.Future) != 4 || len(res.History) != 0 {
				t.Fatalf("rows = %d/%d, want 4/0", len(res.Future), len(res.History))
			}
			for h, row := range res.Future {
				if row.Forecast != tt.want || row.SeasonalForecast != tt.want {
					t.Errorf("future[%d] = %+v, want %v", h, row, tt.want)
				}
			}
			checkFutureDates(t, target, res.Future)
		})
	}
}

func TestGenerate_RecombineRoundsHalfToEven(t *testing.T) {
	target := moodSeries(t, 40, 5)
	fake := fakeSeasonal{inSample: target.Values, forecast: []float64{6.5, 7.5, 2.5, 3.4}}

	res, err := GenerateForecast(context.Background(), target, nil, 4, testOptions(
		WithSeasonalFitter(func(context.Context, []float64) (SeasonalModel, error) { return fake, nil }),
	)...)
	if err != nil {
		t.Fatalf("GenerateForecast() error = %v", err)
	}
	if res.Stage != StageDone {
		t.Fatalf("stage = %v (cause %v), want done", res.Stage, res.Cause)
	}

	want := []float64{6, 8, 2, 3}
	for h, row := range res.Future {
		if row.SeasonalForecast != want[h] {
			t.Errorf("future[%d].SeasonalForecast = %v, want %v", h, row.SeasonalForecast, want[h])
		}
		if row.Forecast != math.RoundToEven(row.Forecast) {
			t.Errorf("future[%d].Forecast = %v, want a whole number", h, row.Forecast)
		}
	}
}

func TestGenerate_SeasonalOnlyFallback(t *testing.T) {
	tests := []struct {
		name        string
		n           int
		wantCause   error
		wantHistory int
	}{
		{"no more rows than window", 10, features.ErrTooShort, 0},
		{"no validation sample", 15, ErrDatasetTooSmall, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := moodSeries(t, tt.n, 2)
			fitted := make([]float64, tt.n)
			for i, v := range target.Values {
				fitted[i] = v + 0.25
			}
			fake := fakeSeasonal{inSample: fitted, forecast: []float64{1.4, 2.6, 3.5}}

			res, err := GenerateForecast(context.Background(), target, nil, 3, testOptions(
				WithSeasonalFitter(func(context.Context, []float64) (SeasonalModel, error) { return fake, nil }),
			)...)
			if err != nil {
				t.Fatalf("GenerateForecast() error = %v", err)
			}
			if res.Stage != StageSeasonalOnlyFallback {
				t.Fatalf("stage = %v, want seasonal-only fallback", res.Stage)
			}
			if !errors.Is(res.Cause, tt.wantCause) {
				t.Errorf("cause = %v, want %v", res.Cause, tt.wantCause)
			}
			var fbe *FeatureBuildError
			if !errors.As(res.Cause, &fbe) {
				t.Errorf("cause = %T, want FeatureBuildError", res.Cause)
			}

			for h, row := range res.Future {
				if row.Forecast != fake.forecast[h] || row.SeasonalForecast != fake.forecast[h] {
					t.Errorf("future[%d] = %+v, want %v", h, row, fake.forecast[h])
				}
			}
			checkFutureDates(t, target, res.Future)

			if len(res.History) != tt.wantHistory {
				t.Fatalf("history rows = %d, want %d", len(res.History), tt.wantHistory)
			}
			for _, row := range res.History {
				if row.HybridPred != row.SeasonalPred {
					t.Errorf("hybrid %v != seasonal %v", row.HybridPred, row.SeasonalPred)
				}
			}
		})
	}
}

func TestGenerate_Constant(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = 5
	}
	target, err := series.Daily("mood", start, values)
	if err != nil {
		t.Fatalf("series.Daily() error = %v", err)
	}

	res, err := GenerateForecast(context.Background(), target, nil, 5, testOptions()...)
	if err != nil {
		t.Fatalf("GenerateForecast() error = %v", err)
	}
	if res.Stage != StageDone {
		t.Fatalf("stage = %v (cause %v), want done", res.Stage, res.Cause)
	}
	if len(res.History) != 6 || len(res.Future) != 5 {
		t.Fatalf("rows = %d/%d, want 6/5", len(res.History), len(res.Future))
	}
	for h, row := range res.Future {
		if math.Abs(row.Forecast-5) > 1 {
			t.Errorf("future[%d].Forecast = %v, want 5±1", h, row.Forecast)
		}
		if row.SeasonalForecast != 5 {
			t.Errorf("future[%d].SeasonalForecast = %v, want 5", h, row.SeasonalForecast)
		}
	}
	for _, row := range res.History {
		if row.SeasonalPred != 5 {
			t.Errorf("seasonal prediction = %v, want 5", row.SeasonalPred)
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	target := moodSeries(t, 45, 3)
	exog := map[string]series.Series{"temp": tempSeries(t, 45)}

	run := func() *Result {
		res, err := GenerateForecast(context.Background(), target, exog, 5, testOptions()...)
		if err != nil {
			t.Fatalf("GenerateForecast() error = %v", err)
		}
		return res
	}
	a, b := run(), run()

	if len(a.ValLosses) != len(b.ValLosses) {
		t.Fatalf("epochs differ: %d vs %d", len(a.ValLosses), len(b.ValLosses))
	}
	for i := range a.ValLosses {
		if a.ValLosses[i] != b.ValLosses[i] || a.TrainLosses[i] != b.TrainLosses[i] {
			t.Fatalf("epoch %d losses differ", i)
		}
	}
	for i := range a.History {
		if a.History[i] != b.History[i] {
			t.Fatalf("history row %d differs: %+v vs %+v", i, a.History[i], b.History[i])
		}
	}
	for i := range a.Future {
		if a.Future[i] != b.Future[i] {
			t.Fatalf("future row %d differs: %+v vs %+v", i, a.Future[i], b.Future[i])
		}
	}
}

func TestGenerate_Errors(t *testing.T) {
	target := moodSeries(t, 30, 4)

	if _, err := GenerateForecast(context.Background(), target, nil, 0, testOptions()...); err == nil {
		t.Error("expected error for zero horizon")
	}
	if _, err := GenerateForecast(context.Background(), series.Series{Name: "empty"}, nil, 3, testOptions()...); !errors.Is(err, series.ErrEmpty) {
		t.Errorf("error = %v, want series.ErrEmpty", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := GenerateForecast(ctx, target, nil, 3, testOptions()...); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}

	tc := train.DefaultConfig()
	tc.Device = "cuda"
	if _, err := New(testOptions(WithTrainConfig(tc))...); !errors.Is(err, train.ErrUnsupportedDevice) {
		t.Errorf("error = %v, want ErrUnsupportedDevice", err)
	}
	if _, err := New(testOptions(WithTrainFraction(1))...); err == nil {
		t.Error("expected error for train fraction 1")
	}
}

func TestStage_String(t *testing.T) {
	for s := StageSeasonalFit; s <= StageSeasonalOnlyFallback; s++ {
		got, err := ParseStage(s.String())
		if err != nil || got != s {
			t.Errorf("ParseStage(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseStage("bogus"); err == nil {
		t.Error("expected error for unknown stage")
	}
	if !StageNaiveFallback.Fallback() || StageDone.Fallback() {
		t.Error("Fallback() misclassified")
	}
}
