package train

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/HatiCode/moodcast/pkg/features"
	"github.com/HatiCode/moodcast/pkg/nn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func smallModel(seed uint64) *nn.Model {
	cfg := nn.Config{Input: 2, Hidden: 4, Heads: 2, Dropout: 0.2, Momentum: 0.1, Eps: 1e-5}
	return nn.New(cfg, rand.New(rand.NewPCG(seed, seed)))
}

// sineWindows builds windows over a two-feature sine series where the label
// is the next scaled value.
func sineWindows(n, seqLen int) features.WindowSet {
	rows := make([][]float64, n)
	for i := range rows {
		v := math.Sin(2 * math.Pi * float64(i) / 7)
		rows[i] = []float64{v, math.Cos(2 * math.Pi * float64(i) / 7)}
	}
	return features.Windows(rows, seqLen, 0)
}

func quickConfig() Config {
	cfg := DefaultConfig()
	cfg.Epochs = 30
	cfg.BatchSize = 8
	cfg.LearningRate = 1e-2
	cfg.EarlyStopPatience = 5
	cfg.PlateauPatience = 2
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"default", func(*Config) {}, nil},
		{"gpu", func(c *Config) { c.Device = "cuda" }, ErrUnsupportedDevice},
		{"empty device", func(c *Config) { c.Device = "" }, ErrUnsupportedDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.BatchSize = 0
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error for zero batch size")
	}
}

func TestAdam_FirstStep(t *testing.T) {
	p := &nn.Param{Name: "w", Rows: 1, Cols: 2, Value: []float64{1, -1}}
	params := []*nn.Param{p}
	opt := NewAdam(params, 0.001, 0.9, 0.999, 1e-8)

	opt.Step(params, nn.Gradients{{2, -0.5}})
	if math.Abs(p.Value[0]-0.999) > 1e-9 {
		t.Errorf("w[0] = %v, want 0.999", p.Value[0])
	}
	if math.Abs(p.Value[1]+0.999) > 1e-9 {
		t.Errorf("w[1] = %v, want -0.999", p.Value[1])
	}
}

func TestPlateau(t *testing.T) {
	p := &plateau{factor: 0.1, patience: 5, threshold: 1e-4}
	lr := 1.0

	lr = p.step(1.0, lr)
	for i := range 5 {
		lr = p.step(1.0, lr)
		if lr != 1.0 {
			t.Fatalf("lr reduced after %d bad epochs", i+1)
		}
	}
	lr = p.step(1.0, lr)
	if math.Abs(lr-0.1) > 1e-12 {
		t.Fatalf("lr = %v after 6 bad epochs, want 0.1", lr)
	}

	// A tiny improvement below the relative threshold still counts as bad.
	lr = p.step(0.99999, lr)
	if p.bad != 1 {
		t.Errorf("bad epochs = %d, want 1", p.bad)
	}
	lr = p.step(0.5, lr)
	if p.bad != 0 || lr != 0.1 {
		t.Errorf("after improvement bad=%d lr=%v", p.bad, lr)
	}
}

func TestFit_RestoresBest(t *testing.T) {
	ws := sineWindows(60, 5)
	trainSet, valSet := ws.Split(0.8)
	model := smallModel(1)

	tr, err := New(quickConfig(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, err := tr.Fit(context.Background(), model, trainSet, valSet, rand.New(rand.NewPCG(2, 2)))
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	if len(res.TrainLosses) != len(res.ValLosses) || len(res.ValLosses) == 0 {
		t.Fatalf("loss lengths %d/%d", len(res.TrainLosses), len(res.ValLosses))
	}
	last := len(res.ValLosses) - 1
	if last-res.BestEpoch > quickConfig().EarlyStopPatience {
		t.Errorf("stopped at epoch %d, best %d", last, res.BestEpoch)
	}
	if res.ValLosses[res.BestEpoch] != res.BestLoss {
		t.Errorf("best loss %v not at best epoch (%v)", res.BestLoss, res.ValLosses[res.BestEpoch])
	}
	for _, v := range res.ValLosses {
		if v < res.BestLoss {
			t.Errorf("val loss %v below best %v", v, res.BestLoss)
		}
	}

	got, err := EvaluateLoss(model, valSet, quickConfig().BatchSize, 1)
	if err != nil {
		t.Fatalf("EvaluateLoss() error = %v", err)
	}
	if got != res.BestLoss {
		t.Errorf("restored model val loss = %v, want best %v", got, res.BestLoss)
	}
}

func TestFit_Deterministic(t *testing.T) {
	ws := sineWindows(50, 5)
	trainSet, valSet := ws.Split(0.8)

	run := func() Result {
		tr, err := New(quickConfig(), testLogger())
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		res, err := tr.Fit(context.Background(), smallModel(3), trainSet, valSet, rand.New(rand.NewPCG(4, 4)))
		if err != nil {
			t.Fatalf("Fit() error = %v", err)
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
}

func TestFit_Errors(t *testing.T) {
	ws := sineWindows(40, 5)
	trainSet, valSet := ws.Split(0.8)
	tr, err := New(quickConfig(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rng := rand.New(rand.NewPCG(1, 1))

	t.Run("empty validation", func(t *testing.T) {
		_, err := tr.Fit(context.Background(), smallModel(1), trainSet, features.WindowSet{}, rng)
		if !errors.Is(err, ErrEmptySet) {
			t.Errorf("error = %v, want ErrEmptySet", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := tr.Fit(ctx, smallModel(1), trainSet, valSet, rng)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})

	t.Run("diverged", func(t *testing.T) {
		bad := features.WindowSet{X: trainSet.X, Y: append([]float64(nil), trainSet.Y...)}
		bad.Y[0] = math.NaN()
		_, err := tr.Fit(context.Background(), smallModel(1), bad, valSet, rng)
		if !errors.Is(err, ErrTrainingDiverged) {
			t.Errorf("error = %v, want ErrTrainingDiverged", err)
		}
	})
}
