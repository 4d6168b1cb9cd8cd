// Package train fits the sequence model with minibatch Adam, a plateau
// learning-rate schedule and early stopping on a validation set.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/HatiCode/moodcast/pkg/features"
	"github.com/HatiCode/moodcast/pkg/nn"
)

// DeviceCPU is the only supported compute device.
const DeviceCPU = "cpu"

var (
	// ErrTrainingDiverged is returned when a training or validation loss is
	// not finite.
	ErrTrainingDiverged = errors.New("training diverged")
	// ErrUnsupportedDevice is returned for any device other than DeviceCPU.
	ErrUnsupportedDevice = errors.New("unsupported device")
	// ErrEmptySet is returned when the training or validation set is empty.
	ErrEmptySet = errors.New("empty sample set")
)

// Config holds the optimisation hyperparameters.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Beta1        float64
	Beta2        float64
	AdamEps      float64

	// The learning rate is multiplied by PlateauFactor after more than
	// PlateauPatience epochs without a relative validation improvement of
	// PlateauThreshold.
	PlateauPatience  int
	PlateauFactor    float64
	PlateauThreshold float64
	MinLR            float64

	// Training stops after EarlyStopPatience epochs without a new best
	// validation loss.
	EarlyStopPatience int

	Device  string
	Workers int
}

// DefaultConfig returns the training setup of the residual model.
func DefaultConfig() Config {
	return Config{
		Epochs:            200,
		BatchSize:         32,
		LearningRate:      1e-3,
		Beta1:             0.9,
		Beta2:             0.999,
		AdamEps:           1e-8,
		PlateauPatience:   5,
		PlateauFactor:     0.1,
		PlateauThreshold:  1e-4,
		EarlyStopPatience: 10,
		Device:            DeviceCPU,
		Workers:           1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Device != DeviceCPU {
		return fmt.Errorf("%w: %q", ErrUnsupportedDevice, c.Device)
	}
	switch {
	case c.Epochs < 1:
		return fmt.Errorf("epochs must be >= 1, got %d", c.Epochs)
	case c.BatchSize < 1:
		return fmt.Errorf("batch size must be >= 1, got %d", c.BatchSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning rate must be > 0, got %v", c.LearningRate)
	case c.PlateauFactor <= 0 || c.PlateauFactor >= 1:
		return fmt.Errorf("plateau factor must be in (0,1), got %v", c.PlateauFactor)
	case c.EarlyStopPatience < 1:
		return fmt.Errorf("early stop patience must be >= 1, got %d", c.EarlyStopPatience)
	case c.Workers < 1:
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	return nil
}

// Result summarises a training run.
type Result struct {
	TrainLosses  []float64
	ValLosses    []float64
	BestEpoch    int // zero-based
	BestLoss     float64
	StoppedEarly bool
	FinalLR      float64
	Duration     time.Duration

	// Best is the model state restored at the end of training.
	Best nn.Snapshot
}

// Trainer runs the optimisation loop.
type Trainer struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a trainer.
func New(cfg Config, logger *slog.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{cfg: cfg, logger: logger}, nil
}

// Config returns the trainer configuration.
func (t *Trainer) Config() Config { return t.cfg }

// Fit trains model on trainSet, monitoring valSet after every epoch. Training
// batches are reshuffled each epoch with rng. On return the model holds the
// parameters of the epoch with the lowest validation loss.
func (t *Trainer) Fit(ctx context.Context, model *nn.Model, trainSet, valSet features.WindowSet, rng *rand.Rand) (Result, error) {
	if trainSet.Len() == 0 || valSet.Len() == 0 {
		return Result{}, fmt.Errorf("%w: train=%d val=%d", ErrEmptySet, trainSet.Len(), valSet.Len())
	}

	start := time.Now()
	cfg := t.cfg
	params := model.Params()
	opt := NewAdam(params, cfg.LearningRate, cfg.Beta1, cfg.Beta2, cfg.AdamEps)
	sched := &plateau{
		factor:    cfg.PlateauFactor,
		patience:  cfg.PlateauPatience,
		threshold: cfg.PlateauThreshold,
		minLR:     cfg.MinLR,
	}

	res := Result{BestLoss: math.Inf(1), BestEpoch: -1}
	stale := 0

	for epoch := range cfg.Epochs {
		order := rng.Perm(trainSet.Len())

		total, batches := 0.0, 0
		for lo := 0; lo < len(order); lo += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			idx := order[lo:min(lo+cfg.BatchSize, len(order))]
			x := make([][][]float64, len(idx))
			y := make([]float64, len(idx))
			for i, k := range idx {
				x[i], y[i] = trainSet.X[k], trainSet.Y[k]
			}

			loss, grads, err := model.ForwardBackward(x, y, rng, cfg.Workers)
			if err != nil {
				return Result{}, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return Result{}, fmt.Errorf("%w: training loss %v at epoch %d", ErrTrainingDiverged, loss, epoch)
			}
			opt.Step(params, grads)
			total += loss
			batches++
		}
		trainLoss := total / float64(batches)

		valLoss, err := EvaluateLoss(model, valSet, cfg.BatchSize, cfg.Workers)
		if err != nil {
			return Result{}, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if math.IsNaN(valLoss) || math.IsInf(valLoss, 0) {
			return Result{}, fmt.Errorf("%w: validation loss %v at epoch %d", ErrTrainingDiverged, valLoss, epoch)
		}

		res.TrainLosses = append(res.TrainLosses, trainLoss)
		res.ValLosses = append(res.ValLosses, valLoss)
		opt.LR = sched.step(valLoss, opt.LR)

		if valLoss < res.BestLoss {
			res.BestLoss = valLoss
			res.BestEpoch = epoch
			res.Best = model.Snapshot()
			stale = 0
		} else {
			stale++
		}

		if epoch%10 == 0 {
			t.logger.Debug("epoch complete",
				"epoch", epoch+1,
				"train_loss", trainLoss,
				"val_loss", valLoss,
				"lr", opt.LR,
			)
		}

		if stale >= cfg.EarlyStopPatience {
			res.StoppedEarly = true
			break
		}
	}

	if err := model.Restore(res.Best); err != nil {
		return Result{}, fmt.Errorf("restore best snapshot: %w", err)
	}
	res.FinalLR = opt.LR
	res.Duration = time.Since(start)

	t.logger.Info("training complete",
		"epochs", len(res.ValLosses),
		"best_epoch", res.BestEpoch+1,
		"best_val_loss", res.BestLoss,
		"stopped_early", res.StoppedEarly,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// EvaluateLoss returns the mean over in-order batches of the per-batch mean
// squared error of model predictions on set.
func EvaluateLoss(model *nn.Model, set features.WindowSet, batchSize, workers int) (float64, error) {
	if set.Len() == 0 {
		return 0, ErrEmptySet
	}
	total, batches := 0.0, 0
	for lo := 0; lo < set.Len(); lo += batchSize {
		hi := min(lo+batchSize, set.Len())
		loss, err := model.Loss(set.X[lo:hi], set.Y[lo:hi], workers)
		if err != nil {
			return 0, err
		}
		total += loss
		batches++
	}
	return total / float64(batches), nil
}
