// Package hybrid runs the two-stage forecasting pipeline. A seasonal ARIMA
// model captures trend and weekly seasonality, and an LSTM-attention network
// trained on its residuals corrects the seasonal predictions.
//
// The pipeline moves through SeasonalFit, ResidualCompute, FeatureBuild,
// Train and Recombine. A seasonal fit failure degrades to a naive forecast of
// the last value, and a feature build failure degrades to the seasonal
// forecast alone. Training divergence, cancellation and invalid arguments are
// returned as errors.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/HatiCode/moodcast/pkg/features"
	"github.com/HatiCode/moodcast/pkg/models"
	"github.com/HatiCode/moodcast/pkg/nn"
	"github.com/HatiCode/moodcast/pkg/series"
	"github.com/HatiCode/moodcast/pkg/train"
)

// SeasonalModel is a fitted seasonal model reporting on the level of the
// series it was fitted on.
type SeasonalModel interface {
	Name() string
	InSample() ([]float64, error)
	Forecast(steps int) ([]float64, error)
}

// SeasonalFitter fits a seasonal model to a series.
type SeasonalFitter func(ctx context.Context, values []float64) (SeasonalModel, error)

// Option configures a Forecaster.
type Option func(*Forecaster)

// WithSeed sets the seed for weight initialisation, dropout and shuffling.
func WithSeed(seed uint64) Option {
	return func(f *Forecaster) { f.seed = seed }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forecaster) { f.logger = logger }
}

// WithSearchConfig sets the seasonal order search bounds.
func WithSearchConfig(cfg models.SearchConfig) Option {
	return func(f *Forecaster) { f.search = cfg }
}

// WithFeatureConfig sets the feature construction parameters.
func WithFeatureConfig(cfg features.Config) Option {
	return func(f *Forecaster) { f.features = cfg }
}

// WithNetwork sets the sequence model architecture. The input width is
// always taken from the feature matrix.
func WithNetwork(cfg nn.Config) Option {
	return func(f *Forecaster) { f.network = cfg }
}

// WithTrainConfig sets the trainer hyperparameters.
func WithTrainConfig(cfg train.Config) Option {
	return func(f *Forecaster) { f.train = cfg }
}

// WithTrainFraction sets the share of samples used for training; the rest
// validate.
func WithTrainFraction(frac float64) Option {
	return func(f *Forecaster) { f.trainFrac = frac }
}

// WithSeasonalFitter replaces the seasonal fit stage.
func WithSeasonalFitter(fit SeasonalFitter) Option {
	return func(f *Forecaster) { f.fitSeasonal = fit }
}

// Forecaster runs the pipeline with a fixed configuration. A Forecaster may
// be reused across runs but not concurrently.
type Forecaster struct {
	seed        uint64
	logger      *slog.Logger
	search      models.SearchConfig
	features    features.Config
	network     nn.Config
	train       train.Config
	trainFrac   float64
	fitSeasonal SeasonalFitter
}

// New creates a Forecaster with the default pipeline configuration adjusted
// by opts.
func New(opts ...Option) (*Forecaster, error) {
	f := &Forecaster{
		seed:      42,
		logger:    slog.Default(),
		search:    models.DefaultSearchConfig(),
		features:  features.DefaultConfig(),
		network:   nn.DefaultConfig(1),
		train:     train.DefaultConfig(),
		trainFrac: 0.8,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.fitSeasonal == nil {
		f.fitSeasonal = func(ctx context.Context, values []float64) (SeasonalModel, error) {
			return models.FitSeasonal(ctx, values, f.search, f.logger)
		}
	}

	if err := f.features.Validate(); err != nil {
		return nil, fmt.Errorf("feature config: %w", err)
	}
	if err := f.network.Validate(); err != nil {
		return nil, fmt.Errorf("network config: %w", err)
	}
	if err := f.train.Validate(); err != nil {
		return nil, fmt.Errorf("train config: %w", err)
	}
	if f.trainFrac <= 0 || f.trainFrac >= 1 {
		return nil, fmt.Errorf("train fraction must be in (0,1), got %v", f.trainFrac)
	}
	return f, nil
}

// GenerateForecast runs the pipeline once with a Forecaster built from opts.
func GenerateForecast(ctx context.Context, target series.Series, exog map[string]series.Series, horizon int, opts ...Option) (*Result, error) {
	f, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return f.Generate(ctx, target, exog, horizon)
}

// run carries the intermediate values of one pipeline run between stages.
type run struct {
	target    series.Series
	exog      map[string]series.Series
	horizon   int
	seasonal  SeasonalModel
	inSample  []float64
	seasonalF []float64
	residuals series.Series
	built     *features.Result
	model     *nn.Model
	res       *Result
}

// Generate forecasts horizon days past the end of target.
func (f *Forecaster) Generate(ctx context.Context, target series.Series, exog map[string]series.Series, horizon int) (*Result, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be >= 1, got %d", horizon)
	}
	if target.Len() == 0 {
		return nil, fmt.Errorf("target %q: %w", target.Name, series.ErrEmpty)
	}
	if len(target.Dates) != len(target.Values) {
		return nil, fmt.Errorf("target %q: %w", target.Name, series.ErrLengthMismatch)
	}

	r := &run{
		target:  target,
		exog:    exog,
		horizon: horizon,
		res:     &Result{Timings: make(map[Stage]time.Duration), BestEpoch: -1},
	}
	logger := f.logger.With("series", target.Name)

	stage := StageSeasonalFit
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		next, err := f.step(ctx, stage, r)
		r.res.Timings[stage] = time.Since(start)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", stage, err)
		}
		logger.Debug("stage complete",
			"stage", stage.String(),
			"next", next.String(),
			"duration_ms", r.res.Timings[stage].Milliseconds(),
		)

		switch next {
		case StageDone, StageNaiveFallback, StageSeasonalOnlyFallback:
			if next.Fallback() {
				start = time.Now()
				f.fallback(next, r)
				r.res.Timings[next] = time.Since(start)
				logger.Warn("pipeline degraded", "stage", next.String(), "cause", r.res.Cause)
			}
			r.res.Stage = next
			logger.Info("forecast generated",
				"stage", next.String(),
				"order", r.res.SeasonalOrder,
				"history_rows", len(r.res.History),
				"future_rows", len(r.res.Future),
				"epochs", len(r.res.ValLosses),
			)
			return r.res, nil
		}
		stage = next
	}
}

// step runs one stage and returns the next one. Recoverable failures are
// stored on the result and turned into a fallback transition; any returned
// error is fatal.
func (f *Forecaster) step(ctx context.Context, stage Stage, r *run) (Stage, error) {
	switch stage {
	case StageSeasonalFit:
		err := f.seasonalStage(ctx, r)
		var sfe *SeasonalFitError
		switch {
		case err == nil:
			return StageResidualCompute, nil
		case isContextErr(err):
			return 0, err
		case errors.As(err, &sfe):
			r.res.Cause = err
			return StageNaiveFallback, nil
		}
		return 0, err

	case StageResidualCompute:
		resid := make([]float64, r.target.Len())
		for t, v := range r.target.Values {
			resid[t] = v - r.inSample[t]
		}
		r.residuals = series.Series{
			Name:   r.target.Name + "_residual",
			Dates:  r.target.Dates,
			Values: resid,
		}
		return StageFeatureBuild, nil

	case StageFeatureBuild:
		err := f.featureStage(r)
		var fbe *FeatureBuildError
		switch {
		case err == nil:
			return StageTrain, nil
		case errors.As(err, &fbe):
			r.res.Cause = err
			return StageSeasonalOnlyFallback, nil
		}
		return 0, err

	case StageTrain:
		return StageRecombine, f.trainStage(ctx, r)

	case StageRecombine:
		return StageDone, f.recombineStage(r)
	}
	return 0, fmt.Errorf("no transition from stage %s", stage)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (f *Forecaster) seasonalStage(ctx context.Context, r *run) error {
	sm, err := f.fitSeasonal(ctx, r.target.Values)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		return &SeasonalFitError{Err: err}
	}

	inSample, err := sm.InSample()
	if err != nil {
		return &SeasonalFitError{Err: fmt.Errorf("in-sample prediction: %w", err)}
	}
	if len(inSample) != r.target.Len() {
		return &SeasonalFitError{Err: fmt.Errorf("in-sample prediction has %d values, want %d", len(inSample), r.target.Len())}
	}
	forecast, err := sm.Forecast(r.horizon)
	if err != nil {
		return &SeasonalFitError{Err: fmt.Errorf("forecast: %w", err)}
	}
	if len(forecast) != r.horizon {
		return &SeasonalFitError{Err: fmt.Errorf("forecast has %d values, want %d", len(forecast), r.horizon)}
	}

	r.seasonal = sm
	r.inSample = inSample
	r.seasonalF = forecast
	r.res.SeasonalOrder = sm.Name()
	return nil
}

func (f *Forecaster) featureStage(r *run) error {
	built, err := features.NewBuilder(f.features, f.logger).Build(r.residuals, r.exog)
	if err != nil {
		return &FeatureBuildError{Err: err}
	}

	trainSet, valSet := built.Windows.Split(f.trainFrac)
	if trainSet.Len() < 1 || valSet.Len() < 1 {
		return &FeatureBuildError{Err: fmt.Errorf("%w: %d samples give %d train and %d validation",
			ErrDatasetTooSmall, built.Windows.Len(), trainSet.Len(), valSet.Len())}
	}

	r.built = built
	r.res.Features = built.Matrix.Columns
	r.res.Exog = built.Exog
	return nil
}

func (f *Forecaster) trainStage(ctx context.Context, r *run) error {
	rng := rand.New(rand.NewPCG(f.seed, f.seed^0x5851f42d4c957f2d))

	netCfg := f.network
	netCfg.Input = len(r.built.Matrix.Columns)
	r.model = nn.New(netCfg, rng)

	trainer, err := train.New(f.train, f.logger)
	if err != nil {
		return err
	}
	trainSet, valSet := r.built.Windows.Split(f.trainFrac)
	res, err := trainer.Fit(ctx, r.model, trainSet, valSet, rng)
	if err != nil {
		return err
	}

	r.res.TrainLosses = res.TrainLosses
	r.res.ValLosses = res.ValLosses
	r.res.BestEpoch = res.BestEpoch
	return nil
}

func (f *Forecaster) recombineStage(r *run) error {
	scaled, err := r.model.Predict(r.built.Windows.X, f.train.Workers)
	if err != nil {
		return fmt.Errorf("predict residuals: %w", err)
	}
	resid, err := r.built.Scaler.InverseColumn(0, scaled)
	if err != nil {
		return fmt.Errorf("invert residual scaling: %w", err)
	}

	seqLen := f.features.SeqLen
	r.res.History = make([]HistoryRow, 0, r.target.Len()-seqLen)
	for t := seqLen; t < r.target.Len(); t++ {
		r.res.History = append(r.res.History, HistoryRow{
			Date:         r.target.Dates[t],
			Actual:       r.target.Values[t],
			SeasonalPred: r.inSample[t],
			HybridPred:   r.inSample[t] + resid[t-seqLen],
		})
	}

	// The latest residual prediction is held for the whole horizon. Ties round
	// to even.
	last := resid[len(resid)-1]
	dates := series.FutureDates(r.target.Dates[r.target.Len()-1], r.horizon)
	r.res.Future = make([]FutureRow, r.horizon)
	for h := range r.horizon {
		r.res.Future[h] = FutureRow{
			Date:             dates[h],
			Forecast:         math.RoundToEven(r.seasonalF[h] + last),
			SeasonalForecast: math.RoundToEven(r.seasonalF[h]),
		}
	}
	return nil
}

// fallback fills the result for a degraded terminal stage.
func (f *Forecaster) fallback(stage Stage, r *run) {
	lastDate, lastValue, _ := r.target.Last()
	dates := series.FutureDates(lastDate, r.horizon)
	r.res.Future = make([]FutureRow, r.horizon)

	switch stage {
	case StageNaiveFallback:
		naive := models.Naive(lastValue, r.horizon)
		for h := range r.horizon {
			r.res.Future[h] = FutureRow{Date: dates[h], Forecast: naive[h], SeasonalForecast: naive[h]}
		}

	case StageSeasonalOnlyFallback:
		for h := range r.horizon {
			r.res.Future[h] = FutureRow{Date: dates[h], Forecast: r.seasonalF[h], SeasonalForecast: r.seasonalF[h]}
		}
		seqLen := f.features.SeqLen
		for t := seqLen; t < r.target.Len(); t++ {
			r.res.History = append(r.res.History, HistoryRow{
				Date:         r.target.Dates[t],
				Actual:       r.target.Values[t],
				SeasonalPred: r.inSample[t],
				HybridPred:   r.inSample[t],
			})
		}
	}
}
