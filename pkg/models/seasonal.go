package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HatiCode/moodcast/pkg/series"
	"github.com/HatiCode/moodcast/pkg/stats"
)

// stationarityAlpha is the ADF significance level of the outer differencing gate.
const stationarityAlpha = 0.05

// Seasonal is a SARIMA model fitted behind a unit-root gate. When the input
// fails the ADF test it is differenced once before the order search, and all
// predictions are integrated back so callers only ever see the level of the
// original series.
type Seasonal struct {
	model       *SARIMA
	search      SearchResult
	differenced bool
	adf         *stats.ADFResult
	values      []float64
}

// FitSeasonal tests values for stationarity, differences them once when the
// unit-root null cannot be rejected, and fits the best SARIMA order found by
// AutoSARIMA on the result.
//
// A constant series is treated as stationary. A regression that cannot be
// solved for a non-constant series is treated as non-stationary.
func FitSeasonal(ctx context.Context, values []float64, cfg SearchConfig, logger *slog.Logger) (*Seasonal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations, got %d", ErrInsufficientData, len(values))
	}

	s := &Seasonal{values: append([]float64(nil), values...)}

	res, err := stats.ADF(values)
	switch {
	case err == nil:
		s.adf = &res
		s.differenced = !res.Stationary(stationarityAlpha)
	case errors.Is(err, stats.ErrConstant):
		s.differenced = false
	case errors.Is(err, stats.ErrSingular):
		s.differenced = true
	default:
		return nil, fmt.Errorf("unit-root test: %w", err)
	}

	fitOn := values
	if s.differenced {
		fitOn = series.Diff(values, 1)
	}

	model, result, err := AutoSARIMA(ctx, fitOn, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("order search: %w", err)
	}
	s.model = model
	s.search = result

	attrs := []any{
		"order", model.Name(),
		"differenced", s.differenced,
		"aic", model.AIC(),
		"models_evaluated", result.ModelsEvaluated,
	}
	if s.adf != nil {
		attrs = append(attrs, "adf_statistic", s.adf.Statistic, "adf_pvalue", s.adf.PValue)
	}
	logger.Info("seasonal model fitted", attrs...)

	return s, nil
}

// Name returns the fitted order, prefixed with "diff+" when the input was
// differenced by the stationarity gate.
func (s *Seasonal) Name() string {
	if s.differenced {
		return "diff+" + s.model.Name()
	}
	return s.model.Name()
}

// Order returns the selected SARIMA order.
func (s *Seasonal) Order() Order { return s.model.Order() }

// Search returns the outcome of the order search.
func (s *Seasonal) Search() SearchResult { return s.search }

// Differenced reports whether the input was differenced before fitting.
func (s *Seasonal) Differenced() bool { return s.differenced }

// ADF returns the unit-root test result, or nil when the test was not
// conclusive (constant or singular input).
func (s *Seasonal) ADF() *stats.ADFResult { return s.adf }

// InSample returns one-step-ahead predictions on the level of the input, one
// per observation. When differenced, the first observation has no prediction
// and reports the observed value; later levels are the previous actual plus
// the predicted difference.
func (s *Seasonal) InSample() ([]float64, error) {
	inner, err := s.model.InSample()
	if err != nil {
		return nil, err
	}
	if !s.differenced {
		return inner, nil
	}

	out := make([]float64, len(s.values))
	out[0] = s.values[0]
	for t := 1; t < len(s.values); t++ {
		out[t] = s.values[t-1] + inner[t-1]
	}
	return out, nil
}

// Forecast returns steps predictions on the level of the input, starting the
// step after the last observation.
func (s *Seasonal) Forecast(steps int) ([]float64, error) {
	f, err := s.model.Forecast(steps)
	if err != nil {
		return nil, err
	}
	if !s.differenced {
		return f, nil
	}

	level := s.values[len(s.values)-1]
	for i := range f {
		level += f[i]
		f[i] = level
	}
	return f, nil
}
