package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/HatiCode/moodcast/pkg/series"
	"github.com/HatiCode/moodcast/pkg/stats"
)

// ErrNoFittableOrder is returned when no candidate order could be fitted.
var ErrNoFittableOrder = errors.New("no candidate order could be fitted")

// SearchConfig bounds the stepwise order search.
type SearchConfig struct {
	MaxP  int
	MaxD  int
	MaxQ  int
	MaxSP int
	MaxSD int
	MaxSQ int
	M     int

	// Criterion is "aic" (default) or "bic".
	Criterion string
}

// DefaultSearchConfig returns the search bounds for a daily series with a
// weekly season.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxP:      5,
		MaxD:      2,
		MaxQ:      5,
		MaxSP:     2,
		MaxSD:     1,
		MaxSQ:     2,
		M:         7,
		Criterion: "aic",
	}
}

// SearchResult describes the outcome of an order search.
type SearchResult struct {
	Order           Order
	Criterion       float64
	ModelsEvaluated int
}

type candidate struct {
	p, q, sp, sq int
}

// AutoSARIMA selects differencing orders with unit-root and seasonal
// autocorrelation tests, then runs a stepwise search over (p,q,P,Q) starting
// from a fixed set of small models and moving to neighbours while the
// criterion improves. The best fitted model is returned.
func AutoSARIMA(ctx context.Context, values []float64, cfg SearchConfig, logger *slog.Logger) (*SARIMA, SearchResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.M < 2 {
		return nil, SearchResult{}, fmt.Errorf("seasonal period must be >= 2, got %d", cfg.M)
	}

	d := chooseDifferencing(values, cfg.MaxD)
	sd := 0
	if cfg.MaxSD > 0 {
		sd = chooseSeasonalDifferencing(values, d, cfg.M)
	}

	criterion := func(m *SARIMA) float64 {
		if cfg.Criterion == "bic" {
			return m.BIC()
		}
		return m.AIC()
	}

	visited := make(map[candidate]bool)
	var best *SARIMA
	bestCand := candidate{}
	bestCrit := math.Inf(1)
	evaluated := 0

	try := func(s candidate) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if s.p < 0 || s.p > cfg.MaxP || s.q < 0 || s.q > cfg.MaxQ ||
			s.sp < 0 || s.sp > cfg.MaxSP || s.sq < 0 || s.sq > cfg.MaxSQ {
			return false, nil
		}
		if visited[s] {
			return false, nil
		}
		visited[s] = true

		m := NewSARIMA(Order{P: s.p, D: d, Q: s.q, SP: s.sp, SD: sd, SQ: s.sq, M: cfg.M})
		if err := m.Fit(values); err != nil {
			logger.Debug("candidate order rejected", "order", m.Name(), "error", err)
			return false, nil
		}
		evaluated++

		c := criterion(m)
		if math.IsNaN(c) || c >= bestCrit {
			return false, nil
		}
		best, bestCand, bestCrit = m, s, c
		return true, nil
	}

	starts := []candidate{
		{0, 0, 0, 0},
		{1, 0, 1, 0},
		{0, 1, 0, 1},
		{1, 1, 1, 1},
		{2, 2, 1, 1},
	}
	for _, s := range starts {
		if _, err := try(s); err != nil {
			return nil, SearchResult{}, err
		}
	}
	if best == nil {
		return nil, SearchResult{}, fmt.Errorf("%w (d=%d, D=%d, n=%d)", ErrNoFittableOrder, d, sd, len(values))
	}

	for improved := true; improved; {
		improved = false
		c := bestCand
		neighbours := []candidate{
			{c.p + 1, c.q, c.sp, c.sq},
			{c.p - 1, c.q, c.sp, c.sq},
			{c.p, c.q + 1, c.sp, c.sq},
			{c.p, c.q - 1, c.sp, c.sq},
			{c.p, c.q, c.sp + 1, c.sq},
			{c.p, c.q, c.sp - 1, c.sq},
			{c.p, c.q, c.sp, c.sq + 1},
			{c.p, c.q, c.sp, c.sq - 1},
			{c.p + 1, c.q + 1, c.sp, c.sq},
			{c.p - 1, c.q - 1, c.sp, c.sq},
		}
		for _, s := range neighbours {
			ok, err := try(s)
			if err != nil {
				return nil, SearchResult{}, err
			}
			improved = improved || ok
		}
	}

	logger.Debug("order search complete",
		"order", best.Name(),
		"criterion", bestCrit,
		"models_evaluated", evaluated,
	)

	return best, SearchResult{
		Order:           best.Order(),
		Criterion:       bestCrit,
		ModelsEvaluated: evaluated,
	}, nil
}

// chooseDifferencing returns the smallest d for which the d-times differenced
// series looks stationary. KPSS and ADF must agree, unless KPSS is far from
// rejecting. A zero-variance series is stationary.
func chooseDifferencing(values []float64, maxD int) int {
	current := values
	for d := 0; d < maxD; d++ {
		if isStationary(current) {
			return d
		}
		next := series.Diff(current, 1)
		if len(next) < 10 {
			return d
		}
		current = next
	}
	return maxD
}

func isStationary(values []float64) bool {
	kpss, err := stats.KPSS(values, 0)
	if err != nil {
		return true
	}

	adf, err := stats.ADF(values)
	switch {
	case errors.Is(err, stats.ErrConstant):
		return true
	case err != nil:
		return kpss.PValue > 0.1
	}

	kpssOK := kpss.Stationary(0.05)
	return (kpssOK && adf.Stationary(0.05)) || (kpssOK && kpss.PValue > 0.1)
}

// chooseSeasonalDifferencing returns 1 when the series, after the chosen
// non-seasonal differencing, is strongly autocorrelated at the seasonal lag.
func chooseSeasonalDifferencing(values []float64, d, m int) int {
	target := values
	for range d {
		target = series.Diff(target, 1)
	}
	acf := stats.ACF(target, 2*m)
	if len(acf) > m && math.Abs(acf[m]) > 0.5 {
		return 1
	}
	return 0
}
