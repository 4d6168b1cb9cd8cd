// Package features turns a residual series and optional exogenous series into
// scaled, windowed samples for the sequence model.
//
// The feature matrix holds, in order: the target, each correlated exogenous
// series with its lags (series sorted by name), the target's own lags and
// trailing rolling statistics. Every cell is finite.
package features

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"

	"github.com/HatiCode/moodcast/pkg/series"
	"github.com/HatiCode/moodcast/pkg/stats"
)

// TargetColumn is the name of the first feature column.
const TargetColumn = "target"

var (
	// ErrTooShort is returned when the target has no more than SeqLen rows.
	ErrTooShort = errors.New("target series too short for windowing")
	// ErrNonFinite is returned when an input value is NaN or infinite.
	ErrNonFinite = errors.New("non-finite input value")
	// ErrEmptyExog is returned for an exogenous series without observations.
	ErrEmptyExog = errors.New("exogenous series has no observations")
)

// Config controls feature construction.
type Config struct {
	SeqLen         int
	ExogLags       []int
	RollingWindows []int
	CorrThreshold  float64
}

// DefaultConfig returns a two-week window with weekly and fortnightly rolling
// statistics.
func DefaultConfig() Config {
	return Config{
		SeqLen:         14,
		ExogLags:       []int{1, 3, 7, 14},
		RollingWindows: []int{7, 14},
		CorrThreshold:  0.2,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SeqLen < 1 {
		return fmt.Errorf("seq len must be >= 1, got %d", c.SeqLen)
	}
	for _, l := range c.ExogLags {
		if l < 1 {
			return fmt.Errorf("exog lags must be >= 1, got %d", l)
		}
	}
	for _, w := range c.RollingWindows {
		if w < 1 {
			return fmt.Errorf("rolling windows must be >= 1, got %d", w)
		}
	}
	if c.CorrThreshold < 0 || c.CorrThreshold >= 1 {
		return fmt.Errorf("correlation threshold must be in [0,1), got %v", c.CorrThreshold)
	}
	return nil
}

// Matrix is a table of named feature columns, one row per time step.
type Matrix struct {
	Columns []string
	Rows    [][]float64
}

// Index returns the position of column name, or -1.
func (m Matrix) Index(name string) int {
	return slices.Index(m.Columns, name)
}

// Column returns a copy of the named column, or nil when absent.
func (m Matrix) Column(name string) []float64 {
	j := m.Index(name)
	if j < 0 {
		return nil
	}
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = row[j]
	}
	return out
}

// ExogReport records the gating decision for one exogenous series.
type ExogReport struct {
	Name        string
	Correlation float64
	Matched     int
	Kept        bool
}

// Result is the output of Build.
type Result struct {
	Matrix  Matrix
	Scaled  [][]float64
	Windows WindowSet
	Scaler  *MinMaxScaler
	Exog    []ExogReport
}

// Builder constructs feature matrices and training windows.
type Builder struct {
	cfg    Config
	logger *slog.Logger
}

// NewBuilder creates a builder. It panics on an invalid configuration.
func NewBuilder(cfg Config, logger *slog.Logger) *Builder {
	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Config returns the builder configuration.
func (b *Builder) Config() Config { return b.cfg }

// Build assembles the feature matrix for target, gates each exogenous series
// on its correlation with the target, fits a [-1, 1] scaler on the whole
// matrix and cuts it into windows.
func (b *Builder) Build(target series.Series, exog map[string]series.Series) (*Result, error) {
	n := target.Len()
	if n <= b.cfg.SeqLen {
		return nil, fmt.Errorf("%w: %d rows, need more than %d", ErrTooShort, n, b.cfg.SeqLen)
	}
	if err := checkFinite(target.Name, target.Values); err != nil {
		return nil, err
	}

	m := Matrix{}
	cols := [][]float64{}
	add := func(name string, values []float64) {
		m.Columns = append(m.Columns, name)
		cols = append(cols, values)
	}

	add(TargetColumn, target.Values)

	names := make([]string, 0, len(exog))
	for name := range exog {
		names = append(names, name)
	}
	slices.Sort(names)

	reports := make([]ExogReport, 0, len(names))
	for _, name := range names {
		s := exog[name]
		if s.Len() == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyExog, name)
		}
		if err := checkFinite(name, s.Values); err != nil {
			return nil, err
		}

		aligned, matched := s.AlignTo(target.Dates)
		rep := ExogReport{Name: name, Matched: matched, Correlation: math.NaN()}
		if matched > 0 {
			rep.Correlation = stats.Pearson(aligned, target.Values)
		}
		rep.Kept = !math.IsNaN(rep.Correlation) && math.Abs(rep.Correlation) > b.cfg.CorrThreshold
		reports = append(reports, rep)

		b.logger.Debug("exogenous series gated",
			"exog", name,
			"correlation", rep.Correlation,
			"matched", matched,
			"kept", rep.Kept,
		)
		if !rep.Kept {
			continue
		}

		add(name, aligned)
		for _, lag := range b.cfg.ExogLags {
			add(name+"_lag_"+strconv.Itoa(lag), series.Shift(aligned, lag))
		}
	}

	for lag := 1; lag <= b.cfg.SeqLen; lag++ {
		add("lag_"+strconv.Itoa(lag), series.Shift(target.Values, lag))
	}
	for _, w := range b.cfg.RollingWindows {
		add("mean_"+strconv.Itoa(w), series.RollingMean(target.Values, w))
		add("std_"+strconv.Itoa(w), series.RollingStd(target.Values, w))
	}

	m.Rows = make([][]float64, n)
	for i := range n {
		row := make([]float64, len(cols))
		for j, c := range cols {
			if v := c[i]; !math.IsNaN(v) {
				row[j] = v
			}
		}
		m.Rows[i] = row
	}

	scaler := NewMinMaxScaler(-1, 1)
	if err := scaler.Fit(m.Rows); err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	scaled, err := scaler.Transform(m.Rows)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}

	return &Result{
		Matrix:  m,
		Scaled:  scaled,
		Windows: Windows(scaled, b.cfg.SeqLen, 0),
		Scaler:  scaler,
		Exog:    reports,
	}, nil
}

func checkFinite(name string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s[%d] = %v", ErrNonFinite, name, i, v)
		}
	}
	return nil
}
