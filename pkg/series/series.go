// Package series provides the dated, daily-cadence series type shared by every
// stage of the forecasting pipeline, together with the small set of
// transformations the pipeline needs: differencing, shifting, alignment
// onto another date index and trailing rolling statistics.
package series

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrLengthMismatch is returned when dates and values differ in length.
	ErrLengthMismatch = errors.New("series: dates and values must have the same length")
	// ErrEmpty is returned by operations that need at least one observation.
	ErrEmpty = errors.New("series: empty series")
)

// Day is the cadence of every series handled by this package.
const Day = 24 * time.Hour

// Series is an ordered sequence of (date, value) pairs with strictly
// increasing dates. Dates are normalised to UTC midnight.
type Series struct {
	Name   string
	Dates  []time.Time
	Values []float64
}

// New validates and builds a Series. Dates must be strictly increasing once
// truncated to the day and every value must be finite.
func New(name string, dates []time.Time, values []float64) (Series, error) {
	if len(dates) != len(values) {
		return Series{}, fmt.Errorf("%w: %d dates, %d values", ErrLengthMismatch, len(dates), len(values))
	}

	s := Series{
		Name:   name,
		Dates:  make([]time.Time, len(dates)),
		Values: make([]float64, len(values)),
	}
	for i, d := range dates {
		s.Dates[i] = Truncate(d)
		if i > 0 && !s.Dates[i].After(s.Dates[i-1]) {
			return Series{}, fmt.Errorf("series %q: date %s at index %d is not after %s",
				name, s.Dates[i].Format(time.DateOnly), i, s.Dates[i-1].Format(time.DateOnly))
		}
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Series{}, fmt.Errorf("series %q: non-finite value at index %d", name, i)
		}
		s.Values[i] = v
	}

	return s, nil
}

// Daily builds a series of consecutive days starting at start.
// It is mostly useful for tests and synthetic inputs.
func Daily(name string, start time.Time, values []float64) (Series, error) {
	return New(name, FutureDates(Truncate(start).Add(-Day), len(values)), values)
}

// Truncate normalises t to midnight UTC of the same calendar day.
func Truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FutureDates returns n consecutive days beginning the day after last.
func FutureDates(last time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	base := Truncate(last)
	out := make([]time.Time, n)
	for i := range n {
		out[i] = base.AddDate(0, 0, i+1)
	}
	return out
}

// Len returns the number of observations.
func (s Series) Len() int {
	return len(s.Values)
}

// Last returns the final observation.
func (s Series) Last() (time.Time, float64, error) {
	if len(s.Values) == 0 {
		return time.Time{}, 0, ErrEmpty
	}
	n := len(s.Values) - 1
	return s.Dates[n], s.Values[n], nil
}

// Slice returns the observations in [from, to). The result shares no memory
// with s.
func (s Series) Slice(from, to int) Series {
	out := Series{
		Name:   s.Name,
		Dates:  make([]time.Time, to-from),
		Values: make([]float64, to-from),
	}
	copy(out.Dates, s.Dates[from:to])
	copy(out.Values, s.Values[from:to])
	return out
}

// Diff returns the first difference of s. The first observation has no
// predecessor and is dropped, so the result is one element shorter and is
// indexed by s.Dates[1:].
func (s Series) Diff() Series {
	if len(s.Values) < 2 {
		return Series{Name: s.Name}
	}
	out := Series{
		Name:   s.Name,
		Dates:  make([]time.Time, len(s.Values)-1),
		Values: Diff(s.Values, 1),
	}
	copy(out.Dates, s.Dates[1:])
	return out
}

// Mean returns the arithmetic mean of the values.
func (s Series) Mean() float64 {
	if len(s.Values) == 0 {
		return math.NaN()
	}
	return stat.Mean(s.Values, nil)
}

// Variance returns the sample variance of the values.
func (s Series) Variance() float64 {
	if len(s.Values) < 2 {
		return 0
	}
	return stat.Variance(s.Values, nil)
}

// Diff returns values[t] - values[t-lag] for t >= lag.
func Diff(values []float64, lag int) []float64 {
	if lag <= 0 || len(values) <= lag {
		return []float64{}
	}
	out := make([]float64, len(values)-lag)
	floats.SubTo(out, values[lag:], values[:len(values)-lag])
	return out
}

// Shift returns values delayed by k steps. The first k entries have no
// source observation and are NaN.
func Shift(values []float64, k int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if i < k {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i-k]
	}
	return out
}

// AlignTo reindexes s onto dates: observations whose date appears in dates
// are taken as-is, gaps are forward-filled and any leading gap is then
// back-filled. Observations of s outside dates are ignored. The second return
// value is the number of exact date matches; when it is zero every output
// value is NaN.
func (s Series) AlignTo(dates []time.Time) ([]float64, int) {
	byDate := make(map[time.Time]float64, len(s.Dates))
	for i, d := range s.Dates {
		byDate[d] = s.Values[i]
	}

	out := make([]float64, len(dates))
	matched := 0
	for i, d := range dates {
		v, ok := byDate[Truncate(d)]
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
		matched++
	}
	if matched == 0 {
		return out, 0
	}

	for i := 1; i < len(out); i++ {
		if math.IsNaN(out[i]) {
			out[i] = out[i-1]
		}
	}
	for i := len(out) - 2; i >= 0; i-- {
		if math.IsNaN(out[i]) {
			out[i] = out[i+1]
		}
	}

	return out, matched
}

// RollingMean returns the trailing mean over window observations, using as
// many observations as are available at the start of the series.
func RollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		lo := max(0, i-window+1)
		out[i] = stat.Mean(values[lo:i+1], nil)
	}
	return out
}

// RollingStd returns the trailing sample standard deviation over window
// observations. Windows holding a single observation are NaN.
func RollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		lo := max(0, i-window+1)
		if i-lo < 1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.StdDev(values[lo:i+1], nil)
	}
	return out
}
