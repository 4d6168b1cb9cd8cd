package features

import (
	"errors"
	"fmt"
)

// ErrScalerNotFitted is returned when a scaler is used before Fit.
var ErrScalerNotFitted = errors.New("scaler not fitted")

// MinMaxScaler maps each column linearly from its observed [min, max] onto
// [Low, High]. A column with zero range is scaled as if its range were 1, so
// a constant column maps to Low.
type MinMaxScaler struct {
	Low, High float64

	dataMin []float64
	scale   []float64
	offset  []float64
}

// NewMinMaxScaler creates a scaler onto [low, high]. It panics if low >= high.
func NewMinMaxScaler(low, high float64) *MinMaxScaler {
	if low >= high {
		panic("scaler range must satisfy low < high")
	}
	return &MinMaxScaler{Low: low, High: high}
}

// Fit learns per-column minimum and maximum from rows.
func (s *MinMaxScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return errors.New("cannot fit scaler on empty data")
	}
	cols := len(rows[0])
	lo := append([]float64(nil), rows[0]...)
	hi := append([]float64(nil), rows[0]...)
	for i, row := range rows {
		if len(row) != cols {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(row), cols)
		}
		for j, v := range row {
			lo[j] = min(lo[j], v)
			hi[j] = max(hi[j], v)
		}
	}

	s.dataMin = lo
	s.scale = make([]float64, cols)
	s.offset = make([]float64, cols)
	for j := range cols {
		r := hi[j] - lo[j]
		if r == 0 {
			r = 1
		}
		s.scale[j] = (s.High - s.Low) / r
		s.offset[j] = s.Low - lo[j]*s.scale[j]
	}
	return nil
}

// Columns returns the number of columns the scaler was fitted on.
func (s *MinMaxScaler) Columns() int { return len(s.scale) }

// Transform returns a scaled copy of rows.
func (s *MinMaxScaler) Transform(rows [][]float64) ([][]float64, error) {
	return s.apply(rows, func(j int, v float64) float64 {
		return v*s.scale[j] + s.offset[j]
	})
}

// InverseTransform maps scaled rows back to the original units.
func (s *MinMaxScaler) InverseTransform(rows [][]float64) ([][]float64, error) {
	return s.apply(rows, s.inverse)
}

// InverseColumn maps scaled values of column j back to the original units.
func (s *MinMaxScaler) InverseColumn(j int, values []float64) ([]float64, error) {
	if s.scale == nil {
		return nil, ErrScalerNotFitted
	}
	if j < 0 || j >= len(s.scale) {
		return nil, fmt.Errorf("column %d out of range [0,%d)", j, len(s.scale))
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = s.inverse(j, v)
	}
	return out, nil
}

func (s *MinMaxScaler) inverse(j int, v float64) float64 {
	return (v - s.offset[j]) / s.scale[j]
}

func (s *MinMaxScaler) apply(rows [][]float64, f func(j int, v float64) float64) ([][]float64, error) {
	if s.scale == nil {
		return nil, ErrScalerNotFitted
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.scale) {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), len(s.scale))
		}
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = f(j, v)
		}
	}
	return out, nil
}
