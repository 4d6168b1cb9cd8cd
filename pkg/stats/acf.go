package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ACF returns the sample autocorrelations for lags 0..maxLag. It returns nil
// for a zero-variance series, where autocorrelation is undefined.
func ACF(values []float64, maxLag int) []float64 {
	n := len(values)
	if n == 0 || maxLag < 0 {
		return nil
	}
	maxLag = min(maxLag, n-1)

	mean := stat.Mean(values, nil)
	c0 := 0.0
	for _, v := range values {
		c0 += (v - mean) * (v - mean)
	}
	if c0 == 0 {
		return nil
	}

	acf := make([]float64, maxLag+1)
	for k := 0; k <= maxLag; k++ {
		ck := 0.0
		for i := 0; i < n-k; i++ {
			ck += (values[i] - mean) * (values[i+k] - mean)
		}
		acf[k] = ck / c0
	}
	return acf
}

// Pearson returns the Pearson correlation between x and y. The result is NaN
// when either input is constant or the lengths differ.
func Pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN()
	}
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}
