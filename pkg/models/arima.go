// Package models provides the statistical forecasting models of the pipeline.
//
// The central type is [SARIMA], a seasonal ARIMA(p,d,q)(P,D,Q,m) model fitted
// by conditional sum of squares. [AutoSARIMA] selects its order with a
// stepwise information-criterion search and [FitSeasonal] wraps the whole
// procedure behind a unit-root gate that differences the input once when it
// is not stationary, reporting predictions back on the scale of the input.
// [Naive] produces the last-value forecast used when no model can be fitted.
package models

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// yuleWalkerAR estimates AR coefficients at lags step, 2*step, ... p*step from
// the autocorrelations of the centered series. A zero-variance series or an
// unstable recursion yields all-zero coefficients.
func yuleWalkerAR(centered []float64, p, step int) []float64 {
	coeffs := make([]float64, p)
	if p == 0 || len(centered) == 0 || stat.PopVariance(centered, nil) < 1e-10 {
		return coeffs
	}

	acf := make([]float64, p+1)
	for k := 0; k <= p; k++ {
		acf[k] = autocorr(centered, k*step)
	}

	solved, err := levinsonDurbin(acf, p)
	if err != nil {
		return coeffs
	}
	for i, c := range solved {
		coeffs[i] = clamp(c, -coeffBound, coeffBound)
	}
	return coeffs
}

// autocorr computes autocorrelation at given lag
func autocorr(series []float64, lag int) float64 {
	if lag < 0 || lag >= len(series) {
		return 0
	}

	n := len(series)
	mean := stat.Mean(series, nil)

	var c0, ck float64
	for i := range n {
		c0 += (series[i] - mean) * (series[i] - mean)
	}

	for i := 0; i < n-lag; i++ {
		ck += (series[i] - mean) * (series[i+lag] - mean)
	}

	if c0 == 0 {
		return 0
	}

	return ck / c0
}

// levinsonDurbin solves the Yule-Walker equations for an AR(p) process.
func levinsonDurbin(acf []float64, p int) ([]float64, error) {
	if p == 0 {
		return []float64{}, nil
	}

	phi := make([][]float64, p+1)
	for i := range phi {
		phi[i] = make([]float64, p+1)
	}

	v := acf[0]

	for k := 1; k <= p; k++ {
		num := acf[k]
		for j := 1; j < k; j++ {
			num -= phi[k-1][j] * acf[k-j]
		}

		if v == 0 {
			return nil, errors.New("numerical instability in Levinson-Durbin")
		}

		phi[k][k] = num / v

		for j := 1; j < k; j++ {
			phi[k][j] = phi[k-1][j] - phi[k][k]*phi[k-1][k-j]
		}

		v *= 1 - phi[k][k]*phi[k][k]

		if v < 0 {
			return nil, errors.New("negative variance in Levinson-Durbin")
		}
	}

	coeffs := make([]float64, p)
	for i := range p {
		coeffs[i] = phi[p][i+1]
	}

	return coeffs, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
