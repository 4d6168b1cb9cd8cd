// Package stats implements the statistical tests used to decide how a series
// is differenced before seasonal model fitting: the augmented Dickey-Fuller
// unit-root test, the KPSS level-stationarity test and the autocorrelation
// function, plus Pearson correlation for exogenous feature gating.
package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrSingular is returned when a regression design matrix is not of full rank.
	ErrSingular = errors.New("stats: singular design matrix")
	// ErrTooShort is returned when a series has too few observations for a test.
	ErrTooShort = errors.New("stats: series too short")
	// ErrConstant is returned when a test is undefined for a zero-variance series.
	ErrConstant = errors.New("stats: constant series")
)

// olsFit holds the result of an ordinary least squares regression.
type olsFit struct {
	Coef   []float64
	StdErr []float64
	SSR    float64
	NObs   int
}

// aic returns the Akaike criterion of the Gaussian log-likelihood implied by
// the residual sum of squares.
func (f olsFit) aic() float64 {
	n := float64(f.NObs)
	llf := -n / 2 * (math.Log(2*math.Pi) + math.Log(f.SSR/n) + 1)
	return -2*llf + 2*float64(len(f.Coef))
}

// ols regresses y on the columns of x via the normal equations.
func ols(x *mat.Dense, y []float64) (olsFit, error) {
	n, k := x.Dims()
	if n != len(y) {
		return olsFit{}, fmt.Errorf("ols: %d rows, %d targets", n, len(y))
	}
	if n <= k {
		return olsFit{}, fmt.Errorf("%w: %d observations for %d regressors", ErrTooShort, n, k)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)

	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		return olsFit{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	yv := mat.NewVecDense(n, y)
	var xty mat.VecDense
	xty.MulVec(x.T(), yv)

	var beta mat.VecDense
	beta.MulVec(&inv, &xty)

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)

	ssr := 0.0
	for i := range n {
		r := y[i] - fitted.AtVec(i)
		ssr += r * r
	}

	s2 := ssr / float64(n-k)
	coef := make([]float64, k)
	se := make([]float64, k)
	for j := range k {
		coef[j] = beta.AtVec(j)
		se[j] = math.Sqrt(s2 * inv.At(j, j))
	}

	return olsFit{Coef: coef, StdErr: se, SSR: ssr, NObs: n}, nil
}
