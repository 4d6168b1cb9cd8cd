package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ADFResult is the outcome of an augmented Dickey-Fuller test with a constant.
type ADFResult struct {
	Statistic      float64
	PValue         float64
	UsedLag        int
	NObs           int
	CriticalValues map[string]float64
}

// Stationary reports whether the unit-root null is rejected at level alpha.
func (r ADFResult) Stationary(alpha float64) bool {
	return r.PValue < alpha
}

// ADF runs the augmented Dickey-Fuller test on values. The number of lagged
// differences is chosen by AIC between 0 and 12*(n/100)^(1/4) (bounded by
// n/2-2), comparing candidates on a common sample, then the regression is
// re-run on the full sample for the chosen lag.
//
// A zero-variance input returns ErrConstant; a rank-deficient regression
// returns ErrSingular.
func ADF(values []float64) (ADFResult, error) {
	n := len(values)
	if n == 0 {
		return ADFResult{}, ErrTooShort
	}
	if floats.Max(values) == floats.Min(values) {
		return ADFResult{}, ErrConstant
	}

	maxLag := int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	maxLag = min(maxLag, n/2-2)
	if maxLag < 0 {
		return ADFResult{}, fmt.Errorf("%w: adf needs at least 4 observations, got %d", ErrTooShort, n)
	}

	dy := make([]float64, n-1)
	floats.SubTo(dy, values[1:], values[:n-1])

	bestLag := -1
	bestAIC := math.Inf(1)
	for lag := 0; lag <= maxLag; lag++ {
		fit, err := adfRegression(values, dy, lag, maxLag)
		if err != nil {
			continue
		}
		if aic := fit.aic(); aic < bestAIC || bestLag < 0 {
			bestAIC = aic
			bestLag = lag
		}
	}
	if bestLag < 0 {
		return ADFResult{}, ErrSingular
	}

	fit, err := adfRegression(values, dy, bestLag, bestLag)
	if err != nil {
		return ADFResult{}, err
	}
	se := fit.StdErr[1]
	if se == 0 || math.IsNaN(se) {
		return ADFResult{}, fmt.Errorf("%w: zero standard error on lagged level", ErrSingular)
	}

	tau := fit.Coef[1] / se
	return ADFResult{
		Statistic:      tau,
		PValue:         mackinnonP(tau),
		UsedLag:        bestLag,
		NObs:           fit.NObs,
		CriticalValues: mackinnonCrit(fit.NObs),
	}, nil
}

// adfRegression regresses dy[t] on a constant, the lagged level y[t] and
// lag lagged differences, skipping the first trim differences.
func adfRegression(y, dy []float64, lag, trim int) (olsFit, error) {
	rows := len(dy) - trim
	if rows <= 0 {
		return olsFit{}, ErrTooShort
	}

	x := mat.NewDense(rows, 2+lag, nil)
	target := make([]float64, rows)
	for i := range rows {
		t := i + trim
		target[i] = dy[t]
		x.Set(i, 0, 1)
		x.Set(i, 1, y[t])
		for j := 1; j <= lag; j++ {
			x.Set(i, 1+j, dy[t-j])
		}
	}

	return ols(x, target)
}

// mackinnonP approximates the asymptotic p-value of a Dickey-Fuller statistic
// for the constant-only regression using MacKinnon's (1994) response surface.
func mackinnonP(tau float64) float64 {
	const (
		tauMax  = 2.74
		tauMin  = -18.83
		tauStar = -1.61
	)
	switch {
	case tau > tauMax:
		return 1
	case tau < tauMin:
		return 0
	}

	var z float64
	if tau <= tauStar {
		z = 2.1659 + 1.4412*tau + 0.038269*tau*tau
	} else {
		z = 1.7339 + 0.93202*tau - 0.12745*tau*tau - 0.010368*tau*tau*tau
	}
	return distuv.UnitNormal.CDF(z)
}

// mackinnonCrit returns the finite-sample critical values of MacKinnon (2010).
func mackinnonCrit(nobs int) map[string]float64 {
	n := float64(nobs)
	surface := func(b0, b1, b2, b3 float64) float64 {
		return b0 + b1/n + b2/(n*n) + b3/(n*n*n)
	}
	return map[string]float64{
		"1%":  surface(-3.43035, -6.5393, -16.786, -79.433),
		"5%":  surface(-2.86154, -2.8903, -4.234, -40.040),
		"10%": surface(-2.56677, -1.5384, -2.809, 0),
	}
}
