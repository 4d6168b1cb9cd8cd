package models

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/HatiCode/moodcast/pkg/series"
)

var (
	// ErrInsufficientData is returned when a series is too short for an order.
	ErrInsufficientData = errors.New("insufficient data points for the specified order")
	// ErrNotFitted is returned when a model is used before Fit.
	ErrNotFitted = errors.New("model not fitted, call Fit() first")
)

const (
	// coeffBound keeps AR and MA coefficients inside the unit interval.
	coeffBound = 0.99
	// varianceFloor keeps the likelihood finite for perfectly fitted series.
	varianceFloor = 1e-10
	// minEffectiveObs is the number of observations required beyond the
	// differencing burn-in and the longest lag.
	minEffectiveObs = 8
)

// Order is a seasonal ARIMA order (p,d,q)(P,D,Q,m).
type Order struct {
	P  int // non-seasonal AR order
	D  int // non-seasonal differencing order
	Q  int // non-seasonal MA order
	SP int // seasonal AR order
	SD int // seasonal differencing order
	SQ int // seasonal MA order
	M  int // seasonal period
}

// String renders the order as sarima(p,d,q)(P,D,Q,m).
func (o Order) String() string {
	return fmt.Sprintf("sarima(%d,%d,%d)(%d,%d,%d,%d)", o.P, o.D, o.Q, o.SP, o.SD, o.SQ, o.M)
}

// burnIn is the number of leading observations consumed by differencing.
func (o Order) burnIn() int {
	return o.D + o.SD*o.M
}

func (o Order) params() int {
	return o.P + o.Q + o.SP + o.SQ + 1
}

// SARIMA is a seasonal ARIMA model fitted by conditional sum of squares.
//
// AR terms start from Yule-Walker estimates, seasonal AR terms from the
// Yule-Walker solution on seasonal lags and MA terms at 0.1. All terms are
// then refined by momentum gradient descent on the sum of squared one-step
// errors, keeping the best iterate. A fitted model is immutable.
type SARIMA struct {
	order Order

	ar, ma, sar, sma []float64
	intercept        float64
	variance         float64
	logLik           float64
	aic, bic         float64

	data   []float64   // series the model was fitted on
	levels [][]float64 // levels[k] is data differenced k times, k = 0..D
	z      []float64   // fully differenced series
	resid  []float64   // one-step errors on z
	fitted bool
}

// NewSARIMA creates an unfitted model. It panics on negative orders, on
// seasonal terms without a period of at least 2, or on seasonal differencing
// beyond one.
func NewSARIMA(order Order) *SARIMA {
	if order.P < 0 || order.D < 0 || order.Q < 0 || order.SP < 0 || order.SD < 0 || order.SQ < 0 {
		panic("orders must be >= 0")
	}
	if order.SP+order.SD+order.SQ > 0 && order.M < 2 {
		panic("seasonal terms require period m >= 2")
	}
	if order.SD > 1 {
		panic("seasonal differencing order must be 0 or 1")
	}

	return &SARIMA{
		order: order,
		ar:    make([]float64, order.P),
		ma:    make([]float64, order.Q),
		sar:   make([]float64, order.SP),
		sma:   make([]float64, order.SQ),
	}
}

// Name returns the model name with its order.
func (m *SARIMA) Name() string {
	return m.order.String()
}

// Order returns the model order.
func (m *SARIMA) Order() Order {
	return m.order
}

// AIC returns the Akaike information criterion of the fit.
func (m *SARIMA) AIC() float64 { return m.aic }

// BIC returns the Bayesian information criterion of the fit.
func (m *SARIMA) BIC() float64 { return m.bic }

// Variance returns the innovation variance estimate.
func (m *SARIMA) Variance() float64 { return m.variance }

// Fit estimates the model on values.
func (m *SARIMA) Fit(values []float64) error {
	o := m.order
	longestLag := max(o.P, o.Q, o.SP*o.M, o.SQ*o.M)
	need := o.burnIn() + longestLag + minEffectiveObs
	if len(values) < need {
		return fmt.Errorf("%w: %s needs %d, got %d", ErrInsufficientData, o, need, len(values))
	}

	m.data = append([]float64(nil), values...)
	m.levels = make([][]float64, o.D+1)
	m.levels[0] = m.data
	for k := 1; k <= o.D; k++ {
		m.levels[k] = series.Diff(m.levels[k-1], 1)
	}
	m.z = m.levels[o.D]
	if o.SD == 1 {
		m.z = series.Diff(m.z, o.M)
	}
	for _, v := range m.z {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("differenced series contains non-finite values")
		}
	}

	m.intercept = stat.Mean(m.z, nil)
	centered := make([]float64, len(m.z))
	for i, v := range m.z {
		centered[i] = v - m.intercept
	}

	m.ar = yuleWalkerAR(centered, o.P, 1)
	m.sar = yuleWalkerAR(centered, o.SP, o.M)
	for i := range m.ma {
		m.ma[i] = 0.1
	}
	for i := range m.sma {
		m.sma[i] = 0.1
	}

	m.optimizeCSS()
	m.calculateIC()
	m.fitted = true

	return nil
}

// predictAt returns the one-step prediction of y[t] from earlier values of y
// and earlier errors e. Errors at or beyond limit are treated as zero.
func (m *SARIMA) predictAt(y, e []float64, t, limit int) float64 {
	o := m.order
	pred := m.intercept

	for i := 0; i < o.P && t-i-1 >= 0; i++ {
		pred += m.ar[i] * (y[t-i-1] - m.intercept)
	}
	for i := 0; i < o.SP; i++ {
		if lag := (i + 1) * o.M; t-lag >= 0 {
			pred += m.sar[i] * (y[t-lag] - m.intercept)
		}
	}
	for i := 0; i < o.Q && t-i-1 >= 0; i++ {
		if t-i-1 < limit {
			pred += m.ma[i] * e[t-i-1]
		}
	}
	for i := 0; i < o.SQ; i++ {
		if lag := (i + 1) * o.M; t-lag >= 0 && t-lag < limit {
			pred += m.sma[i] * e[t-lag]
		}
	}

	return pred
}

// residualsInto fills e with the one-step errors on z and returns the sum of
// squares from start onwards.
func (m *SARIMA) residualsInto(e []float64, start int) float64 {
	sse := 0.0
	for t := range m.z {
		e[t] = m.z[t] - m.predictAt(m.z, e, t, len(m.z))
		if t >= start {
			sse += e[t] * e[t]
		}
	}
	return sse
}

func (m *SARIMA) optimizeCSS() {
	o := m.order
	y := m.z
	n := len(y)

	const (
		maxIter   = 200
		tolerance = 1e-8
		momentum  = 0.9
		decay     = 0.99
		patience  = 20
	)
	learningRate := 0.005

	start := max(o.P, o.Q, o.SP*o.M, o.SQ*o.M)
	if start >= n-minEffectiveObs {
		start = 0
	}

	groups := []struct {
		coeffs []float64
		vel    []float64
		best   []float64
	}{
		{m.ar, make([]float64, o.P), make([]float64, o.P)},
		{m.sar, make([]float64, o.SP), make([]float64, o.SP)},
		{m.ma, make([]float64, o.Q), make([]float64, o.Q)},
		{m.sma, make([]float64, o.SQ), make([]float64, o.SQ)},
	}

	resid := make([]float64, n)
	bestSSE := math.Inf(1)
	stale := 0

	for iter := range maxIter {
		sse := m.residualsInto(resid, start)

		if sse < bestSSE {
			if iter > 0 && bestSSE-sse < tolerance {
				bestSSE = sse
				for _, g := range groups {
					copy(g.best, g.coeffs)
				}
				break
			}
			bestSSE = sse
			for _, g := range groups {
				copy(g.best, g.coeffs)
			}
			stale = 0
		} else {
			stale++
			if stale > patience {
				break
			}
		}

		grads := [4][]float64{
			make([]float64, o.P), make([]float64, o.SP),
			make([]float64, o.Q), make([]float64, o.SQ),
		}
		for t := start; t < n; t++ {
			for i := 0; i < o.P && t-i-1 >= 0; i++ {
				grads[0][i] -= 2 * resid[t] * (y[t-i-1] - m.intercept)
			}
			for i := 0; i < o.SP; i++ {
				if lag := (i + 1) * o.M; t-lag >= 0 {
					grads[1][i] -= 2 * resid[t] * (y[t-lag] - m.intercept)
				}
			}
			for i := 0; i < o.Q && t-i-1 >= 0; i++ {
				grads[2][i] -= 2 * resid[t] * resid[t-i-1]
			}
			for i := 0; i < o.SQ; i++ {
				if lag := (i + 1) * o.M; t-lag >= 0 {
					grads[3][i] -= 2 * resid[t] * resid[t-lag]
				}
			}
		}

		for gi, g := range groups {
			for i := range g.coeffs {
				g.vel[i] = momentum*g.vel[i] + learningRate*grads[gi][i]/float64(n)
				g.coeffs[i] = clamp(g.coeffs[i]-g.vel[i], -coeffBound, coeffBound)
			}
		}
		learningRate *= decay
	}

	for _, g := range groups {
		copy(g.coeffs, g.best)
	}

	m.resid = make([]float64, n)
	sse := m.residualsInto(m.resid, start)
	count := n - start

	k := o.params()
	if count > k {
		m.variance = sse / float64(count-k)
	} else {
		m.variance = sse / float64(count)
	}
	m.variance = math.Max(m.variance, varianceFloor)
}

func (m *SARIMA) calculateIC() {
	n := float64(len(m.resid))
	k := float64(m.order.params())

	sse := 0.0
	for _, r := range m.resid {
		sse += r * r
	}

	m.logLik = -n/2*math.Log(2*math.Pi) - n/2*math.Log(m.variance) - sse/(2*m.variance)
	m.aic = -2*m.logLik + 2*k
	m.bic = -2*m.logLik + k*math.Log(n)
}

// InSample returns one-step-ahead predictions aligned with the fitted series.
// Observations consumed by differencing have no prediction and report the
// observed value.
func (m *SARIMA) InSample() ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}

	burn := m.order.burnIn()
	out := make([]float64, len(m.data))
	for t, v := range m.data {
		if t < burn {
			out[t] = v
			continue
		}
		out[t] = v - m.resid[t-burn]
	}
	return out, nil
}

// Forecast returns predictions for the next steps observations on the scale
// of the fitted series. Future errors are taken as zero.
func (m *SARIMA) Forecast(steps int) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	if steps < 1 {
		return nil, errors.New("steps must be at least 1")
	}

	n := len(m.z)
	extY := make([]float64, n+steps)
	copy(extY, m.z)
	extE := make([]float64, n+steps)
	copy(extE, m.resid)

	for h := range steps {
		t := n + h
		extY[t] = m.predictAt(extY, extE, t, n)
	}

	return m.integrate(extY[n:]), nil
}

// integrate undoes seasonal then non-seasonal differencing of a forecast.
func (m *SARIMA) integrate(forecast []float64) []float64 {
	o := m.order
	out := append([]float64(nil), forecast...)

	if o.SD == 1 {
		base := m.levels[o.D]
		ext := append(append([]float64(nil), base...), make([]float64, len(out))...)
		for j := range out {
			idx := len(base) + j
			ext[idx] = out[j] + ext[idx-o.M]
			out[j] = ext[idx]
		}
	}

	for k := o.D - 1; k >= 0; k-- {
		level := m.levels[k]
		last := level[len(level)-1]
		for j := range out {
			last += out[j]
			out[j] = last
		}
	}

	return out
}
