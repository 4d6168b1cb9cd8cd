package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// KPSSResult is the outcome of a KPSS level-stationarity test.
type KPSSResult struct {
	Statistic      float64
	PValue         float64
	Lags           int
	CriticalValues map[string]float64
}

// Stationary reports whether the stationarity null survives at level alpha.
func (r KPSSResult) Stationary(alpha float64) bool {
	return r.PValue >= alpha
}

var kpssCrit = []struct {
	stat, p float64
}{
	{0.347, 0.10},
	{0.463, 0.05},
	{0.574, 0.025},
	{0.739, 0.01},
}

// KPSS runs the Kwiatkowski-Phillips-Schmidt-Shin test around a constant
// level. When nlags <= 0 the Newey-West bandwidth 12*(n/100)^(1/4) is used.
func KPSS(values []float64, nlags int) (KPSSResult, error) {
	n := len(values)
	if n < 3 {
		return KPSSResult{}, fmt.Errorf("%w: kpss needs at least 3 observations, got %d", ErrTooShort, n)
	}
	if nlags <= 0 {
		nlags = int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	}
	nlags = min(nlags, n-1)

	mean := stat.Mean(values, nil)
	resid := make([]float64, n)
	for i, v := range values {
		resid[i] = v - mean
	}

	s2 := 0.0
	for _, r := range resid {
		s2 += r * r
	}
	s2 /= float64(n)
	for l := 1; l <= nlags; l++ {
		cov := 0.0
		for i := l; i < n; i++ {
			cov += resid[i] * resid[i-l]
		}
		cov /= float64(n)
		s2 += 2 * (1 - float64(l)/float64(nlags+1)) * cov
	}
	if s2 <= 0 {
		s2 = 1e-10
	}

	eta, cum := 0.0, 0.0
	for _, r := range resid {
		cum += r
		eta += cum * cum
	}
	statistic := eta / (float64(n) * float64(n) * s2)

	crit := make(map[string]float64, len(kpssCrit))
	for _, c := range kpssCrit {
		crit[fmt.Sprintf("%g%%", c.p*100)] = c.stat
	}

	return KPSSResult{
		Statistic:      statistic,
		PValue:         kpssP(statistic),
		Lags:           nlags,
		CriticalValues: crit,
	}, nil
}

// kpssP interpolates the p-value between the tabulated critical values. Below
// the 10% point the value is extrapolated linearly and capped at 1.
func kpssP(statistic float64) float64 {
	first, last := kpssCrit[0], kpssCrit[len(kpssCrit)-1]
	switch {
	case statistic >= last.stat:
		return last.p
	case statistic <= first.stat:
		return math.Min(first.p+(first.stat-statistic)*0.5, 1)
	}
	for i := 1; i < len(kpssCrit); i++ {
		lo, hi := kpssCrit[i-1], kpssCrit[i]
		if statistic <= hi.stat {
			frac := (statistic - lo.stat) / (hi.stat - lo.stat)
			return lo.p + frac*(hi.p-lo.p)
		}
	}
	return last.p
}
