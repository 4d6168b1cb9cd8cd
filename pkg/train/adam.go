package train

import (
	"math"

	"github.com/HatiCode/moodcast/pkg/nn"
)

// Adam is the Adam optimiser with bias-corrected moment estimates.
type Adam struct {
	LR                  float64
	Beta1, Beta2, Eps   float64
	step                int
	firstMom, secondMom [][]float64
}

// NewAdam creates an optimiser for params.
func NewAdam(params []*nn.Param, lr, beta1, beta2, eps float64) *Adam {
	a := &Adam{
		LR:        lr,
		Beta1:     beta1,
		Beta2:     beta2,
		Eps:       eps,
		firstMom:  make([][]float64, len(params)),
		secondMom: make([][]float64, len(params)),
	}
	for i, p := range params {
		a.firstMom[i] = make([]float64, len(p.Value))
		a.secondMom[i] = make([]float64, len(p.Value))
	}
	return a
}

// Step applies one update to params from grads.
func (a *Adam) Step(params []*nn.Param, grads nn.Gradients) {
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for i, p := range params {
		m, v, g := a.firstMom[i], a.secondMom[i], grads[i]
		for j := range p.Value {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			p.Value[j] -= a.LR * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.Eps)
		}
	}
}
