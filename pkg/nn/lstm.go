package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// sampleCache keeps the activations of one sample needed by the backward pass.
type sampleCache struct {
	x [][]float64

	hmat           *mat.Dense  // T x H hidden states h_1..h_T
	cs             [][]float64 // cell states c_0..c_T
	ig, fg, gg, og [][]float64 // gate activations per step

	q    []float64
	k, v *mat.Dense
	attn [][]float64 // per head, weights over time steps
	ctx  []float64
	out  []float64 // attention output at the last position
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func (c *sampleCache) hPrev(t, hidden int) []float64 {
	if t == 0 {
		return make([]float64, hidden)
	}
	return c.hmat.RawRowView(t - 1)
}

func (m *Model) lstmForward(c *sampleCache) {
	H, F, T := m.cfg.Hidden, m.cfg.Input, len(c.x)
	wih := m.wih.dense(m.wih.Value)
	whh := m.whh.dense(m.whh.Value)

	c.hmat = mat.NewDense(T, H, nil)
	c.cs = make([][]float64, T+1)
	c.cs[0] = make([]float64, H)
	c.ig = make([][]float64, T)
	c.fg = make([][]float64, T)
	c.gg = make([][]float64, T)
	c.og = make([][]float64, T)

	z := mat.NewVecDense(4*H, nil)
	rec := mat.NewVecDense(4*H, nil)
	for t := range T {
		z.MulVec(wih, mat.NewVecDense(F, c.x[t]))
		rec.MulVec(whh, mat.NewVecDense(H, c.hPrev(t, H)))
		zr := z.RawVector().Data
		floats.Add(zr, rec.RawVector().Data)
		floats.Add(zr, m.bih.Value)
		floats.Add(zr, m.bhh.Value)

		i, f, g, o := make([]float64, H), make([]float64, H), make([]float64, H), make([]float64, H)
		cell := make([]float64, H)
		h := c.hmat.RawRowView(t)
		for j := range H {
			i[j] = sigmoid(zr[j])
			f[j] = sigmoid(zr[H+j])
			g[j] = math.Tanh(zr[2*H+j])
			o[j] = sigmoid(zr[3*H+j])
			cell[j] = f[j]*c.cs[t][j] + i[j]*g[j]
			h[j] = o[j] * math.Tanh(cell[j])
		}
		c.ig[t], c.fg[t], c.gg[t], c.og[t] = i, f, g, o
		c.cs[t+1] = cell
	}
}

// lstmBackward runs backpropagation through time given the gradient of the
// loss with respect to every hidden state, accumulating into grads.
func (m *Model) lstmBackward(c *sampleCache, dH *mat.Dense, grads Gradients) {
	H, F, T := m.cfg.Hidden, m.cfg.Input, len(c.x)
	whh := m.whh.dense(m.whh.Value)
	gWih := m.wih.dense(grads[m.wih.idx])
	gWhh := m.whh.dense(grads[m.whh.idx])

	dh := make([]float64, H)
	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	dz := make([]float64, 4*H)
	dzv := mat.NewVecDense(4*H, dz)
	back := mat.NewVecDense(H, nil)

	for t := T - 1; t >= 0; t-- {
		floats.AddTo(dh, dH.RawRowView(t), dhNext)
		i, f, g, o := c.ig[t], c.fg[t], c.gg[t], c.og[t]
		cPrev, cCur := c.cs[t], c.cs[t+1]

		for j := range H {
			tc := math.Tanh(cCur[j])
			do := dh[j] * tc
			dc := dcNext[j] + dh[j]*o[j]*(1-tc*tc)
			dcNext[j] = dc * f[j]

			dz[j] = dc * g[j] * i[j] * (1 - i[j])
			dz[H+j] = dc * cPrev[j] * f[j] * (1 - f[j])
			dz[2*H+j] = dc * i[j] * (1 - g[j]*g[j])
			dz[3*H+j] = do * o[j] * (1 - o[j])
		}

		gWih.RankOne(gWih, 1, dzv, mat.NewVecDense(F, c.x[t]))
		gWhh.RankOne(gWhh, 1, dzv, mat.NewVecDense(H, c.hPrev(t, H)))
		floats.Add(grads[m.bih.idx], dz)
		floats.Add(grads[m.bhh.idx], dz)

		back.MulVec(whh.T(), dzv)
		copy(dhNext, back.RawVector().Data)
	}
}
