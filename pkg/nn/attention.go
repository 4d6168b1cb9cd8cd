package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// projections returns views of the query, key and value blocks of a packed
// 3H x H input projection.
func projections(w *mat.Dense, hidden int) (q, k, v *mat.Dense) {
	q = w.Slice(0, hidden, 0, hidden).(*mat.Dense)
	k = w.Slice(hidden, 2*hidden, 0, hidden).(*mat.Dense)
	v = w.Slice(2*hidden, 3*hidden, 0, hidden).(*mat.Dense)
	return q, k, v
}

func addRowBias(m *mat.Dense, bias []float64) {
	r, _ := m.Dims()
	for i := range r {
		floats.Add(m.RawRowView(i), bias)
	}
}

func softmax(x []float64) {
	hi := floats.Max(x)
	sum := 0.0
	for i, v := range x {
		x[i] = math.Exp(v - hi)
		sum += x[i]
	}
	floats.Scale(1/sum, x)
}

// attentionForward computes self-attention over the hidden states and keeps
// only the output at the last position, which depends on the last query alone.
func (m *Model) attentionForward(c *sampleCache) {
	H, T := m.cfg.Hidden, len(c.x)
	heads := m.cfg.Heads
	d := H / heads
	scale := 1 / math.Sqrt(float64(d))

	wq, wk, wv := projections(m.inW.dense(m.inW.Value), H)
	bq, bk, bv := m.inB.Value[:H], m.inB.Value[H:2*H], m.inB.Value[2*H:]

	q := mat.NewVecDense(H, nil)
	q.MulVec(wq, mat.NewVecDense(H, c.hmat.RawRowView(T-1)))
	c.q = q.RawVector().Data
	floats.Add(c.q, bq)

	c.k = mat.NewDense(T, H, nil)
	c.k.Mul(c.hmat, wk.T())
	addRowBias(c.k, bk)
	c.v = mat.NewDense(T, H, nil)
	c.v.Mul(c.hmat, wv.T())
	addRowBias(c.v, bv)

	c.ctx = make([]float64, H)
	c.attn = make([][]float64, heads)
	for h := range heads {
		lo, hi := h*d, (h+1)*d
		a := make([]float64, T)
		for t := range T {
			a[t] = scale * floats.Dot(c.q[lo:hi], c.k.RawRowView(t)[lo:hi])
		}
		softmax(a)
		for t := range T {
			floats.AddScaled(c.ctx[lo:hi], a[t], c.v.RawRowView(t)[lo:hi])
		}
		c.attn[h] = a
	}

	out := mat.NewVecDense(H, nil)
	out.MulVec(m.outW.dense(m.outW.Value), mat.NewVecDense(H, c.ctx))
	c.out = out.RawVector().Data
	floats.Add(c.out, m.outB.Value)
}

// attentionBackward accumulates attention gradients for the gradient dout of
// the pooled output and returns the gradient with respect to every hidden
// state.
func (m *Model) attentionBackward(c *sampleCache, dout []float64, grads Gradients) *mat.Dense {
	H, T := m.cfg.Hidden, len(c.x)
	heads := m.cfg.Heads
	d := H / heads
	scale := 1 / math.Sqrt(float64(d))

	doutv := mat.NewVecDense(H, dout)
	gOut := m.outW.dense(grads[m.outW.idx])
	gOut.RankOne(gOut, 1, doutv, mat.NewVecDense(H, c.ctx))
	floats.Add(grads[m.outB.idx], dout)

	dctxv := mat.NewVecDense(H, nil)
	dctxv.MulVec(m.outW.dense(m.outW.Value).T(), doutv)
	dctx := dctxv.RawVector().Data

	dq := make([]float64, H)
	dK := mat.NewDense(T, H, nil)
	dV := mat.NewDense(T, H, nil)
	da := make([]float64, T)
	for h := range heads {
		lo, hi := h*d, (h+1)*d
		a := c.attn[h]
		for t := range T {
			da[t] = floats.Dot(dctx[lo:hi], c.v.RawRowView(t)[lo:hi])
			floats.AddScaled(dV.RawRowView(t)[lo:hi], a[t], dctx[lo:hi])
		}
		weighted := floats.Dot(a, da)
		for t := range T {
			ds := a[t] * (da[t] - weighted) * scale
			floats.AddScaled(dq[lo:hi], ds, c.k.RawRowView(t)[lo:hi])
			floats.AddScaled(dK.RawRowView(t)[lo:hi], ds, c.q[lo:hi])
		}
	}

	wq, wk, wv := projections(m.inW.dense(m.inW.Value), H)
	gq, gk, gv := projections(m.inW.dense(grads[m.inW.idx]), H)
	gb := grads[m.inB.idx]

	hT := c.hmat.RawRowView(T - 1)
	dqv := mat.NewVecDense(H, dq)
	gq.RankOne(gq, 1, dqv, mat.NewVecDense(H, hT))
	floats.Add(gb[:H], dq)

	var tmp mat.Dense
	tmp.Mul(dK.T(), c.hmat)
	gk.Add(gk, &tmp)
	tmp.Reset()
	tmp.Mul(dV.T(), c.hmat)
	gv.Add(gv, &tmp)
	for t := range T {
		floats.Add(gb[H:2*H], dK.RawRowView(t))
		floats.Add(gb[2*H:], dV.RawRowView(t))
	}

	dH := mat.NewDense(T, H, nil)
	dH.Mul(dK, wk)
	tmp.Reset()
	tmp.Mul(dV, wv)
	dH.Add(dH, &tmp)

	back := mat.NewVecDense(H, nil)
	back.MulVec(wq.T(), dqv)
	floats.Add(dH.RawRowView(T-1), back.RawVector().Data)

	return dH
}
