package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// batchState holds the forward activations of a batch.
type batchState struct {
	samples []sampleCache

	batchStats bool        // normalised with batch rather than running statistics
	mean, vari []float64   // statistics used for normalisation
	xhat       [][]float64 // normalised attention outputs
	masks      [][]float64 // dropout multipliers, nil when inactive
	z          [][]float64 // read-out inputs
	pred       []float64
}

// parallelFor splits [0,n) into at most workers contiguous chunks and runs
// fn on each chunk in its own goroutine.
func parallelFor(n, workers int, fn func(worker, lo, hi int) error) error {
	workers = max(1, min(workers, n))
	chunk := (n + workers - 1) / workers

	var g errgroup.Group
	for w := range workers {
		lo, hi := w*chunk, min(n, (w+1)*chunk)
		if lo >= hi {
			continue
		}
		g.Go(func() error { return fn(w, lo, hi) })
	}
	return g.Wait()
}

func (m *Model) checkBatch(x [][][]float64) error {
	if len(x) == 0 {
		return fmt.Errorf("%w: empty batch", ErrShape)
	}
	for i, sample := range x {
		if len(sample) == 0 {
			return fmt.Errorf("%w: sample %d has no time steps", ErrShape, i)
		}
		for t, row := range sample {
			if len(row) != m.cfg.Input {
				return fmt.Errorf("%w: sample %d step %d has %d features, want %d",
					ErrShape, i, t, len(row), m.cfg.Input)
			}
		}
	}
	return nil
}

// forward runs the batch. In training mode batches of more than one sample
// are normalised with their own statistics; otherwise the running statistics
// are used. masks, when non-nil, holds one dropout multiplier per sample and
// hidden unit.
func (m *Model) forward(x [][][]float64, training bool, masks [][]float64, workers int) (*batchState, error) {
	if err := m.checkBatch(x); err != nil {
		return nil, err
	}
	B, H := len(x), m.cfg.Hidden

	st := &batchState{samples: make([]sampleCache, B), masks: masks}
	err := parallelFor(B, workers, func(_, lo, hi int) error {
		for i := lo; i < hi; i++ {
			c := &st.samples[i]
			c.x = x[i]
			m.lstmForward(c)
			m.attentionForward(c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	st.batchStats = training && B > 1
	if st.batchStats {
		st.mean = make([]float64, H)
		st.vari = make([]float64, H)
		for i := range B {
			floats.Add(st.mean, st.samples[i].out)
		}
		floats.Scale(1/float64(B), st.mean)
		for i := range B {
			for j, v := range st.samples[i].out {
				d := v - st.mean[j]
				st.vari[j] += d * d
			}
		}
		floats.Scale(1/float64(B), st.vari)
	} else {
		st.mean, st.vari = m.runMean, m.runVar
	}

	gamma, beta := m.gamma.Value, m.beta.Value
	w, b := m.fcW.Value, m.fcB.Value[0]
	st.xhat = make([][]float64, B)
	st.z = make([][]float64, B)
	st.pred = make([]float64, B)
	for i := range B {
		xh := make([]float64, H)
		z := make([]float64, H)
		for j, v := range st.samples[i].out {
			xh[j] = (v - st.mean[j]) / math.Sqrt(st.vari[j]+m.cfg.Eps)
			z[j] = gamma[j]*xh[j] + beta[j]
			if masks != nil {
				z[j] *= masks[i][j]
			}
		}
		st.xhat[i], st.z[i] = xh, z
		st.pred[i] = floats.Dot(w, z) + b
	}
	return st, nil
}

// Predict returns one output per sample with running batch norm statistics
// and no dropout.
func (m *Model) Predict(x [][][]float64, workers int) ([]float64, error) {
	st, err := m.forward(x, false, nil, workers)
	if err != nil {
		return nil, err
	}
	return st.pred, nil
}

// Loss returns the mean squared error of Predict against y.
func (m *Model) Loss(x [][][]float64, y []float64, workers int) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: %d samples, %d targets", ErrShape, len(x), len(y))
	}
	pred, err := m.Predict(x, workers)
	if err != nil {
		return 0, err
	}
	return mse(pred, y), nil
}

func mse(pred, y []float64) float64 {
	s := 0.0
	for i, p := range pred {
		d := p - y[i]
		s += d * d
	}
	return s / float64(len(pred))
}

// ForwardBackward runs a training step on one batch: a forward pass with
// dropout drawn from rng, the mean squared error against y, and its gradient
// with respect to every parameter. Batch norm running statistics are updated
// as a side effect.
func (m *Model) ForwardBackward(x [][][]float64, y []float64, rng *rand.Rand, workers int) (float64, Gradients, error) {
	if len(x) != len(y) {
		return 0, nil, fmt.Errorf("%w: %d samples, %d targets", ErrShape, len(x), len(y))
	}

	var masks [][]float64
	if p := m.cfg.Dropout; p > 0 {
		keep := 1 / (1 - p)
		masks = make([][]float64, len(x))
		for i := range masks {
			masks[i] = make([]float64, m.cfg.Hidden)
			for j := range masks[i] {
				if rng.Float64() >= p {
					masks[i][j] = keep
				}
			}
		}
	}

	st, err := m.forward(x, true, masks, workers)
	if err != nil {
		return 0, nil, err
	}
	loss := mse(st.pred, y)
	grads, err := m.backward(st, y, workers)
	if err != nil {
		return 0, nil, err
	}

	if st.batchStats {
		B := float64(len(x))
		mom := m.cfg.Momentum
		for j := range m.runMean {
			m.runMean[j] = (1-mom)*m.runMean[j] + mom*st.mean[j]
			m.runVar[j] = (1-mom)*m.runVar[j] + mom*st.vari[j]*B/(B-1)
		}
	}
	return loss, grads, nil
}

func (m *Model) backward(st *batchState, y []float64, workers int) (Gradients, error) {
	B, H := len(st.pred), m.cfg.Hidden
	grads := m.NewGradients()

	gamma := m.gamma.Value
	w := m.fcW.Value
	gW, gB := grads[m.fcW.idx], grads[m.fcB.idx]
	gGamma, gBeta := grads[m.gamma.idx], grads[m.beta.idx]

	// dbn[i] is the gradient at the batch norm output of sample i.
	dbn := make([][]float64, B)
	for i := range B {
		dp := 2 * (st.pred[i] - y[i]) / float64(B)
		floats.AddScaled(gW, dp, st.z[i])
		gB[0] += dp

		d := make([]float64, H)
		for j := range H {
			d[j] = dp * w[j]
			if st.masks != nil {
				d[j] *= st.masks[i][j]
			}
			gGamma[j] += d[j] * st.xhat[i][j]
			gBeta[j] += d[j]
		}
		dbn[i] = d
	}

	dout := make([][]float64, B)
	for i := range dout {
		dout[i] = make([]float64, H)
	}
	for j := range H {
		inv := 1 / math.Sqrt(st.vari[j]+m.cfg.Eps)
		if !st.batchStats {
			for i := range B {
				dout[i][j] = dbn[i][j] * gamma[j] * inv
			}
			continue
		}
		sum, dot := 0.0, 0.0
		for i := range B {
			sum += dbn[i][j]
			dot += dbn[i][j] * st.xhat[i][j]
		}
		k := gamma[j] * inv / float64(B)
		for i := range B {
			dout[i][j] = k * (float64(B)*dbn[i][j] - sum - st.xhat[i][j]*dot)
		}
	}

	workers = max(1, min(workers, B))
	partial := make([]Gradients, workers)
	err := parallelFor(B, workers, func(wk, lo, hi int) error {
		g := m.NewGradients()
		for i := lo; i < hi; i++ {
			c := &st.samples[i]
			dH := m.attentionBackward(c, dout[i], g)
			m.lstmBackward(c, dH, g)
		}
		partial[wk] = g
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, g := range partial {
		if g == nil {
			continue
		}
		for p := range grads {
			floats.Add(grads[p], g[p])
		}
	}
	return grads, nil
}
