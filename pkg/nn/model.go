// Package nn implements the residual sequence model: a single-layer LSTM whose
// hidden states are pooled by multi-head self-attention at the last time
// step, followed by batch normalisation, dropout and a linear read-out.
//
// Forward and backward passes are written by hand on gonum matrices. Samples
// of a batch are independent except through batch normalisation, so their
// recurrent and attention passes run on a configurable number of goroutines.
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// ErrShape is returned when an input batch does not match the model.
var ErrShape = errors.New("input shape mismatch")

// Config describes the model architecture.
type Config struct {
	Input   int     // features per time step
	Hidden  int     // LSTM and attention width
	Heads   int     // attention heads, must divide Hidden
	Dropout float64 // dropout rate applied during training

	// Batch normalisation running statistics momentum and epsilon.
	Momentum float64
	Eps      float64
}

// DefaultConfig returns the fixed architecture for input features per step.
func DefaultConfig(input int) Config {
	return Config{
		Input:    input,
		Hidden:   128,
		Heads:    4,
		Dropout:  0.2,
		Momentum: 0.1,
		Eps:      1e-5,
	}
}

// Validate checks the architecture.
func (c Config) Validate() error {
	switch {
	case c.Input < 1:
		return fmt.Errorf("input features must be >= 1, got %d", c.Input)
	case c.Hidden < 1:
		return fmt.Errorf("hidden size must be >= 1, got %d", c.Hidden)
	case c.Heads < 1 || c.Hidden%c.Heads != 0:
		return fmt.Errorf("heads (%d) must divide hidden size (%d)", c.Heads, c.Hidden)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0,1), got %v", c.Dropout)
	case c.Momentum <= 0 || c.Momentum > 1:
		return fmt.Errorf("momentum must be in (0,1], got %v", c.Momentum)
	case c.Eps <= 0:
		return fmt.Errorf("eps must be > 0, got %v", c.Eps)
	}
	return nil
}

// Param is a trainable tensor stored row-major.
type Param struct {
	Name       string
	Rows, Cols int
	Value      []float64

	idx int
}

func (p *Param) dense(data []float64) *mat.Dense {
	return mat.NewDense(p.Rows, p.Cols, data)
}

// Model is the LSTM-attention regressor. It is not safe for concurrent use.
type Model struct {
	cfg    Config
	params []*Param

	wih, whh, bih, bhh   *Param // LSTM, gate order i, f, g, o
	inW, inB, outW, outB *Param // attention projections, in order q, k, v
	gamma, beta          *Param // batch norm affine
	fcW, fcB             *Param // read-out

	runMean, runVar []float64
}

// New creates a model with freshly initialised weights drawn from rng:
// uniform in ±1/sqrt(Hidden) for the LSTM, the attention output projection and
// the read-out, Xavier-uniform for the attention input projection, zero
// attention biases and an identity batch norm. It panics on an invalid
// configuration.
func New(cfg Config, rng *rand.Rand) *Model {
	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}
	H, F := cfg.Hidden, cfg.Input
	m := &Model{cfg: cfg}

	m.wih = m.newParam("lstm.weight_ih", 4*H, F)
	m.whh = m.newParam("lstm.weight_hh", 4*H, H)
	m.bih = m.newParam("lstm.bias_ih", 4*H, 1)
	m.bhh = m.newParam("lstm.bias_hh", 4*H, 1)
	m.inW = m.newParam("attn.in_proj_weight", 3*H, H)
	m.inB = m.newParam("attn.in_proj_bias", 3*H, 1)
	m.outW = m.newParam("attn.out_proj.weight", H, H)
	m.outB = m.newParam("attn.out_proj.bias", H, 1)
	m.gamma = m.newParam("bn.weight", H, 1)
	m.beta = m.newParam("bn.bias", H, 1)
	m.fcW = m.newParam("fc.weight", 1, H)
	m.fcB = m.newParam("fc.bias", 1, 1)

	bound := 1 / math.Sqrt(float64(H))
	for _, p := range []*Param{m.wih, m.whh, m.bih, m.bhh, m.outW, m.fcW, m.fcB} {
		uniform(rng, p.Value, bound)
	}
	uniform(rng, m.inW.Value, math.Sqrt(6/float64(H+3*H)))
	for i := range m.gamma.Value {
		m.gamma.Value[i] = 1
	}

	m.runMean = make([]float64, H)
	m.runVar = make([]float64, H)
	for i := range m.runVar {
		m.runVar[i] = 1
	}
	return m
}

func (m *Model) newParam(name string, rows, cols int) *Param {
	p := &Param{Name: name, Rows: rows, Cols: cols, Value: make([]float64, rows*cols), idx: len(m.params)}
	m.params = append(m.params, p)
	return p
}

func uniform(rng *rand.Rand, dst []float64, bound float64) {
	for i := range dst {
		dst[i] = (2*rng.Float64() - 1) * bound
	}
}

// Config returns the model architecture.
func (m *Model) Config() Config { return m.cfg }

// Params returns the trainable parameters in a fixed order.
func (m *Model) Params() []*Param { return m.params }

// NumParams returns the number of trainable scalars.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += len(p.Value)
	}
	return n
}

// Gradients holds one gradient slice per parameter, aligned with Params.
type Gradients [][]float64

// NewGradients returns zeroed gradients shaped like the model parameters.
func (m *Model) NewGradients() Gradients {
	g := make(Gradients, len(m.params))
	for i, p := range m.params {
		g[i] = make([]float64, len(p.Value))
	}
	return g
}

// Snapshot is an immutable copy of the parameters and batch norm running
// statistics of a model.
type Snapshot struct {
	values  [][]float64
	runMean []float64
	runVar  []float64
}

// Snapshot captures the current model state.
func (m *Model) Snapshot() Snapshot {
	s := Snapshot{
		values:  make([][]float64, len(m.params)),
		runMean: append([]float64(nil), m.runMean...),
		runVar:  append([]float64(nil), m.runVar...),
	}
	for i, p := range m.params {
		s.values[i] = append([]float64(nil), p.Value...)
	}
	return s
}

// Restore overwrites the model state with s.
func (m *Model) Restore(s Snapshot) error {
	if len(s.values) != len(m.params) {
		return fmt.Errorf("snapshot has %d parameters, model has %d", len(s.values), len(m.params))
	}
	for i, p := range m.params {
		if len(s.values[i]) != len(p.Value) {
			return fmt.Errorf("snapshot parameter %s has %d values, want %d", p.Name, len(s.values[i]), len(p.Value))
		}
	}
	for i, p := range m.params {
		copy(p.Value, s.values[i])
	}
	copy(m.runMean, s.runMean)
	copy(m.runVar, s.runVar)
	return nil
}
