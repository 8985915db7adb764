// Package reservoir implements an echo state network used to compress a
// conversation into a fixed-size state vector.
package reservoir

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/mat"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
)

// #region config

// Config fixes the reservoir topology. W and W_in are derived from Seed and never change.
type Config struct {
	Size           int
	InputSize      int
	OutputSize     int
	LeakRate       float64 // (0,1]
	SpectralRadius float64 // target, must be < 1
	Sparsity       float64 // fraction of nonzero recurrent weights
	InputScaling   float64
	Seed           uint64
}

// DefaultConfig returns the stock topology for inputSize-wide feature vectors.
func DefaultConfig(inputSize int) Config {
	return Config{
		Size:           500,
		InputSize:      inputSize,
		OutputSize:     64,
		LeakRate:       0.7,
		SpectralRadius: 0.95,
		Sparsity:       0.1,
		InputScaling:   1.0,
		Seed:           42,
	}
}

func (c Config) validate() error {
	switch {
	case c.Size <= 0:
		return herr.InvalidArgf("reservoir size must be positive, got %d", c.Size)
	case c.InputSize <= 0:
		return herr.InvalidArgf("reservoir input size must be positive, got %d", c.InputSize)
	case c.OutputSize < 0:
		return herr.InvalidArgf("reservoir output size must be non-negative, got %d", c.OutputSize)
	case c.Sparsity <= 0 || c.Sparsity > 1:
		return herr.InvalidArgf("sparsity must be in (0,1], got %g", c.Sparsity)
	case c.InputScaling <= 0:
		return herr.InvalidArgf("input scaling must be positive, got %g", c.InputScaling)
	case c.LeakRate <= 0 || c.LeakRate > 1:
		return herr.Newf(herr.KindUnstableReservoir, "leak rate must be in (0,1], got %g", c.LeakRate)
	case c.SpectralRadius <= 0 || c.SpectralRadius >= 1:
		return herr.Newf(herr.KindUnstableReservoir, "spectral radius target must be in (0,1), got %g", c.SpectralRadius)
	}
	return nil
}

// #endregion config

// #region reservoir

// Reservoir holds frozen weights and the mutable liquid state.
// Not safe for concurrent mutation; one owner per project.
type Reservoir struct {
	cfg     Config
	w       *mat.Dense // Size x Size
	win     *mat.Dense // Size x InputSize
	state   *mat.VecDense
	scratch *mat.VecDense
	radius  float64
	readout *Readout
}

// New builds a reservoir. The recurrent matrix is rescaled so its measured
// spectral radius equals the configured target.
func New(cfg Config) (*Reservoir, error) {
	if err := cfg.validate(); err != nil {
		return nil, herr.WithOp(err, "reservoir.New")
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	w := mat.NewDense(cfg.Size, cfg.Size, nil)
	for i := 0; i < cfg.Size; i++ {
		for j := 0; j < cfg.Size; j++ {
			if rng.Float64() < cfg.Sparsity {
				w.Set(i, j, rng.Float64()*2-1)
			}
		}
	}

	win := mat.NewDense(cfg.Size, cfg.InputSize, nil)
	for i := 0; i < cfg.Size; i++ {
		for j := 0; j < cfg.InputSize; j++ {
			win.Set(i, j, (rng.Float64()*2-1)*cfg.InputScaling)
		}
	}

	raw, err := spectralRadius(w)
	if err != nil {
		return nil, herr.WithOp(err, "reservoir.New")
	}
	radius := 0.0
	if raw > 0 {
		w.Scale(cfg.SpectralRadius/raw, w)
		radius, err = spectralRadius(w)
		if err != nil {
			return nil, herr.WithOp(err, "reservoir.New")
		}
	}
	if radius >= 1 || math.IsNaN(radius) {
		return nil, herr.Newf(herr.KindUnstableReservoir, "rescaled spectral radius %g is not below 1", radius)
	}

	return &Reservoir{
		cfg:     cfg,
		w:       w,
		win:     win,
		state:   mat.NewVecDense(cfg.Size, nil),
		scratch: mat.NewVecDense(cfg.Size, nil),
		radius:  radius,
	}, nil
}

// Fork returns a reservoir with its own zero state that shares r's frozen
// weights and readout. Neither is written after construction.
func (r *Reservoir) Fork() *Reservoir {
	return &Reservoir{
		cfg:     r.cfg,
		w:       r.w,
		win:     r.win,
		state:   mat.NewVecDense(r.cfg.Size, nil),
		scratch: mat.NewVecDense(r.cfg.Size, nil),
		radius:  r.radius,
		readout: r.readout,
	}
}

// Config returns the construction parameters.
func (r *Reservoir) Config() Config { return r.cfg }

// Size returns the state width.
func (r *Reservoir) Size() int { return r.cfg.Size }

// InputSize returns the expected input width.
func (r *Reservoir) InputSize() int { return r.cfg.InputSize }

// SpectralRadius returns the measured spectral radius of the recurrent matrix.
func (r *Reservoir) SpectralRadius() float64 { return r.radius }

// Update folds one input vector into the state:
// state = (1-leak)*state + leak*tanh(W*state + W_in*x).
func (r *Reservoir) Update(x []float32) error {
	if len(x) != r.cfg.InputSize {
		return herr.DimensionMismatch("reservoir input", r.cfg.InputSize, len(x))
	}
	in := mat.NewVecDense(len(x), toFloat64(x))

	r.scratch.MulVec(r.w, r.state)
	pre := mat.NewVecDense(r.cfg.Size, nil)
	pre.MulVec(r.win, in)
	pre.AddVec(pre, r.scratch)

	leak := r.cfg.LeakRate
	for i := 0; i < r.cfg.Size; i++ {
		s := (1-leak)*r.state.AtVec(i) + leak*math.Tanh(pre.AtVec(i))
		r.state.SetVec(i, s)
	}
	return nil
}

// EncodeContext resets the state, folds in every vector of window in order and
// returns the resulting state. The result depends only on the window.
func (r *Reservoir) EncodeContext(window [][]float32) ([]float32, error) {
	for i, x := range window {
		if len(x) != r.cfg.InputSize {
			return nil, herr.WithOp(herr.DimensionMismatch("reservoir input", r.cfg.InputSize, len(x)),
				"reservoir.EncodeContext["+strconv.Itoa(i)+"]")
		}
	}
	r.Reset()
	for _, x := range window {
		if err := r.Update(x); err != nil {
			return nil, err
		}
	}
	return r.State(), nil
}

// Reset returns the state to the zero vector.
func (r *Reservoir) Reset() {
	r.state.Zero()
}

// State returns a copy of the current state.
func (r *Reservoir) State() []float32 {
	return toFloat32(r.state.RawVector().Data)
}

// Restore replaces the current state, e.g. after loading it from a store.
func (r *Reservoir) Restore(state []float32) error {
	if len(state) != r.cfg.Size {
		return herr.DimensionMismatch("reservoir state", r.cfg.Size, len(state))
	}
	for i, v := range state {
		r.state.SetVec(i, float64(v))
	}
	return nil
}

// SetReadout installs a fitted readout. Its input width must equal Size.
func (r *Reservoir) SetReadout(ro *Readout) error {
	if ro != nil && ro.InputSize() != r.cfg.Size {
		return herr.DimensionMismatch("readout input", r.cfg.Size, ro.InputSize())
	}
	r.readout = ro
	return nil
}

// Readout returns the installed readout, or nil.
func (r *Reservoir) Readout() *Readout { return r.readout }

// Output projects the current state through the readout. Without a fitted
// readout it returns OutputSize zeros.
func (r *Reservoir) Output() []float32 {
	if r.readout == nil {
		return make([]float32, r.cfg.OutputSize)
	}
	return r.readout.Predict(r.State())
}

// #endregion reservoir

// #region helpers

// spectralRadius returns the largest eigenvalue magnitude of a square matrix.
func spectralRadius(m *mat.Dense) (float64, error) {
	var eig mat.Eigen
	if ok := eig.Factorize(m, mat.EigenNone); !ok {
		return 0, herr.New(herr.KindUnstableReservoir, "eigen decomposition did not converge")
	}
	var max float64
	for _, v := range eig.Values(nil) {
		if a := cmplx.Abs(v); a > max {
			max = a
		}
	}
	return max, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// #endregion helpers
