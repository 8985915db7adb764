package reservoir

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
)

// #region readout

// Readout is the trainable linear map from reservoir state to output.
type Readout struct {
	w *mat.Dense // InputSize x OutputSize
}

// ReadoutData is the serializable form of a Readout, row-major.
type ReadoutData struct {
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Weights []float64 `json:"weights"`
}

// InputSize returns the expected state width.
func (r *Readout) InputSize() int {
	rows, _ := r.w.Dims()
	return rows
}

// OutputSize returns the output width.
func (r *Readout) OutputSize() int {
	_, cols := r.w.Dims()
	return cols
}

// Predict maps one state to an output vector. Panics on a wrong-width state;
// callers go through Reservoir.Output which guarantees the width.
func (r *Readout) Predict(state []float32) []float32 {
	s := mat.NewVecDense(len(state), toFloat64(state))
	var y mat.VecDense
	y.MulVec(r.w.T(), s)
	return toFloat32(y.RawVector().Data)
}

// MSE returns the mean squared error over every output component.
func (r *Readout) MSE(states, targets [][]float32) (float64, error) {
	if err := checkPairs(states, targets, r.InputSize(), r.OutputSize()); err != nil {
		return 0, err
	}
	var sum float64
	var n int
	for i, s := range states {
		pred := r.Predict(s)
		for j, p := range pred {
			d := float64(p) - float64(targets[i][j])
			sum += d * d
			n++
		}
	}
	return sum / float64(n), nil
}

// Data exports the weights.
func (r *Readout) Data() ReadoutData {
	in, out := r.w.Dims()
	data := make([]float64, in*out)
	for i := 0; i < in; i++ {
		for j := 0; j < out; j++ {
			data[i*out+j] = r.w.At(i, j)
		}
	}
	return ReadoutData{In: in, Out: out, Weights: data}
}

// ReadoutFromData rebuilds a Readout from exported weights.
func ReadoutFromData(d ReadoutData) (*Readout, error) {
	if d.In <= 0 || d.Out <= 0 {
		return nil, herr.InvalidArgf("readout shape %dx%d is empty", d.In, d.Out)
	}
	if len(d.Weights) != d.In*d.Out {
		return nil, herr.DimensionMismatch("readout weights", d.In*d.Out, len(d.Weights))
	}
	return &Readout{w: mat.NewDense(d.In, d.Out, append([]float64(nil), d.Weights...))}, nil
}

// #endregion readout

// #region ridge

// FitReadout solves (XᵀX + λI)W = XᵀY for W, where rows of X are reservoir
// states and rows of Y the matching targets.
func FitReadout(states, targets [][]float32, lambda float64) (*Readout, error) {
	if len(states) == 0 {
		return nil, herr.New(herr.KindEmptyTrainingSet, "readout fit needs at least one state")
	}
	if lambda < 0 {
		return nil, herr.InvalidArgf("ridge lambda must be non-negative, got %g", lambda)
	}
	in, out := len(states[0]), 0
	if len(targets) > 0 {
		out = len(targets[0])
	}
	if in == 0 || out == 0 {
		return nil, herr.InvalidArgf("readout fit needs non-empty states and targets")
	}
	if err := checkPairs(states, targets, in, out); err != nil {
		return nil, err
	}

	n := len(states)
	x := mat.NewDense(n, in, nil)
	y := mat.NewDense(n, out, nil)
	for i := 0; i < n; i++ {
		x.SetRow(i, toFloat64(states[i]))
		y.SetRow(i, toFloat64(targets[i]))
	}

	var a mat.Dense
	a.Mul(x.T(), x)
	for i := 0; i < in; i++ {
		a.Set(i, i, a.At(i, i)+lambda)
	}
	var b mat.Dense
	b.Mul(x.T(), y)

	var w mat.Dense
	if err := w.Solve(&a, &b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, herr.Wrap(err, herr.KindInvalidArgument, "ridge system is singular, increase lambda")
		}
	}
	return &Readout{w: &w}, nil
}

func checkPairs(states, targets [][]float32, in, out int) error {
	if len(states) != len(targets) {
		return herr.InvalidArgf("got %d states but %d targets", len(states), len(targets))
	}
	for i := range states {
		if len(states[i]) != in {
			return herr.DimensionMismatch("readout state", in, len(states[i]))
		}
		if len(targets[i]) != out {
			return herr.DimensionMismatch("readout target", out, len(targets[i]))
		}
	}
	return nil
}

// #endregion ridge
