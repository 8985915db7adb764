package neural

import (
	"math"

	"gonum.org/v1/gonum/floats"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
)

// #region gradients

// Gradients mirrors a Network's parameter shapes.
type Gradients struct {
	Layers [3]Layer
}

// ZeroGradients returns zeroed gradients shaped like n.
func ZeroGradients(n *Network) Gradients {
	var g Gradients
	for k, l := range n.Layers {
		g.Layers[k] = newLayer(l.In, l.Out)
	}
	return g
}

// Accumulate adds o into g in place. Shapes must match.
func (g *Gradients) Accumulate(o Gradients) error {
	for k := range g.Layers {
		if !g.Layers[k].sameShape(o.Layers[k]) {
			return herr.DimensionMismatch("gradient layer", len(g.Layers[k].W), len(o.Layers[k].W))
		}
		floats.Add(g.Layers[k].W, o.Layers[k].W)
		floats.Add(g.Layers[k].B, o.Layers[k].B)
	}
	return nil
}

// Scale multiplies every gradient by f in place.
func (g *Gradients) Scale(f float64) {
	for k := range g.Layers {
		floats.Scale(f, g.Layers[k].W)
		floats.Scale(f, g.Layers[k].B)
	}
}

// Norm returns the L2 norm over all parameters.
func (g Gradients) Norm() float64 {
	var sum float64
	for _, l := range g.Layers {
		sum += floats.Dot(l.W, l.W) + floats.Dot(l.B, l.B)
	}
	return math.Sqrt(sum)
}

// #endregion gradients

// #region backward

// Backward computes the cross-entropy loss of x against label and the gradient
// of that loss with respect to every parameter.
func (n *Network) Backward(x []float32, label int) (float64, Gradients, error) {
	if label < 0 || label >= n.Arch.Output {
		return 0, Gradients{}, herr.InvalidArgf("label %d out of range [0,%d)", label, n.Arch.Output)
	}
	act, err := n.run(x)
	if err != nil {
		return 0, Gradients{}, err
	}

	// -log softmax(z)[label] = logsumexp(z) - z[label]
	loss := floats.LogSumExp(act.logits) - act.logits[label]

	g := ZeroGradients(n)

	// output layer: dL/dz3 = p - onehot
	dz3 := append([]float64(nil), act.probs...)
	dz3[label]--
	da2 := backLayer(n.Layers[2], &g.Layers[2], dz3, act.a2)

	dz2 := reluGrad(da2, act.z2)
	da1 := backLayer(n.Layers[1], &g.Layers[1], dz2, act.a1)

	dz1 := reluGrad(da1, act.z1)
	backLayer(n.Layers[0], &g.Layers[0], dz1, act.x)

	return loss, g, nil
}

// backLayer fills grad for one affine layer given dL/dz and the layer input,
// and returns dL/d(input).
func backLayer(l Layer, grad *Layer, dz, in []float64) []float64 {
	din := make([]float64, l.In)
	for i, d := range dz {
		if d == 0 {
			continue
		}
		floats.AddScaled(grad.row(i), d, in)
		grad.B[i] += d
		floats.AddScaled(din, d, l.row(i))
	}
	return din
}

func reluGrad(da, z []float64) []float64 {
	dz := make([]float64, len(da))
	for i, v := range z {
		if v > 0 {
			dz[i] = da[i]
		}
	}
	return dz
}

// #endregion backward

// #region apply

// Apply takes one gradient-descent step and returns the updated network.
// l2 adds weight decay on weights (not biases). The receiver is unchanged.
func (n *Network) Apply(g Gradients, lr, l2 float64) (*Network, error) {
	if lr <= 0 {
		return nil, herr.InvalidArgf("learning rate must be positive, got %g", lr)
	}
	if l2 < 0 {
		return nil, herr.InvalidArgf("l2 must be non-negative, got %g", l2)
	}
	next := &Network{Arch: n.Arch}
	for k, l := range n.Layers {
		if !l.sameShape(g.Layers[k]) {
			return nil, herr.DimensionMismatch("gradient layer", len(l.W), len(g.Layers[k].W))
		}
		nl := l.clone()
		for i := range nl.W {
			nl.W[i] -= lr * (g.Layers[k].W[i] + l2*l.W[i])
		}
		floats.AddScaled(nl.B, -lr, g.Layers[k].B)
		next.Layers[k] = nl
	}
	return next, nil
}

// Loss returns the mean cross-entropy over a set of examples without computing gradients.
func (n *Network) Loss(xs [][]float32, labels []int) (float64, error) {
	if len(xs) != len(labels) {
		return 0, herr.InvalidArgf("got %d vectors but %d labels", len(xs), len(labels))
	}
	if len(xs) == 0 {
		return 0, nil
	}
	var sum float64
	for i, x := range xs {
		act, err := n.run(x)
		if err != nil {
			return 0, err
		}
		if labels[i] < 0 || labels[i] >= n.Arch.Output {
			return 0, herr.InvalidArgf("label %d out of range [0,%d)", labels[i], n.Arch.Output)
		}
		sum += floats.LogSumExp(act.logits) - act.logits[labels[i]]
	}
	return sum / float64(len(xs)), nil
}

// #endregion apply
