// Package neural is the small feed-forward classifier behind learned routing:
// input -> ReLU -> ReLU -> softmax over the three routes.
package neural

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/floats"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region architecture

// Architecture records layer widths.
type Architecture struct {
	Input   int `json:"input"`
	Hidden1 int `json:"hidden1"`
	Hidden2 int `json:"hidden2"`
	Output  int `json:"output"`
}

// RouterArchitecture returns the router shape for input-wide feature vectors.
func RouterArchitecture(input, hidden1, hidden2 int) Architecture {
	return Architecture{Input: input, Hidden1: hidden1, Hidden2: hidden2, Output: query.NumClasses}
}

func (a Architecture) validate() error {
	if a.Input <= 0 || a.Hidden1 <= 0 || a.Hidden2 <= 0 || a.Output <= 0 {
		return herr.InvalidArgf("layer sizes must be positive, got %d-%d-%d-%d", a.Input, a.Hidden1, a.Hidden2, a.Output)
	}
	return nil
}

// #endregion architecture

// #region layer

// Layer is a dense affine map: out = W*in + B, W row-major Out x In.
type Layer struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"w"`
	B   []float64 `json:"b"`
}

func newLayer(in, out int) Layer {
	return Layer{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out)}
}

func (l Layer) row(i int) []float64 { return l.W[i*l.In : (i+1)*l.In] }

func (l Layer) affine(x []float64) []float64 {
	z := make([]float64, l.Out)
	for i := range z {
		z[i] = floats.Dot(l.row(i), x) + l.B[i]
	}
	return z
}

func (l Layer) clone() Layer {
	return Layer{In: l.In, Out: l.Out, W: append([]float64(nil), l.W...), B: append([]float64(nil), l.B...)}
}

func (l Layer) sameShape(o Layer) bool {
	return l.In == o.In && l.Out == o.Out && len(l.W) == len(o.W) && len(l.B) == len(o.B)
}

// #endregion layer

// #region network

// Network is an immutable weight snapshot. Apply returns a new Network;
// the receiver is never modified, so a *Network can be shared across goroutines.
type Network struct {
	Arch   Architecture `json:"arch"`
	Layers [3]Layer     `json:"layers"`
}

// New initializes weights uniformly in ±sqrt(6/(in+out)) from seed; biases start at zero.
func New(arch Architecture, seed uint64) (*Network, error) {
	if err := arch.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5))
	n := &Network{Arch: arch}
	sizes := [4]int{arch.Input, arch.Hidden1, arch.Hidden2, arch.Output}
	for k := range n.Layers {
		l := newLayer(sizes[k], sizes[k+1])
		limit := math.Sqrt(6 / float64(l.In+l.Out))
		for i := range l.W {
			l.W[i] = (rng.Float64()*2 - 1) * limit
		}
		n.Layers[k] = l
	}
	return n, nil
}

// Validate checks that layer shapes agree with the architecture.
func (n *Network) Validate() error {
	if err := n.Arch.validate(); err != nil {
		return err
	}
	sizes := [4]int{n.Arch.Input, n.Arch.Hidden1, n.Arch.Hidden2, n.Arch.Output}
	for k, l := range n.Layers {
		if l.In != sizes[k] || l.Out != sizes[k+1] || len(l.W) != l.In*l.Out || len(l.B) != l.Out {
			return herr.DimensionMismatch("layer "+strconv.Itoa(k+1), sizes[k]*sizes[k+1], len(l.W))
		}
	}
	return nil
}

// InputSize returns the expected feature width.
func (n *Network) InputSize() int { return n.Arch.Input }

// #endregion network

// #region forward

// Prediction is the classifier output for one vector.
type Prediction struct {
	Route      query.Route
	Confidence float32
	Probs      []float32
}

// activations keeps the intermediate values needed by Backward.
type activations struct {
	x      []float64
	z1, a1 []float64
	z2, a2 []float64
	logits []float64
	probs  []float64
}

func (n *Network) run(x []float32) (activations, error) {
	if len(x) != n.Arch.Input {
		return activations{}, herr.DimensionMismatch("feature vector", n.Arch.Input, len(x))
	}
	act := activations{x: make([]float64, len(x))}
	for i, v := range x {
		act.x[i] = float64(v)
	}
	act.z1 = n.Layers[0].affine(act.x)
	act.a1 = relu(act.z1)
	act.z2 = n.Layers[1].affine(act.a1)
	act.a2 = relu(act.z2)
	act.logits = n.Layers[2].affine(act.a2)
	act.probs = softmax(act.logits)
	return act, nil
}

// Forward classifies x. The result is always one of Local, Remote or Hybrid
// with confidence in [0,1].
func (n *Network) Forward(x []float32) (Prediction, error) {
	act, err := n.run(x)
	if err != nil {
		return Prediction{}, err
	}
	best := floats.MaxIdx(act.probs)
	probs := make([]float32, len(act.probs))
	for i, p := range act.probs {
		probs[i] = float32(p)
	}
	route := query.RouteLocal
	if best < query.NumClasses {
		route = query.Route(best)
	}
	return Prediction{Route: route, Confidence: clamp01(probs[best]), Probs: probs}, nil
}

// #endregion forward

// #region math

func relu(z []float64) []float64 {
	a := make([]float64, len(z))
	for i, v := range z {
		if v > 0 {
			a[i] = v
		}
	}
	return a
}

// softmax is computed via log-sum-exp so large logits cannot overflow.
func softmax(z []float64) []float64 {
	lse := floats.LogSumExp(z)
	p := make([]float64, len(z))
	for i, v := range z {
		p[i] = math.Exp(v - lse)
	}
	return p
}

func clamp01(v float32) float32 {
	switch {
	case v < 0 || math.IsNaN(float64(v)):
		return 0
	case v > 1:
		return 1
	}
	return v
}

// #endregion math

// #region codec

// Marshal encodes the network as JSON.
func (n *Network) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

// Unmarshal decodes and validates a network.
func Unmarshal(data []byte) (*Network, error) {
	var n Network
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, herr.Wrap(err, herr.KindInvalidArgument, "decode network")
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// #endregion codec
