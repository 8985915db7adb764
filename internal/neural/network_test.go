package neural

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

func testNet(t *testing.T, input int) *Network {
	t.Helper()
	n, err := New(RouterArchitecture(input, 12, 8), 1)
	require.NoError(t, err)
	return n
}

func randVec(rng *rand.Rand, dim int, scale float64) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32((rng.Float64()*2 - 1) * scale)
	}
	return v
}

func TestForwardAlwaysValid(t *testing.T) {
	n := testNet(t, 16)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		// include very large inputs to exercise softmax overflow handling
		p, err := n.Forward(randVec(rng, 16, math.Pow(10, float64(i%6))))
		require.NoError(t, err)
		assert.Contains(t, []query.Route{query.RouteLocal, query.RouteRemote, query.RouteHybrid}, p.Route)
		assert.GreaterOrEqual(t, p.Confidence, float32(0))
		assert.LessOrEqual(t, p.Confidence, float32(1))

		var sum float32
		for _, pr := range p.Probs {
			sum += pr
		}
		assert.InDelta(t, 1, sum, 1e-4)
	}
}

func TestForwardIdempotent(t *testing.T) {
	n := testNet(t, 8)
	x := randVec(rand.New(rand.NewPCG(3, 4)), 8, 1)
	a, err := n.Forward(x)
	require.NoError(t, err)
	b, err := n.Forward(x)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("forward not idempotent (-first +second):\n%s", diff)
	}
}

func TestForwardDimensionMismatch(t *testing.T) {
	n := testNet(t, 8)
	_, err := n.Forward(make([]float32, 9))
	require.Error(t, err)
	assert.True(t, herr.IsKind(err, herr.KindDimensionMismatch))
}

func TestNewRejectsBadArchitecture(t *testing.T) {
	_, err := New(Architecture{Input: 4, Hidden1: 0, Hidden2: 2, Output: 3}, 1)
	assert.True(t, herr.IsKind(err, herr.KindInvalidArgument))
}

func TestSameSeedSameWeights(t *testing.T) {
	a, _ := New(RouterArchitecture(10, 6, 4), 99)
	b, _ := New(RouterArchitecture(10, 6, 4), 99)
	assert.Equal(t, a, b)
}

func TestBackwardMatchesNumericalGradient(t *testing.T) {
	n := testNet(t, 5)
	rng := rand.New(rand.NewPCG(5, 6))
	x := randVec(rng, 5, 1)
	label := 2

	_, g, err := n.Backward(x, label)
	require.NoError(t, err)

	const eps = 1e-6
	lossAt := func(m *Network) float64 {
		l, err := m.Loss([][]float32{x}, []int{label})
		require.NoError(t, err)
		return l
	}

	for k := range n.Layers {
		for _, idx := range []int{0, len(n.Layers[k].W) / 2, len(n.Layers[k].W) - 1} {
			plus := cloneNet(n)
			plus.Layers[k].W[idx] += eps
			minus := cloneNet(n)
			minus.Layers[k].W[idx] -= eps
			numeric := (lossAt(plus) - lossAt(minus)) / (2 * eps)
			assert.InDelta(t, numeric, g.Layers[k].W[idx], 1e-5, "layer %d weight %d", k, idx)
		}
		plus := cloneNet(n)
		plus.Layers[k].B[0] += eps
		minus := cloneNet(n)
		minus.Layers[k].B[0] -= eps
		numeric := (lossAt(plus) - lossAt(minus)) / (2 * eps)
		assert.InDelta(t, numeric, g.Layers[k].B[0], 1e-5, "layer %d bias 0", k)
	}
}

func cloneNet(n *Network) *Network {
	c := &Network{Arch: n.Arch}
	for k, l := range n.Layers {
		c.Layers[k] = l.clone()
	}
	return c
}

func TestBackwardRejectsBadLabel(t *testing.T) {
	n := testNet(t, 4)
	_, _, err := n.Backward(make([]float32, 4), 3)
	assert.True(t, herr.IsKind(err, herr.KindInvalidArgument))
}

func TestApplyIsCopyOnWrite(t *testing.T) {
	n := testNet(t, 6)
	before := cloneNet(n)
	x := randVec(rand.New(rand.NewPCG(7, 8)), 6, 1)

	_, g, err := n.Backward(x, 1)
	require.NoError(t, err)
	next, err := n.Apply(g, 0.1, 0.01)
	require.NoError(t, err)

	assert.Equal(t, before, n, "receiver must not change")
	assert.NotEqual(t, n.Layers[0].W, next.Layers[0].W)
}

func TestGradientStepsReduceLoss(t *testing.T) {
	n := testNet(t, 6)
	x := randVec(rand.New(rand.NewPCG(9, 10)), 6, 1)

	first, _, err := n.Backward(x, 1)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, g, err := n.Backward(x, 1)
		require.NoError(t, err)
		n, err = n.Apply(g, 0.05, 0)
		require.NoError(t, err)
	}
	last, _, _ := n.Backward(x, 1)
	assert.Less(t, last, first)

	p, _ := n.Forward(x)
	assert.Equal(t, query.RouteRemote, p.Route)
}

func TestApplyRejectsShapeMismatch(t *testing.T) {
	a := testNet(t, 6)
	b := testNet(t, 7)
	_, err := a.Apply(ZeroGradients(b), 0.1, 0)
	assert.True(t, herr.IsKind(err, herr.KindDimensionMismatch))
}

func TestAccumulateAndScale(t *testing.T) {
	n := testNet(t, 4)
	x := []float32{1, -1, 0.5, 2}
	_, g1, _ := n.Backward(x, 0)

	sum := ZeroGradients(n)
	require.NoError(t, sum.Accumulate(g1))
	require.NoError(t, sum.Accumulate(g1))
	sum.Scale(0.5)
	assert.InDelta(t, g1.Norm(), sum.Norm(), 1e-12)
}

func TestCodecRoundTripAndValidation(t *testing.T) {
	n := testNet(t, 6)
	raw, err := n.Marshal()
	require.NoError(t, err)
	back, err := Unmarshal(raw)
	require.NoError(t, err)

	x := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	want, _ := n.Forward(x)
	got, _ := back.Forward(x)
	assert.Equal(t, want, got)

	back.Layers[1].B = back.Layers[1].B[:1]
	raw, _ = back.Marshal()
	_, err = Unmarshal(raw)
	assert.True(t, herr.IsKind(err, herr.KindDimensionMismatch))

	_, err = Unmarshal([]byte("{not json"))
	assert.True(t, herr.IsKind(err, herr.KindInvalidArgument))
}
