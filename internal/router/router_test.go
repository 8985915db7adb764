package router

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/neural"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region heuristic-tests

func TestHeuristicTable(t *testing.T) {
	h := NewHeuristicRouter(DefaultHeuristicConfig())
	tests := []struct {
		name  string
		q     query.Query
		route query.Route
		conf  float32
		rule  string
	}{
		{"short", query.MustNew("hello test"), query.RouteLocal, 0.8, "short_query"},
		{"long", query.MustNew(strings.Repeat("a", 600)), query.RouteRemote, 0.9, "long_query"},
		{"long beats keyword", query.MustNew("prove " + strings.Repeat("b", 600)), query.RouteRemote, 0.9, "long_query"},
		{"keyword", query.MustNew("Can you formally prove this theorem?"), query.RouteRemote, 0.85, "reasoning_keyword"},
		{"keyword beats short", query.MustNew("verify"), query.RouteRemote, 0.85, "reasoning_keyword"},
		{"hybrid", query.MustNew(strings.Repeat("design question ", 5), query.WithPriority(9), query.WithProject("p")),
			query.RouteHybrid, 0.7, "priority_project"},
		{"high priority without project", query.MustNew(strings.Repeat("design question ", 5), query.WithPriority(9)),
			query.RouteLocal, 0.7, "default"},
		{"priority at threshold", query.MustNew(strings.Repeat("design question ", 5), query.WithPriority(7), query.WithProject("p")),
			query.RouteLocal, 0.7, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := h.Decide(tt.q)
			assert.Equal(t, tt.route, d.Route)
			assert.Equal(t, tt.conf, d.Confidence)
			assert.Equal(t, tt.rule, d.Reason)
			assert.Equal(t, SourceHeuristic, d.Source)
		})
	}
}

func TestHeuristicBoundaries(t *testing.T) {
	h := NewHeuristicRouter(DefaultHeuristicConfig())
	assert.Equal(t, query.RouteLocal, h.Decide(query.MustNew(strings.Repeat("a", 500))).Route, "500 is not long")
	assert.Equal(t, "default", h.Decide(query.MustNew(strings.Repeat("a", 50))).Reason, "50 is not short")
	assert.Equal(t, "short_query", h.Decide(query.MustNew(strings.Repeat("a", 49))).Reason)
}

func TestHeuristicUpdateConfig(t *testing.T) {
	h := NewHeuristicRouter(DefaultHeuristicConfig())
	cfg := h.Config()
	cfg.Keywords = []string{" Derive "}
	h.UpdateConfig(cfg)

	assert.Equal(t, query.RouteRemote, h.Decide(query.MustNew("derive it")).Route)
	assert.Equal(t, query.RouteLocal, h.Decide(query.MustNew("prove it")).Route)
}

func TestHeuristicConfidenceInRange(t *testing.T) {
	h := NewHeuristicRouter(DefaultHeuristicConfig())
	for _, text := range []string{"", "x", "prove", strings.Repeat("z ", 400)} {
		d := h.Decide(query.MustNew(text))
		assert.GreaterOrEqual(t, d.Confidence, float32(0))
		assert.LessOrEqual(t, d.Confidence, float32(1))
	}
}

// #endregion heuristic-tests

// #region router-tests

func newTestRouter(t *testing.T, dim int, s Strategy) *Router {
	t.Helper()
	return New(NewHeuristicRouter(DefaultHeuristicConfig()), NewNeuralRouter(dim), s)
}

func TestNeuralWithoutModelFallsBack(t *testing.T) {
	r := newTestRouter(t, 8, StrategyNeural)
	d, err := r.Route(query.MustNew("hello there"), make([]float32, 8))
	require.NoError(t, err)
	assert.Equal(t, SourceHeuristic, d.Source)
	assert.Equal(t, query.RouteLocal, d.Route)
	assert.Equal(t, "fallback:short_query", d.Reason)
}

func TestNeuralRouterReportsNoModel(t *testing.T) {
	_, err := NewNeuralRouter(4).Route(query.MustNew("x"), make([]float32, 4))
	assert.True(t, herr.IsKind(err, herr.KindNoTrainedModel))
}

func TestNeuralRouting(t *testing.T) {
	r := newTestRouter(t, 8, StrategyNeural)
	net, err := neural.New(neural.RouterArchitecture(8, 6, 4), 3)
	require.NoError(t, err)
	require.NoError(t, r.Neural().Load(net))

	x := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	q := query.MustNew("hello")
	a, err := r.Route(q, x)
	require.NoError(t, err)
	b, err := r.Route(q, x)
	require.NoError(t, err)

	assert.Equal(t, a, b, "idempotent")
	assert.Equal(t, SourceNeural, a.Source)
	assert.NotEqual(t, query.RouteBlocked, a.Route)

	_, err = r.Route(q, x[:5])
	assert.True(t, herr.IsKind(err, herr.KindDimensionMismatch))
}

func TestToggleStrategy(t *testing.T) {
	r := newTestRouter(t, 4, StrategyNeural)
	net, _ := neural.New(neural.RouterArchitecture(4, 3, 3), 1)
	require.NoError(t, r.Neural().Load(net))

	d, _ := r.Route(query.MustNew("hi"), make([]float32, 4))
	assert.Equal(t, SourceNeural, d.Source)

	r.SetStrategy(StrategyHeuristic)
	d, err := r.Route(query.MustNew("hi"), nil)
	require.NoError(t, err, "heuristic ignores features")
	assert.Equal(t, SourceHeuristic, d.Source)
}

func TestLoadValidatesShape(t *testing.T) {
	nr := NewNeuralRouter(8)
	wrongIn, _ := neural.New(neural.RouterArchitecture(7, 4, 4), 1)
	assert.True(t, herr.IsKind(nr.Load(wrongIn), herr.KindDimensionMismatch))

	wrongOut, _ := neural.New(neural.Architecture{Input: 8, Hidden1: 4, Hidden2: 4, Output: 2}, 1)
	assert.True(t, herr.IsKind(nr.Load(wrongOut), herr.KindDimensionMismatch))

	assert.Error(t, nr.Load(nil))
	assert.False(t, nr.Loaded())
}

func TestConcurrentSwapAndRoute(t *testing.T) {
	r := newTestRouter(t, 6, StrategyNeural)
	nets := make([]*neural.Network, 4)
	for i := range nets {
		nets[i], _ = neural.New(neural.RouterArchitecture(6, 5, 4), uint64(i))
	}
	x := []float32{1, 0, 1, 0, 1, 0}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = r.Neural().Load(nets[i%len(nets)])
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			d, err := r.Route(query.MustNew("q"), x)
			if err != nil {
				t.Errorf("route: %v", err)
				return
			}
			if d.Confidence < 0 || d.Confidence > 1 {
				t.Errorf("confidence %f out of range", d.Confidence)
				return
			}
		}
	}()
	wg.Wait()
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Neural ")
	require.NoError(t, err)
	assert.Equal(t, StrategyNeural, s)
	_, err = ParseStrategy("random")
	assert.Error(t, err)
}

// #endregion router-tests
