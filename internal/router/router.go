// Package router turns a query and its feature vector into a routing decision,
// either with a fixed rule table or with a learned classifier.
package router

import (
	"fmt"
	"strings"
	"sync/atomic"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/logger"
	"github.com/danielpatrickdp/hybrid-router/internal/neural"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// Decision sources.
const (
	SourceHeuristic = "heuristic"
	SourceNeural    = "neural"
)

// #region decider

// Decider is the shared routing contract.
type Decider interface {
	Route(q query.Query, features []float32) (query.Decision, error)
}

// #endregion decider

// #region strategy

// Strategy selects which Decider a Router uses.
type Strategy uint32

const (
	StrategyHeuristic Strategy = iota
	StrategyNeural
)

func (s Strategy) String() string {
	switch s {
	case StrategyHeuristic:
		return "heuristic"
	case StrategyNeural:
		return "neural"
	default:
		return fmt.Sprintf("strategy(%d)", uint32(s))
	}
}

// ParseStrategy parses "heuristic" or "neural".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heuristic":
		return StrategyHeuristic, nil
	case "neural":
		return StrategyNeural, nil
	}
	return 0, herr.InvalidArgf("unknown strategy %q", s)
}

// #endregion strategy

// #region neural-router

// NeuralRouter classifies feature vectors with the latest committed weights.
// Weight swaps are a single pointer store; a Route call reads one snapshot.
type NeuralRouter struct {
	inputDim int
	weights  atomic.Pointer[neural.Network]
}

// NewNeuralRouter creates a router with no weights loaded.
func NewNeuralRouter(inputDim int) *NeuralRouter {
	return &NeuralRouter{inputDim: inputDim}
}

// InputDim returns the feature width the router accepts.
func (n *NeuralRouter) InputDim() int { return n.inputDim }

// Load validates and atomically installs a weight snapshot. The caller must
// not modify net afterwards.
func (n *NeuralRouter) Load(net *neural.Network) error {
	if net == nil {
		return herr.InvalidArgf("nil network")
	}
	if err := net.Validate(); err != nil {
		return err
	}
	if net.Arch.Input != n.inputDim {
		return herr.DimensionMismatch("network input", n.inputDim, net.Arch.Input)
	}
	if net.Arch.Output != query.NumClasses {
		return herr.DimensionMismatch("network output", query.NumClasses, net.Arch.Output)
	}
	n.weights.Store(net)
	return nil
}

// Unload drops the current weights.
func (n *NeuralRouter) Unload() { n.weights.Store(nil) }

// Weights returns the current snapshot, or nil.
func (n *NeuralRouter) Weights() *neural.Network { return n.weights.Load() }

// Loaded reports whether weights are installed.
func (n *NeuralRouter) Loaded() bool { return n.weights.Load() != nil }

// Route implements Decider. Without weights it returns KindNoTrainedModel.
func (n *NeuralRouter) Route(_ query.Query, features []float32) (query.Decision, error) {
	net := n.weights.Load()
	if net == nil {
		return query.Decision{}, herr.New(herr.KindNoTrainedModel, "no trained router weights loaded")
	}
	p, err := net.Forward(features)
	if err != nil {
		return query.Decision{}, herr.WithOp(err, "router.Neural")
	}
	return query.Decision{Route: p.Route, Confidence: p.Confidence, Source: SourceNeural, Reason: "classifier"}, nil
}

// #endregion neural-router

// #region router

// Router dispatches on a runtime-selectable Strategy. When the neural strategy
// is selected but no model is loaded it answers heuristically.
type Router struct {
	heuristic *HeuristicRouter
	neural    *NeuralRouter
	strategy  atomic.Uint32
	log       *logger.Logger
}

// New builds a Router starting in the given strategy.
func New(h *HeuristicRouter, n *NeuralRouter, s Strategy) *Router {
	r := &Router{heuristic: h, neural: n, log: logger.Named("router")}
	r.strategy.Store(uint32(s))
	return r
}

// Strategy returns the selected strategy.
func (r *Router) Strategy() Strategy { return Strategy(r.strategy.Load()) }

// SetStrategy toggles between heuristic and learned routing.
func (r *Router) SetStrategy(s Strategy) {
	r.strategy.Store(uint32(s))
	r.log.Info().Str("strategy", s.String()).Msg("routing strategy set")
}

// Heuristic returns the rule-table router.
func (r *Router) Heuristic() *HeuristicRouter { return r.heuristic }

// Neural returns the learned router.
func (r *Router) Neural() *NeuralRouter { return r.neural }

// Route implements Decider. DimensionMismatch from the classifier is returned;
// a missing model is not.
func (r *Router) Route(q query.Query, features []float32) (query.Decision, error) {
	if r.Strategy() != StrategyNeural || r.neural == nil {
		return r.heuristic.Decide(q), nil
	}
	d, err := r.neural.Route(q, features)
	if herr.IsKind(err, herr.KindNoTrainedModel) {
		r.log.Debug().Str("query_id", q.ID).Msg("no trained model, using heuristic")
		d = r.heuristic.Decide(q)
		d.Reason = "fallback:" + d.Reason
		return d, nil
	}
	return d, err
}

// #endregion router
