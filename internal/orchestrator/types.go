package orchestrator

import (
	"context"
	"time"

	"github.com/danielpatrickdp/hybrid-router/internal/features"
	"github.com/danielpatrickdp/hybrid-router/internal/gate"
	"github.com/danielpatrickdp/hybrid-router/internal/metrics"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
	"github.com/danielpatrickdp/hybrid-router/internal/router"
	"github.com/danielpatrickdp/hybrid-router/internal/session"
	"github.com/danielpatrickdp/hybrid-router/internal/store"
)

// SourceGate marks decisions produced by the safety gate.
const SourceGate = "gate"

// #region outcome

// Outcome is everything one Decide call produced. Features is nil for a
// blocked query; Context is the project's view before the query was answered.
type Outcome struct {
	Query      query.Query
	Project    string
	Evaluation gate.Evaluation
	Decision   query.Decision
	Features   []float32
	Strategy   router.Strategy
	Fallback   bool // neural strategy answered by the heuristic router
	Context    session.Snapshot
	Latency    time.Duration
}

// Blocked reports whether the gate stopped the query.
func (o Outcome) Blocked() bool {
	return !o.Evaluation.Allowed
}

// Model is the backend family the decision selects.
func (o Outcome) Model() string {
	return query.ModelName(o.Decision.Route)
}

// #endregion outcome

// #region backend

// Backend produces the response for a routed query. Inference is not part of
// this module; callers plug one in.
type Backend interface {
	Respond(ctx context.Context, out Outcome) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, out Outcome) (string, error)

// Respond calls f.
func (f BackendFunc) Respond(ctx context.Context, out Outcome) (string, error) {
	return f(ctx, out)
}

// #endregion backend

// #region deps

// Deps are the components an Orchestrator composes. Store and Metrics are optional.
type Deps struct {
	Gate      *gate.Gate
	Extractor *features.Extractor
	Router    *router.Router
	Sessions  *session.Manager
	Store     *store.Store
	Metrics   *metrics.Recorder

	// ContextWindow is how many recent turns Decide attaches to an Outcome.
	ContextWindow int
	// MaxResponseChars truncates recorded responses; zero keeps them whole.
	MaxResponseChars int
}

// #endregion deps
