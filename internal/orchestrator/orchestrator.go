// Package orchestrator runs a query through the safety gate, feature extraction
// and routing, then records the answered turn in the project's context.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/features"
	"github.com/danielpatrickdp/hybrid-router/internal/gate"
	"github.com/danielpatrickdp/hybrid-router/internal/logger"
	"github.com/danielpatrickdp/hybrid-router/internal/logging"
	"github.com/danielpatrickdp/hybrid-router/internal/metrics"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
	"github.com/danielpatrickdp/hybrid-router/internal/router"
	"github.com/danielpatrickdp/hybrid-router/internal/session"
	"github.com/danielpatrickdp/hybrid-router/internal/store"
	"github.com/danielpatrickdp/hybrid-router/internal/training"
)

// #region orchestrator-struct

// Orchestrator is the top-level coordinator. It is safe for concurrent use;
// per-project ordering is the caller's concern.
type Orchestrator struct {
	gate      *gate.Gate
	extractor *features.Extractor
	router    *router.Router
	sessions  *session.Manager
	store     *store.Store
	rec       *metrics.Recorder

	window      int
	maxResponse int
	closers     []func() error
	log         *logger.Logger
}

// #endregion orchestrator-struct

// #region constructor

// NewOrchestrator wires the components in d. The extractor's dimension must
// match the neural router's input width.
func NewOrchestrator(d Deps) (*Orchestrator, error) {
	switch {
	case d.Gate == nil:
		return nil, herr.InvalidArgf("orchestrator: nil gate")
	case d.Extractor == nil:
		return nil, herr.InvalidArgf("orchestrator: nil extractor")
	case d.Router == nil:
		return nil, herr.InvalidArgf("orchestrator: nil router")
	case d.Sessions == nil:
		return nil, herr.InvalidArgf("orchestrator: nil session manager")
	case d.ContextWindow < 0:
		return nil, herr.InvalidArgf("orchestrator: negative context window %d", d.ContextWindow)
	}
	if n := d.Router.Neural(); n != nil && n.InputDim() != d.Extractor.Dimension() {
		return nil, herr.DimensionMismatch("router input", n.InputDim(), d.Extractor.Dimension())
	}
	return &Orchestrator{
		gate:        d.Gate,
		extractor:   d.Extractor,
		router:      d.Router,
		sessions:    d.Sessions,
		store:       d.Store,
		rec:         d.Metrics,
		window:      d.ContextWindow,
		maxResponse: d.MaxResponseChars,
		log:         logger.Named("orchestrator"),
	}, nil
}

// #endregion constructor

// #region accessors

// Strategy returns the active routing strategy.
func (o *Orchestrator) Strategy() router.Strategy { return o.router.Strategy() }

// SetStrategy switches between heuristic and neural routing at runtime.
func (o *Orchestrator) SetStrategy(s router.Strategy) { o.router.SetStrategy(s) }

// Router returns the underlying router, e.g. to hand its neural half to a training worker.
func (o *Orchestrator) Router() *router.Router { return o.router }

// Sessions returns the context manager.
func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

// Extractor returns the feature extractor.
func (o *Orchestrator) Extractor() *features.Extractor { return o.extractor }

// Metrics returns the recorder, which may be nil.
func (o *Orchestrator) Metrics() *metrics.Recorder { return o.rec }

// #endregion accessors

// #region decide

// Decide evaluates q and routes it. A blocked query returns its Outcome
// together with a KindBlockedByPolicy error carrying the rule id; the
// project's context is not touched in that case.
func (o *Orchestrator) Decide(ctx context.Context, q query.Query) (Outcome, error) {
	start := time.Now()
	out := Outcome{
		Query:    q,
		Project:  o.sessions.Resolve(q.Project),
		Strategy: o.router.Strategy(),
	}

	out.Evaluation = o.gate.Evaluate(q)
	if out.Blocked() {
		out.Decision = query.Decision{
			Route:      query.RouteBlocked,
			Confidence: 1,
			Source:     SourceGate,
			Reason:     out.Evaluation.Reason,
		}
		out.Latency = time.Since(start)
		o.rec.Blocked(out.Evaluation.RuleID)
		o.audit(ctx, out)
		o.log.Info().
			Str("query_id", q.ID).
			Str("project", out.Project).
			Str("rule", out.Evaluation.RuleID).
			Msg("query blocked")
		return out, out.Evaluation.Err()
	}

	p, err := o.sessions.Switch(ctx, out.Project)
	if err != nil {
		return Outcome{}, herr.WithOp(err, "orchestrator.Decide")
	}
	out.Context = p.Snapshot(o.window)

	vec, err := o.extractor.Extract(ctx, q, features.Metadata{HistoryLength: out.Context.HistoryLength})
	if err != nil {
		return Outcome{}, herr.WithOp(err, "orchestrator.Decide")
	}
	out.Features = vec

	d, err := o.router.Route(q, vec)
	if err != nil {
		return Outcome{}, herr.WithOp(err, "orchestrator.Decide")
	}
	out.Decision = d
	out.Fallback = out.Strategy == router.StrategyNeural && d.Source != router.SourceNeural
	out.Latency = time.Since(start)

	o.rec.ObserveDecision(d.Route.String(), d.Source, out.Latency)
	if out.Fallback {
		o.rec.Fallback()
	}
	o.audit(ctx, out)

	o.log.Debug().
		Str("query_id", q.ID).
		Str("project", out.Project).
		Str("route", d.Route.String()).
		Float32("confidence", d.Confidence).
		Str("source", d.Source).
		Bool("fallback", out.Fallback).
		Dur("latency", out.Latency).
		Msg("routed")
	return out, nil
}

// #endregion decide

// #region record

// Record appends the answered turn to the project's history, feeds its
// features into the project's reservoir and persists it when a store is wired.
func (o *Orchestrator) Record(ctx context.Context, out Outcome, response string) (query.Turn, error) {
	if out.Blocked() {
		return query.Turn{}, herr.InvalidArgf("orchestrator: cannot record a blocked query (%s)", out.Evaluation.RuleID)
	}
	if o.maxResponse > 0 {
		response = query.Truncate(response, o.maxResponse)
	}

	turn := query.NewTurn(out.Query, response, out.Decision)
	turn.Project = out.Project
	turn.Unscoped = !out.Query.HasProject()
	turn.Features = append([]float32(nil), out.Features...)

	if err := o.sessions.AddTurn(ctx, out.Project, turn, out.Features); err != nil {
		return query.Turn{}, herr.WithOp(err, "orchestrator.Record")
	}
	if o.store != nil {
		if err := o.store.RecordTurn(ctx, turn); err != nil {
			return query.Turn{}, herr.WithOp(err, "orchestrator.Record")
		}
	}
	o.rec.Turn(out.Project)
	return turn, nil
}

// #endregion record

// #region process

// Process decides q, asks b for a response and records the turn. A nil
// Backend records an empty response. Blocked queries stop after Decide.
func (o *Orchestrator) Process(ctx context.Context, q query.Query, b Backend) (Outcome, query.Turn, error) {
	out, err := o.Decide(ctx, q)
	if err != nil {
		return out, query.Turn{}, err
	}

	var response string
	if b != nil {
		response, err = b.Respond(ctx, out)
		if err != nil {
			return out, query.Turn{}, herr.Wrap(err, herr.KindUnavailable, "backend respond")
		}
	}

	turn, err := o.Record(ctx, out, response)
	if err != nil {
		return out, query.Turn{}, err
	}
	return out, turn, nil
}

// #endregion process

// #region context

// Snapshot returns the last n turns and reservoir state for project.
func (o *Orchestrator) Snapshot(ctx context.Context, project string, n int) (session.Snapshot, error) {
	return o.sessions.Snapshot(ctx, project, n)
}

// Examples rebuilds labeled training examples from up to limit stored turns
// of project (all projects when empty).
func (o *Orchestrator) Examples(ctx context.Context, project string, limit int) ([]training.Example, error) {
	if o.store == nil {
		return nil, herr.New(herr.KindUnavailable, "orchestrator: no store configured")
	}
	turns, err := o.store.ListTurns(ctx, project, limit)
	if err != nil {
		return nil, err
	}
	return training.CollectFromTurns(ctx, turns, o.extractor)
}

// Close flushes every open project to the store and releases wired resources.
func (o *Orchestrator) Close(ctx context.Context) error {
	var first error
	if err := o.sessions.Flush(ctx); err != nil {
		first = err
	}
	for _, c := range o.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	o.closers = nil
	return first
}

// #endregion context

// #region audit

// audit writes the decision to decision_log. Failures are logged, not returned:
// the routing answer stands without its audit row.
func (o *Orchestrator) audit(ctx context.Context, out Outcome) {
	if o.store == nil {
		return
	}
	entry, err := logging.EntryFromRecord(out.Project, o.decisionRecord(out))
	if err != nil {
		o.log.Warn().Err(err).Str("query_id", out.Query.ID).Msg("encode decision record")
		return
	}
	if err := logging.LogDecision(ctx, o.store.DB(), entry); err != nil {
		o.log.Warn().Err(err).Str("query_id", out.Query.ID).Msg("decision log write failed")
	}
}

func (o *Orchestrator) decisionRecord(out Outcome) logging.DecisionRecord {
	rec := logging.DecisionRecord{
		QueryID:       out.Query.ID,
		Query:         out.Query.Text,
		Priority:      out.Query.Priority,
		Strategy:      out.Strategy.String(),
		Route:         out.Decision.Route.String(),
		Confidence:    out.Decision.Confidence,
		Source:        out.Decision.Source,
		Reason:        out.Decision.Reason,
		Fallback:      out.Fallback,
		HistoryLength: out.Context.HistoryLength,
		LatencyMS:     float64(out.Latency.Microseconds()) / 1000,
	}
	if out.Blocked() {
		rec.GateRuleID = out.Evaluation.RuleID
	}
	for _, f := range out.Evaluation.Findings {
		rec.GateWarnings = append(rec.GateWarnings, f.RuleID)
	}
	if out.Decision.Source == router.SourceNeural {
		if net := o.router.Neural().Weights(); net != nil {
			if p, err := net.Forward(out.Features); err == nil {
				rec.Probs = p.Probs
			}
		}
	}
	return rec
}

// DecisionJSON renders an outcome's audit record, as stored in decision_log.
func (o *Orchestrator) DecisionJSON(out Outcome) ([]byte, error) {
	return json.Marshal(o.decisionRecord(out))
}

// #endregion audit
