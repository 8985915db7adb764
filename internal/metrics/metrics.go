// Package metrics holds the Prometheus collectors for routing and training.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "hybrid_router"

// #region recorder

// Recorder owns a private registry and the collectors registered on it.
type Recorder struct {
	registry *prom.Registry

	decisions       *prom.CounterVec
	blocked         *prom.CounterVec
	fallbacks       prom.Counter
	decisionLatency *prom.HistogramVec
	turns           *prom.CounterVec
	trainingRuns    *prom.CounterVec
	promotions      prom.Counter
	lastAccuracy    prom.Gauge
}

// New builds a Recorder on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prom.NewRegistry(),
		decisions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Routing decisions by route and source.",
		}, []string{"route", "source"}),
		blocked: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_total",
			Help:      "Queries blocked by safety rule.",
		}, []string{"rule"}),
		fallbacks: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "neural_fallbacks_total",
			Help:      "Neural routing requests answered by the heuristic router.",
		}),
		decisionLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_seconds",
			Help:      "Time from query intake to routing decision.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"source"}),
		turns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns recorded per project.",
		}, []string{"project"}),
		trainingRuns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Router training runs by outcome.",
		}, []string{"outcome"}),
		promotions: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "model_promotions_total",
			Help:      "Retrained router weights swapped into service.",
		}),
		lastAccuracy: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "model_test_accuracy",
			Help:      "Held-out accuracy of the most recent training run.",
		}),
	}
	r.registry.MustRegister(
		r.decisions, r.blocked, r.fallbacks, r.decisionLatency,
		r.turns, r.trainingRuns, r.promotions, r.lastAccuracy,
	)
	return r
}

// Registry exposes the registry for exporters and tests.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// #endregion recorder

// #region routing

// ObserveDecision counts one routed query and its latency.
func (r *Recorder) ObserveDecision(route, source string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(route, source).Inc()
	r.decisionLatency.WithLabelValues(source).Observe(elapsed.Seconds())
}

// Blocked counts a safety block.
func (r *Recorder) Blocked(rule string) {
	if r == nil {
		return
	}
	r.blocked.WithLabelValues(rule).Inc()
	r.decisions.WithLabelValues("blocked", "gate").Inc()
}

// Fallback counts a neural request answered heuristically.
func (r *Recorder) Fallback() {
	if r == nil {
		return
	}
	r.fallbacks.Inc()
}

// Turn counts a recorded turn.
func (r *Recorder) Turn(project string) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(project).Inc()
}

// #endregion routing

// #region training

// Training outcomes.
const (
	OutcomePromoted = "promoted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// TrainingRun counts a finished run and records its test accuracy.
func (r *Recorder) TrainingRun(outcome string, testAccuracy float64) {
	if r == nil {
		return
	}
	r.trainingRuns.WithLabelValues(outcome).Inc()
	if outcome == OutcomePromoted {
		r.promotions.Inc()
	}
	if outcome != OutcomeFailed {
		r.lastAccuracy.Set(testAccuracy)
	}
}

// #endregion training
