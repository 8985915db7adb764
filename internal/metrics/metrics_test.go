package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionCounters(t *testing.T) {
	r := New()
	r.ObserveDecision("local", "heuristic", time.Millisecond)
	r.ObserveDecision("local", "heuristic", 2*time.Millisecond)
	r.ObserveDecision("remote", "neural", time.Millisecond)
	r.Blocked("PRIVACY_002")
	r.Fallback()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.decisions.WithLabelValues("local", "heuristic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("blocked", "gate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.blocked.WithLabelValues("PRIVACY_002")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbacks))
	assert.Equal(t, 2, testutil.CollectAndCount(r.decisionLatency))
}

func TestTrainingOutcomes(t *testing.T) {
	r := New()
	r.TrainingRun(OutcomePromoted, 0.9)
	r.TrainingRun(OutcomeRejected, 0.4)
	r.TrainingRun(OutcomeFailed, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.promotions))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trainingRuns.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 0.4, testutil.ToFloat64(r.lastAccuracy), "failed runs keep the last accuracy")
}

func TestGatherExposition(t *testing.T) {
	r := New()
	r.Turn("alpha")

	expected := `
# HELP hybrid_router_turns_total Completed turns recorded per project.
# TYPE hybrid_router_turns_total counter
hybrid_router_turns_total{project="alpha"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "hybrid_router_turns_total"))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveDecision("local", "heuristic", time.Millisecond)
		r.Blocked("X")
		r.Fallback()
		r.Turn("p")
		r.TrainingRun(OutcomePromoted, 1)
	})
	assert.Nil(t, r.Registry())
}
