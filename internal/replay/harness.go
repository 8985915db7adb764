package replay

import (
	"context"
	"sort"

	"github.com/danielpatrickdp/hybrid-router/internal/config"
	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/metrics"
	"github.com/danielpatrickdp/hybrid-router/internal/orchestrator"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
	"github.com/danielpatrickdp/hybrid-router/internal/store"
)

// Replay actions.
const (
	ActionRouted  = "routed"
	ActionBlocked = "blocked"
	ActionError   = "error"
)

// #region types
// Interaction represents a single recorded turn for replay.
type Interaction struct {
	TurnID   string
	Query    query.Query
	Response string
}

// ReplayResult captures the outcome of replaying one interaction through the full pipeline.
type ReplayResult struct {
	TurnID  string `json:"turn_id"`
	Project string `json:"project"`
	Action  string `json:"action"` // "routed" | "blocked" | "error"
	Reason  string `json:"reason,omitempty"`

	Route      query.Route `json:"route"`
	Confidence float32     `json:"confidence"`
	Source     string      `json:"source"`
	RuleID     string      `json:"rule_id,omitempty"` // blocking rule, or first warning
	Fallback   bool        `json:"fallback,omitempty"`

	// History depth the router saw for this turn.
	HistoryLength int   `json:"history_length"`
	Err           error `json:"-"`
}

// Mismatch is one expected field that the replay did not reproduce.
type Mismatch struct {
	TurnID string `json:"turn_id"`
	Field  string `json:"field"` // "route" | "rule_id" | "missing"
	Want   string `json:"want"`
	Got    string `json:"got,omitempty"`
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalTurns int
	Routes     map[string]int
	Blocked    int
	Fallbacks  int
	Errors     int
	Mismatches []Mismatch
}

// Passed reports a run with no errors and no mismatches.
func (s ReplaySummary) Passed() bool {
	return s.Errors == 0 && len(s.Mismatches) == 0
}

// #endregion types

// #region replay
// Replay feeds interactions through o in order: gate → features → route →
// record. Each recorded turn extends the context later turns see.
func Replay(ctx context.Context, o *orchestrator.Orchestrator, interactions []Interaction) []ReplayResult {
	results := make([]ReplayResult, 0, len(interactions))
	for _, in := range interactions {
		resp := in.Response
		backend := orchestrator.BackendFunc(func(context.Context, orchestrator.Outcome) (string, error) {
			return resp, nil
		})

		out, _, err := o.Process(ctx, in.Query, backend)
		r := ReplayResult{
			TurnID:        in.TurnID,
			Project:       out.Project,
			Route:         out.Decision.Route,
			Confidence:    out.Decision.Confidence,
			Source:        out.Decision.Source,
			Reason:        out.Decision.Reason,
			RuleID:        out.Evaluation.RuleID,
			Fallback:      out.Fallback,
			HistoryLength: out.Context.HistoryLength,
		}
		switch {
		case herr.IsKind(err, herr.KindBlockedByPolicy):
			r.Action = ActionBlocked
		case err != nil:
			r.Action = ActionError
			r.Reason = err.Error()
			r.Err = err
		default:
			r.Action = ActionRouted
		}
		results = append(results, r)
	}
	return results
}

// Summarize computes aggregate stats from replay results and checks them
// against expected. Turns without an expectation are counted but not checked.
func Summarize(results []ReplayResult, expected []FixtureExpectedResult) ReplaySummary {
	s := ReplaySummary{
		TotalTurns: len(results),
		Routes:     make(map[string]int),
	}
	byTurn := make(map[string]ReplayResult, len(results))
	for _, r := range results {
		byTurn[r.TurnID] = r
		switch r.Action {
		case ActionError:
			s.Errors++
			continue
		case ActionBlocked:
			s.Blocked++
		}
		s.Routes[r.Route.String()]++
		if r.Fallback {
			s.Fallbacks++
		}
	}

	for _, e := range expected {
		r, ok := byTurn[e.TurnID]
		if !ok {
			s.Mismatches = append(s.Mismatches, Mismatch{TurnID: e.TurnID, Field: "missing", Want: e.Route})
			continue
		}
		if r.Action == ActionError || r.Route.String() != e.Route {
			got := r.Route.String()
			if r.Action == ActionError {
				got = ActionError
			}
			s.Mismatches = append(s.Mismatches, Mismatch{TurnID: e.TurnID, Field: "route", Want: e.Route, Got: got})
			continue
		}
		if e.RuleID != "" && r.Action == ActionBlocked && r.RuleID != e.RuleID {
			s.Mismatches = append(s.Mismatches, Mismatch{TurnID: e.TurnID, Field: "rule_id", Want: e.RuleID, Got: r.RuleID})
		}
	}
	sort.SliceStable(s.Mismatches, func(i, j int) bool { return s.Mismatches[i].TurnID < s.Mismatches[j].TurnID })
	return s
}

// #endregion replay

// #region run-fixture

// RunFixture replays f against a fresh in-memory engine built from base plus
// the fixture's overrides. rec may be nil.
func RunFixture(ctx context.Context, f *Fixture, base config.Config, rec *metrics.Recorder) ([]ReplayResult, ReplaySummary, error) {
	cfg := base
	cfg.Heuristic.Keywords = append([]string(nil), base.Heuristic.Keywords...)
	if err := f.Config.Apply(&cfg); err != nil {
		return nil, ReplaySummary{}, err
	}
	interactions, err := f.ToInteractions()
	if err != nil {
		return nil, ReplaySummary{}, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, ReplaySummary{}, err
	}
	defer st.Close()

	o, err := orchestrator.Build(ctx, cfg, st, rec)
	if err != nil {
		return nil, ReplaySummary{}, err
	}
	defer o.Close(ctx)

	results := Replay(ctx, o, interactions)
	return results, Summarize(results, f.ExpectedResults), nil
}

// #endregion run-fixture
