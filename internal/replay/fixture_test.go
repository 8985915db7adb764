package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/hybrid-router/internal/config"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region fixture-tests

// TestFixture_RoutingSession replays the mixed two-project session and checks
// every turn's route and blocking rule. Drift in the gate rules or the
// heuristic thresholds shows up here first.
func TestFixture_RoutingSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "routing_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	results, summary, err := RunFixture(context.Background(), f, config.Default(), nil)
	if err != nil {
		t.Fatalf("RunFixture: %v", err)
	}
	if len(results) != len(f.ExpectedResults) {
		t.Fatalf("expected %d results, got %d", len(f.ExpectedResults), len(results))
	}
	for _, m := range summary.Mismatches {
		t.Errorf("turn %s: %s want=%s got=%s", m.TurnID, m.Field, m.Want, m.Got)
	}
	if summary.Errors != 0 {
		t.Errorf("expected no errors, got %d", summary.Errors)
	}
	if summary.Blocked != 2 {
		t.Errorf("expected 2 blocked turns, got %d", summary.Blocked)
	}
	if summary.Routes["local"] != 3 || summary.Routes["remote"] != 2 || summary.Routes["hybrid"] != 1 {
		t.Errorf("unexpected route counts: %v", summary.Routes)
	}
	if !summary.Passed() {
		t.Error("expected summary to pass")
	}

	// alpha saw t1 and t3 before t5; the blocked t2 never reached history.
	for _, r := range results {
		if r.TurnID == "t5" && r.HistoryLength != 2 {
			t.Errorf("t5: expected history length 2, got %d", r.HistoryLength)
		}
	}
}

// TestFixture_ReportsMismatch flips one expectation and checks it is reported.
func TestFixture_ReportsMismatch(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "routing_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	f.ExpectedResults[0].Route = "remote"
	f.ExpectedResults[1].RuleID = "SAFETY_001"

	_, summary, err := RunFixture(context.Background(), f, config.Default(), nil)
	if err != nil {
		t.Fatalf("RunFixture: %v", err)
	}
	if len(summary.Mismatches) != 2 {
		t.Fatalf("expected 2 mismatches, got %+v", summary.Mismatches)
	}
	if m := summary.Mismatches[0]; m.TurnID != "t1" || m.Field != "route" || m.Got != "local" {
		t.Errorf("unexpected first mismatch: %+v", m)
	}
	if m := summary.Mismatches[1]; m.TurnID != "t2" || m.Field != "rule_id" || m.Got != "PRIVACY_002" {
		t.Errorf("unexpected second mismatch: %+v", m)
	}
	if summary.Passed() {
		t.Error("expected summary to fail")
	}
}

// TestFixtureConfig_BadStrategy verifies unknown strategies are rejected.
func TestFixtureConfig_BadStrategy(t *testing.T) {
	cfg := config.Default()
	fc := FixtureConfig{Strategy: "random"}
	if err := fc.Apply(&cfg); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

// TestFixtureInteraction_BadPriority verifies range checking on fixture queries.
func TestFixtureInteraction_BadPriority(t *testing.T) {
	p := 11
	fi := FixtureInteraction{TurnID: "x", Query: "hi", Priority: &p}
	if _, err := fi.ToInteraction(); err == nil {
		t.Fatal("expected error for priority 11")
	}
}

// TestLoadFixture_NotFound verifies error on missing file.
func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// TestLoadFixture_Malformed verifies error on invalid JSON.
func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

// #endregion fixture-tests

// TestFixtureFromTurns_RoundTrip exports recorded turns and replays them
// with the same config; every route should reproduce.
func TestFixtureFromTurns_RoundTrip(t *testing.T) {
	mk := func(text string, route query.Route, opts ...query.Option) query.Turn {
		return query.NewTurn(query.MustNew(text, opts...), "r", query.Decision{Route: route})
	}
	turns := []query.Turn{
		mk("hi", query.RouteLocal, query.WithProject("p")),
		mk("please verify the invariant holds", query.RouteRemote, query.WithProject("p")),
		mk("status of the rollout for the storage cluster this week?", query.RouteHybrid, query.WithProject("p"), query.WithPriority(9)),
	}

	f := FixtureFromTurns("export", turns)
	if len(f.Interactions) != 3 || len(f.ExpectedResults) != 3 {
		t.Fatalf("unexpected fixture sizes: %d/%d", len(f.Interactions), len(f.ExpectedResults))
	}
	if *f.Interactions[2].Priority != 9 {
		t.Errorf("expected priority 9, got %d", *f.Interactions[2].Priority)
	}
	f.Config = FixtureConfig{Strategy: "heuristic", FeatureDimension: 32, ReservoirSize: 16}

	_, summary, err := RunFixture(context.Background(), f, config.Default(), nil)
	if err != nil {
		t.Fatalf("RunFixture: %v", err)
	}
	for _, m := range summary.Mismatches {
		t.Errorf("turn %s: %s want=%s got=%s", m.TurnID, m.Field, m.Want, m.Got)
	}
}

func TestFixtureFromTurns_UnscopedKeepsNoProject(t *testing.T) {
	// a high-priority query without a project routes local; under a project it would go hybrid
	q := query.MustNew("status of the rollout for the storage cluster this week?", query.WithPriority(9))
	turn := query.NewTurn(q, "r", query.Decision{Route: query.RouteLocal})
	turn.Project = "default"
	turn.Unscoped = true

	f := FixtureFromTurns("export", []query.Turn{turn})
	if f.Interactions[0].Project != "" {
		t.Fatalf("expected no project, got %q", f.Interactions[0].Project)
	}
	f.Config = FixtureConfig{Strategy: "heuristic", FeatureDimension: 32, ReservoirSize: 16}

	_, summary, err := RunFixture(context.Background(), f, config.Default(), nil)
	if err != nil {
		t.Fatalf("RunFixture: %v", err)
	}
	if !summary.Passed() {
		t.Fatalf("unexpected mismatches: %+v", summary.Mismatches)
	}
}
