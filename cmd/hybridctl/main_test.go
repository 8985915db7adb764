package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRouteRecordAndInspect(t *testing.T) {
	t.Setenv("ORCHESTRATOR_NEURAL", "false")
	t.Setenv("HYBRID_FEATURE_DIM", "64")
	t.Setenv("HYBRID_RESERVOIR_SIZE", "32")
	db := filepath.Join(t.TempDir(), "cli.db")

	out, _, err := run(t, "--db", db, "--json", "route", "--record", "--response", "hi!", "-p", "alpha", "hello", "there")
	require.NoError(t, err)
	var res routeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "local", res.Route)
	assert.Equal(t, "alpha", res.Project)
	assert.NotEmpty(t, res.TurnID)

	out, _, err = run(t, "--db", db, "--json", "route", "my", "password", "is", "hunter2")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "blocked", res.Route)
	assert.Equal(t, "PRIVACY_002", res.RuleID)

	out, _, err = run(t, "--db", db, "inspect", "decisions")
	require.NoError(t, err)
	assert.Contains(t, out, "PRIVACY_002")
	assert.Contains(t, out, "alpha")

	out, _, err = run(t, "--db", db, "--json", "inspect", "counts")
	require.NoError(t, err)
	var counts map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	assert.Equal(t, map[string]int{"local": 1}, counts)

	// recorded history replays without drift
	out, _, err = run(t, "--db", db, "replay")
	require.NoError(t, err)
	assert.Contains(t, out, "all expectations met")
}

func TestReplayFixtureCommand(t *testing.T) {
	fixture := filepath.Join("..", "..", "internal", "replay", "testdata", "routing_session.json")
	out, _, err := run(t, "--db", ":memory:", "replay", "--fixture", fixture, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "turns=8 blocked=2")
	assert.Contains(t, out, "PRIVACY_001")
}

func TestMetricsDump(t *testing.T) {
	t.Setenv("ORCHESTRATOR_NEURAL", "false")
	t.Setenv("HYBRID_FEATURE_DIM", "64")
	t.Setenv("HYBRID_RESERVOIR_SIZE", "32")
	_, stderr, err := run(t, "--db", ":memory:", "--metrics", "route", "prove", "it")
	require.NoError(t, err)
	assert.True(t, strings.Contains(stderr, `hybrid_router_decisions_total{route="remote",source="heuristic"} 1`), stderr)
}

func TestRouteRejectsBadPriority(t *testing.T) {
	_, _, err := run(t, "--db", ":memory:", "route", "--priority", "11", "hi")
	assert.Error(t, err)
}
