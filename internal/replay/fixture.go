package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/hybrid-router/internal/config"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	Interactions    []FixtureInteraction    `json:"interactions"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig overrides the engine defaults for a replay run. Zero values
// keep the default.
type FixtureConfig struct {
	Strategy         string   `json:"strategy"` // "heuristic" | "neural"
	FeatureDimension int      `json:"feature_dimension"`
	ReservoirSize    int      `json:"reservoir_size"`
	HistoryCap       int      `json:"history_cap"`
	MaxQueryLength   int      `json:"max_query_length"`
	LongQueryChars   int      `json:"long_query_chars"`
	ShortQueryChars  int      `json:"short_query_chars"`
	Keywords         []string `json:"keywords"`
}

// FixtureInteraction is one recorded query and the response that followed it.
type FixtureInteraction struct {
	TurnID    string    `json:"turn_id"`
	Query     string    `json:"query"`
	Project   string    `json:"project"`
	Priority  *int      `json:"priority"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// FixtureExpectedResult captures the expected route per turn. RuleID is only
// checked for blocked turns.
type FixtureExpectedResult struct {
	TurnID string `json:"turn_id"`
	Route  string `json:"route"`
	RuleID string `json:"rule_id,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToInteraction converts a FixtureInteraction to a domain Interaction.
func (fi *FixtureInteraction) ToInteraction() (Interaction, error) {
	opts := []query.Option{query.WithProject(fi.Project), query.WithTime(fi.CreatedAt)}
	if fi.Priority != nil {
		opts = append(opts, query.WithPriority(*fi.Priority))
	}
	q, err := query.New(fi.Query, opts...)
	if err != nil {
		return Interaction{}, fmt.Errorf("fixture turn %s: %w", fi.TurnID, err)
	}
	return Interaction{TurnID: fi.TurnID, Query: q, Response: fi.Response}, nil
}

// ToInteractions converts every fixture interaction in order.
func (f *Fixture) ToInteractions() ([]Interaction, error) {
	out := make([]Interaction, len(f.Interactions))
	for i := range f.Interactions {
		in, err := f.Interactions[i].ToInteraction()
		if err != nil {
			return nil, err
		}
		out[i] = in
	}
	return out, nil
}

// Apply overlays the fixture's overrides onto cfg. The store always runs in memory.
func (fc *FixtureConfig) Apply(cfg *config.Config) error {
	switch fc.Strategy {
	case "":
	case "heuristic":
		cfg.Neural.Enabled = false
	case "neural":
		cfg.Neural.Enabled = true
	default:
		return fmt.Errorf("fixture strategy %q: want heuristic or neural", fc.Strategy)
	}
	if fc.FeatureDimension > 0 {
		cfg.Features.Dimension = fc.FeatureDimension
	}
	if fc.ReservoirSize > 0 {
		cfg.Reservoir.Size = fc.ReservoirSize
	}
	if fc.HistoryCap > 0 {
		cfg.Session.HistoryCap = fc.HistoryCap
	}
	if fc.MaxQueryLength > 0 {
		cfg.Safety.MaxQueryLength = fc.MaxQueryLength
	}
	if fc.LongQueryChars > 0 {
		cfg.Heuristic.LongQueryChars = fc.LongQueryChars
	}
	if fc.ShortQueryChars > 0 {
		cfg.Heuristic.ShortQueryChars = fc.ShortQueryChars
	}
	if len(fc.Keywords) > 0 {
		cfg.Heuristic.Keywords = append([]string(nil), fc.Keywords...)
	}
	cfg.Store.Path = ":memory:"
	return config.Validate(*cfg)
}

// #endregion fixture-loader

// #region fixture-export

// FixtureFromTurns turns stored history into a fixture whose expectations are
// the routes recorded at the time. Replaying it against the current config
// reports routing drift.
func FixtureFromTurns(description string, turns []query.Turn) *Fixture {
	f := &Fixture{
		Description:     description,
		Interactions:    make([]FixtureInteraction, 0, len(turns)),
		ExpectedResults: make([]FixtureExpectedResult, 0, len(turns)),
	}
	for _, t := range turns {
		priority := t.Priority
		f.Interactions = append(f.Interactions, FixtureInteraction{
			TurnID:    t.ID,
			Query:     t.Query,
			Project:   t.QueryProject(),
			Priority:  &priority,
			Response:  t.Response,
			CreatedAt: t.CreatedAt,
		})
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{
			TurnID: t.ID,
			Route:  t.Route.String(),
		})
	}
	return f
}

// #endregion fixture-export
