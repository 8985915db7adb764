package router

import (
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region heuristic-config

// HeuristicConfig holds thresholds and the fixed confidence of each rule.
type HeuristicConfig struct {
	LongQueryChars    int
	ShortQueryChars   int
	HighPriority      int // Hybrid needs priority above this and a project
	Keywords          []string
	LongConfidence    float32
	KeywordConfidence float32
	ShortConfidence   float32
	HybridConfidence  float32
	LocalConfidence   float32
}

// DefaultHeuristicConfig returns the stock rule table settings.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		LongQueryChars:    500,
		ShortQueryChars:   50,
		HighPriority:      7,
		Keywords:          []string{"prove", "verify", "formal", "complex"},
		LongConfidence:    0.9,
		KeywordConfidence: 0.85,
		ShortConfidence:   0.8,
		HybridConfidence:  0.7,
		LocalConfidence:   0.7,
	}
}

// #endregion heuristic-config

// #region heuristic-rules

// heuristicRule is one row of the ordered table.
type heuristicRule struct {
	name       string
	match      func(q query.Query, lower string, chars int) bool
	route      query.Route
	confidence float32
}

// ruleTable is an immutable compiled HeuristicConfig.
type ruleTable struct {
	cfg   HeuristicConfig
	rules []heuristicRule
}

func compile(cfg HeuristicConfig) *ruleTable {
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	cfg.Keywords = keywords

	return &ruleTable{
		cfg: cfg,
		rules: []heuristicRule{
			{
				name:       "long_query",
				match:      func(_ query.Query, _ string, chars int) bool { return chars > cfg.LongQueryChars },
				route:      query.RouteRemote,
				confidence: cfg.LongConfidence,
			},
			{
				name: "reasoning_keyword",
				match: func(_ query.Query, lower string, _ int) bool {
					for _, kw := range keywords {
						if strings.Contains(lower, kw) {
							return true
						}
					}
					return false
				},
				route:      query.RouteRemote,
				confidence: cfg.KeywordConfidence,
			},
			{
				name:       "short_query",
				match:      func(_ query.Query, _ string, chars int) bool { return chars < cfg.ShortQueryChars },
				route:      query.RouteLocal,
				confidence: cfg.ShortConfidence,
			},
			{
				name: "priority_project",
				match: func(q query.Query, _ string, _ int) bool {
					return q.Priority > cfg.HighPriority && q.HasProject()
				},
				route:      query.RouteHybrid,
				confidence: cfg.HybridConfidence,
			},
		},
	}
}

// #endregion heuristic-rules

// #region heuristic-router

// HeuristicRouter is the deterministic rule-table router. The table can be
// replaced at runtime; each Route call sees one complete table.
type HeuristicRouter struct {
	table atomic.Pointer[ruleTable]
}

// NewHeuristicRouter compiles cfg into a rule table.
func NewHeuristicRouter(cfg HeuristicConfig) *HeuristicRouter {
	h := &HeuristicRouter{}
	h.table.Store(compile(cfg))
	return h
}

// Config returns the active settings.
func (h *HeuristicRouter) Config() HeuristicConfig {
	cfg := h.table.Load().cfg
	cfg.Keywords = append([]string(nil), cfg.Keywords...)
	return cfg
}

// UpdateConfig swaps in a new rule table.
func (h *HeuristicRouter) UpdateConfig(cfg HeuristicConfig) {
	h.table.Store(compile(cfg))
}

// Decide evaluates the table top to bottom; the first matching rule wins,
// otherwise the query stays Local.
func (h *HeuristicRouter) Decide(q query.Query) query.Decision {
	t := h.table.Load()
	lower := strings.ToLower(q.Text)
	chars := utf8.RuneCountInString(q.Text)

	for _, r := range t.rules {
		if r.match(q, lower, chars) {
			return query.Decision{Route: r.route, Confidence: r.confidence, Source: SourceHeuristic, Reason: r.name}
		}
	}
	return query.Decision{Route: query.RouteLocal, Confidence: t.cfg.LocalConfidence, Source: SourceHeuristic, Reason: "default"}
}

// Route implements Decider. Features are ignored.
func (h *HeuristicRouter) Route(q query.Query, _ []float32) (query.Decision, error) {
	return h.Decide(q), nil
}

// #endregion heuristic-router
