package gate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region gate
// Gate evaluates an ordered rule list over query text.
type Gate struct {
	config GateConfig
	rules  []Rule
}

// NewGate creates a gate with the default rule set.
func NewGate(config GateConfig) *Gate {
	return &Gate{
		config: config,
		rules:  DefaultRules(config),
	}
}

// NewGateWithRules creates a gate with a caller-supplied rule list.
func NewGateWithRules(config GateConfig, rules []Rule) *Gate {
	return &Gate{config: config, rules: append([]Rule(nil), rules...)}
}

// AddRule appends a rule at the lowest precedence.
func (g *Gate) AddRule(r Rule) {
	g.rules = append(g.rules, r)
}

// RuleIDs lists rule identifiers in evaluation order.
func (g *Gate) RuleIDs() []string {
	ids := make([]string, len(g.rules))
	for i, r := range g.rules {
		ids[i] = r.ID
	}
	return ids
}

// Evaluate runs the rules top to bottom. The first blocking match short-circuits;
// otherwise the query is allowed and the first non-blocking match is reported.
func (g *Gate) Evaluate(q query.Query) Evaluation {
	text := g.normalize(q.Text)

	var findings []Finding
	for _, r := range g.rules {
		if r.Match == nil || !r.Match(text) {
			continue
		}
		if r.Severity == SeverityBlock {
			return Evaluation{
				Allowed:  false,
				RuleID:   r.ID,
				Reason:   r.Description,
				Severity: SeverityBlock,
				Findings: findings,
			}
		}
		findings = append(findings, Finding{RuleID: r.ID, Reason: r.Description, Severity: r.Severity})
	}

	ev := Evaluation{Allowed: true, Findings: findings}
	if len(findings) > 0 {
		ev.RuleID = findings[0].RuleID
		ev.Reason = findings[0].Reason
		ev.Severity = findings[0].Severity
	}
	return ev
}

// Err converts a blocking evaluation into a BlockedByPolicy error.
func (e Evaluation) Err() error {
	if e.Allowed {
		return nil
	}
	return herr.Blocked(e.RuleID, e.Reason)
}

// normalize folds compatibility forms and case so "ＡＰＩ_KEY" and "api_key" match alike.
// Casers are stateful, so one is built per call.
func (g *Gate) normalize(text string) string {
	return cases.Fold().String(norm.NFKC.String(text))
}

// #endregion gate

// #region default-rules

var (
	secretKeywords  = []string{"api_key", "api-key", "apikey", "secret", "token", "access_key"}
	secretColon     = regexp.MustCompile(`(api[_-]?key|secret|token|access[_-]?key)\s*:\s*\S`)
	secretLiteral   = regexp.MustCompile(`\b(sk|pk|ghp|xox[bp])[-_][a-z0-9]{16,}`)
	passwordPattern = regexp.MustCompile(`(password|passwd|passcode|pwd)\s*(=|:|is\s+\S)`)
	harmfulKeywords = []string{"hack", "exploit", "bypass security", "steal"}
)

// DefaultRules returns the stock ordered rule list.
func DefaultRules(config GateConfig) []Rule {
	maxLen := config.MaxQueryLength
	return []Rule{
		{
			ID:          "PRIVACY_001",
			Description: "Block queries containing potential API keys",
			Severity:    SeverityBlock,
			Match:       containsSecret,
		},
		{
			ID:          "PRIVACY_002",
			Description: "Block queries with potential passwords",
			Severity:    SeverityBlock,
			Match:       passwordPattern.MatchString,
		},
		{
			ID:          "SAFETY_001",
			Description: "Block queries requesting harmful instructions",
			Severity:    SeverityBlock,
			Match:       containsAny(harmfulKeywords),
		},
		{
			ID:          "RESOURCE_001",
			Description: "Warn on extremely long queries",
			Severity:    SeverityWarn,
			Match: func(text string) bool {
				return maxLen > 0 && utf8.RuneCountInString(text) > maxLen
			},
		},
	}
}

// containsSecret matches a secret keyword next to an assignment, or a raw key literal.
func containsSecret(text string) bool {
	if secretLiteral.MatchString(text) || secretColon.MatchString(text) {
		return true
	}
	if !strings.Contains(text, "=") {
		return false
	}
	for _, kw := range secretKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func containsAny(keywords []string) Predicate {
	return func(text string) bool {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false
	}
}

// #endregion default-rules
