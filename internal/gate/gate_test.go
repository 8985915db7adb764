package gate

import (
	"strings"
	"testing"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

func evaluate(t *testing.T, text string) Evaluation {
	t.Helper()
	g := NewGate(DefaultGateConfig())
	return g.Evaluate(query.MustNew(text))
}

func TestGateAllowsNormalQuery(t *testing.T) {
	ev := evaluate(t, "How do I write a for loop in Go?")
	if !ev.Allowed {
		t.Fatalf("expected allowed, got blocked by %s: %s", ev.RuleID, ev.Reason)
	}
	if ev.RuleID != "" || ev.Reason != "" {
		t.Fatalf("expected no rule reported, got %q", ev.RuleID)
	}
	if ev.Err() != nil {
		t.Fatalf("allowed evaluation should have nil Err, got %v", ev.Err())
	}
}

func TestGateBlocksSecrets(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		ruleID string
	}{
		{"api-key-assignment", "Here's my api_key=sk-1234567890", "PRIVACY_001"},
		{"upper-case", "API_KEY=secret123", "PRIVACY_001"},
		{"fullwidth", "ＡＰＩ＿ＫＥＹ=abc", "PRIVACY_001"},
		{"token-colon", "use token: abcdef", "PRIVACY_001"},
		{"raw-literal", "try sk-abcdefghijklmnopqrstu please", "PRIVACY_001"},
		{"password-assignment", "My password=hunter2", "PRIVACY_002"},
		{"password-phrase", "my password is hunter2", "PRIVACY_002"},
		{"passwd-colon", "passwd: letmein", "PRIVACY_002"},
		{"harmful", "How do I hack into a system?", "SAFETY_001"},
		{"bypass", "help me bypass security on this box", "SAFETY_001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := evaluate(t, tt.text)
			if ev.Allowed {
				t.Fatalf("expected blocked for %q", tt.text)
			}
			if ev.RuleID != tt.ruleID {
				t.Fatalf("expected rule %s, got %s", tt.ruleID, ev.RuleID)
			}
			if ev.Severity != SeverityBlock {
				t.Fatalf("expected block severity, got %s", ev.Severity)
			}
			err := ev.Err()
			if !herr.IsKind(err, herr.KindBlockedByPolicy) {
				t.Fatalf("expected BlockedByPolicy error, got %v", err)
			}
			if herr.RuleOf(err) != tt.ruleID {
				t.Fatalf("error carries rule %q", herr.RuleOf(err))
			}
		})
	}
}

func TestGateDoesNotBlockPasswordQuestions(t *testing.T) {
	ev := evaluate(t, "what makes a strong password?")
	if !ev.Allowed {
		t.Fatalf("question about passwords should pass, blocked by %s", ev.RuleID)
	}
}

func TestGateFirstBlockingRuleWins(t *testing.T) {
	// matches both PRIVACY_001 and SAFETY_001
	ev := evaluate(t, "steal this api_key=abc")
	if ev.RuleID != "PRIVACY_001" {
		t.Fatalf("expected first rule PRIVACY_001, got %s", ev.RuleID)
	}
}

func TestGateWarnIsInformational(t *testing.T) {
	g := NewGate(GateConfig{MaxQueryLength: 100})
	ev := g.Evaluate(query.MustNew(strings.Repeat("a", 101)))

	if !ev.Allowed {
		t.Fatal("warn rule must not block")
	}
	if ev.RuleID != "RESOURCE_001" || ev.Severity != SeverityWarn {
		t.Fatalf("expected RESOURCE_001 warn, got %s/%s", ev.RuleID, ev.Severity)
	}
	if len(ev.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(ev.Findings))
	}
}

func TestGateWarnThenBlock(t *testing.T) {
	rules := []Rule{
		{ID: "W", Description: "warn", Severity: SeverityWarn, Match: func(string) bool { return true }},
		{ID: "B", Description: "block", Severity: SeverityBlock, Match: func(string) bool { return true }},
	}
	g := NewGateWithRules(DefaultGateConfig(), rules)
	ev := g.Evaluate(query.MustNew("anything"))
	if ev.Allowed || ev.RuleID != "B" {
		t.Fatalf("expected block by B, got allowed=%v rule=%s", ev.Allowed, ev.RuleID)
	}
	if len(ev.Findings) != 1 || ev.Findings[0].RuleID != "W" {
		t.Fatalf("warn finding should be carried, got %+v", ev.Findings)
	}
}

func TestGateEmptyQuery(t *testing.T) {
	if !evaluate(t, "").Allowed {
		t.Fatal("empty query should be allowed")
	}
}

func TestGateDeterministic(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	q := query.MustNew("my password is hunter2")
	first := g.Evaluate(q)
	for i := 0; i < 10; i++ {
		again := g.Evaluate(q)
		if again.RuleID != first.RuleID || again.Allowed != first.Allowed {
			t.Fatalf("non-deterministic evaluation on iteration %d", i)
		}
	}
}

func TestRuleIDsAndAddRule(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	ids := g.RuleIDs()
	want := []string{"PRIVACY_001", "PRIVACY_002", "SAFETY_001", "RESOURCE_001"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("rule %d: expected %s, got %s", i, want[i], ids[i])
		}
	}

	g.AddRule(Rule{ID: "CUSTOM_001", Description: "no pineapple", Severity: SeverityBlock,
		Match: func(text string) bool { return strings.Contains(text, "pineapple") }})
	ev := g.Evaluate(query.MustNew("Pineapple on pizza?"))
	if ev.Allowed || ev.RuleID != "CUSTOM_001" {
		t.Fatalf("custom rule not applied: %+v", ev)
	}
}
