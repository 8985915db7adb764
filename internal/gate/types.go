package gate

// #region severity
// Severity says what a matching rule does to the query.
type Severity string

const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
	SeverityLog   Severity = "log"
)

// #endregion severity

// #region rule
// Predicate inspects normalized query text. Must be pure.
type Predicate func(text string) bool

// Rule is one auditable safety check.
type Rule struct {
	ID          string
	Description string
	Severity    Severity
	Match       Predicate
}

// #endregion rule

// #region gate-config
// GateConfig holds thresholds used by the default rule set.
type GateConfig struct {
	MaxQueryLength int // RESOURCE_001 warns above this many characters
}

// DefaultGateConfig returns the stock thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxQueryLength: 5000,
	}
}

// #endregion gate-config

// #region finding
// Finding records a non-blocking rule match.
type Finding struct {
	RuleID   string
	Reason   string
	Severity Severity
}

// #endregion finding

// #region evaluation
// Evaluation is the output of the gate for one query. Never mutated after return.
type Evaluation struct {
	Allowed  bool
	RuleID   string   // blocking rule, or first informational rule when allowed
	Reason   string
	Severity Severity // empty when nothing matched
	Findings []Finding
}

// #endregion evaluation
