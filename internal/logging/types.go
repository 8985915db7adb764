package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	ID         int64
	QueryID    string
	Project    string
	Route      string // "local" | "remote" | "hybrid" | "blocked"
	Confidence float32
	Source     string // "gate" | "heuristic" | "neural"
	RuleID     string
	Reason     string
	DetailJSON string
	CreatedAt  time.Time
}

// #endregion decision-entry

// #region decision-record
// DecisionRecord captures everything that fed one routing decision.
// Serialized as JSON into decision_log.detail_json for replay.
type DecisionRecord struct {
	QueryID  string `json:"query_id"`
	Query    string `json:"query"`
	Priority int    `json:"priority"`
	Strategy string `json:"strategy"`

	// Gate output
	GateRuleID   string   `json:"gate_rule_id,omitempty"`
	GateWarnings []string `json:"gate_warnings,omitempty"`

	// Router output
	Route      string    `json:"route"`
	Confidence float32   `json:"confidence"`
	Source     string    `json:"source"`
	Reason     string    `json:"reason,omitempty"`
	Probs      []float32 `json:"probs,omitempty"`
	Fallback   bool      `json:"fallback,omitempty"`

	HistoryLength int     `json:"history_length"`
	LatencyMS     float64 `json:"latency_ms"`
}

// #endregion decision-record
