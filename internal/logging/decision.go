// Package logging writes and reads the routing decision audit log.
package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region log-decision
// LogDecision writes a decision entry to the decision_log table.
func LogDecision(ctx context.Context, db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO decision_log (query_id, project, route, confidence, source, rule_id, reason, detail_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.QueryID,
		entry.Project,
		entry.Route,
		entry.Confidence,
		entry.Source,
		nullIfEmpty(entry.RuleID),
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.DetailJSON),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// EntryFromRecord builds the row for rec, embedding rec as detail JSON.
func EntryFromRecord(project string, rec DecisionRecord) (DecisionEntry, error) {
	detail, err := json.Marshal(rec)
	if err != nil {
		return DecisionEntry{}, fmt.Errorf("marshal decision record: %w", err)
	}
	return DecisionEntry{
		QueryID:    rec.QueryID,
		Project:    project,
		Route:      rec.Route,
		Confidence: rec.Confidence,
		Source:     rec.Source,
		RuleID:     rec.GateRuleID,
		Reason:     rec.Reason,
		DetailJSON: string(detail),
	}, nil
}

// #endregion log-decision

// #region read-decisions
// RecentDecisions returns up to limit entries, newest first. An empty project
// reads across all projects.
func RecentDecisions(ctx context.Context, db *sql.DB, project string, limit int) ([]DecisionEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, query_id, project, route, confidence, source, rule_id, reason, detail_json, created_at
	      FROM decision_log`
	args := []any{}
	if project != "" {
		q += ` WHERE project = ?`
		args = append(args, project)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var rule, reason, detail sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.QueryID, &e.Project, &e.Route, &e.Confidence, &e.Source,
			&rule, &reason, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.RuleID = rule.String
		e.Reason = reason.String
		e.DetailJSON = detail.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Record decodes the entry's detail JSON.
func (e DecisionEntry) Record() (DecisionRecord, error) {
	var rec DecisionRecord
	if e.DetailJSON == "" {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(e.DetailJSON), &rec); err != nil {
		return DecisionRecord{}, fmt.Errorf("unmarshal decision record: %w", err)
	}
	return rec, nil
}

// #endregion read-decisions

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
