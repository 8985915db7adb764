package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/orchestrator"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
	"github.com/danielpatrickdp/hybrid-router/internal/router"
)

// #region route

type routeOutput struct {
	QueryID    string   `json:"query_id"`
	Project    string   `json:"project"`
	Route      string   `json:"route"`
	Confidence float32  `json:"confidence"`
	Source     string   `json:"source"`
	Reason     string   `json:"reason,omitempty"`
	RuleID     string   `json:"rule_id,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
	Model      string   `json:"model"`
	History    int      `json:"history_length"`
	LatencyMS  float64  `json:"latency_ms"`
	TurnID     string   `json:"turn_id,omitempty"`
}

func newRouteCmd(a *app) *cobra.Command {
	var (
		project  string
		priority int
		strategy string
		record   bool
		response string
	)
	cmd := &cobra.Command{
		Use:   "route [text...]",
		Short: "Run one query through the gate and router",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			q, err := query.New(strings.Join(args, " "), query.WithProject(project), query.WithPriority(priority))
			if err != nil {
				return err
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			o, err := orchestrator.Build(ctx, a.cfg, st, a.rec)
			if err != nil {
				return err
			}
			defer o.Close(ctx)

			if strategy != "" {
				s, err := router.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				o.SetStrategy(s)
			}

			var (
				out  orchestrator.Outcome
				turn query.Turn
			)
			if record {
				backend := orchestrator.BackendFunc(func(_ context.Context, _ orchestrator.Outcome) (string, error) {
					return response, nil
				})
				out, turn, err = o.Process(ctx, q, backend)
			} else {
				out, err = o.Decide(ctx, q)
			}
			if err != nil && !herr.IsKind(err, herr.KindBlockedByPolicy) {
				return err
			}

			res := routeOutput{
				QueryID:    q.ID,
				Project:    out.Project,
				Route:      out.Decision.Route.String(),
				Confidence: out.Decision.Confidence,
				Source:     out.Decision.Source,
				Reason:     out.Decision.Reason,
				Fallback:   out.Fallback,
				Model:      out.Model(),
				History:    out.Context.HistoryLength,
				LatencyMS:  float64(out.Latency.Microseconds()) / 1000,
				TurnID:     turn.ID,
			}
			if out.Blocked() {
				res.RuleID = out.Evaluation.RuleID
			}
			for _, f := range out.Evaluation.Findings {
				res.Warnings = append(res.Warnings, f.RuleID)
			}

			w := cmd.OutOrStdout()
			if a.jsonOut {
				return a.emit(w, res)
			}
			fmt.Fprintf(w, "route:      %s (%.2f, %s)\n", res.Route, res.Confidence, res.Source)
			fmt.Fprintf(w, "project:    %s (history %d)\n", res.Project, res.History)
			if res.RuleID != "" {
				fmt.Fprintf(w, "blocked by: %s %s\n", res.RuleID, res.Reason)
			} else {
				fmt.Fprintf(w, "reason:     %s\n", res.Reason)
			}
			if len(res.Warnings) > 0 {
				fmt.Fprintf(w, "warnings:   %s\n", strings.Join(res.Warnings, ", "))
			}
			if res.Fallback {
				fmt.Fprintln(w, "fallback:   no trained model, heuristic answered")
			}
			fmt.Fprintf(w, "model:      %s\n", res.Model)
			if res.TurnID != "" {
				fmt.Fprintf(w, "turn:       %s\n", res.TurnID)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&project, "project", "p", "", "project context")
	f.IntVar(&priority, "priority", query.DefaultPriority, "priority 0-10")
	f.StringVar(&strategy, "strategy", "", "heuristic or neural, overrides config")
	f.BoolVar(&record, "record", false, "record the turn in history and the store")
	f.StringVar(&response, "response", "", "response text to record with --record")
	return cmd
}

// #endregion route
