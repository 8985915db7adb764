package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/hybrid-router/internal/logging"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
	"github.com/danielpatrickdp/hybrid-router/internal/store"
)

// #region inspect

func newInspectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Read decisions, turns and model versions from the store",
	}
	cmd.AddCommand(
		newInspectDecisionsCmd(a),
		newInspectTurnsCmd(a),
		newInspectModelsCmd(a),
		newInspectCountsCmd(a),
	)
	return cmd
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(fn func(st *store.Store) error) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// #endregion inspect

// #region decisions

func newInspectDecisionsCmd(a *app) *cobra.Command {
	var (
		project string
		last    int
		detail  bool
	)
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show the most recent routing decisions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(st *store.Store) error {
				entries, err := logging.RecentDecisions(cmd.Context(), st.DB(), project, last)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.jsonOut {
					if !detail {
						return a.emit(w, entries)
					}
					records := make([]logging.DecisionRecord, 0, len(entries))
					for _, e := range entries {
						rec, err := e.Record()
						if err != nil {
							return err
						}
						records = append(records, rec)
					}
					return a.emit(w, records)
				}

				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTIME\tPROJECT\tROUTE\tCONF\tSOURCE\tRULE\tREASON")
				for _, e := range entries {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
						e.ID, e.CreatedAt.Format(time.DateTime), e.Project, e.Route, e.Confidence,
						e.Source, dash(e.RuleID), query.Truncate(e.Reason, 40))
				}
				return tw.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&project, "project", "p", "", "filter by project")
	f.IntVar(&last, "last", 20, "show N most recent decisions")
	f.BoolVar(&detail, "detail", false, "with --json, emit the full decision records")
	return cmd
}

// #endregion decisions

// #region turns

func newInspectTurnsCmd(a *app) *cobra.Command {
	var (
		project string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "turns",
		Short: "Show recorded turns, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(st *store.Store) error {
				turns, err := st.ListTurns(cmd.Context(), project, limit)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if a.jsonOut {
					return a.emit(w, turns)
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tPROJECT\tPRIO\tROUTE\tCONF\tTOKENS\tQUERY")
				for _, t := range turns {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.2f\t%d\t%s\n",
						t.CreatedAt.Format(time.DateTime), t.Project, t.Priority, t.Route, t.Confidence,
						t.Tokens, query.Truncate(t.Query, 50))
				}
				return tw.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&project, "project", "p", "", "filter by project")
	f.IntVar(&limit, "limit", 50, "show the N most recent turns (0 = all)")
	return cmd
}

// #endregion turns

// #region models

type modelRow struct {
	VersionID string    `json:"version_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	Accuracy  float64   `json:"accuracy"`
	Bytes     int       `json:"bytes"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	Metrics   string    `json:"metrics,omitempty"`
}

func newInspectModelsCmd(a *app) *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List committed router model versions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(st *store.Store) error {
				ctx := cmd.Context()
				name := a.cfg.Neural.Model
				models, err := st.ListModels(ctx, name, last)
				if err != nil {
					return err
				}
				var activeID string
				if active, err := st.ActiveModel(ctx, name); err == nil {
					activeID = active.VersionID
				}

				rows := make([]modelRow, 0, len(models))
				for _, m := range models {
					rows = append(rows, modelRow{
						VersionID: m.VersionID,
						ParentID:  m.ParentID,
						Name:      m.Name,
						Accuracy:  m.Accuracy,
						Bytes:     len(m.Weights),
						Active:    m.VersionID == activeID,
						CreatedAt: m.CreatedAt,
						Metrics:   m.MetricsJSON,
					})
				}

				w := cmd.OutOrStdout()
				if a.jsonOut {
					return a.emit(w, rows)
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "\tVERSION\tPARENT\tACCURACY\tBYTES\tCREATED")
				for _, r := range rows {
					mark := ""
					if r.Active {
						mark = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%d\t%s\n",
						mark, r.VersionID, dash(r.ParentID), r.Accuracy, r.Bytes, r.CreatedAt.Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&last, "last", 20, "show N most recent versions")
	return cmd
}

// #endregion models

// #region counts

func newInspectCountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Count recorded turns per route",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(st *store.Store) error {
				counts, err := st.CountTurns(cmd.Context())
				if err != nil {
					return err
				}
				byName := make(map[string]int, len(counts))
				for r, n := range counts {
					byName[r.String()] = n
				}
				w := cmd.OutOrStdout()
				if a.jsonOut {
					return a.emit(w, byName)
				}
				names := make([]string, 0, len(byName))
				for n := range byName {
					names = append(names, n)
				}
				sort.Strings(names)
				for _, n := range names {
					fmt.Fprintf(w, "%-8s %d\n", n, byName[n])
				}
				return nil
			})
		},
	}
}

// #endregion counts

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
