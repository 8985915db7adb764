package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/hybrid-router/internal/replay"
)

// #region replay

type replayOutput struct {
	Description string                `json:"description"`
	Turns       int                   `json:"turns"`
	Routes      map[string]int        `json:"routes"`
	Blocked     int                   `json:"blocked"`
	Fallbacks   int                   `json:"fallbacks"`
	Errors      int                   `json:"errors"`
	Mismatches  []replay.Mismatch     `json:"mismatches,omitempty"`
	Results     []replay.ReplayResult `json:"results,omitempty"`
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		fixturePath string
		project     string
		limit       int
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a fixture, or recorded turns from the store, through a fresh in-memory engine",
		Long: `replay runs each interaction through gate, features, router and context
in order and compares the routes against the fixture's expectations.

With --fixture the JSON fixture is used. Without it, turns recorded in the store
are exported as a fixture whose expectations are the routes chosen at the time,
so the run reports drift caused by config or rule changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var f *replay.Fixture
			if fixturePath != "" {
				var err error
				if f, err = replay.LoadFixture(fixturePath); err != nil {
					return err
				}
			} else {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				turns, err := st.ListTurns(ctx, project, limit)
				st.Close()
				if err != nil {
					return err
				}
				f = replay.FixtureFromTurns(fmt.Sprintf("recorded turns from %s", a.cfg.Store.Path), turns)
			}

			results, summary, err := replay.RunFixture(ctx, f, a.cfg, a.rec)
			if err != nil {
				return err
			}

			out := replayOutput{
				Description: f.Description,
				Turns:       summary.TotalTurns,
				Routes:      summary.Routes,
				Blocked:     summary.Blocked,
				Fallbacks:   summary.Fallbacks,
				Errors:      summary.Errors,
				Mismatches:  summary.Mismatches,
			}
			if verbose {
				out.Results = results
			}

			w := cmd.OutOrStdout()
			if a.jsonOut {
				if err := a.emit(w, out); err != nil {
					return err
				}
			} else {
				printReplay(cmd, out)
			}
			if !summary.Passed() {
				return fmt.Errorf("replay: %d mismatches, %d errors", len(summary.Mismatches), summary.Errors)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&fixturePath, "fixture", "", "fixture JSON file")
	f.StringVarP(&project, "project", "p", "", "only replay this project's recorded turns")
	f.IntVar(&limit, "limit", 0, "replay the N most recent recorded turns (0 = all)")
	f.BoolVarP(&verbose, "verbose", "v", false, "include per-turn results")
	return cmd
}

func printReplay(cmd *cobra.Command, out replayOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s\n", out.Description)
	fmt.Fprintf(w, "turns=%d blocked=%d fallbacks=%d errors=%d\n", out.Turns, out.Blocked, out.Fallbacks, out.Errors)

	routes := make([]string, 0, len(out.Routes))
	for r := range out.Routes {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	for _, r := range routes {
		fmt.Fprintf(w, "  %-8s %d\n", r, out.Routes[r])
	}

	if len(out.Results) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TURN\tPROJECT\tACTION\tROUTE\tCONF\tSOURCE\tRULE\tREASON")
		for _, r := range out.Results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
				r.TurnID, r.Project, r.Action, r.Route, r.Confidence, r.Source, dash(r.RuleID), r.Reason)
		}
		tw.Flush()
	}

	if len(out.Mismatches) == 0 {
		fmt.Fprintln(w, "all expectations met")
		return
	}
	fmt.Fprintf(w, "%d mismatches:\n", len(out.Mismatches))
	for _, m := range out.Mismatches {
		fmt.Fprintf(w, "  %s %s: want %s, got %s\n", m.TurnID, m.Field, m.Want, m.Got)
	}
}

// #endregion replay
