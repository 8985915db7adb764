package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/hybrid-router/internal/config"
	"github.com/danielpatrickdp/hybrid-router/internal/logger"
	"github.com/danielpatrickdp/hybrid-router/internal/metrics"
	"github.com/danielpatrickdp/hybrid-router/internal/store"
)

// #region app

// app carries the flags and config shared by every subcommand.
type app struct {
	configPath  string
	dbPath      string
	jsonOut     bool
	dumpMetrics bool

	cfg config.Config
	rec *metrics.Recorder
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "hybridctl",
		Short:         "Route queries and manage the hybrid router's model and history",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger.Init(logger.FromEnv())
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.dbPath != "" {
				cfg.Store.Path = a.dbPath
			}
			a.cfg = cfg
			a.rec = metrics.New()
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if !a.dumpMetrics {
				return nil
			}
			return writeMetrics(cmd.ErrOrStderr(), a.rec)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file (defaults plus HYBRID_* env when empty)")
	pf.StringVar(&a.dbPath, "db", "", "SQLite store path, overrides store.path")
	pf.BoolVar(&a.jsonOut, "json", false, "output as JSON instead of a table")
	pf.BoolVar(&a.dumpMetrics, "metrics", false, "print Prometheus metrics to stderr on exit")

	root.AddCommand(
		newRouteCmd(a),
		newReplayCmd(a),
		newTrainCmd(a),
		newInspectCmd(a),
		newEncoderCmd(a),
	)
	return root
}

// openStore opens the configured SQLite store.
func (a *app) openStore() (*store.Store, error) {
	return store.Open(a.cfg.Store.Path)
}

// emit writes v as indented JSON.
func (a *app) emit(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion app

// #region metrics-dump

// writeMetrics renders the recorder's registry in the Prometheus text format.
func writeMetrics(w io.Writer, rec *metrics.Recorder) error {
	reg := rec.Registry()
	if reg == nil {
		return nil
	}
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}

// #endregion metrics-dump
