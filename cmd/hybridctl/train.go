package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/hybrid-router/internal/orchestrator"
	"github.com/danielpatrickdp/hybrid-router/internal/training"
)

// #region train

type trainOutput struct {
	Examples     int                `json:"examples"`
	CV           *training.CVResult `json:"cross_validation,omitempty"`
	TrainSize    int                `json:"train_size"`
	ValSize      int                `json:"val_size"`
	TestSize     int                `json:"test_size"`
	Epochs       int                `json:"epochs"`
	BestEpoch    int                `json:"best_epoch"`
	StoppedEarly bool               `json:"stopped_early"`
	ValAccuracy  float64            `json:"val_accuracy"`
	TestAccuracy float64            `json:"test_accuracy"`
	Passed       bool               `json:"passed"`
	Reason       string             `json:"reason"`
	Promoted     bool               `json:"promoted"`
	VersionID    string             `json:"version_id,omitempty"`
}

func newTrainCmd(a *app) *cobra.Command {
	var (
		project string
		limit   int
		folds   int
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Retrain the neural router from recorded turns and promote it if it passes evaluation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
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

			examples, err := o.Examples(ctx, project, limit)
			if err != nil {
				return err
			}
			out := trainOutput{Examples: len(examples)}

			if folds > 0 {
				trainer, err := training.NewTrainer(training.FromConfig(a.cfg))
				if err != nil {
					return err
				}
				cv, err := trainer.CrossValidate(ctx, examples, folds)
				if err != nil {
					return err
				}
				out.CV = &cv
			}

			w, err := o.TrainingWorker(a.cfg)
			if err != nil {
				return err
			}
			w.Start(ctx)
			defer w.Stop()

			ch, err := w.Submit(ctx, examples)
			if err != nil {
				return err
			}
			var res training.Result
			select {
			case res = <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			if res.Err != nil {
				return res.Err
			}

			m := res.Metrics
			out.TrainSize, out.ValSize, out.TestSize = m.TrainSize, m.ValSize, m.Test.Samples
			out.Epochs, out.BestEpoch, out.StoppedEarly = len(m.Epochs), m.BestEpoch, m.StoppedEarly
			out.ValAccuracy, out.TestAccuracy = m.ValAccuracy, m.TestAccuracy()
			out.Passed, out.Reason = res.Eval.Passed, res.Eval.Reason
			out.Promoted, out.VersionID = res.Promoted, res.VersionID

			wr := cmd.OutOrStdout()
			if a.jsonOut {
				return a.emit(wr, out)
			}
			fmt.Fprintf(wr, "examples:  %d (train %d, val %d, test %d)\n", out.Examples, out.TrainSize, out.ValSize, out.TestSize)
			if out.CV != nil {
				fmt.Fprintf(wr, "cv:        k=%d mean=%.3f std=%.3f worst=%.3f\n",
					out.CV.K, out.CV.Summary.Mean, out.CV.Summary.StdDev, out.CV.Summary.Worst)
			}
			fmt.Fprintf(wr, "epochs:    %d (best %d, early stop %v)\n", out.Epochs, out.BestEpoch, out.StoppedEarly)
			fmt.Fprintf(wr, "accuracy:  val %.3f, test %.3f\n", out.ValAccuracy, out.TestAccuracy)
			fmt.Fprintf(wr, "eval:      %s\n", out.Reason)
			if out.Promoted {
				fmt.Fprintf(wr, "promoted:  %s as %s\n", a.cfg.Neural.Model, out.VersionID)
			} else {
				fmt.Fprintln(wr, "promoted:  no, active model unchanged")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&project, "project", "p", "", "train on one project's turns (default all)")
	f.IntVar(&limit, "limit", 0, "use the N most recent turns (0 = all)")
	f.IntVar(&folds, "cv", 0, "also report k-fold cross-validation (0 = skip)")
	cmd.AddCommand(newRollbackCmd(a))
	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version-id>",
		Short: "Point the active router model at an earlier version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Rollback(cmd.Context(), a.cfg.Neural.Model, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s active version is now %s\n", a.cfg.Neural.Model, args[0])
			return nil
		},
	}
}

// #endregion train
