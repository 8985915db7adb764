package training

import (
	"context"
	"encoding/json"
	"sync"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/eval"
	"github.com/danielpatrickdp/hybrid-router/internal/logger"
	"github.com/danielpatrickdp/hybrid-router/internal/metrics"
	"github.com/danielpatrickdp/hybrid-router/internal/neural"
	"github.com/danielpatrickdp/hybrid-router/internal/store"
)

// #region worker-types

// Target receives promoted weights. router.NeuralRouter satisfies it.
type Target interface {
	Load(net *neural.Network) error
	Weights() *neural.Network
}

// ModelStore persists promoted weights as a new model version.
type ModelStore interface {
	CommitModel(ctx context.Context, rec store.ModelRecord) (store.ModelRecord, error)
}

// ActiveSource reads the active version of a named model.
type ActiveSource interface {
	ActiveModel(ctx context.Context, name string) (store.ModelRecord, error)
}

// Result reports one background training job.
type Result struct {
	Metrics   Metrics
	Eval      eval.EvalResult
	Promoted  bool
	VersionID string
	Err       error
}

type job struct {
	examples []Example
	reply    chan Result
}

// #endregion worker-types

// #region worker

// Worker runs training jobs off the routing path. Each job produces a fresh
// network; it is swapped into the target only if the eval harness passes.
type Worker struct {
	trainer *Trainer
	harness *eval.EvalHarness
	target  Target
	models  ModelStore // optional
	model   string
	rec     *metrics.Recorder

	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	log  *logger.Logger
}

// NewWorker wires a worker. models and rec may be nil.
func NewWorker(trainer *Trainer, harness *eval.EvalHarness, target Target, models ModelStore, model string, rec *metrics.Recorder) *Worker {
	return &Worker{
		trainer: trainer,
		harness: harness,
		target:  target,
		models:  models,
		model:   model,
		rec:     rec,
		jobs:    make(chan job),
		quit:    make(chan struct{}),
		log:     logger.Named("trainer"),
	}
}

// Start launches the worker loop. It exits on Stop or when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.quit:
				return
			case j := <-w.jobs:
				j.reply <- w.run(ctx, j.examples)
			}
		}
	}()
}

// Submit queues examples for training. The returned channel yields exactly one Result.
func (w *Worker) Submit(ctx context.Context, examples []Example) (<-chan Result, error) {
	reply := make(chan Result, 1)
	select {
	case w.jobs <- job{examples: examples, reply: reply}:
		return reply, nil
	case <-w.quit:
		return nil, herr.New(herr.KindUnavailable, "training worker stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop ends the loop after any in-flight job and waits for it.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.quit) })
	w.wg.Wait()
}

// RunOnce trains synchronously with the same promotion rules as a queued job.
func (w *Worker) RunOnce(ctx context.Context, examples []Example) Result {
	return w.run(ctx, examples)
}

func (w *Worker) run(ctx context.Context, examples []Example) Result {
	res := w.train(ctx, examples)
	switch {
	case res.Err != nil:
		w.rec.TrainingRun(metrics.OutcomeFailed, 0)
		w.log.Warn().Err(res.Err).Msg("training job failed")
	case res.Promoted:
		w.rec.TrainingRun(metrics.OutcomePromoted, res.Metrics.TestAccuracy())
		w.log.Info().Str("version", res.VersionID).Float64("test_acc", res.Metrics.TestAccuracy()).Msg("router weights promoted")
	default:
		w.rec.TrainingRun(metrics.OutcomeRejected, res.Metrics.TestAccuracy())
		w.log.Info().Str("reason", res.Eval.Reason).Msg("router weights rejected")
	}
	return res
}

func (w *Worker) train(ctx context.Context, examples []Example) Result {
	if _, err := checkExamples(examples); err != nil {
		return Result{Err: err}
	}
	splits := w.trainer.Split(examples)
	net, m, err := w.trainer.Fit(ctx, splits)
	if err != nil {
		return Result{Err: err}
	}
	res := Result{Metrics: m}

	var current *eval.Summary
	if active := w.target.Weights(); active != nil && len(splits.Test) > 0 {
		if s, err := Evaluate(active, splits.Test); err == nil {
			current = &s
		}
	}
	res.Eval = w.harness.Run(m.Test, current)
	if !res.Eval.Passed {
		return res
	}

	// the router only serves weights that are already committed
	if w.models != nil {
		rec, err := w.commit(ctx, net, m)
		if err != nil {
			res.Err = err
			return res
		}
		res.VersionID = rec.VersionID
	}
	if err := w.target.Load(net); err != nil {
		res.Err = err
		return res
	}
	res.Promoted = true
	return res
}

func (w *Worker) commit(ctx context.Context, net *neural.Network, m Metrics) (store.ModelRecord, error) {
	weights, err := net.Marshal()
	if err != nil {
		return store.ModelRecord{}, err
	}
	metricsJSON, err := json.Marshal(m)
	if err != nil {
		return store.ModelRecord{}, err
	}
	return w.models.CommitModel(ctx, store.ModelRecord{
		Name:        w.model,
		Weights:     weights,
		Accuracy:    m.TestAccuracy(),
		MetricsJSON: string(metricsJSON),
	})
}

// #endregion worker

// #region restore

// RestoreActive loads the active version of model into target. A model that
// was never committed returns KindNotFound and leaves target untouched.
func RestoreActive(ctx context.Context, src ActiveSource, model string, target Target) (store.ModelRecord, error) {
	rec, err := src.ActiveModel(ctx, model)
	if err != nil {
		return store.ModelRecord{}, err
	}
	net, err := neural.Unmarshal(rec.Weights)
	if err != nil {
		return store.ModelRecord{}, herr.Wrapf(err, herr.KindStorage, "decode model %s", rec.VersionID)
	}
	if err := target.Load(net); err != nil {
		return store.ModelRecord{}, err
	}
	return rec, nil
}

// #endregion restore
