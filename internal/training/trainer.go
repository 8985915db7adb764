// Package training fits the neural router by mini-batch gradient descent and
// the reservoir readout by ridge regression.
package training

import (
	"context"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/eval"
	"github.com/danielpatrickdp/hybrid-router/internal/logger"
	"github.com/danielpatrickdp/hybrid-router/internal/neural"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region trainer

// Trainer fits router networks. It never mutates the examples it is given.
type Trainer struct {
	cfg Config
	log *logger.Logger
}

// NewTrainer validates cfg.
func NewTrainer(cfg Config) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, herr.WithOp(err, "training.NewTrainer")
	}
	return &Trainer{cfg: cfg, log: logger.Named("trainer")}, nil
}

// Config returns the trainer settings.
func (t *Trainer) Config() Config { return t.cfg }

// Split shuffles examples with the configured seed and carves off the
// validation and test fractions.
func (t *Trainer) Split(examples []Example) Splits {
	idx := shuffled(len(examples), t.cfg.Seed)
	nTest := int(float64(len(examples)) * t.cfg.TestSplit)
	nVal := int(float64(len(examples)) * t.cfg.ValidationSplit)

	pick := func(ids []int) []Example {
		out := make([]Example, len(ids))
		for i, j := range ids {
			out[i] = examples[j]
		}
		return out
	}
	return Splits{
		Test:  pick(idx[:nTest]),
		Val:   pick(idx[nTest : nTest+nVal]),
		Train: pick(idx[nTest+nVal:]),
	}
}

// Train splits examples and fits a fresh network.
func (t *Trainer) Train(ctx context.Context, examples []Example) (*neural.Network, Metrics, error) {
	if _, err := checkExamples(examples); err != nil {
		return nil, Metrics{}, herr.WithOp(err, "training.Train")
	}
	return t.Fit(ctx, t.Split(examples))
}

// Fit trains on s.Train, early-stops on s.Val accuracy and scores the best
// network on s.Test. Cancellation is checked between epochs.
func (t *Trainer) Fit(ctx context.Context, s Splits) (*neural.Network, Metrics, error) {
	dim, err := checkExamples(s.Train)
	if err != nil {
		return nil, Metrics{}, herr.WithOp(err, "training.Fit")
	}
	for _, set := range [][]Example{s.Val, s.Test} {
		if err := checkWidth(set, dim); err != nil {
			return nil, Metrics{}, herr.WithOp(err, "training.Fit")
		}
	}

	net, err := neural.New(neural.RouterArchitecture(dim, t.cfg.Hidden1, t.cfg.Hidden2), t.cfg.Seed)
	if err != nil {
		return nil, Metrics{}, err
	}

	xs, ys := unzip(s.Train)
	rng := rand.New(rand.NewPCG(t.cfg.Seed, t.cfg.Seed+1))
	order := make([]int, len(s.Train))
	for i := range order {
		order[i] = i
	}

	m := Metrics{TrainSize: len(s.Train), ValSize: len(s.Val), BestEpoch: -1}
	best := net
	bestAcc := -1.0
	stale := 0

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, Metrics{}, err
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for start := 0; start < len(order); start += t.cfg.BatchSize {
			end := min(start+t.cfg.BatchSize, len(order))
			grads := neural.ZeroGradients(net)
			for _, i := range order[start:end] {
				_, g, err := net.Backward(xs[i], ys[i])
				if err != nil {
					return nil, Metrics{}, err
				}
				if err := grads.Accumulate(g); err != nil {
					return nil, Metrics{}, err
				}
			}
			grads.Scale(1 / float64(end-start))
			if net, err = net.Apply(grads, t.cfg.LearningRate, t.cfg.L2); err != nil {
				return nil, Metrics{}, err
			}
		}

		loss, err := net.Loss(xs, ys)
		if err != nil {
			return nil, Metrics{}, err
		}
		valAcc := 0.0
		if len(s.Val) > 0 {
			v, err := Evaluate(net, s.Val)
			if err != nil {
				return nil, Metrics{}, err
			}
			valAcc = v.Accuracy
		}
		m.Epochs = append(m.Epochs, EpochStats{Epoch: epoch, Loss: loss, ValAccuracy: valAcc})
		t.log.Debug().Int("epoch", epoch).Float64("loss", loss).Float64("val_acc", valAcc).Msg("epoch done")

		if len(s.Val) == 0 {
			best, m.BestEpoch = net, epoch
			continue
		}
		if valAcc > bestAcc {
			best, bestAcc, m.BestEpoch = net, valAcc, epoch
			stale = 0
			continue
		}
		stale++
		if stale >= t.cfg.Patience {
			m.StoppedEarly = true
			t.log.Debug().Int("epoch", epoch).Int("best_epoch", m.BestEpoch).Msg("early stop")
			break
		}
	}

	if len(s.Val) > 0 {
		m.ValAccuracy = bestAcc
	}
	if len(s.Test) > 0 {
		if m.Test, err = Evaluate(best, s.Test); err != nil {
			return nil, Metrics{}, err
		}
	}
	t.log.Info().
		Int("train", len(s.Train)).
		Int("epochs", len(m.Epochs)).
		Int("best_epoch", m.BestEpoch).
		Float64("val_acc", m.ValAccuracy).
		Float64("test_acc", m.Test.Accuracy).
		Msg("router fit complete")
	return best, m, nil
}

// #endregion trainer

// #region cross-validate

// CrossValidate trains k networks, each holding out one disjoint fold, and
// reports the held-out accuracy distribution. Folds run concurrently; results
// are ordered by fold index.
func (t *Trainer) CrossValidate(ctx context.Context, examples []Example, k int) (CVResult, error) {
	if _, err := checkExamples(examples); err != nil {
		return CVResult{}, herr.WithOp(err, "training.CrossValidate")
	}
	if k < 2 || k > len(examples) {
		return CVResult{}, herr.Newf(herr.KindInsufficientFolds, "need 2 <= k <= %d examples, got k=%d", len(examples), k)
	}

	idx := shuffled(len(examples), t.cfg.Seed)
	folds := make([][]Example, k)
	for i, j := range idx {
		folds[i%k] = append(folds[i%k], examples[j])
	}

	// each fold early-stops on a slice of its own training data
	foldCfg := t.cfg
	foldCfg.TestSplit = 0
	inner := &Trainer{cfg: foldCfg, log: t.log}

	accs := make([]float64, k)
	g, gctx := errgroup.WithContext(ctx)
	for i := range folds {
		g.Go(func() error {
			var rest []Example
			for j, f := range folds {
				if j != i {
					rest = append(rest, f...)
				}
			}
			s := inner.Split(rest)
			s.Test = folds[i]
			_, m, err := inner.Fit(gctx, s)
			if err != nil {
				return err
			}
			accs[i] = m.Test.Accuracy
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CVResult{}, err
	}

	summary, err := eval.SummarizeFolds(accs)
	if err != nil {
		return CVResult{}, err
	}
	t.log.Info().Int("k", k).Float64("mean", summary.Mean).Float64("std", summary.StdDev).Msg("cross-validation complete")
	return CVResult{K: k, Summary: summary}, nil
}

// #endregion cross-validate

// #region evaluate

// Evaluate scores net on examples.
func Evaluate(net *neural.Network, examples []Example) (eval.Summary, error) {
	truth := make([]int, len(examples))
	pred := make([]int, len(examples))
	for i, ex := range examples {
		p, err := net.Forward(ex.Features)
		if err != nil {
			return eval.Summary{}, err
		}
		label, _ := p.Route.Label()
		truth[i], pred[i] = ex.Label, label
	}
	return eval.Summarize(truth, pred)
}

// TrainTestSplit shuffles with seed and returns (train, test) with
// floor(len*testRatio) test examples.
func TrainTestSplit(examples []Example, testRatio float64, seed uint64) ([]Example, []Example) {
	idx := shuffled(len(examples), seed)
	nTest := int(float64(len(examples)) * testRatio)
	train := make([]Example, 0, len(examples)-nTest)
	test := make([]Example, 0, nTest)
	for i, j := range idx {
		if i < nTest {
			test = append(test, examples[j])
		} else {
			train = append(train, examples[j])
		}
	}
	return train, test
}

// #endregion evaluate

// #region helpers

func shuffled(n int, seed uint64) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return idx
}

// checkExamples returns the shared feature width.
func checkExamples(examples []Example) (int, error) {
	if len(examples) == 0 {
		return 0, herr.New(herr.KindEmptyTrainingSet, "no training examples")
	}
	dim := len(examples[0].Features)
	if dim == 0 {
		return 0, herr.InvalidArgf("empty feature vector")
	}
	return dim, checkWidth(examples, dim)
}

func checkWidth(examples []Example, dim int) error {
	for _, ex := range examples {
		if len(ex.Features) != dim {
			return herr.DimensionMismatch("training example", dim, len(ex.Features))
		}
		if ex.Label < 0 || ex.Label >= query.NumClasses {
			return herr.InvalidArgf("label %d out of range [0,%d)", ex.Label, query.NumClasses)
		}
	}
	return nil
}

func unzip(examples []Example) ([][]float32, []int) {
	xs := make([][]float32, len(examples))
	ys := make([]int, len(examples))
	for i, ex := range examples {
		xs[i], ys[i] = ex.Features, ex.Label
	}
	return xs, ys
}

// #endregion helpers
