package training

import (
	"github.com/danielpatrickdp/hybrid-router/internal/config"
	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/eval"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region example
// Example is one labeled feature vector. Label is a route label index.
type Example struct {
	Features []float32
	Label    int
}

// NewExample labels features with route. Blocked has no label.
func NewExample(features []float32, route query.Route) (Example, error) {
	label, ok := route.Label()
	if !ok {
		return Example{}, herr.InvalidArgf("route %s cannot be a training label", route)
	}
	return Example{Features: features, Label: label}, nil
}

// OneHot encodes label as an n-wide indicator vector.
func OneHot(label, n int) []float32 {
	v := make([]float32, n)
	if label >= 0 && label < n {
		v[label] = 1
	}
	return v
}

// #endregion example

// #region config
// Config controls router fitting.
type Config struct {
	Hidden1         int
	Hidden2         int
	LearningRate    float64
	Epochs          int
	BatchSize       int
	Patience        int
	L2              float64
	ValidationSplit float64
	TestSplit       float64
	Folds           int
	RidgeLambda     float64
	Seed            uint64
}

// DefaultConfig mirrors config.Default.
func DefaultConfig() Config {
	return FromConfig(config.Default())
}

// FromConfig extracts the training settings from the engine config.
func FromConfig(cfg config.Config) Config {
	t := cfg.Training
	return Config{
		Hidden1:         cfg.Neural.Hidden1,
		Hidden2:         cfg.Neural.Hidden2,
		LearningRate:    t.LearningRate,
		Epochs:          t.Epochs,
		BatchSize:       t.BatchSize,
		Patience:        t.Patience,
		L2:              t.L2,
		ValidationSplit: t.ValidationSplit,
		TestSplit:       t.TestSplit,
		Folds:           t.Folds,
		RidgeLambda:     t.RidgeLambda,
		Seed:            t.Seed,
	}
}

func (c Config) validate() error {
	switch {
	case c.Hidden1 <= 0 || c.Hidden2 <= 0:
		return herr.InvalidArgf("hidden sizes must be positive, got %d/%d", c.Hidden1, c.Hidden2)
	case c.LearningRate <= 0:
		return herr.InvalidArgf("learning rate must be positive, got %g", c.LearningRate)
	case c.Epochs <= 0:
		return herr.InvalidArgf("epochs must be positive, got %d", c.Epochs)
	case c.BatchSize <= 0:
		return herr.InvalidArgf("batch size must be positive, got %d", c.BatchSize)
	case c.Patience <= 0:
		return herr.InvalidArgf("patience must be positive, got %d", c.Patience)
	case c.L2 < 0:
		return herr.InvalidArgf("l2 must be non-negative, got %g", c.L2)
	case c.ValidationSplit < 0 || c.TestSplit < 0 || c.ValidationSplit+c.TestSplit >= 1:
		return herr.InvalidArgf("splits must be non-negative and sum below 1, got %g/%g", c.ValidationSplit, c.TestSplit)
	}
	return nil
}

// #endregion config

// #region metrics
// EpochStats is recorded once per completed epoch.
type EpochStats struct {
	Epoch       int     `json:"epoch"`
	Loss        float64 `json:"loss"` // mean cross-entropy on the training split after the epoch
	ValAccuracy float64 `json:"val_accuracy"`
}

// Metrics reports a router fit.
type Metrics struct {
	Epochs       []EpochStats `json:"epochs"`
	BestEpoch    int          `json:"best_epoch"`
	StoppedEarly bool         `json:"stopped_early"`
	ValAccuracy  float64      `json:"val_accuracy"`
	Test         eval.Summary `json:"test"`
	TrainSize    int          `json:"train_size"`
	ValSize      int          `json:"val_size"`
}

// TestAccuracy is the held-out accuracy of the returned network.
func (m Metrics) TestAccuracy() float64 { return m.Test.Accuracy }

// CVResult is the accuracy distribution of a k-fold run.
type CVResult struct {
	K       int              `json:"k"`
	Summary eval.FoldSummary `json:"summary"`
}

// Splits partitions examples for one fit.
type Splits struct {
	Train []Example
	Val   []Example
	Test  []Example
}

// #endregion metrics
