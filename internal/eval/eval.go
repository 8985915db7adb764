// Package eval scores router models on held-out data and decides whether a
// retrained model may replace the active one.
package eval

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
)

// #region confusion
// Add records one prediction.
func (c *Confusion) Add(truth, predicted int) error {
	if truth < 0 || truth >= query.NumClasses || predicted < 0 || predicted >= query.NumClasses {
		return herr.InvalidArgf("label out of range: truth=%d predicted=%d", truth, predicted)
	}
	c[truth][predicted]++
	return nil
}

// Total returns the number of recorded predictions.
func (c Confusion) Total() int {
	n := 0
	for i := range c {
		for j := range c[i] {
			n += c[i][j]
		}
	}
	return n
}

// Accuracy is the diagonal over the total; 0 when empty.
func (c Confusion) Accuracy() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	correct := 0
	for i := range c {
		correct += c[i][i]
	}
	return float64(correct) / float64(total)
}

// Recall returns the fraction of class samples predicted correctly, and false
// when the class has no samples.
func (c Confusion) Recall(class int) (float64, bool) {
	row := 0
	for _, n := range c[class] {
		row += n
	}
	if row == 0 {
		return 0, false
	}
	return float64(c[class][class]) / float64(row), true
}

// Summarize builds a Summary from parallel truth and prediction labels.
func Summarize(truth, predicted []int) (Summary, error) {
	if len(truth) != len(predicted) {
		return Summary{}, herr.InvalidArgf("truth has %d labels, predicted %d", len(truth), len(predicted))
	}
	var s Summary
	for i := range truth {
		if err := s.Confusion.Add(truth[i], predicted[i]); err != nil {
			return Summary{}, err
		}
	}
	s.Samples = len(truth)
	s.Accuracy = s.Confusion.Accuracy()
	return s, nil
}

// #endregion confusion

// #region fold-summary
// SummarizeFolds reports mean, standard deviation and worst fold accuracy.
func SummarizeFolds(accuracies []float64) (FoldSummary, error) {
	if len(accuracies) == 0 {
		return FoldSummary{}, herr.New(herr.KindInsufficientFolds, "no fold results")
	}
	fs := FoldSummary{Folds: append([]float64(nil), accuracies...)}
	if len(accuracies) == 1 {
		fs.Mean = accuracies[0]
	} else {
		fs.Mean, fs.StdDev = stat.MeanStdDev(accuracies, nil)
	}
	fs.Worst = floats.Min(accuracies)
	return fs, nil
}

// #endregion fold-summary

// #region eval-harness
// EvalHarness gates model promotion.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Config returns the thresholds in use.
func (h *EvalHarness) Config() EvalConfig { return h.config }

// Run checks candidate against the absolute floor and, when current is
// non-nil, against the active model. Per-route recall is informational.
func (h *EvalHarness) Run(candidate Summary, current *Summary) EvalResult {
	var metrics []EvalMetric
	passed := true
	var failReasons []string

	// 1. Absolute accuracy floor
	accPass := candidate.Samples > 0 && finite(candidate.Accuracy) && candidate.Accuracy >= h.config.MinAccuracy
	metrics = append(metrics, EvalMetric{Name: "accuracy", Value: candidate.Accuracy, Pass: accPass})
	if !accPass {
		passed = false
		if candidate.Samples == 0 {
			failReasons = append(failReasons, "no held-out samples")
		} else {
			failReasons = append(failReasons, fmt.Sprintf("accuracy %.4f below %.4f", candidate.Accuracy, h.config.MinAccuracy))
		}
	}

	// 2. No regression against the active model
	if current != nil {
		delta := candidate.Accuracy - current.Accuracy
		regPass := delta >= -h.config.MaxRegression
		metrics = append(metrics, EvalMetric{Name: "accuracy_delta", Value: delta, Pass: regPass})
		if !regPass {
			passed = false
			failReasons = append(failReasons, fmt.Sprintf("accuracy %.4f regresses from active %.4f", candidate.Accuracy, current.Accuracy))
		}
	}

	// 3. Per-route recall: informational only
	for class := 0; class < query.NumClasses; class++ {
		r, ok := candidate.Confusion.Recall(class)
		if !ok {
			continue
		}
		route, _ := query.RouteFromLabel(class)
		metrics = append(metrics, EvalMetric{
			Name:  fmt.Sprintf("recall_%s", route),
			Value: r,
			Pass:  r >= h.config.MinClassRecall,
		})
	}

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  passed,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region helpers
// Metric returns the named metric from r.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// finite reports whether v is a usable accuracy.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// #endregion helpers
