package eval

import "github.com/danielpatrickdp/hybrid-router/internal/query"

// #region eval-config
// EvalConfig holds the promotion thresholds for a retrained router.
type EvalConfig struct {
	MinAccuracy    float64 // reject if held-out accuracy is below this
	MaxRegression  float64 // reject if accuracy drops more than this below the active model
	MinClassRecall float64 // warn if any route's recall is below this
}

// DefaultEvalConfig returns the stock thresholds.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinAccuracy:    0.6,
		MaxRegression:  0.0,
		MinClassRecall: 0.3,
	}
}

// #endregion eval-config

// #region confusion
// Confusion counts predictions: rows are true routes, columns predicted routes.
type Confusion [query.NumClasses][query.NumClasses]int

// #endregion confusion

// #region summary
// Summary is the held-out performance of one model.
type Summary struct {
	Samples   int       `json:"samples"`
	Accuracy  float64   `json:"accuracy"`
	Confusion Confusion `json:"confusion"`
}

// FoldSummary aggregates cross-validation accuracies.
type FoldSummary struct {
	Folds  []float64 `json:"folds"`
	Mean   float64   `json:"mean"`
	StdDev float64   `json:"std_dev"`
	Worst  float64   `json:"worst"`
}

// #endregion summary

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of a promotion check.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
