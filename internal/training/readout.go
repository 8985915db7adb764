package training

import (
	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/reservoir"
)

// #region readout-fit

// ReadoutSample pairs a reservoir state with its target output.
type ReadoutSample struct {
	State  []float32
	Target []float32
}

// ReadoutMetrics reports a readout fit.
type ReadoutMetrics struct {
	TrainSize int     `json:"train_size"`
	TestSize  int     `json:"test_size"`
	TrainMSE  float64 `json:"train_mse"`
	TestMSE   float64 `json:"test_mse"` // 0 when no samples were held out
}

// FitReadout holds out the configured test fraction, solves the ridge problem
// on the rest with the configured lambda and reports held-out MSE.
func (t *Trainer) FitReadout(samples []ReadoutSample) (*reservoir.Readout, ReadoutMetrics, error) {
	if len(samples) == 0 {
		return nil, ReadoutMetrics{}, herr.New(herr.KindEmptyTrainingSet, "no readout samples")
	}
	idx := shuffled(len(samples), t.cfg.Seed)
	nTest := int(float64(len(samples)) * t.cfg.TestSplit)
	if nTest == len(samples) {
		nTest = 0
	}

	var trainS, trainY, testS, testY [][]float32
	for i, j := range idx {
		if i < nTest {
			testS = append(testS, samples[j].State)
			testY = append(testY, samples[j].Target)
		} else {
			trainS = append(trainS, samples[j].State)
			trainY = append(trainY, samples[j].Target)
		}
	}

	ro, err := reservoir.FitReadout(trainS, trainY, t.cfg.RidgeLambda)
	if err != nil {
		return nil, ReadoutMetrics{}, herr.WithOp(err, "training.FitReadout")
	}
	m := ReadoutMetrics{TrainSize: len(trainS), TestSize: len(testS)}
	if m.TrainMSE, err = ro.MSE(trainS, trainY); err != nil {
		return nil, ReadoutMetrics{}, err
	}
	if len(testS) > 0 {
		if m.TestMSE, err = ro.MSE(testS, testY); err != nil {
			return nil, ReadoutMetrics{}, err
		}
	}
	t.log.Info().Int("train", m.TrainSize).Float64("train_mse", m.TrainMSE).Float64("test_mse", m.TestMSE).Msg("readout fit complete")
	return ro, m, nil
}

// #endregion readout-fit
