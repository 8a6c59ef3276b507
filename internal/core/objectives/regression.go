package objectives

import (
	"math"

	perr "vesselclass/internal/platform/errors"
)

// Regression is a scalar objective for numeric vessel attributes such as
// length or engine power. Vessels without a known value are masked
type Regression struct {
	// MetadataLabel names the metadata column the values come from
	MetadataLabel string

	// Name identifies the objective in metrics and results
	Name string

	// ValueFromMMSI resolves a vessel's expected value; ok is false when the
	// value is unknown and the vessel must be masked
	ValueFromMMSI func(mmsi int64) (value float64, ok bool)

	// LossWeight scales this objective's contribution to the total loss
	LossWeight float64
}

// MaskedMeanError computes the mean absolute error over the vessels with a
// known expected value
func (r Regression) MaskedMeanError(predictions []float64, mmsis []int64) float64 {
	var diffSum, count float64
	for i, mmsi := range mmsis {
		expected, ok := r.ValueFromMMSI(mmsi)
		if !ok {
			continue
		}
		diffSum += math.Abs(expected - predictions[i])
		count++
	}
	return diffSum / math.Max(count, 1e-7)
}

// BuildTrainer computes the weighted masked mean error for a batch of scalar
// predictions, one per window
func (r Regression) BuildTrainer(predictions []float64, mmsis []int64) (Trainer, error) {
	if len(predictions) != len(mmsis) {
		return Trainer{}, perr.InvalidArgf("%s: %d predictions for %d vessels", r.Name, len(predictions), len(mmsis))
	}
	rawLoss := r.MaskedMeanError(predictions, mmsis)
	return Trainer{
		Name:    r.Name,
		Loss:    rawLoss * r.LossWeight,
		Metrics: map[string]float64{"loss": rawLoss},
	}, nil
}

// RegressionResult is one window's regression result
type RegressionResult struct {
	Name  string
	Value float64
}

// Result names a scalar prediction
func (r Regression) Result(prediction float64) RegressionResult {
	return RegressionResult{Name: r.Name, Value: prediction}
}
