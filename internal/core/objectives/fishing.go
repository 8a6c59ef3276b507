package objectives

import (
	"math"

	"vesselclass/internal/core/series"
	perr "vesselclass/internal/platform/errors"
)

// FishingLocalisation is a per-point objective: for every point of a window,
// predict whether the vessel was fishing. Targets come from the known
// fishing ranges; points outside any range carry Unknown and are masked
type FishingLocalisation struct {
	// MetadataLabel names the metadata the targets come from
	MetadataLabel string

	// Name identifies the objective in metrics and results
	Name string

	// Ranges holds the classified fishing ranges per vessel
	Ranges map[int64][]series.FishingRange

	// LossWeight scales this objective's contribution to the total loss
	LossWeight float64
}

// DenseLabels expands a vessel's fishing ranges into one target per window
// point. Points no range covers are Unknown
func (f FishingLocalisation) DenseLabels(mmsi int64, timestamps []int64) []float64 {
	labels := make([]float64, len(timestamps))
	for i := range labels {
		labels[i] = Unknown
	}
	for _, r := range f.Ranges[mmsi] {
		for i, ts := range timestamps {
			if r.Contains(ts) {
				labels[i] = r.IsFishing
			}
		}
	}
	return labels
}

// MSE computes the mean squared error over the known points of a batch of
// per-point predictions
func (f FishingLocalisation) MSE(predictions, targets [][]float64) float64 {
	const epsilon = 1e-10
	var errSum, known float64
	for i, row := range predictions {
		for j, p := range row {
			if targets[i][j] == Unknown {
				continue
			}
			d := p - targets[i][j]
			errSum += d * d
			known++
		}
	}
	return errSum / (known + epsilon)
}

// Loss computes the masked sigmoid cross entropy on per-point logits. Each
// window's summed loss is scaled by its known point count, floored at a
// tenth of the window size so windows with almost no known points cannot
// dominate
func (f FishingLocalisation) Loss(logits, targets [][]float64) float64 {
	var total float64
	for i, row := range logits {
		var rowSum, known float64
		for j, logit := range row {
			if targets[i][j] == Unknown {
				continue
			}
			rowSum += sigmoidCrossEntropy(logit, targets[i][j])
			known++
		}
		scale := math.Max(known, 0.1*float64(len(row)))
		total += rowSum / scale
	}
	return total / float64(len(logits))
}

// BuildTrainer expands the batch's fishing ranges into dense targets and
// computes the weighted masked MSE over per-point fishing probabilities
func (f FishingLocalisation) BuildTrainer(
	predictions [][]float64,
	timestamps [][]int64,
	mmsis []int64,
) (Trainer, error) {
	if len(predictions) != len(mmsis) || len(timestamps) != len(mmsis) {
		return Trainer{}, perr.InvalidArgf(
			"%s: %d predictions, %d timestamp rows for %d vessels",
			f.Name, len(predictions), len(timestamps), len(mmsis))
	}

	targets := make([][]float64, len(mmsis))
	for i, mmsi := range mmsis {
		targets[i] = f.DenseLabels(mmsi, timestamps[i])
	}

	rawLoss := f.MSE(predictions, targets)
	return Trainer{
		Name:    f.Name,
		Loss:    rawLoss * f.LossWeight,
		Metrics: map[string]float64{"loss": rawLoss},
	}, nil
}
