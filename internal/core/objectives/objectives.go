// Package objectives implements the per-head training objectives: multiclass
// vessel classification, scalar regression, and point-wise fishing
// localisation. Each objective turns a batch of model outputs plus vessel
// identities into a weighted loss and its training metrics; labels the
// metadata cannot provide are masked out of the loss rather than failing
// the batch
package objectives

import "math"

// Unknown marks a target value the metadata has no answer for. Masked
// points contribute nothing to any loss
const Unknown = -1.0

// Trainer carries one objective's contribution to a training step
type Trainer struct {
	Name    string
	Loss    float64
	Metrics map[string]float64
}

// Softmax converts logits to a probability distribution
func Softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// sigmoid is the logistic function
func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// sigmoidCrossEntropy is the numerically stable form of the per-point
// binary cross entropy on logits
func sigmoidCrossEntropy(logit, target float64) float64 {
	return math.Max(logit, 0) - logit*target + math.Log1p(math.Exp(-math.Abs(logit)))
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
