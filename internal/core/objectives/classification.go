package objectives

import (
	"errors"
	"math"

	"vesselclass/internal/core/metadata"
	perr "vesselclass/internal/platform/errors"
)

// Classification is a multiclass objective over a fixed class list. Vessels
// whose metadata has no label for MetadataLabel are masked out of the loss
type Classification struct {
	// MetadataLabel names the metadata column the labels come from
	MetadataLabel string

	// Name identifies the objective in metrics and results
	Name string

	// Classes is the ordered class list; its order fixes the logit axis
	Classes []string

	// LabelFromMMSI resolves a vessel's raw label. ErrNoLabel masks the
	// vessel instead of failing
	LabelFromMMSI func(mmsi int64) (string, error)

	// Transform optionally rewrites a raw label before class lookup, for
	// objectives defined over a coarsening of the stored labels
	Transform func(string) string

	// LossWeight scales this objective's contribution to the total loss
	LossWeight float64

	classIndex map[string]int
}

// NewClassification builds a Classification objective with its class index
func NewClassification(
	metadataLabel, name string,
	labelFromMMSI func(int64) (string, error),
	classes []string,
	transform func(string) string,
	lossWeight float64,
) *Classification {
	idx := make(map[string]int, len(classes))
	for i, c := range classes {
		idx[c] = i
	}
	return &Classification{
		MetadataLabel: metadataLabel,
		Name:          name,
		Classes:       classes,
		LabelFromMMSI: labelFromMMSI,
		Transform:     transform,
		LossWeight:    lossWeight,
		classIndex:    idx,
	}
}

// NewVesselLabelObjective builds a Classification objective whose labels come
// straight from a metadata store column
func NewVesselLabelObjective(
	store *metadata.Store,
	label, name string,
	classes []string,
	transform func(string) string,
) *Classification {
	return NewClassification(label, name,
		func(mmsi int64) (string, error) { return store.VesselLabel(label, mmsi) },
		classes, transform, 1.0)
}

// TrainingLabel returns the class index for a vessel, or -1 when the vessel
// has no usable label. A label outside the class list is corrupt metadata
func (c *Classification) TrainingLabel(mmsi int64) (int, error) {
	label, err := c.LabelFromMMSI(mmsi)
	if err != nil {
		if errors.Is(err, perr.ErrNoLabel) {
			return -1, nil
		}
		return 0, err
	}
	if c.Transform != nil {
		label = c.Transform(label)
	}
	if label == "" {
		return -1, nil
	}
	i, ok := c.classIndex[label]
	if !ok {
		return 0, perr.DataIntegrityf("%s: vessel %d has label %q outside the class list", c.Name, mmsi, label)
	}
	return i, nil
}

// BuildTrainer computes the masked softmax cross entropy over a batch of
// logits, one row per window, plus the training accuracy over the labelled
// rows
func (c *Classification) BuildTrainer(logits [][]float64, mmsis []int64) (Trainer, error) {
	if len(logits) != len(mmsis) {
		return Trainer{}, perr.InvalidArgf("%s: %d logit rows for %d vessels", c.Name, len(logits), len(mmsis))
	}

	var lossSum, labelled, correct float64
	for i, row := range logits {
		label, err := c.TrainingLabel(mmsis[i])
		if err != nil {
			return Trainer{}, err
		}
		if label < 0 {
			continue
		}
		probs := Softmax(row)
		lossSum += -math.Log(math.Max(probs[label], 1e-37))
		labelled++
		if argmax(row) == label {
			correct++
		}
	}

	var rawLoss, accuracy float64
	if labelled > 0 {
		rawLoss = lossSum / labelled
		accuracy = correct / labelled
	}
	return Trainer{
		Name: c.Name,
		Loss: rawLoss * c.LossWeight,
		Metrics: map[string]float64{
			"loss":     rawLoss,
			"accuracy": accuracy,
		},
	}, nil
}

// TestAccuracy computes accuracy over the labelled vessels of a batch
func (c *Classification) TestAccuracy(logits [][]float64, mmsis []int64) (float64, error) {
	var labelled, correct float64
	for i, row := range logits {
		label, err := c.TrainingLabel(mmsis[i])
		if err != nil {
			return 0, err
		}
		if label < 0 {
			continue
		}
		labelled++
		if argmax(row) == label {
			correct++
		}
	}
	if labelled == 0 {
		return 0, nil
	}
	return correct / labelled, nil
}

// ClassScores is one window's classification result
type ClassScores struct {
	Name                string
	MaxLabel            string
	MaxLabelProbability float64
	LabelScores         map[string]float64
}

// Scores converts one window's class probabilities into a named result
func (c *Classification) Scores(probs []float64) ClassScores {
	best := argmax(probs)
	scores := make(map[string]float64, len(c.Classes))
	for i, class := range c.Classes {
		scores[class] = probs[i]
	}
	return ClassScores{
		Name:                c.Name,
		MaxLabel:            c.Classes[best],
		MaxLabelProbability: probs[best],
		LabelScores:         scores,
	}
}
