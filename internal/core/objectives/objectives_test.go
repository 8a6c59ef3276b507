package objectives

import (
	"testing"

	"vesselclass/internal/core/series"
	perr "vesselclass/internal/platform/errors"
	kit "vesselclass/internal/platform/testkit"
)

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1, 2, 3})
	want := []float64{0.09003057317038046, 0.24472847105479764, 0.6652409557748218}
	for i := range want {
		kit.MustAlmostEqual(t, probs[i], want[i], 1e-12)
	}

	// Large logits must not overflow
	probs = Softmax([]float64{1000, 1000})
	kit.MustAlmostEqual(t, probs[0], 0.5, 1e-12)
}

func testLabels(labels map[int64]string) func(int64) (string, error) {
	return func(mmsi int64) (string, error) {
		label, ok := labels[mmsi]
		if !ok {
			return "", perr.ErrNoLabel
		}
		return label, nil
	}
}

func TestClassificationTrainingLabel(t *testing.T) {
	c := NewClassification("label", "Vessel class", testLabels(map[int64]string{
		3: "Trawlers",
		5: "Reefer",
		7: "Submarine",
	}), []string{"Trawlers", "Reefer"}, nil, 1.0)

	if got, err := c.TrainingLabel(3); err != nil || got != 0 {
		t.Fatalf("TrainingLabel(3) = %d, %v", got, err)
	}
	if got, err := c.TrainingLabel(5); err != nil || got != 1 {
		t.Fatalf("TrainingLabel(5) = %d, %v", got, err)
	}

	// No label masks rather than failing
	if got, err := c.TrainingLabel(999); err != nil || got != -1 {
		t.Fatalf("TrainingLabel(999) = %d, %v", got, err)
	}

	// A label outside the class list is corrupt metadata
	if _, err := c.TrainingLabel(7); !perr.IsCode(err, perr.ErrorCodeDataIntegrity) {
		t.Fatalf("unknown class: code = %v, want data integrity", perr.CodeOf(err))
	}
}

func TestClassificationTransform(t *testing.T) {
	coarsen := func(label string) string {
		if label == "Set gillnets" {
			return "Fixed gear"
		}
		return label
	}
	c := NewClassification("label", "Coarse class", testLabels(map[int64]string{
		3: "Set gillnets",
	}), []string{"Fixed gear"}, coarsen, 1.0)

	if got, err := c.TrainingLabel(3); err != nil || got != 0 {
		t.Fatalf("TrainingLabel(3) = %d, %v", got, err)
	}
}

func TestClassificationBuildTrainer(t *testing.T) {
	c := NewClassification("label", "Vessel class", testLabels(map[int64]string{
		3: "A",
		5: "C",
	}), []string{"A", "B", "C"}, nil, 2.0)

	logits := [][]float64{
		{2, 0, 0}, // vessel 3, label A, predicted A
		{0, 1, 0}, // vessel 5, label C, predicted B
		{9, 9, 9}, // vessel 7, unlabelled, masked
	}
	tr, err := c.BuildTrainer(logits, []int64{3, 5, 7})
	if err != nil {
		t.Fatalf("BuildTrainer: %v", err)
	}

	kit.MustAlmostEqual(t, tr.Metrics["loss"], 0.8954947400769678, 1e-12)
	kit.MustAlmostEqual(t, tr.Loss, 2*0.8954947400769678, 1e-12)
	kit.MustAlmostEqual(t, tr.Metrics["accuracy"], 0.5, 1e-12)
}

func TestClassificationTestAccuracy(t *testing.T) {
	c := NewClassification("label", "Vessel class", testLabels(map[int64]string{
		3: "A",
		5: "B",
	}), []string{"A", "B"}, nil, 1.0)

	logits := [][]float64{{1, 0}, {0, 1}, {1, 0}}
	acc, err := c.TestAccuracy(logits, []int64{3, 5, 999})
	if err != nil {
		t.Fatalf("TestAccuracy: %v", err)
	}
	kit.MustAlmostEqual(t, acc, 1.0, 1e-12)
}

func TestClassificationScores(t *testing.T) {
	c := NewClassification("label", "Vessel class", nil, []string{"A", "B", "C"}, nil, 1.0)

	got := c.Scores([]float64{0.1, 0.7, 0.2})
	if got.MaxLabel != "B" {
		t.Fatalf("MaxLabel = %q, want B", got.MaxLabel)
	}
	kit.MustAlmostEqual(t, got.MaxLabelProbability, 0.7, 1e-12)
	kit.MustAlmostEqual(t, got.LabelScores["C"], 0.2, 1e-12)
}

func TestRegressionMaskedMeanError(t *testing.T) {
	r := Regression{
		MetadataLabel: "length",
		Name:          "Vessel length",
		ValueFromMMSI: func(mmsi int64) (float64, bool) {
			if mmsi == 3 {
				return 50, true
			}
			return 0, false
		},
		LossWeight: 1.0,
	}

	// Only vessel 3 is known: |50 - 40| = 10
	got := r.MaskedMeanError([]float64{40, 77}, []int64{3, 5})
	kit.MustAlmostEqual(t, got, 10, 1e-6)

	tr, err := r.BuildTrainer([]float64{40, 77}, []int64{3, 5})
	if err != nil {
		t.Fatalf("BuildTrainer: %v", err)
	}
	kit.MustAlmostEqual(t, tr.Loss, 10, 1e-6)

	// All masked: the epsilon denominator keeps the loss finite
	got = r.MaskedMeanError([]float64{40}, []int64{5})
	kit.MustAlmostEqual(t, got, 0, 1e-12)
}

func TestFishingDenseLabels(t *testing.T) {
	f := FishingLocalisation{
		Name: "Fishing localisation",
		Ranges: map[int64][]series.FishingRange{
			3: {
				{StartTime: 100, EndTime: 200, IsFishing: 1},
				{StartTime: 300, EndTime: 400, IsFishing: 0},
			},
		},
	}

	got := f.DenseLabels(3, []int64{50, 100, 199, 200, 350, 500})
	kit.MustEqualFloats(t, got, []float64{Unknown, 1, 1, Unknown, 0, Unknown})

	// A vessel without ranges is fully unknown
	got = f.DenseLabels(5, []int64{100, 200})
	kit.MustEqualFloats(t, got, []float64{Unknown, Unknown})
}

func TestFishingMSE(t *testing.T) {
	f := FishingLocalisation{Name: "Fishing localisation"}

	preds := [][]float64{{0.5, 0.2, 0.9}}
	targets := [][]float64{{1, Unknown, 0}}
	kit.MustAlmostEqual(t, f.MSE(preds, targets), 0.53, 1e-9)

	// Fully unknown targets give zero loss, not NaN
	kit.MustAlmostEqual(t, f.MSE(preds, [][]float64{{Unknown, Unknown, Unknown}}), 0, 1e-12)
}

func TestFishingLoss(t *testing.T) {
	f := FishingLocalisation{Name: "Fishing localisation"}

	logits := [][]float64{{0, 2, -1, 0.5}}
	targets := [][]float64{{1, Unknown, 0, Unknown}}

	// Two known points out of four: the scale floor (10% of window) does not
	// bite and the summed cross entropy is divided by 2
	kit.MustAlmostEqual(t, f.Loss(logits, targets), 0.5032044340390841, 1e-12)
}

func TestFishingBuildTrainer(t *testing.T) {
	f := FishingLocalisation{
		Name:       "Fishing localisation",
		LossWeight: 3.0,
		Ranges: map[int64][]series.FishingRange{
			3: {{StartTime: 0, EndTime: 100, IsFishing: 1}},
		},
	}

	preds := [][]float64{{0.5, 0.9}}
	timestamps := [][]int64{{10, 20}}
	tr, err := f.BuildTrainer(preds, timestamps, []int64{3})
	if err != nil {
		t.Fatalf("BuildTrainer: %v", err)
	}

	// Targets are both 1: ((0.5)^2 + (0.1)^2) / 2
	kit.MustAlmostEqual(t, tr.Metrics["loss"], 0.13, 1e-9)
	kit.MustAlmostEqual(t, tr.Loss, 0.39, 1e-9)

	_, err = f.BuildTrainer(preds, timestamps, []int64{3, 5})
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("shape mismatch: code = %v", perr.CodeOf(err))
	}
}
