// Package linearmodel implements the model ports with a mean-pooled linear
// softmax classifier. Each window's features are averaged over time into a
// single vector, a linear layer maps that vector to per-class logits, and
// training runs plain SGD on the masked cross entropy. It is the smallest
// model that exercises the full train/checkpoint/restore/predict surface;
// heavier networks slot in behind the same ports
package linearmodel

import (
	"context"
	"sync"

	"vesselclass/internal/core/objectives"
	perr "vesselclass/internal/platform/errors"
	"vesselclass/internal/services/inference/domain"
	trainerdom "vesselclass/internal/services/trainer/domain"
)

// Model is a linear softmax classifier over mean-pooled window features.
// Safe for concurrent use; training and evaluation may run from different
// goroutines against the same instance
type Model struct {
	objective *objectives.Classification
	props     trainerdom.Properties
	lr        float64

	mu      sync.Mutex
	step    int64
	weights [][]float64 // [class][featureDim]
	bias    []float64   // [class]
}

// New builds a model for the given objective. Weights start at zero, which
// is a deterministic and perfectly good init for a convex softmax regression
func New(objective *objectives.Classification, props trainerdom.Properties, learningRate float64) *Model {
	if objective == nil {
		panic("linearmodel.New requires an objective")
	}
	if props.FeatureDimensions < 1 {
		panic("linearmodel.New requires a positive feature dimension")
	}
	weights := make([][]float64, len(objective.Classes))
	for i := range weights {
		weights[i] = make([]float64, props.FeatureDimensions)
	}
	return &Model{
		objective: objective,
		props:     props,
		lr:        learningRate,
		weights:   weights,
		bias:      make([]float64, len(objective.Classes)),
	}
}

// NewUnlabelled builds a predict-only model over a bare class list, for
// restoring a checkpoint without any metadata on hand
func NewUnlabelled(name string, classes []string, props trainerdom.Properties) *Model {
	obj := objectives.NewClassification(
		"", name,
		func(int64) (string, error) { return "", perr.ErrNoLabel },
		classes, nil, 1.0,
	)
	return New(obj, props, 0)
}

// Name identifies the model in logs and run records
func (m *Model) Name() string { return "linear/" + m.objective.Name }

// Properties reports the hyperparameter surface the sampling side consumes
func (m *Model) Properties() trainerdom.Properties { return m.props }

// meanPool averages a window's features over time into one vector
func (m *Model) meanPool(features [][]float64) ([]float64, error) {
	if len(features) == 0 {
		return nil, perr.InvalidArgf("%s: empty feature window", m.Name())
	}
	pooled := make([]float64, m.props.FeatureDimensions)
	for _, row := range features {
		if len(row) != m.props.FeatureDimensions {
			return nil, perr.DataIntegrityf(
				"%s: feature row has %d dims, model expects %d", m.Name(), len(row), m.props.FeatureDimensions)
		}
		for i, v := range row {
			pooled[i] += v
		}
	}
	inv := 1 / float64(len(features))
	for i := range pooled {
		pooled[i] *= inv
	}
	return pooled, nil
}

func (m *Model) logits(pooled []float64) []float64 {
	out := make([]float64, len(m.weights))
	for c, w := range m.weights {
		sum := m.bias[c]
		for i, v := range pooled {
			sum += w[i] * v
		}
		out[c] = sum
	}
	return out
}

// forward pools every window in the batch and maps it to logits.
// Caller holds the lock
func (m *Model) forward(batch trainerdom.Batch) ([][]float64, [][]float64, error) {
	pooled := make([][]float64, batch.Len())
	logits := make([][]float64, batch.Len())
	for i, features := range batch.Features {
		p, err := m.meanPool(features)
		if err != nil {
			return nil, nil, err
		}
		pooled[i] = p
		logits[i] = m.logits(p)
	}
	return pooled, logits, nil
}

// TrainStep runs one SGD step on the batch and reports the masked loss and
// training accuracy. Windows without a usable label carry no gradient
func (m *Model) TrainStep(_ context.Context, batch trainerdom.Batch) (trainerdom.StepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pooled, logits, err := m.forward(batch)
	if err != nil {
		return trainerdom.StepResult{}, err
	}
	trainer, err := m.objective.BuildTrainer(logits, batch.MMSIs)
	if err != nil {
		return trainerdom.StepResult{}, err
	}

	// Masked softmax cross entropy gradient: probs minus the one-hot label,
	// averaged over the labelled windows
	var labelled float64
	grad := make([][]float64, len(m.weights))
	gradBias := make([]float64, len(m.bias))
	for c := range grad {
		grad[c] = make([]float64, m.props.FeatureDimensions)
	}
	for i, row := range logits {
		label, err := m.objective.TrainingLabel(batch.MMSIs[i])
		if err != nil {
			return trainerdom.StepResult{}, err
		}
		if label < 0 {
			continue
		}
		labelled++
		probs := objectives.Softmax(row)
		for c := range probs {
			g := probs[c]
			if c == label {
				g--
			}
			gradBias[c] += g
			for d, v := range pooled[i] {
				grad[c][d] += g * v
			}
		}
	}
	if labelled > 0 {
		scale := m.lr / labelled
		for c := range m.weights {
			m.bias[c] -= scale * gradBias[c]
			for d := range m.weights[c] {
				m.weights[c][d] -= scale * grad[c][d]
			}
		}
	}

	m.step++
	metrics := make(map[string]float64, len(trainer.Metrics))
	for k, v := range trainer.Metrics {
		metrics[m.objective.Name+"/"+k] = v
	}
	return trainerdom.StepResult{Step: m.step, Loss: trainer.Loss, Metrics: metrics}, nil
}

// Evaluate reports the masked accuracy over the batch without touching the
// weights
func (m *Model) Evaluate(_ context.Context, batch trainerdom.Batch) (trainerdom.EvalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, logits, err := m.forward(batch)
	if err != nil {
		return trainerdom.EvalResult{}, err
	}
	acc, err := m.objective.TestAccuracy(logits, batch.MMSIs)
	if err != nil {
		return trainerdom.EvalResult{}, err
	}
	return trainerdom.EvalResult{
		Step:    m.step,
		Metrics: map[string]float64{m.objective.Name + "/accuracy": acc},
	}, nil
}

// Predict classifies every window in the batch
func (m *Model) Predict(_ context.Context, batch domain.Batch) ([]domain.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, logits, err := m.forward(batch)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Prediction, len(logits))
	for i, row := range logits {
		scores := m.objective.Scores(objectives.Softmax(row))
		out[i] = domain.Prediction{Class: scores.MaxLabel, Probability: scores.MaxLabelProbability}
	}
	return out, nil
}
