// Package domain holds the core types and ports for batch inference
package domain

import (
	"context"
	"io"

	trainerdom "vesselclass/internal/services/trainer/domain"
)

// Batch re-exports the batch shape the model ports consume
type Batch = trainerdom.Batch

// Example re-exports the single-window shape
type Example = trainerdom.Example

// Prediction is one window's classification outcome
type Prediction struct {
	Class       string
	Probability float64
}

// Result is one output row: a vessel, the window's time bounds, and the
// predicted class
type Result struct {
	MMSI      int64
	StartTime int64
	EndTime   int64
	Class     string
	Prob      float64
}

// RunnerPort is the public port exposed by the inference module. Results
// stream to w as they are produced
type RunnerPort interface {
	Run(ctx context.Context, w io.Writer) error
}

// Properties re-exports the model hyperparameter surface
type Properties = trainerdom.Properties

// PredictPort is the inference side of a model
type PredictPort interface {
	Name() string
	Properties() Properties
	Restore(payload []byte) error
	Predict(ctx context.Context, batch Batch) ([]Prediction, error)
}
