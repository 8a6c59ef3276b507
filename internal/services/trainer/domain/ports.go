package domain

import (
	"context"

	"vesselclass/internal/core/series"
	"vesselclass/internal/platform/store"
)

// RunnerPort is the public port exposed by the trainer module
type RunnerPort interface {
	Train(ctx context.Context) error
	Evaluate(ctx context.Context, runID string) error
}

// FeaturePort reads per-vessel movement series
type FeaturePort interface {
	AvailableMMSIs(ctx context.Context) (map[int64]bool, error)
	ReadSeries(ctx context.Context, mmsi int64) (series.Series, error)
}

// Properties is the hyperparameter surface a model exposes to the sampling
// side: everything window extraction and batching need, nothing about the
// network itself
type Properties struct {
	// WindowMaxPoints is the fixed point count of every window
	WindowMaxPoints int

	// MaxWindowDurationSeconds bounds a window's time span; zero selects
	// point-count cropping instead of time-bounded cropping
	MaxWindowDurationSeconds int64

	// MinViableTimesliceLength is the minimum real point count of a
	// time-bounded crop before padding
	MinViableTimesliceLength int

	// FeatureDimensions is the per-point feature width, timestamp excluded
	FeatureDimensions int

	// BatchSize is the number of windows per model call
	BatchSize int
}

// ModelPort is the training side of a model. Implementations own their
// parameters; Checkpoint and Restore move them through opaque payloads
type ModelPort interface {
	Name() string
	Properties() Properties
	TrainStep(ctx context.Context, batch Batch) (StepResult, error)
	Evaluate(ctx context.Context, batch Batch) (EvalResult, error)
	Checkpoint() ([]byte, error)
	Restore(payload []byte) error
}

// RunStorePort persists run records, checkpoints, and metrics
type RunStorePort interface {
	CreateRun(ctx context.Context, kind, config string) (store.Run, error)
	FinishRun(ctx context.Context, id, status, errMsg string) error
	SaveCheckpoint(ctx context.Context, runID string, step int64, payload []byte) error
	LatestCheckpoint(ctx context.Context, runID string) (store.Checkpoint, error)
	LogMetric(ctx context.Context, runID string, step int64, name string, value float64) error
}
