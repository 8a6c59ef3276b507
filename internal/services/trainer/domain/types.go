// Package domain holds the core types and ports for model training
package domain

import "vesselclass/internal/core/series"

// Example is one fixed-shape training window with its vessel identity
type Example struct {
	MMSI       int64
	Features   [][]float64
	Timestamps []int64
	TimeBounds [2]int64
}

// FromWindow converts an extracted window into a training example
func FromWindow(w series.Window) Example {
	return Example{
		MMSI:       w.MMSI,
		Features:   w.Features,
		Timestamps: w.Timestamps,
		TimeBounds: [2]int64{w.StartTime, w.EndTime},
	}
}

// Batch is a batch of examples in struct-of-arrays form, the shape the
// model ports consume: Features is [n][window][dim], Timestamps [n][window],
// TimeBounds [n][2], MMSIs [n]
type Batch struct {
	Features   [][][]float64
	Timestamps [][]int64
	TimeBounds [][2]int64
	MMSIs      []int64
}

// Append adds one example to the batch
func (b *Batch) Append(e Example) {
	b.Features = append(b.Features, e.Features)
	b.Timestamps = append(b.Timestamps, e.Timestamps)
	b.TimeBounds = append(b.TimeBounds, e.TimeBounds)
	b.MMSIs = append(b.MMSIs, e.MMSI)
}

// Len returns the number of examples in the batch
func (b *Batch) Len() int { return len(b.MMSIs) }

// StepResult is one training step's outcome
type StepResult struct {
	Step    int64
	Loss    float64
	Metrics map[string]float64
}

// EvalResult is one evaluation pass outcome
type EvalResult struct {
	Step    int64
	Metrics map[string]float64
}
