// Package series implements fixed-shape window extraction over per-vessel
// movement series: random training crops, multi-window sampling, and the
// deterministic fixed-grid slicing inference relies on
package series

import (
	"math"
	"sort"

	perr "vesselclass/internal/platform/errors"
)

// Series is one vessel's movement history as a 2-D numeric array.
// Each row is [timestamp, f1, ..., fk] with timestamps in unix seconds,
// sorted ascending. Read-only once loaded.
type Series struct {
	MMSI int64
	Rows [][]float64
}

// Len returns the number of points in the series
func (s Series) Len() int { return len(s.Rows) }

// Timestamp returns the unix-seconds timestamp of point i
func (s Series) Timestamp(i int) int64 { return int64(s.Rows[i][0]) }

// StartTime returns the first timestamp
func (s Series) StartTime() int64 { return s.Timestamp(0) }

// EndTime returns the last timestamp
func (s Series) EndTime() int64 { return s.Timestamp(s.Len() - 1) }

// SearchLeft returns the lowest index whose timestamp is >= ts
func (s Series) SearchLeft(ts int64) int {
	return sort.Search(s.Len(), func(i int) bool { return s.Timestamp(i) >= ts })
}

// SearchRight returns the lowest index whose timestamp is > ts
func (s Series) SearchRight(ts int64) int {
	return sort.Search(s.Len(), func(i int) bool { return s.Timestamp(i) > ts })
}

// Validate checks the series invariants: non-empty, uniform row width with at
// least one feature column, timestamps sorted ascending
func (s Series) Validate() error {
	if s.Len() == 0 {
		return perr.InvalidArgf("series for vessel %d is empty", s.MMSI)
	}
	width := len(s.Rows[0])
	if width < 2 {
		return perr.DataIntegrityf("series for vessel %d has no feature columns", s.MMSI)
	}
	for i, row := range s.Rows {
		if len(row) != width {
			return perr.DataIntegrityf("series for vessel %d row %d width %d, want %d", s.MMSI, i, len(row), width)
		}
		if i > 0 && row[0] < s.Rows[i-1][0] {
			return perr.DataIntegrityf("series for vessel %d timestamps not sorted at row %d", s.MMSI, i)
		}
	}
	return nil
}

// TimeRange is a half-open [Start, End) interval in unix seconds
type TimeRange struct {
	Start int64
	End   int64
}

// FishingRange is a labeled half-open time interval. IsFishing is typically
// 0.0 or 1.0 but may carry a confidence in between
type FishingRange struct {
	StartTime int64
	EndTime   int64
	IsFishing float64
}

// Contains reports whether ts falls within [StartTime, EndTime)
func (r FishingRange) Contains(ts int64) bool {
	return ts >= r.StartTime && ts < r.EndTime
}

// Duration returns the range length in seconds
func (r FishingRange) Duration() int64 { return r.EndTime - r.StartTime }

// Overlaps reports whether the range intersects [start, end)
func (r FishingRange) Overlaps(start, end int64) bool {
	return r.StartTime < end && start < r.EndTime
}

// CoveredIndexes locates the index span of sorted timestamps that fall inside
// the range, as a half-open [start, end) pair
func (r FishingRange) CoveredIndexes(s Series) (start, end int) {
	start = s.SearchLeft(r.StartTime)
	end = s.SearchLeft(r.EndTime)
	return start, end
}

// Window is one fixed-shape training/inference example. Features has exactly
// OutputLength rows with the timestamp column stripped; StartTime/EndTime are
// the bounds of the pre-padding slice
type Window struct {
	MMSI       int64
	Features   [][]float64
	Timestamps []int64
	StartTime  int64
	EndTime    int64
}

// Len returns the number of points in the window
func (w Window) Len() int { return len(w.Features) }

// PadRepeat tiles rows end-to-end until windowSize rows are filled. Rows
// shorter than windowSize repeat from the beginning; the input is never
// empty (callers reject degenerate slices first)
func PadRepeat(rows [][]float64, windowSize int) [][]float64 {
	if len(rows) == 0 {
		panic("series: PadRepeat on empty slice")
	}
	if len(rows) >= windowSize {
		return rows[:windowSize]
	}
	out := make([][]float64, windowSize)
	for i := range out {
		out[i] = rows[i%len(rows)]
	}
	return out
}

// buildWindow strips the timestamp column off a padded slice and checks every
// feature value is finite. Non-finite values are a fatal input-data error
func buildWindow(mmsi int64, cropped, padded [][]float64) (Window, error) {
	w := Window{
		MMSI:       mmsi,
		Features:   make([][]float64, len(padded)),
		Timestamps: make([]int64, len(padded)),
		StartTime:  int64(cropped[0][0]),
		EndTime:    int64(cropped[len(cropped)-1][0]),
	}
	for i, row := range padded {
		w.Timestamps[i] = int64(row[0])
		feats := row[1:]
		for j, v := range feats {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Window{}, perr.DataIntegrityf(
					"non-finite feature value for vessel %d at point %d column %d", mmsi, i, j+1)
			}
		}
		w.Features[i] = feats
	}
	return w, nil
}
