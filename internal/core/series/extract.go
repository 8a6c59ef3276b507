package series

import (
	"math/rand"

	perr "vesselclass/internal/platform/errors"
)

// Extractor draws one random fixed-shape window per call from a movement
// series. MaxTimeDelta selects the mode: zero means fixed-points (a window of
// exactly OutputLength points), non-zero means fixed-time (all points within a
// random MaxTimeDelta-second span, capped at OutputLength points)
type Extractor struct {
	// MaxTimeDelta is the maximum window duration in seconds; 0 selects
	// fixed-points mode
	MaxTimeDelta int64

	// OutputLength is the exact number of points in every returned window
	OutputLength int

	// MinViableLength is the minimum point count a fixed-time slice must keep
	// for the series to be considered meaningful
	MinViableLength int
}

// Extract draws one window. In fixed-points mode, candidate ranges (when
// supplied) are visited in shuffled order and the first range whose widened
// index bounds admit a window anchors the draw; otherwise the window is drawn
// uniformly from the whole series. Fixed-time mode rejects candidate ranges.
// Randomness comes only from rng; the extractor itself is stateless
func (x Extractor) Extract(rng *rand.Rand, s Series, ranges []FishingRange) (Window, error) {
	if x.OutputLength < 1 {
		return Window{}, perr.InvalidArgf("output length %d, want >= 1", x.OutputLength)
	}
	if s.Len() == 0 {
		return Window{}, perr.InvalidArgf("series for vessel %d is empty", s.MMSI)
	}

	var cropped [][]float64
	var err error
	if x.MaxTimeDelta == 0 {
		cropped, err = x.fixedPointsCrop(rng, s, ranges)
	} else {
		cropped, err = x.fixedTimeCrop(rng, s, ranges)
	}
	if err != nil {
		return Window{}, err
	}
	if len(cropped) == 0 {
		return Window{}, perr.InvalidArgf("empty crop for vessel %d", s.MMSI)
	}

	return buildWindow(s.MMSI, cropped, PadRepeat(cropped, x.OutputLength))
}

// ExtractN draws n independent windows from the same series, the per-step
// multi-window sampling that upweights vessels with more representative time
func (x Extractor) ExtractN(rng *rand.Rand, s Series, n int, ranges []FishingRange) ([]Window, error) {
	out := make([]Window, 0, n)
	for i := 0; i < n; i++ {
		w, err := x.Extract(rng, s, ranges)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// randomSpan picks a uniformly random OutputLength-point span inside the
// inclusive index bounds [minNdx, maxNdx], capped at the available points
func (x Extractor) randomSpan(rng *rand.Rand, minNdx, maxNdx int) (start, end int) {
	effective := maxNdx - minNdx + 1
	maxOffset := effective - x.OutputLength
	if maxOffset < 0 {
		maxOffset = 0
	}
	start = minNdx + rng.Intn(maxOffset+1)
	end = start + x.OutputLength
	if end > maxNdx+1 {
		end = maxNdx + 1
	}
	return start, end
}

func (x Extractor) fixedPointsCrop(rng *rand.Rand, s Series, ranges []FishingRange) ([][]float64, error) {
	last := s.Len() - 1

	if len(ranges) > 0 {
		// Visit the candidate ranges in a random order; the first one whose
		// widened bounds admit a window wins
		shuffled := append([]FishingRange(nil), ranges...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for _, r := range shuffled {
			startNdx, endNdx := r.CoveredIndexes(s)

			// Widen by up to OutputLength points on each side so a too-short
			// range can still anchor a full window
			minNdx := startNdx - x.OutputLength
			if minNdx < 0 {
				minNdx = 0
			}
			maxNdx := endNdx + x.OutputLength
			if maxNdx > last {
				maxNdx = last
			}

			if maxNdx > minNdx {
				start, end := x.randomSpan(rng, minNdx, maxNdx)
				return s.Rows[start:end], nil
			}
		}
	}

	// No candidate range qualified (or none supplied): whole-series draw
	start, end := x.randomSpan(rng, 0, last)
	return s.Rows[start:end], nil
}

func (x Extractor) fixedTimeCrop(rng *rand.Rand, s Series, ranges []FishingRange) ([][]float64, error) {
	if len(ranges) > 0 {
		return nil, perr.InvalidArgf("candidate ranges are not supported for time based windows")
	}

	maxOffset := (s.EndTime() - s.StartTime()) - x.MaxTimeDelta
	if maxOffset < 0 {
		maxOffset = 0
	}
	offset := rng.Int63n(maxOffset + 1)

	startNdx := s.SearchLeft(s.StartTime() + offset)

	// Never start closer than MinViableLength points from the end lest the
	// slice have too few points to be meaningful
	if maxStart := s.Len() - x.MinViableLength; startNdx > maxStart {
		startNdx = maxStart
	}
	if startNdx < 0 {
		startNdx = 0
	}

	cropEnd := s.Timestamp(startNdx) + x.MaxTimeDelta
	if cropEnd > s.EndTime() {
		cropEnd = s.EndTime()
	}

	endNdx := s.SearchRight(cropEnd)
	if limit := startNdx + x.OutputLength; endNdx > limit {
		endNdx = limit
	}

	return s.Rows[startNdx:endNdx], nil
}
