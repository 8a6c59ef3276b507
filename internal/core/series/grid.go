package series

import (
	"math/rand"

	perr "vesselclass/internal/platform/errors"
)

// GridExtractor walks a movement series deterministically (up to a small
// random jitter) and yields every qualifying fixed-shape window, the
// evaluation and inference counterpart of Extractor
type GridExtractor struct {
	// OutputLength is the exact number of points in every returned window
	OutputLength int

	// MinPoints is the minimum number of real points a requested time range
	// must cover to produce a window; ranges below it are skipped
	MinPoints int
}

// ExtractForTimeRanges yields at most one window per requested range, in
// range order. When a range covers more than OutputLength points a random
// OutputLength-point sub-span is chosen; ranges covering fewer than MinPoints
// points are skipped. Window bounds carry the requested range times, not the
// covered point times. An empty result is not an error
func (g GridExtractor) ExtractForTimeRanges(rng *rand.Rand, s Series, ranges []TimeRange) ([]Window, error) {
	if g.OutputLength < 1 {
		return nil, perr.InvalidArgf("output length %d, want >= 1", g.OutputLength)
	}

	out := make([]Window, 0, len(ranges))
	for _, r := range ranges {
		// Ranges are half-open: a point sitting exactly on End belongs to
		// the next range, not this one
		startNdx := s.SearchLeft(r.Start)
		endNdx := s.SearchLeft(r.End)
		have := endNdx - startNdx
		if have < g.MinPoints {
			continue
		}

		if have > g.OutputLength {
			startNdx += rng.Intn(have - g.OutputLength + 1)
			endNdx = startNdx + g.OutputLength
		}

		w, err := buildWindow(s.MMSI, s.Rows[startNdx:endNdx], PadRepeat(s.Rows[startNdx:endNdx], g.OutputLength))
		if err != nil {
			return nil, err
		}
		w.StartTime = r.Start
		w.EndTime = r.End
		out = append(out, w)
	}
	return out, nil
}

// ExtractAllContiguous tiles the series with OutputLength-point windows
// walking backward from the most recent point, most recent window first. When
// the series length is not a multiple of OutputLength the earliest window
// keeps whatever points remain and is padded back up to shape. An empty
// series yields no windows
func (g GridExtractor) ExtractAllContiguous(s Series) ([]Window, error) {
	if g.OutputLength < 1 {
		return nil, perr.InvalidArgf("output length %d, want >= 1", g.OutputLength)
	}
	if s.Len() == 0 {
		return nil, nil
	}

	out := make([]Window, 0, (s.Len()+g.OutputLength-1)/g.OutputLength)
	for end := s.Len(); end > 0; end -= g.OutputLength {
		start := end - g.OutputLength
		if start < 0 {
			start = 0
		}
		w, err := buildWindow(s.MMSI, s.Rows[start:end], PadRepeat(s.Rows[start:end], g.OutputLength))
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
