package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"vesselclass/internal/core/series"
	perr "vesselclass/internal/platform/errors"
	"vesselclass/internal/services/inference/domain"
)

func TestQuarterlyRanges(t *testing.T) {
	now := time.Date(2013, 1, 15, 0, 0, 0, 0, time.UTC)
	got := QuarterlyRanges(2012, now)

	want := []series.TimeRange{
		{Start: 1325376000, End: 1341100800}, // 2012-01-01 .. 2012-07-01
		{Start: 1333238400, End: 1349049600}, // 2012-04-01 .. 2012-10-01
		{Start: 1341100800, End: 1356998400}, // 2012-07-01 .. 2013-01-01
		{Start: 1349049600, End: 1364774400}, // 2012-10-01 .. 2013-04-01
	}
	if len(got) != len(want) {
		t.Fatalf("got %d ranges, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// Every range spans two quarters and consecutive ranges step one quarter
	for i, r := range got {
		months := time.Unix(r.End, 0).UTC().Sub(time.Unix(r.Start, 0).UTC())
		if months < 180*24*time.Hour || months > 186*24*time.Hour {
			t.Fatalf("range %d spans %v", i, months)
		}
	}
}

func TestQuarterlyRangesStartYearBeyondNow(t *testing.T) {
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	// No quarter of the start year has begun yet, so there is nothing to
	// classify; an empty result, never a panic
	if got := QuarterlyRanges(2050, now); len(got) != 0 {
		t.Fatalf("got %d ranges for a future start year, want 0", len(got))
	}

	// Too little of the start year has elapsed for even one six-month range
	feb := time.Date(2012, 2, 1, 0, 0, 0, 0, time.UTC)
	if got := QuarterlyRanges(2012, feb); len(got) != 0 {
		t.Fatalf("got %d ranges with only one elapsed quarter start, want 0", len(got))
	}
}

// fakeFeatures serves synthetic series with one point per hour over a span
type fakeFeatures struct {
	series map[int64]series.Series
}

func (f *fakeFeatures) AvailableMMSIs(context.Context) (map[int64]bool, error) {
	out := map[int64]bool{}
	for mmsi := range f.series {
		out[mmsi] = true
	}
	return out, nil
}

func (f *fakeFeatures) ReadSeries(_ context.Context, mmsi int64) (series.Series, error) {
	sr, ok := f.series[mmsi]
	if !ok {
		return series.Series{}, perr.NotFoundf("no feature file for vessel %d", mmsi)
	}
	return sr, nil
}

// fakePredictor labels every window with a class derived from the vessel
type fakePredictor struct {
	mu      sync.Mutex
	batches int
}

func (p *fakePredictor) Name() string { return "fake" }

func (p *fakePredictor) Properties() domain.Properties {
	return domain.Properties{WindowMaxPoints: 4, FeatureDimensions: 2, BatchSize: 3}
}

func (p *fakePredictor) Restore([]byte) error { return nil }

func (p *fakePredictor) Predict(_ context.Context, batch domain.Batch) ([]domain.Prediction, error) {
	p.mu.Lock()
	p.batches++
	p.mu.Unlock()

	out := make([]domain.Prediction, batch.Len())
	for i := range out {
		class := "Trawlers"
		if batch.MMSIs[i]%2 == 0 {
			class = "Reefer"
		}
		out[i] = domain.Prediction{Class: class, Probability: 0.875}
	}
	return out, nil
}

// hourlySeries covers [start, end) with one point per hour
func hourlySeries(mmsi, start, end int64) series.Series {
	var rows [][]float64
	for ts := start; ts < end; ts += 3600 {
		rows = append(rows, []float64{float64(ts), 1.0, 2.0})
	}
	return series.Series{MMSI: mmsi, Rows: rows}
}

func testConfig() Config {
	return Config{
		Workers:      2,
		BatchSize:    4,
		WindowLength: 16,
		MinPoints:    16,
		StartYear:    2012,
		Seed:         42,
	}
}

func TestRunWritesQualifyingWindows(t *testing.T) {
	// Vessel 3 covers the first half of 2012 hourly; vessel 999 is missing
	features := &fakeFeatures{series: map[int64]series.Series{
		3: hourlySeries(3, 1325376000, 1341100800),
	}}
	model := &fakePredictor{}

	cfg := testConfig()
	cfg.MMSIs = []int64{3, 999}
	svc := New(nil, features, model, cfg)
	svc.Now = func() time.Time { return time.Date(2013, 1, 15, 0, 0, 0, 0, time.UTC) }

	var sb strings.Builder
	if err := svc.Run(context.Background(), &sb); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	// The data covers January through June, so the first two quarterly
	// ranges hold enough points; the later ranges cover nothing
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), sb.String())
	}
	for _, line := range lines {
		fields := strings.Split(line, ", ")
		if len(fields) != 5 {
			t.Fatalf("line %q has %d fields", line, len(fields))
		}
		if fields[0] != "3" || fields[3] != "Trawlers" || fields[4] != "0.875" {
			t.Fatalf("unexpected line %q", line)
		}
		if !strings.HasPrefix(fields[1], "2012-") {
			t.Fatalf("start %q not ISO 8601", fields[1])
		}
	}

	// The first range is fully covered and must carry the requested bounds
	if !strings.Contains(sb.String(), "2012-01-01T00:00:00, 2012-07-01T00:00:00") {
		t.Fatalf("missing full first range in:\n%s", sb.String())
	}
}

func TestRunSkipsShortCoverage(t *testing.T) {
	// Ten points only: below MinPoints for every range
	features := &fakeFeatures{series: map[int64]series.Series{
		5: hourlySeries(5, 1325376000, 1325376000+10*3600),
	}}
	model := &fakePredictor{}

	cfg := testConfig()
	cfg.MMSIs = []int64{5}
	cfg.MinPoints = 250
	svc := New(nil, features, model, cfg)
	svc.Now = func() time.Time { return time.Date(2013, 1, 15, 0, 0, 0, 0, time.UTC) }

	var sb strings.Builder
	if err := svc.Run(context.Background(), &sb); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sb.Len() != 0 {
		t.Fatalf("expected no output, got:\n%s", sb.String())
	}
	if model.batches != 0 {
		t.Fatalf("model called %d times for unqualifying vessel", model.batches)
	}
}

func TestRunAllAvailableWhenNoSelection(t *testing.T) {
	features := &fakeFeatures{series: map[int64]series.Series{
		3: hourlySeries(3, 1325376000, 1341100800),
		4: hourlySeries(4, 1325376000, 1341100800),
	}}
	model := &fakePredictor{}

	svc := New(nil, features, model, testConfig())
	svc.Now = func() time.Time { return time.Date(2013, 1, 15, 0, 0, 0, 0, time.UTC) }

	var sb strings.Builder
	if err := svc.Run(context.Background(), &sb); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := sb.String()
	if !strings.Contains(out, "Trawlers") || !strings.Contains(out, "Reefer") {
		t.Fatalf("expected both vessels in output:\n%s", out)
	}
}
