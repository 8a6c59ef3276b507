package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vesselclass/internal/core/series"
	perr "vesselclass/internal/platform/errors"
	kit "vesselclass/internal/platform/testkit"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func availableSet(mmsis ...int64) map[int64]bool {
	out := make(map[int64]bool, len(mmsis))
	for _, m := range mmsis {
		out[m] = true
	}
	return out
}

func TestReadRowsBackfillsSublabel(t *testing.T) {
	rows, err := readRows(strings.NewReader(
		"mmsi,label,sublabel\n" +
			"3,Trawlers,\n" +
			"5,Fixed gear,\n" +
			"7,Cargo/Tanker,Tanker\n"))
	if err != nil {
		t.Fatalf("readRows: %v", err)
	}

	// A label that is itself a fine class name backfills an empty sublabel
	if rows[0][SublabelColumn] != "Trawlers" {
		t.Fatalf("row 0 sublabel = %q, want backfilled Trawlers", rows[0][SublabelColumn])
	}
	// A coarse-only label leaves the sublabel empty
	if rows[1][SublabelColumn] != "" {
		t.Fatalf("row 1 sublabel = %q, want empty", rows[1][SublabelColumn])
	}
	// An explicit sublabel is kept
	if rows[2][SublabelColumn] != "Tanker" {
		t.Fatalf("row 2 sublabel = %q, want Tanker", rows[2][SublabelColumn])
	}
}

func TestReadMulticlassMetadata(t *testing.T) {
	// MMSIs 3, 5, 7, 8 hash to Training; 1 hashes to Test
	path := writeFile(t, "metadata.csv",
		"mmsi,label,sublabel\n"+
			"3,Trawlers,\n"+
			"5,Trawlers,\n"+
			"7,Reefer,\n"+
			"8,,\n"+ // unlabelled, dropped
			"1,Cargo/Tanker,\n"+
			"999,Trawlers,\n") // no feature data, dropped

	store, err := ReadMulticlassMetadata(
		availableSet(1, 3, 5, 7, 8), path, SplitAssigner{}, nil, 1.0)
	if err != nil {
		t.Fatalf("ReadMulticlassMetadata: %v", err)
	}

	kit.MustEqualInts(t, store.MMSISForSplit(TrainingSplit), []int64{3, 5, 7})
	kit.MustEqualInts(t, store.MMSISForSplit(TestSplit), []int64{1})

	// Training has two Trawlers and one Reefer, so Reefer is upweighted to
	// balance the classes
	kit.MustAlmostEqual(t, store.VesselWeight(3), 1.0, 1e-12)
	kit.MustAlmostEqual(t, store.VesselWeight(7), 2.0, 1e-12)
	kit.MustAlmostEqual(t, store.VesselWeight(1), 1.0, 1e-12)
}

func TestReadMulticlassMetadataNoLabels(t *testing.T) {
	path := writeFile(t, "metadata.csv", "mmsi,label,sublabel\n3,,\n")

	_, err := ReadMulticlassMetadata(availableSet(3), path, SplitAssigner{}, nil, 1.0)
	if !perr.IsCode(err, perr.ErrorCodeDataIntegrity) {
		t.Fatalf("no labelled vessels: code = %v, want data integrity", perr.CodeOf(err))
	}
}

func TestReadUnweightedMetadata(t *testing.T) {
	path := writeFile(t, "metadata.csv",
		"mmsi,label,sublabel\n"+
			"3,,\n"+
			"5,,\n")

	ranges := map[int64][]series.FishingRange{
		// 100s containing real fishing: upweighted tenfold to 1000
		3: {{StartTime: 0, EndTime: 100, IsFishing: 1}},
		// 50s of false positives only: stays 50, and is the minimum
		5: {{StartTime: 0, EndTime: 50, IsFishing: 0}},
	}

	store, err := ReadUnweightedMetadata(availableSet(3, 5), path, SplitAssigner{}, ranges, 1.0)
	if err != nil {
		t.Fatalf("ReadUnweightedMetadata: %v", err)
	}

	kit.MustAlmostEqual(t, store.VesselWeight(3), 20.0, 1e-12)
	kit.MustAlmostEqual(t, store.VesselWeight(5), 1.0, 1e-12)
}

func TestReadFishingRanges(t *testing.T) {
	path := writeFile(t, "ranges.csv",
		"mmsi,start_time,end_time,is_fishing\n"+
			"3,2015-04-01T00:00:00Z,2015-04-01T01:00:00Z,1.0\n"+
			"3,2015-04-01T02:00:00Z,2015-04-01T03:00:00Z,0.0\n"+
			"5,2015-06-01 00:00:00,2015-06-02 00:00:00,0.5\n")

	got, err := ReadFishingRanges(path)
	if err != nil {
		t.Fatalf("ReadFishingRanges: %v", err)
	}

	if len(got[3]) != 2 || len(got[5]) != 1 {
		t.Fatalf("range counts = %d, %d, want 2, 1", len(got[3]), len(got[5]))
	}
	r := got[3][0]
	if r.StartTime != 1427846400 || r.EndTime != 1427850000 || r.IsFishing != 1.0 {
		t.Fatalf("got[3][0] = %+v", r)
	}
	if got[5][0].Duration() != 86400 {
		t.Fatalf("day-long range duration = %d", got[5][0].Duration())
	}
}

func TestReadFishingRangesBadRow(t *testing.T) {
	path := writeFile(t, "ranges.csv",
		"mmsi,start_time,end_time,is_fishing\n"+
			"3,not-a-time,2015-04-01T01:00:00Z,1.0\n")

	_, err := ReadFishingRanges(path)
	if !perr.IsCode(err, perr.ErrorCodeValidation) {
		t.Fatalf("bad timestamp: code = %v, want validation", perr.CodeOf(err))
	}
}
