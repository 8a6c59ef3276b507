package metadata

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"vesselclass/internal/core/series"
	"vesselclass/internal/core/taxonomy"
	perr "vesselclass/internal/platform/errors"
	ptime "vesselclass/internal/platform/time"
)

// nonFalsePositiveUpweight boosts vessels whose fishing ranges contain real
// fishing over pure false-positive vessels in the unweighted reader
const nonFalsePositiveUpweight = 10.0

// readRows reads a headered CSV into one map per row, backfilling an empty
// sublabel with the label when the label is itself a fine class name
func readRows(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "read metadata header")
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeIO, "read metadata row")
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		if row[SublabelColumn] == "" && taxonomy.IsDetailedName(row[LabelColumn]) {
			row[SublabelColumn] = row[LabelColumn]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func rowMMSI(row map[string]string) (int64, error) {
	mmsi, err := strconv.ParseInt(row["mmsi"], 10, 64)
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeValidation, "bad mmsi %q", row["mmsi"])
	}
	return mmsi, nil
}

// ReadMulticlassMetadata reads vessel metadata from a CSV file and weights
// each vessel by class balance: within a split, a vessel's weight is the
// count of the most frequent class divided by the count of its own class.
// Vessels without feature data or without a label are dropped. No labelled
// vessel at all is a fatal input error
func ReadMulticlassMetadata(
	available map[int64]bool,
	path string,
	assigner SplitAssigner,
	fishingRanges map[int64][]series.FishingRange,
	fishingUpweight float64,
) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "open metadata %s", path)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return nil, err
	}

	type labelled struct {
		mmsi  int64
		split Split
		class string
		row   map[string]string
	}
	var vessels []labelled
	classCounts := map[Split]map[string]int{}

	for _, row := range rows {
		mmsi, err := rowMMSI(row)
		if err != nil {
			return nil, err
		}
		class := row[LabelColumn]
		if !available[mmsi] || class == "" {
			continue
		}
		split := assigner.Assign(mmsi)
		vessels = append(vessels, labelled{mmsi, split, class, row})
		if classCounts[split] == nil {
			classCounts[split] = map[string]int{}
		}
		classCounts[split][class]++
	}

	if len(vessels) == 0 {
		return nil, perr.DataIntegrityf("no labelled vessels in %s", path)
	}

	classWeights := map[Split]map[string]float64{}
	for split, counts := range classCounts {
		maxCount := 0
		for _, n := range counts {
			if n > maxCount {
				maxCount = n
			}
		}
		classWeights[split] = make(map[string]float64, len(counts))
		for class, n := range counts {
			classWeights[split][class] = float64(maxCount) / float64(n)
		}
	}

	bySplit := map[Split]map[int64]Vessel{}
	for _, v := range vessels {
		if bySplit[v.split] == nil {
			bySplit[v.split] = map[int64]Vessel{}
		}
		bySplit[v.split][v.mmsi] = Vessel{
			MMSI:   v.mmsi,
			Row:    v.row,
			Weight: classWeights[v.split][v.class],
		}
	}

	return NewStore(bySplit, fishingRanges, fishingUpweight), nil
}

// ReadUnweightedMetadata reads vessel metadata and weights each vessel by
// its total fishing-range time instead of class balance, for localisation
// training where labels may be absent. Vessels whose ranges contain real
// fishing (not only false positives) are upweighted, then all weights are
// normalised by the smallest non-zero time
func ReadUnweightedMetadata(
	available map[int64]bool,
	path string,
	assigner SplitAssigner,
	fishingRanges map[int64][]series.FishingRange,
	fishingUpweight float64,
) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "open metadata %s", path)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return nil, err
	}

	bySplit := map[Split]map[int64]Vessel{}
	minTime := math.Inf(1)

	for _, row := range rows {
		mmsi, err := rowMMSI(row)
		if err != nil {
			return nil, err
		}
		if !available[mmsi] {
			continue
		}

		var total float64
		falsePositiveOnly := true
		for _, rng := range fishingRanges[mmsi] {
			total += float64(rng.Duration())
			if rng.IsFishing > 0.5 {
				falsePositiveOnly = false
			}
		}
		if !falsePositiveOnly {
			total *= nonFalsePositiveUpweight
		}
		if total > 0 && total < minTime {
			minTime = total
		}

		split := assigner.Assign(mmsi)
		if bySplit[split] == nil {
			bySplit[split] = map[int64]Vessel{}
		}
		bySplit[split][mmsi] = Vessel{MMSI: mmsi, Row: row, Weight: total}
	}

	if !math.IsInf(minTime, 1) {
		for _, vessels := range bySplit {
			for mmsi, v := range vessels {
				v.Weight /= minTime
				vessels[mmsi] = v
			}
		}
	}

	return NewStore(bySplit, fishingRanges, fishingUpweight), nil
}

// ReadFishingRanges reads classified fishing ranges from a headered CSV of
// mmsi, start time, end time, is_fishing rows, keyed by vessel
func ReadFishingRanges(path string) (map[int64][]series.FishingRange, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "open fishing ranges %s", path)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "read fishing range header")
	}

	out := map[int64][]series.FishingRange{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeIO, "read fishing range row")
		}
		if len(rec) < 4 {
			return nil, perr.Validationf("fishing range row has %d columns, want 4", len(rec))
		}

		mmsi, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "bad fishing range mmsi %q", rec[0])
		}
		start, err := ptime.ParseISO(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "bad fishing range start %q", rec[1])
		}
		end, err := ptime.ParseISO(strings.TrimSpace(rec[2]))
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "bad fishing range end %q", rec[2])
		}
		isFishing, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "bad fishing range value %q", rec[3])
		}

		out[mmsi] = append(out[mmsi], series.FishingRange{
			StartTime: start.Unix(),
			EndTime:   end.Unix(),
			IsFishing: isFishing,
		})
	}
	return out, nil
}
