// Package metadata holds per-vessel label metadata, deterministic dataset
// split assignment, and the weighted vessel lists training samples from
package metadata

import (
	"math/rand"
	"sort"

	"vesselclass/internal/core/series"
	perr "vesselclass/internal/platform/errors"
)

// LabelColumn is the primary vessel class column
const LabelColumn = "label"

// SublabelColumn is the fine vessel class column
const SublabelColumn = "sublabel"

// Vessel is one vessel's metadata row plus its sampling weight
type Vessel struct {
	MMSI   int64
	Row    map[string]string
	Weight float64
}

// Store indexes vessel metadata by split and by identifier, alongside the
// known fishing ranges. Read-only once built
type Store struct {
	bySplit         map[Split]map[int64]Vessel
	byMMSI          map[int64]Vessel
	fishingRanges   map[int64][]series.FishingRange
	fishingUpweight float64
}

// NewStore builds a Store from per-split vessel maps. fishingUpweight
// multiplies the sampling weight of vessels that have fishing ranges
func NewStore(
	bySplit map[Split]map[int64]Vessel,
	fishingRanges map[int64][]series.FishingRange,
	fishingUpweight float64,
) *Store {
	s := &Store{
		bySplit:         bySplit,
		byMMSI:          make(map[int64]Vessel),
		fishingRanges:   fishingRanges,
		fishingUpweight: fishingUpweight,
	}
	for _, vessels := range bySplit {
		for mmsi, v := range vessels {
			s.byMMSI[mmsi] = v
		}
	}
	return s
}

// Len returns the number of vessels across all splits
func (s *Store) Len() int { return len(s.byMMSI) }

// MMSISForSplit returns the vessel identifiers of a split in ascending order
func (s *Store) MMSISForSplit(split Split) []int64 {
	out := make([]int64, 0, len(s.bySplit[split]))
	for mmsi := range s.bySplit[split] {
		out = append(out, mmsi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// VesselWeight returns the sampling weight of a vessel, upweighted when the
// vessel has fishing ranges
func (s *Store) VesselWeight(mmsi int64) float64 {
	v, ok := s.byMMSI[mmsi]
	if !ok {
		return 0
	}
	if _, has := s.fishingRanges[mmsi]; has {
		return v.Weight * s.fishingUpweight
	}
	return v.Weight
}

// VesselLabel returns the named label of a vessel. A vessel without the
// label, or with an empty value, is reported via ErrNoLabel so callers can
// mask the example instead of failing
func (s *Store) VesselLabel(labelName string, mmsi int64) (string, error) {
	v, ok := s.byMMSI[mmsi]
	if !ok {
		return "", perr.Wrapf(perr.ErrNoLabel, perr.ErrorCodeNotFound, "no metadata for vessel %d", mmsi)
	}
	value, ok := v.Row[labelName]
	if !ok || value == "" {
		return "", perr.Wrapf(perr.ErrNoLabel, perr.ErrorCodeNotFound, "vessel %d has no %q label", mmsi, labelName)
	}
	return value, nil
}

// FishingRanges returns the known fishing ranges for a vessel, nil when none
func (s *Store) FishingRanges(mmsi int64) []series.FishingRange {
	return s.fishingRanges[mmsi]
}

// HasFishingRanges reports whether any vessel has fishing ranges
func (s *Store) HasFishingRanges() bool { return len(s.fishingRanges) > 0 }

// replicate appends mmsi to list weight times: the integer part verbatim and
// the fractional remainder as a Bernoulli draw
func replicate(rng *rand.Rand, list []int64, mmsi int64, weight float64) []int64 {
	intN := int(weight)
	for i := 0; i < intN; i++ {
		list = append(list, mmsi)
	}
	if rng.Float64() <= weight-float64(intN) {
		list = append(list, mmsi)
	}
	return list
}

// WeightedTrainingList returns a shuffled vessel list for one epoch of
// training, with each vessel replicated in proportion to its weight (capped
// at maxReplication). filter may be nil to accept every vessel. Iteration is
// in ascending identifier order, so the result depends only on the store
// contents and the rng state
func (s *Store) WeightedTrainingList(
	rng *rand.Rand,
	split Split,
	maxReplication float64,
	filter func(Vessel) bool,
) []int64 {
	var list []int64
	for _, mmsi := range s.MMSISForSplit(split) {
		v := s.bySplit[split][mmsi]
		if filter != nil && !filter(v) {
			continue
		}
		weight := v.Weight
		if _, has := s.fishingRanges[mmsi]; has {
			weight *= s.fishingUpweight
		}
		if weight > maxReplication {
			weight = maxReplication
		}
		list = replicate(rng, list, mmsi, weight)
	}
	rng.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	return list
}

// FishingRangeOnlyList returns a shuffled weighted vessel list restricted to
// vessels that have fishing ranges, for training localisation objectives
func (s *Store) FishingRangeOnlyList(rng *rand.Rand, split Split, maxReplication float64) []int64 {
	var list []int64
	for _, mmsi := range s.MMSISForSplit(split) {
		if _, has := s.fishingRanges[mmsi]; !has {
			continue
		}
		weight := s.VesselWeight(mmsi)
		if weight > maxReplication {
			weight = maxReplication
		}
		list = replicate(rng, list, mmsi, weight)
	}
	rng.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	return list
}
