package metadata

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// Split names a dataset partition
type Split string

const (
	// TrainingSplit holds the vessels used for optimisation
	TrainingSplit Split = "Training"

	// TestSplit holds the held-out vessels used for evaluation
	TestSplit Split = "Test"
)

// SplitAssigner deterministically maps a vessel identifier to a dataset
// split. The assignment depends only on the identifier and the salt, so
// every process sees the same partition without coordination
type SplitAssigner struct {
	// Salt is concatenated to the identifier so more than one independent
	// assignment can be derived per vessel
	Salt string
}

// Unit hashes the identifier to a value in [0, 1)
func (a SplitAssigner) Unit(mmsi int64) float64 {
	sum := md5.Sum([]byte(fmt.Sprintf("%d_%s", mmsi, a.Salt)))
	return float64(binary.LittleEndian.Uint32(sum[:4])) / (1 << 32)
}

// Assign returns the split for a vessel: Test when the hashed unit value is
// at least 0.5, Training otherwise
func (a SplitAssigner) Assign(mmsi int64) Split {
	if a.Unit(mmsi) >= 0.5 {
		return TestSplit
	}
	return TrainingSplit
}

// IsTest reports whether the vessel belongs to the held-out split
func (a SplitAssigner) IsTest(mmsi int64) bool { return a.Assign(mmsi) == TestSplit }
