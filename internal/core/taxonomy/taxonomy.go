// Package taxonomy defines the vessel class label sets and the multihot
// encoding that relates them. The fine labels are the real categories;
// coarse and fishing/non-fishing groupings are defined in terms of them
package taxonomy

import "fmt"

// Category groups a set of fine labels under one name
type Category struct {
	Name string
	Fine []string
}

// DetailedNames is the fine vessel label set. Order is load-bearing: it fixes
// the column order of the multihot table and the class axis of model outputs
var DetailedNames = []string{
	"Squid", "Trawlers", "Seismic vessel", "Set gillnets", "Reefer",
	"Pole and line", "Purse seines", "Pots and traps", "Cargo", "Sailing",
	"Set longlines", "Drifting longlines", "Tanker", "Tug", "Pilot",
}

// ClassNames is the coarse vessel label set
var ClassNames = []string{
	"Passenger", "Squid", "Cargo/Tanker", "Trawlers",
	"Seismic vessel", "Fixed gear", "Reefer",
	"Drifting longlines", "Pole and line", "Purse seines",
	"Tug/Pilot",
}

// FishingNames is the binary fishing label set
var FishingNames = []string{"Fishing", "Non-fishing"}

// CoarseCategories maps each coarse label to its fine members, ordered to
// match the coarse block of the multihot table
var CoarseCategories = []Category{
	{"Trawlers", []string{"Trawlers"}},
	{"Fixed gear", []string{"Pots and traps", "Set gillnets", "Set longlines"}},
	{"Drifting longlines", []string{"Drifting longlines"}},
	{"Purse seines", []string{"Purse seines"}},
	{"Squid", []string{"Squid"}},
	{"Pole and line", []string{"Pole and line"}},
	{"Cargo/Tanker", []string{"Cargo", "Tanker"}},
	{"Reefer", []string{"Reefer"}},
	{"Passenger", []string{"Sailing"}},
	{"Seismic vessel", []string{"Seismic vessel"}},
	{"Tug/Pilot", []string{"Tug", "Pilot"}},
}

// FishingCategories partitions the fine labels into fishing and non-fishing
var FishingCategories = []Category{
	{"Fishing", []string{
		"Drifting longlines", "Set longlines", "Trawlers", "Pots and traps",
		"Set gillnets", "Purse seines", "Squid", "Pole and line",
	}},
	{"Non-fishing", []string{
		"Cargo", "Tanker", "Reefer", "Sailing",
		"Seismic vessel", "Tug", "Pilot",
	}},
}

var (
	detailedIndex = indexOf(DetailedNames)
	coarseIndex   = indexOf(ClassNames)
	fineToCoarse  = mustBuildFineToCoarse()

	// lookup has one row per possible label key: fine rows first, then one
	// row per coarse category, then fishing and non-fishing. Each row marks
	// the fine labels the key admits
	lookup = mustBuildLookup()
)

func indexOf(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}

func mustBuildLookup() [][]int32 {
	nFine := len(DetailedNames)
	rows := make([][]int32, nFine+len(CoarseCategories)+len(FishingCategories))
	for i := range rows {
		rows[i] = make([]int32, nFine)
	}
	for i := 0; i < nFine; i++ {
		rows[i][i] = 1
	}
	for i, cat := range CoarseCategories {
		for _, fine := range cat.Fine {
			j, ok := detailedIndex[fine]
			if !ok {
				panic(fmt.Sprintf("taxonomy: coarse category %q references unknown fine label %q", cat.Name, fine))
			}
			rows[nFine+i][j] = 1
		}
	}
	for i, cat := range FishingCategories {
		for _, fine := range cat.Fine {
			j, ok := detailedIndex[fine]
			if !ok {
				panic(fmt.Sprintf("taxonomy: fishing category %q references unknown fine label %q", cat.Name, fine))
			}
			rows[nFine+len(CoarseCategories)+i][j] = 1
		}
	}
	return rows
}

func mustBuildFineToCoarse() map[string]string {
	m := make(map[string]string, len(DetailedNames))
	for _, cat := range CoarseCategories {
		for _, fine := range cat.Fine {
			if _, dup := m[fine]; dup {
				panic(fmt.Sprintf("taxonomy: fine label %q appears in two coarse categories", fine))
			}
			m[fine] = cat.Name
		}
	}
	return m
}

// CoarseName maps a label to its coarse category: fine labels resolve to
// their category, coarse labels pass through, anything else is empty
func CoarseName(name string) string {
	if c, ok := fineToCoarse[name]; ok {
		return c
	}
	if _, ok := coarseIndex[name]; ok {
		return name
	}
	return ""
}

// DetailedIndex returns the index of a fine label, or -1 if unknown
func DetailedIndex(name string) int {
	if i, ok := detailedIndex[name]; ok {
		return i
	}
	return -1
}

// CoarseIndex returns the index of a coarse label, or -1 if unknown
func CoarseIndex(name string) int {
	if i, ok := coarseIndex[name]; ok {
		return i
	}
	return -1
}

// IsDetailedName reports whether name is a fine label
func IsDetailedName(name string) bool {
	_, ok := detailedIndex[name]
	return ok
}

// MultihotRow returns the fine-label bit row for the most specific label
// available: the fine label when fine >= 0, else the coarse category when
// coarse >= 0, else the fishing row. fishing indexes FishingNames, so 0 is
// Fishing and 1 is Non-fishing
func MultihotRow(fishing, coarse, fine int) []int32 {
	nFine := len(DetailedNames)
	nCoarse := len(CoarseCategories)
	var key int
	switch {
	case fine >= 0:
		key = fine
	case coarse >= 0:
		key = nFine + coarse
	default:
		key = nFine + nCoarse + fishing
	}
	return lookup[key]
}

// CoarseRows returns the coarse block of the multihot table, one row per
// coarse category in CoarseCategories order
func CoarseRows() [][]int32 {
	nFine := len(DetailedNames)
	return lookup[nFine : nFine+len(CoarseCategories)]
}

// FishingRows returns the fishing/non-fishing block of the multihot table
func FishingRows() [][]int32 {
	n := len(DetailedNames) + len(CoarseCategories)
	return lookup[n:]
}
