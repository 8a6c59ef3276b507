package featurestore

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"vesselclass/internal/core/series"
	perr "vesselclass/internal/platform/errors"
)

// ManifestName is the vessel-universe manifest file inside a feature dir
const ManifestName = "mmsis.txt"

// Store reads per-vessel feature files from one directory
type Store struct {
	dir string
}

// NewStore opens a feature directory
func NewStore(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeNotFound, "feature dir %s", dir)
	}
	if !info.IsDir() {
		return nil, perr.InvalidArgf("feature path %s is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(mmsi int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.json.gz", mmsi))
}

// AvailableMMSIs returns the set of vessels with feature data, from the
// manifest when present, otherwise from the directory listing
func (s *Store) AvailableMMSIs(ctx context.Context) (map[int64]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest := filepath.Join(s.dir, ManifestName)
	if f, err := os.Open(manifest); err == nil {
		defer f.Close()
		out := map[int64]bool{}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			mmsi, err := strconv.ParseInt(line, 10, 64)
			if err != nil {
				return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "bad manifest line %q", line)
			}
			out[mmsi] = true
		}
		if err := sc.Err(); err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeIO, "read manifest")
		}
		return out, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "list feature dir %s", s.dir)
	}
	out := map[int64]bool{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json.gz") {
			continue
		}
		mmsi, err := strconv.ParseInt(strings.TrimSuffix(name, ".json.gz"), 10, 64)
		if err != nil {
			continue
		}
		out[mmsi] = true
	}
	return out, nil
}

// SortedMMSIs returns the available vessels in ascending order
func (s *Store) SortedMMSIs(ctx context.Context) ([]int64, error) {
	available, err := s.AvailableMMSIs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(available))
	for mmsi := range available {
		out = append(out, mmsi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ReadSeries loads one vessel's full movement series and validates its
// invariants. A missing file reports NotFound so callers can skip the vessel
func (s *Store) ReadSeries(ctx context.Context, mmsi int64) (series.Series, error) {
	if err := ctx.Err(); err != nil {
		return series.Series{}, err
	}

	f, err := os.Open(s.path(mmsi))
	if err != nil {
		if os.IsNotExist(err) {
			return series.Series{}, perr.NotFoundf("no feature file for vessel %d", mmsi)
		}
		return series.Series{}, perr.Wrapf(err, perr.ErrorCodeIO, "open features for vessel %d", mmsi)
	}

	rd, err := NewReader(f)
	if err != nil {
		return series.Series{}, err
	}
	defer rd.Close()

	var rows [][]float64
	for {
		row, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return series.Series{}, perr.Wrapf(err, perr.CodeOf(err), "vessel %d", mmsi)
		}
		rows = append(rows, row)
	}

	out := series.Series{MMSI: mmsi, Rows: rows}
	if err := out.Validate(); err != nil {
		return series.Series{}, err
	}
	return out, nil
}

// WriteSeries writes one vessel's movement series as a gzip feature file
func (s *Store) WriteSeries(ctx context.Context, sr series.Series) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sr.Validate(); err != nil {
		return err
	}

	f, err := os.Create(s.path(sr.MMSI))
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "create features for vessel %d", sr.MMSI)
	}

	gz := gzip.NewWriter(f)
	w := bufio.NewWriter(gz)
	for _, row := range sr.Rows {
		b, err := json.Marshal(row)
		if err != nil {
			f.Close()
			return perr.Wrapf(err, perr.ErrorCodeIO, "encode feature row for vessel %d", sr.MMSI)
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			f.Close()
			return perr.Wrapf(err, perr.ErrorCodeIO, "write features for vessel %d", sr.MMSI)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return perr.Wrap(err, perr.ErrorCodeIO, "flush features")
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return perr.Wrap(err, perr.ErrorCodeIO, "close gzip features")
	}
	if err := f.Close(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "close feature file")
	}
	return nil
}

// WriteManifest writes the vessel-universe manifest
func (s *Store) WriteManifest(ctx context.Context, mmsis []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var sb strings.Builder
	for _, mmsi := range mmsis {
		sb.WriteString(strconv.FormatInt(mmsi, 10))
		sb.WriteByte('\n')
	}
	path := filepath.Join(s.dir, ManifestName)
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "write manifest")
	}
	return nil
}
