package featurestore

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"io"

	perr "vesselclass/internal/platform/errors"
)

const maxScanTokenSize = 4 * 1024 * 1024

// Reader streams feature rows from one vessel's gzip file
type Reader struct {
	r     io.ReadCloser
	gz    *gzip.Reader
	sc    *bufio.Scanner
	err   error
	rows  int
	bytes int64
}

// NewReader wraps a gzip feature file
func NewReader(r io.ReadCloser) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		if cerr := r.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "open gzip feature stream")
	}
	sc := bufio.NewScanner(gz)
	buf := make([]byte, 64*1024)
	sc.Buffer(buf, maxScanTokenSize)
	return &Reader{r: r, gz: gz, sc: sc}, nil
}

// Next reads the next feature row; returns io.EOF when done. A line that is
// not a numeric JSON array is a data-integrity failure
func (rd *Reader) Next() ([]float64, error) {
	if rd.err != nil {
		return nil, rd.err
	}
	for {
		if !rd.sc.Scan() {
			if err := rd.sc.Err(); err != nil {
				rd.err = perr.Wrap(err, perr.ErrorCodeIO, "scan feature stream")
				return nil, rd.err
			}
			rd.err = io.EOF
			return nil, io.EOF
		}
		line := rd.sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var row []float64
		if err := json.Unmarshal(line, &row); err != nil {
			rd.err = perr.Wrapf(err, perr.ErrorCodeDataIntegrity, "malformed feature row %d", rd.rows)
			return nil, rd.err
		}
		rd.rows++
		rd.bytes += int64(len(line) + 1)
		return row, nil
	}
}

// Close closes the underlying readers
func (rd *Reader) Close() error {
	var first error
	if rd.gz != nil {
		if err := rd.gz.Close(); err != nil {
			first = err
		}
	}
	if rd.r != nil {
		if err := rd.r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stats returns the number of rows parsed and uncompressed bytes read so far
func (rd *Reader) Stats() (rows int, bytes int64) {
	return rd.rows, rd.bytes
}
