// Package service provides the batch inference implementation
package service

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"vesselclass/internal/core/metadata"
	"vesselclass/internal/core/series"
	perr "vesselclass/internal/platform/errors"
	"vesselclass/internal/platform/logger"
	ptime "vesselclass/internal/platform/time"
	"vesselclass/internal/services/inference/domain"
	trainerdom "vesselclass/internal/services/trainer/domain"
)

// Config holds the inference parameters
type Config struct {
	// Workers is the number of parallel feature readers
	Workers int `json:"workers" validate:"min=1"`

	// BatchSize is the number of windows per model call
	BatchSize int `json:"batch_size" validate:"min=1"`

	// WindowLength is the fixed point count of every window
	WindowLength int `json:"window_length" validate:"min=1"`

	// MinPoints is the minimum real point count a time range must cover to
	// be classified
	MinPoints int `json:"min_points" validate:"min=1"`

	// StartYear anchors the quarterly inference ranges
	StartYear int `json:"start_year" validate:"min=1970"`

	// Split restricts inference to one dataset split; empty means every
	// available vessel
	Split metadata.Split `json:"split"`

	// MMSIs restricts inference to an explicit vessel list; overrides Split
	MMSIs []int64 `json:"mmsis"`

	// Seed fixes the sub-span randomness inside over-long ranges
	Seed int64 `json:"seed"`
}

var validate = validator.New()

// Normalized fills defaults
func (c Config) Normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 16
	}
	if c.MinPoints <= 0 {
		c.MinPoints = 250
	}
	if c.StartYear == 0 {
		c.StartYear = 2012
	}
	return c
}

// Validate checks the config invariants
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return perr.Wrap(err, perr.ErrorCodeValidation, "inference config")
	}
	return nil
}

// QuarterlyRanges returns six-month inference ranges stepping by quarter:
// each range starts on the first of January, April, July, or October and
// spans two quarters. Generation stops once a start passes now; a start year
// beyond now yields no ranges
func QuarterlyRanges(startYear int, now time.Time) []series.TimeRange {
	var starts []int64
	for year := startYear; ; year++ {
		for _, month := range []time.Month{time.January, time.April, time.July, time.October} {
			dt := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
			starts = append(starts, dt.Unix())
			if dt.After(now) {
				if len(starts) < 3 {
					return nil
				}
				out := make([]series.TimeRange, 0, len(starts)-2)
				for i := 0; i+2 < len(starts); i++ {
					out = append(out, series.TimeRange{Start: starts[i], End: starts[i+2]})
				}
				return out
			}
		}
	}
}

// Service implements batch inference
type Service struct {
	Meta     *metadata.Store
	Features trainerdom.FeaturePort
	Model    domain.PredictPort
	Cfg      Config

	// Now is injectable for tests; defaults to time.Now
	Now func() time.Time
}

// New constructs the inference service
func New(
	meta *metadata.Store,
	features trainerdom.FeaturePort,
	model domain.PredictPort,
	cfg Config,
) *Service {
	if features == nil {
		panic("inference.Service requires a feature port")
	}
	if model == nil {
		panic("inference.Service requires a model port")
	}
	return &Service{Meta: meta, Features: features, Model: model, Cfg: cfg.Normalized(), Now: time.Now}
}

// selectMMSIs resolves the vessel universe for this run
func (s *Service) selectMMSIs(ctx context.Context) ([]int64, error) {
	if len(s.Cfg.MMSIs) > 0 {
		return s.Cfg.MMSIs, nil
	}
	if s.Cfg.Split != "" {
		if s.Meta == nil {
			return nil, perr.InvalidArgf("split selection requires vessel metadata")
		}
		return s.Meta.MMSISForSplit(s.Cfg.Split), nil
	}

	available, err := s.Features.AvailableMMSIs(ctx)
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

// Run classifies every selected vessel over the quarterly ranges and writes
// one line per qualifying window to w in vessel, start, end, class,
// probability form. Output lines are serialized through a single writer;
// vessels are processed by a bounded worker pool
func (s *Service) Run(ctx context.Context, w io.Writer) error {
	if err := s.Cfg.Validate(); err != nil {
		return err
	}

	mmsis, err := s.selectMMSIs(ctx)
	if err != nil {
		return err
	}
	ranges := QuarterlyRanges(s.Cfg.StartYear, s.Now().UTC())
	logger.C(ctx).Info().
		Str("model", s.Model.Name()).
		Int("vessels", len(mmsis)).
		Int("time_ranges", len(ranges)).
		Msg("inference: starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mmsiCh := make(chan int64)
	results := make(chan domain.Result, s.Cfg.BatchSize)

	go func() {
		defer close(mmsiCh)
		for _, mmsi := range mmsis {
			select {
			case <-ctx.Done():
				return
			case mmsiCh <- mmsi:
			}
		}
	}()

	var fatalMu sync.Mutex
	var fatalErr error
	fatal := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
		cancel()
	}

	var workers sync.WaitGroup
	for i := 0; i < s.Cfg.Workers; i++ {
		workers.Add(1)
		go func(seed int64) {
			defer workers.Done()
			s.classifyLoop(ctx, rand.New(rand.NewSource(seed)), ranges, mmsiCh, results, fatal)
		}(s.Cfg.Seed + int64(i) + 1)
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	// Single serialized writer
	var writeErr error
	for res := range results {
		if writeErr != nil {
			continue // drain so the workers can exit
		}
		_, err := fmt.Fprintf(w, "%d, %s, %s, %s, %.3f\n",
			res.MMSI, ptime.ISO(res.StartTime), ptime.ISO(res.EndTime), res.Class, res.Prob)
		if err != nil {
			writeErr = perr.Wrap(err, perr.ErrorCodeIO, "write inference result")
			cancel()
		}
	}

	fatalMu.Lock()
	defer fatalMu.Unlock()
	switch {
	case fatalErr != nil:
		return fatalErr
	case writeErr != nil:
		return writeErr
	default:
		return ctx.Err()
	}
}

// classifyLoop reads vessels from mmsiCh, extracts their per-range windows,
// and streams predictions to results
func (s *Service) classifyLoop(
	ctx context.Context,
	rng *rand.Rand,
	ranges []series.TimeRange,
	mmsiCh <-chan int64,
	results chan<- domain.Result,
	fatal func(error),
) {
	g := series.GridExtractor{
		OutputLength: s.Cfg.WindowLength,
		MinPoints:    s.Cfg.MinPoints,
	}

	for {
		var mmsi int64
		var ok bool
		select {
		case <-ctx.Done():
			return
		case mmsi, ok = <-mmsiCh:
			if !ok {
				return
			}
		}

		sr, err := s.Features.ReadSeries(ctx, mmsi)
		if err != nil {
			if perr.Fatal(err) {
				fatal(err)
				return
			}
			if ctx.Err() != nil {
				return
			}
			logger.C(ctx).Warn().Int64("mmsi", mmsi).Err(err).Msg("inference: skipping vessel")
			continue
		}

		windows, err := g.ExtractForTimeRanges(rng, sr, ranges)
		if err != nil {
			if perr.Fatal(err) {
				fatal(err)
				return
			}
			logger.C(ctx).Warn().Int64("mmsi", mmsi).Err(err).Msg("inference: extraction failed, skipping vessel")
			continue
		}
		if len(windows) == 0 {
			continue
		}

		for start := 0; start < len(windows); start += s.Cfg.BatchSize {
			end := start + s.Cfg.BatchSize
			if end > len(windows) {
				end = len(windows)
			}

			var batch domain.Batch
			for _, win := range windows[start:end] {
				batch.Append(trainerdom.FromWindow(win))
			}
			preds, err := s.Model.Predict(ctx, batch)
			if err != nil {
				fatal(err)
				return
			}
			if len(preds) != batch.Len() {
				fatal(perr.Internalf("model returned %d predictions for %d windows", len(preds), batch.Len()))
				return
			}

			for j, p := range preds {
				select {
				case <-ctx.Done():
					return
				case results <- domain.Result{
					MMSI:      batch.MMSIs[j],
					StartTime: batch.TimeBounds[j][0],
					EndTime:   batch.TimeBounds[j][1],
					Class:     p.Class,
					Prob:      p.Probability,
				}:
				}
			}
		}
	}
}
