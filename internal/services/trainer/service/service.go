// Package service provides the trainer service implementation
package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"vesselclass/internal/core/metadata"
	"vesselclass/internal/core/series"
	perr "vesselclass/internal/platform/errors"
	"vesselclass/internal/platform/logger"
	"vesselclass/internal/platform/store"
	"vesselclass/internal/services/trainer/domain"
)

// Config holds the trainer's sampling and loop parameters
type Config struct {
	// Readers is the number of parallel feature readers
	Readers int `json:"readers" validate:"min=1"`

	// BatchSize is the number of windows per training step
	BatchSize int `json:"batch_size" validate:"min=1"`

	// WindowLength is the fixed point count of every training window
	WindowLength int `json:"window_length" validate:"min=1"`

	// MaxTimeDelta selects time-bounded windows when non-zero (seconds)
	MaxTimeDelta int64 `json:"max_time_delta" validate:"min=0"`

	// MinViableLength is the minimum real point count of a time-bounded crop
	MinViableLength int `json:"min_viable_length" validate:"min=0"`

	// WindowsPerVessel is how many windows each vessel visit contributes
	WindowsPerVessel int `json:"windows_per_vessel" validate:"min=1"`

	// MaxReplicationFactor caps how often one vessel repeats per epoch
	MaxReplicationFactor float64 `json:"max_replication_factor" validate:"gt=0"`

	// QueueCapacity bounds the shuffle buffer between readers and the trainer
	QueueCapacity int `json:"queue_capacity" validate:"min=1"`

	// MinAfterDequeue is how full the shuffle buffer must be before batches
	// are drawn; zero derives capacity minus four batches
	MinAfterDequeue int `json:"min_after_dequeue" validate:"min=0"`

	// TrainingSteps bounds the run
	TrainingSteps int64 `json:"training_steps" validate:"min=1"`

	// CheckpointInterval is the step period between checkpoints
	CheckpointInterval int64 `json:"checkpoint_interval" validate:"min=1"`

	// EvalRetryDelay is the pause before re-polling for a checkpoint
	EvalRetryDelay time.Duration `json:"eval_retry_delay"`

	// Seed fixes all sampling randomness for the run
	Seed int64 `json:"seed"`

	// FishingRangesOnly restricts the epoch list to vessels with fishing
	// ranges, for localisation-only training
	FishingRangesOnly bool `json:"fishing_ranges_only"`
}

var validate = validator.New()

// Normalized fills defaults and derived values
func (c Config) Normalized() Config {
	if c.Readers <= 0 {
		c.Readers = 16
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.WindowsPerVessel <= 0 {
		c.WindowsPerVessel = 1
	}
	if c.MaxReplicationFactor <= 0 {
		c.MaxReplicationFactor = 100
	}
	if c.MinAfterDequeue <= 0 {
		c.MinAfterDequeue = c.QueueCapacity - c.BatchSize*4
	}
	if c.MinAfterDequeue < 0 {
		c.MinAfterDequeue = 0
	}
	if c.EvalRetryDelay <= 0 {
		c.EvalRetryDelay = 10 * time.Second
	}
	return c
}

// Validate checks the config invariants
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return perr.Wrap(err, perr.ErrorCodeValidation, "trainer config")
	}
	if c.MinAfterDequeue >= c.QueueCapacity {
		return perr.Validationf("min_after_dequeue %d must be below queue_capacity %d",
			c.MinAfterDequeue, c.QueueCapacity)
	}
	return nil
}

// Service implements the trainer
type Service struct {
	Meta     *metadata.Store
	Features domain.FeaturePort
	Model    domain.ModelPort
	Runs     domain.RunStorePort
	Cfg      Config
}

// New constructs the trainer service
func New(
	meta *metadata.Store,
	features domain.FeaturePort,
	model domain.ModelPort,
	runs domain.RunStorePort,
	cfg Config,
) *Service {
	if meta == nil {
		panic("trainer.Service requires vessel metadata")
	}
	if features == nil {
		panic("trainer.Service requires a feature port")
	}
	if model == nil {
		panic("trainer.Service requires a model port")
	}
	return &Service{Meta: meta, Features: features, Model: model, Runs: runs, Cfg: cfg.Normalized()}
}

// errTrainingDone stops the pipeline once the step budget is spent
var errTrainingDone = errors.New("training step budget reached")

// Train runs the full training loop: weighted epoch sampling, parallel
// window readers, shuffle batching, and step-bounded optimisation with
// periodic checkpoints
func (s *Service) Train(ctx context.Context) error {
	if err := s.Cfg.Validate(); err != nil {
		return err
	}

	cfgJSON, err := json.Marshal(struct {
		Model string `json:"model"`
		Config
	}{s.Model.Name(), s.Cfg})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "encode trainer config")
	}
	run, err := s.Runs.CreateRun(ctx, "training", string(cfgJSON))
	if err != nil {
		return err
	}
	ctx = logger.WithRun(ctx, run.ID, 0)
	logger.C(ctx).Info().
		Str("model", s.Model.Name()).
		Int64("steps", s.Cfg.TrainingSteps).
		Int("readers", s.Cfg.Readers).
		Msg("trainer: starting run")

	trainErr := s.train(ctx, run.ID)

	status, errText := store.StatusCompleted, ""
	if trainErr != nil {
		status, errText = store.StatusFailed, trainErr.Error()
	}
	if err := s.Runs.FinishRun(context.WithoutCancel(ctx), run.ID, status, errText); err != nil {
		logger.C(ctx).Error().Err(err).Msg("trainer: finish run failed")
	}
	return trainErr
}

func (s *Service) train(ctx context.Context, runID string) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mmsiCh := make(chan int64)
	examples := make(chan domain.Example, s.Cfg.BatchSize)

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

	// Epoch feeder: regenerates the weighted vessel list until cancelled
	go func() {
		defer close(mmsiCh)
		epochRng := rand.New(rand.NewSource(s.Cfg.Seed))
		for epoch := 0; ; epoch++ {
			var list []int64
			if s.Cfg.FishingRangesOnly {
				list = s.Meta.FishingRangeOnlyList(epochRng, metadata.TrainingSplit, s.Cfg.MaxReplicationFactor)
			} else {
				list = s.Meta.WeightedTrainingList(epochRng, metadata.TrainingSplit, s.Cfg.MaxReplicationFactor, nil)
			}
			if len(list) == 0 {
				fatal(perr.DataIntegrityf("no vessels to train on"))
				return
			}
			logger.C(ctx).Info().Int("epoch", epoch).Int("vessels", len(list)).Msg("trainer: epoch list")
			for _, mmsi := range list {
				select {
				case <-ctx.Done():
					return
				case mmsiCh <- mmsi:
				}
			}
		}
	}()

	// Parallel readers, one rng each
	var readers sync.WaitGroup
	for i := 0; i < s.Cfg.Readers; i++ {
		readers.Add(1)
		go func(seed int64) {
			defer readers.Done()
			s.readLoop(ctx, rand.New(rand.NewSource(seed)), mmsiCh, examples, fatal)
		}(s.Cfg.Seed + int64(i) + 1)
	}
	go func() {
		readers.Wait()
		close(examples)
	}()

	// Shuffle-batch and step the model
	trainRng := rand.New(rand.NewSource(s.Cfg.Seed - 1))
	var step int64
	err := shuffleBatches(trainRng, examples,
		s.Cfg.BatchSize, s.Cfg.QueueCapacity, s.Cfg.MinAfterDequeue,
		func(batch domain.Batch) error {
			res, err := s.Model.TrainStep(ctx, batch)
			if err != nil {
				return err
			}
			step++
			if err := s.recordStep(ctx, runID, step, res); err != nil {
				return err
			}
			if step >= s.Cfg.TrainingSteps {
				return errTrainingDone
			}
			return nil
		})

	cancel()
	for range examples {
		// drain so the readers can exit
	}

	fatalMu.Lock()
	defer fatalMu.Unlock()
	switch {
	case fatalErr != nil:
		return fatalErr
	case errors.Is(err, errTrainingDone):
		return s.checkpoint(context.WithoutCancel(ctx), runID, step)
	case err != nil:
		return err
	case parent.Err() != nil:
		return parent.Err()
	default:
		return perr.Internalf("training ended after %d of %d steps", step, s.Cfg.TrainingSteps)
	}
}

// readLoop extracts windows for vessels until the feed closes. Vessels with
// missing or unusable data are skipped; corrupt data aborts the run
func (s *Service) readLoop(
	ctx context.Context,
	rng *rand.Rand,
	mmsiCh <-chan int64,
	examples chan<- domain.Example,
	fatal func(error),
) {
	x := series.Extractor{
		MaxTimeDelta:    s.Cfg.MaxTimeDelta,
		OutputLength:    s.Cfg.WindowLength,
		MinViableLength: s.Cfg.MinViableLength,
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
			logger.C(ctx).Warn().Int64("mmsi", mmsi).Err(err).Msg("trainer: skipping vessel")
			continue
		}

		var ranges []series.FishingRange
		if s.Cfg.MaxTimeDelta == 0 {
			ranges = s.Meta.FishingRanges(mmsi)
		}
		windows, err := x.ExtractN(rng, sr, s.Cfg.WindowsPerVessel, ranges)
		if err != nil {
			if perr.Fatal(err) {
				fatal(err)
				return
			}
			logger.C(ctx).Warn().Int64("mmsi", mmsi).Err(err).Msg("trainer: extraction failed, skipping vessel")
			continue
		}

		for _, w := range windows {
			select {
			case <-ctx.Done():
				return
			case examples <- domain.FromWindow(w):
			}
		}
	}
}

func (s *Service) recordStep(ctx context.Context, runID string, step int64, res domain.StepResult) error {
	if s.Runs != nil {
		if err := s.Runs.LogMetric(ctx, runID, step, "loss", res.Loss); err != nil {
			return err
		}
		for name, value := range res.Metrics {
			if err := s.Runs.LogMetric(ctx, runID, step, name, value); err != nil {
				return err
			}
		}
	}
	if step%s.Cfg.CheckpointInterval == 0 {
		logger.C(ctx).Info().Int64("step", step).Float64("loss", res.Loss).Msg("trainer: step")
		return s.checkpoint(ctx, runID, step)
	}
	return nil
}

func (s *Service) checkpoint(ctx context.Context, runID string, step int64) error {
	if s.Runs == nil {
		return nil
	}
	payload, err := s.Model.Checkpoint()
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "serialize checkpoint")
	}
	return s.Runs.SaveCheckpoint(ctx, runID, step, payload)
}

// Evaluate follows a training run, scoring the held-out split against each
// new checkpoint. A missing checkpoint is retried with a delay; the loop
// ends when the run leaves the running state
func (s *Service) Evaluate(ctx context.Context, runID string) error {
	if err := s.Cfg.Validate(); err != nil {
		return err
	}
	ctx = logger.WithRun(ctx, runID, 0)

	evalRng := rand.New(rand.NewSource(s.Cfg.Seed + 7919))
	var lastStep int64 = -1

	for {
		cp, err := s.Runs.LatestCheckpoint(ctx, runID)
		if err != nil {
			if perr.Retryable(err) {
				logger.C(ctx).Warn().Err(err).Msg("trainer: checkpoint not ready, waiting")
				if err := sleepCtx(ctx, s.Cfg.EvalRetryDelay); err != nil {
					return err
				}
				continue
			}
			return err
		}

		if cp.Step != lastStep {
			lastStep = cp.Step
			if err := s.Model.Restore(cp.Payload); err != nil {
				return perr.Wrap(err, perr.ErrorCodeUnknown, "restore checkpoint")
			}
			if err := s.evalPass(ctx, evalRng, runID, cp.Step); err != nil {
				return err
			}
		}

		run, err := s.runStatus(ctx, runID)
		if err != nil {
			return err
		}
		if run != store.StatusRunning {
			return nil
		}
		if err := sleepCtx(ctx, s.Cfg.EvalRetryDelay); err != nil {
			return err
		}
	}
}

// runStatus fetches the current status of a run when the store supports it
func (s *Service) runStatus(ctx context.Context, runID string) (string, error) {
	getter, ok := s.Runs.(interface {
		GetRun(ctx context.Context, id string) (store.Run, error)
	})
	if !ok {
		return store.StatusCompleted, nil
	}
	run, err := getter.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

// evalPass scores one batch-stream over the held-out split
func (s *Service) evalPass(ctx context.Context, rng *rand.Rand, runID string, step int64) error {
	x := series.Extractor{
		MaxTimeDelta:    s.Cfg.MaxTimeDelta,
		OutputLength:    s.Cfg.WindowLength,
		MinViableLength: s.Cfg.MinViableLength,
	}

	var batch domain.Batch
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		res, err := s.Model.Evaluate(ctx, batch)
		if err != nil {
			return err
		}
		for name, value := range res.Metrics {
			if s.Runs != nil {
				if err := s.Runs.LogMetric(ctx, runID, step, "test_"+name, value); err != nil {
					return err
				}
			}
		}
		batch = domain.Batch{}
		return nil
	}

	for _, mmsi := range s.Meta.MMSISForSplit(metadata.TestSplit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		sr, err := s.Features.ReadSeries(ctx, mmsi)
		if err != nil {
			if perr.Fatal(err) {
				return err
			}
			continue
		}
		w, err := x.Extract(rng, sr, nil)
		if err != nil {
			if perr.Fatal(err) {
				return err
			}
			continue
		}
		batch.Append(domain.FromWindow(w))
		if batch.Len() >= s.Cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
