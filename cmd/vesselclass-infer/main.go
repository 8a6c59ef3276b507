package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"vesselclass/internal/adapters/featurestore"
	"vesselclass/internal/adapters/linearmodel"
	"vesselclass/internal/core/metadata"
	"vesselclass/internal/core/taxonomy"
	"vesselclass/internal/core/version"
	"vesselclass/internal/platform/config"
	"vesselclass/internal/platform/logger"
	"vesselclass/internal/platform/store"
	inferencesvc "vesselclass/internal/services/inference/service"
	trainerdom "vesselclass/internal/services/trainer/domain"
)

// readMMSIFile reads one MMSI per line, ignoring blanks and # comments
func readMMSIFile(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		mmsi, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, mmsi)
	}
	return out, sc.Err()
}

func main() {
	_ = godotenv.Load()

	l := logger.Get()
	build := version.Info("vesselclass-infer")
	l.Info().Str("version", build.Version).Str("commit", build.Commit).Msg("starting")

	root := config.New()
	inferCfg := root.Prefix("INFER_")
	modelCfg := root.Prefix("MODEL_")

	var (
		fFeatures = flag.String("features", "", "per-vessel feature file directory")
		fDB       = flag.String("db", "vesselclass.db", "run store sqlite path")
		fRun      = flag.String("run", "", "training run ID whose latest checkpoint to classify with")
		fOut      = flag.String("out", "", "output CSV path (default stdout)")
		fMetadata = flag.String("metadata", "", "vessel metadata CSV, needed with -split")
		fSplit    = flag.String("split", "", "restrict to one dataset split: Training or Test")
		fMMSIs    = flag.String("mmsi-file", "", "classify only the MMSIs listed in this file, one per line")
	)
	flag.Parse()

	if *fFeatures == "" || *fRun == "" {
		l.Panic().Msg("must provide -features and -run")
	}
	split := metadata.Split(*fSplit)
	if split != "" && split != metadata.TrainingSplit && split != metadata.TestSplit {
		l.Panic().Str("split", *fSplit).Msg("-split must be Training or Test")
	}
	if split != "" && *fMetadata == "" {
		l.Panic().Msg("-split needs -metadata to know the split assignments")
	}

	ctx := context.Background()

	features, err := featurestore.NewStore(*fFeatures)
	if err != nil {
		l.Panic().Err(err).Str("dir", *fFeatures).Msg("feature store open failed")
	}

	runs := store.New(*fDB)
	if err := runs.Init(ctx); err != nil {
		l.Panic().Err(err).Str("path", *fDB).Msg("run store init failed")
	}
	defer func() {
		if err := runs.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close run store")
		}
	}()

	props := trainerdom.Properties{
		WindowMaxPoints:          modelCfg.MayInt("WINDOW_MAX_POINTS", 512),
		MaxWindowDurationSeconds: int64(modelCfg.MayInt("MAX_WINDOW_DURATION_SECONDS", 0)),
		MinViableTimesliceLength: modelCfg.MayInt("MIN_VIABLE_LENGTH", 250),
		FeatureDimensions:        modelCfg.MayInt("FEATURE_DIMS", 9),
		BatchSize:                modelCfg.MayInt("BATCH_SIZE", 32),
	}
	model := linearmodel.NewUnlabelled("Vessel-class", taxonomy.ClassNames, props)

	ckpt, err := runs.LatestCheckpoint(ctx, *fRun)
	if err != nil {
		l.Panic().Err(err).Str("run_id", *fRun).Msg("no checkpoint to classify with")
	}
	if err := model.Restore(ckpt.Payload); err != nil {
		l.Panic().Err(err).Str("run_id", *fRun).Int64("step", ckpt.Step).Msg("checkpoint restore failed")
	}
	l.Info().Str("run_id", *fRun).Int64("step", ckpt.Step).Msg("checkpoint restored")

	var meta *metadata.Store
	if *fMetadata != "" {
		available, err := features.AvailableMMSIs(ctx)
		if err != nil {
			l.Panic().Err(err).Msg("feature listing failed")
		}
		assigner := metadata.SplitAssigner{Salt: inferCfg.MayString("SPLIT_SALT", "")}
		meta, err = metadata.ReadMulticlassMetadata(available, *fMetadata, assigner, nil, 1.0)
		if err != nil {
			l.Panic().Err(err).Str("path", *fMetadata).Msg("metadata load failed")
		}
	}

	var mmsis []int64
	if *fMMSIs != "" {
		mmsis, err = readMMSIFile(*fMMSIs)
		if err != nil {
			l.Panic().Err(err).Str("path", *fMMSIs).Msg("mmsi file load failed")
		}
	}

	out := os.Stdout
	if *fOut != "" {
		out, err = os.Create(*fOut)
		if err != nil {
			l.Panic().Err(err).Str("path", *fOut).Msg("output open failed")
		}
		defer func() {
			if err := out.Close(); err != nil {
				l.Error().Err(err).Msg("failed to close output")
			}
		}()
	}

	cfg := inferencesvc.Config{
		Workers:      inferCfg.MayInt("WORKERS", 16),
		BatchSize:    props.BatchSize,
		WindowLength: props.WindowMaxPoints,
		MinPoints:    inferCfg.MayInt("MIN_POINTS", 250),
		StartYear:    inferCfg.MayInt("START_YEAR", 2012),
		Split:        split,
		MMSIs:        mmsis,
		Seed:         int64(inferCfg.MayInt("SEED", 0)),
	}
	svc := inferencesvc.New(meta, features, model, cfg)

	cfgJSON, err := json.Marshal(struct {
		Model        string `json:"model"`
		TrainingRun  string `json:"training_run"`
		TrainingStep int64  `json:"training_step"`
		inferencesvc.Config
	}{model.Name(), *fRun, ckpt.Step, cfg})
	if err != nil {
		l.Panic().Err(err).Msg("encode inference config")
	}
	run, err := runs.CreateRun(ctx, "inference", string(cfgJSON))
	if err != nil {
		l.Panic().Err(err).Msg("run record failed")
	}

	bw := bufio.NewWriter(out)
	cw := &lineCountWriter{w: bw}
	runErr := svc.Run(ctx, cw)
	if runErr == nil {
		runErr = bw.Flush()
	}

	if err := runs.LogMetric(ctx, run.ID, ckpt.Step, "windows_written", float64(cw.lines)); err != nil {
		l.Error().Err(err).Msg("failed to record window count")
	}
	status, errText := store.StatusCompleted, ""
	if runErr != nil {
		status, errText = store.StatusFailed, runErr.Error()
	}
	if err := runs.FinishRun(ctx, run.ID, status, errText); err != nil {
		l.Error().Err(err).Msg("failed to finish run record")
	}
	if runErr != nil {
		l.Fatal().Err(runErr).Msg("inference failed")
	}
	l.Info().Str("run_id", run.ID).Int64("windows", cw.lines).Msg("inference complete")
}

// lineCountWriter counts output rows on their way to the sink
type lineCountWriter struct {
	w     io.Writer
	lines int64
}

func (c *lineCountWriter) Write(p []byte) (int, error) {
	c.lines += int64(bytes.Count(p, []byte{'\n'}))
	return c.w.Write(p)
}
