package main

import (
	"context"
	"flag"

	"github.com/joho/godotenv"

	"vesselclass/internal/adapters/featurestore"
	"vesselclass/internal/adapters/linearmodel"
	"vesselclass/internal/core/metadata"
	"vesselclass/internal/core/objectives"
	"vesselclass/internal/core/series"
	"vesselclass/internal/core/taxonomy"
	"vesselclass/internal/core/version"
	"vesselclass/internal/platform/config"
	"vesselclass/internal/platform/logger"
	"vesselclass/internal/platform/store"
	trainerdom "vesselclass/internal/services/trainer/domain"
	trainersvc "vesselclass/internal/services/trainer/service"
)

func main() {
	_ = godotenv.Load()

	l := logger.Get()
	build := version.Info("vesselclass-train")
	l.Info().Str("version", build.Version).Str("commit", build.Commit).Msg("starting")

	root := config.New()
	trainCfg := root.Prefix("TRAIN_")
	modelCfg := root.Prefix("MODEL_")

	var (
		fMetadata = flag.String("metadata", "", "vessel metadata CSV")
		fFeatures = flag.String("features", "", "per-vessel feature file directory")
		fRanges   = flag.String("ranges", "", "fishing ranges CSV (optional)")
		fDB       = flag.String("db", "vesselclass.db", "run store sqlite path")
		fEval     = flag.String("eval", "", "run ID: follow this run's checkpoints with the test split instead of training")
		fFishing  = flag.Bool("fishing-only", false, "restrict the epoch list to vessels with fishing ranges")
		fFlat     = flag.Bool("flat-weights", false, "weight vessels by recorded fishing time instead of class balance")
	)
	flag.Parse()

	if *fMetadata == "" || *fFeatures == "" {
		l.Panic().Msg("must provide -metadata and -features")
	}
	if *fFlat && *fRanges == "" {
		l.Panic().Msg("-flat-weights needs -ranges to weight by fishing time")
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

	var ranges map[int64][]series.FishingRange
	if *fRanges != "" {
		ranges, err = metadata.ReadFishingRanges(*fRanges)
		if err != nil {
			l.Panic().Err(err).Str("path", *fRanges).Msg("fishing ranges load failed")
		}
	}

	available, err := features.AvailableMMSIs(ctx)
	if err != nil {
		l.Panic().Err(err).Msg("feature listing failed")
	}

	assigner := metadata.SplitAssigner{Salt: trainCfg.MayString("SPLIT_SALT", "")}
	upweight := trainCfg.MayFloat64("FISHING_UPWEIGHT", 1.0)
	var meta *metadata.Store
	if *fFlat {
		meta, err = metadata.ReadUnweightedMetadata(available, *fMetadata, assigner, ranges, upweight)
	} else {
		meta, err = metadata.ReadMulticlassMetadata(available, *fMetadata, assigner, ranges, upweight)
	}
	if err != nil {
		l.Panic().Err(err).Str("path", *fMetadata).Msg("metadata load failed")
	}

	props := trainerdom.Properties{
		WindowMaxPoints:          modelCfg.MayInt("WINDOW_MAX_POINTS", 512),
		MaxWindowDurationSeconds: int64(modelCfg.MayInt("MAX_WINDOW_DURATION_SECONDS", 0)),
		MinViableTimesliceLength: modelCfg.MayInt("MIN_VIABLE_LENGTH", 250),
		FeatureDimensions:        modelCfg.MayInt("FEATURE_DIMS", 9),
		BatchSize:                modelCfg.MayInt("BATCH_SIZE", 32),
	}
	objective := objectives.NewVesselLabelObjective(
		meta, metadata.LabelColumn, "Vessel-class", taxonomy.ClassNames, taxonomy.CoarseName)
	model := linearmodel.New(objective, props, modelCfg.MayFloat64("LEARNING_RATE", 0.1))

	svc := trainersvc.New(meta, features, model, runs, trainersvc.Config{
		Readers:              trainCfg.MayInt("READERS", 16),
		BatchSize:            props.BatchSize,
		WindowLength:         props.WindowMaxPoints,
		MaxTimeDelta:         props.MaxWindowDurationSeconds,
		MinViableLength:      props.MinViableTimesliceLength,
		WindowsPerVessel:     trainCfg.MayInt("WINDOWS_PER_VESSEL", 1),
		MaxReplicationFactor: trainCfg.MayFloat64("MAX_REPLICATION", 100),
		QueueCapacity:        trainCfg.MayInt("QUEUE_CAPACITY", 1000),
		MinAfterDequeue:      trainCfg.MayInt("MIN_AFTER_DEQUEUE", 0),
		TrainingSteps:        int64(trainCfg.MayInt("STEPS", 500000)),
		CheckpointInterval:   int64(trainCfg.MayInt("CHECKPOINT_INTERVAL", 1000)),
		EvalRetryDelay:       trainCfg.MayDuration("EVAL_RETRY_DELAY", 0),
		Seed:                 int64(trainCfg.MayInt("SEED", 0)),
		FishingRangesOnly:    *fFishing,
	})
	if err := svc.Cfg.Validate(); err != nil {
		l.Panic().Err(err).Msg("bad training configuration")
	}

	if *fEval != "" {
		if err := svc.Evaluate(ctx, *fEval); err != nil {
			l.Fatal().Err(err).Str("run_id", *fEval).Msg("evaluation failed")
		}
		return
	}
	if err := svc.Train(ctx); err != nil {
		l.Fatal().Err(err).Msg("training failed")
	}
}
