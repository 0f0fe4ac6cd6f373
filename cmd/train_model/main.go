package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"diabetesapi/config"
	"diabetesapi/logger"
	"diabetesapi/ml"
	"diabetesapi/pipeline"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $CONFIG_PATH or ./config.yaml)")
	dataset := flag.String("dataset", "", "labeled dataset (csv or sqlite); empty generates synthetic data")
	format := flag.String("format", "", "dataset format: csv or sqlite (inferred from extension)")
	table := flag.String("table", "", "sqlite table holding the dataset")
	encoding := flag.String("encoding", "", "csv character encoding, e.g. utf-8, windows-1252")
	modelPath := flag.String("model_path", "", "model artifact output path")
	metadataPath := flag.String("metadata_path", "", "metadata document output path")
	nEstimators := flag.Int("n_estimators", 0, "number of trees")
	maxDepth := flag.Int("max_depth", -1, "max tree depth, 0 for unlimited")
	seed := flag.Int64("seed", 0, "random seed")
	testRatio := flag.Float64("test_ratio", 0, "held-out fraction")
	nSamples := flag.Int("n_samples", 0, "synthetic sample count")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg, flagValues{
		dataset: *dataset, format: *format, table: *table, encoding: *encoding,
		modelPath: *modelPath, metadataPath: *metadataPath,
		nEstimators: *nEstimators, maxDepth: *maxDepth, seed: *seed,
		testRatio: *testRatio, nSamples: *nSamples,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid options: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Env:        cfg.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ds, err := loadDataset(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("Failed to build training data", zap.Error(err))
	}
	log.Info("Dataset ready",
		zap.Int("samples", ds.Len()),
		zap.Float64("diabetic_rate", ds.Prevalence()),
	)

	forest := ml.DefaultForestConfig()
	forest.NEstimators = cfg.Training.NEstimators
	forest.MaxDepth = cfg.Training.MaxDepth
	forest.MinSamplesLeaf = cfg.Training.MinSamplesLeaf
	forest.Seed = cfg.Training.Seed

	result, err := ml.TrainAndSave(ds, ml.TrainingConfig{
		ModelPath:    cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		TestRatio:    cfg.Training.TestRatio,
		Seed:         cfg.Training.Seed,
		Version:      cfg.Training.Version,
		Forest:       forest,
	}, log)
	if err != nil {
		log.Fatal("Training failed", zap.Error(err))
	}

	fmt.Printf("model saved to %s (accuracy %.3f)\n", cfg.Model.Path, result.Report.Accuracy)
}

type flagValues struct {
	dataset, format, table, encoding string
	modelPath, metadataPath          string
	nEstimators, maxDepth, nSamples  int
	seed                             int64
	testRatio                        float64
}

// applyFlags lets explicitly set flags win over the config file.
func applyFlags(cfg *config.Config, f flagValues) {
	if f.dataset != "" {
		cfg.Training.Dataset.Path = f.dataset
	}
	if f.format != "" {
		cfg.Training.Dataset.Format = f.format
	}
	if f.table != "" {
		cfg.Training.Dataset.Table = f.table
	}
	if f.encoding != "" {
		cfg.Training.Dataset.Encoding = f.encoding
	}
	if f.modelPath != "" {
		cfg.Model.Path = f.modelPath
	}
	if f.metadataPath != "" {
		cfg.Model.MetadataPath = f.metadataPath
	}
	if f.nEstimators > 0 {
		cfg.Training.NEstimators = f.nEstimators
	}
	if f.maxDepth >= 0 {
		cfg.Training.MaxDepth = f.maxDepth
	}
	if f.seed != 0 {
		cfg.Training.Seed = f.seed
	}
	if f.testRatio != 0 {
		cfg.Training.TestRatio = f.testRatio
	}
	if f.nSamples > 0 {
		cfg.Training.NSamples = f.nSamples
	}
}

func loadDataset(ctx context.Context, cfg config.Config, log *zap.Logger) (*ml.Dataset, error) {
	source := cfg.Training.Dataset
	if source.Path == "" {
		log.Info("Generating synthetic diabetes dataset",
			zap.Int("n_samples", cfg.Training.NSamples),
			zap.Int64("seed", cfg.Training.Seed),
		)
		return ml.GenerateSyntheticData(cfg.Training.NSamples, cfg.Training.Seed)
	}

	ds, stats, err := pipeline.LoadDataset(ctx, pipeline.IngestionConfig{
		Path:        source.Path,
		Format:      source.Format,
		Table:       source.Table,
		LabelColumn: source.LabelColumn,
		Encoding:    source.Encoding,
	}, pipeline.NewDataCleaner())
	log.Info("Dataset loaded",
		zap.String("path", source.Path),
		zap.String("format", stats.Format),
		zap.Int("rows_read", stats.RowsRead),
		zap.Int64("rows_dropped", stats.Cleaning.Rejected),
		zap.Any("issues", stats.Cleaning.Issues),
	)
	if err != nil {
		return nil, err
	}
	return ds, nil
}
