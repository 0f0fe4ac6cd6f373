package ml

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultModelPath    = "diabetes_model.json"
	DefaultMetadataPath = "model_metadata.json"
)

type TrainingConfig struct {
	ModelPath    string
	MetadataPath string
	TestRatio    float64
	Seed         int64
	Version      string
	Forest       ForestConfig
	// Now stamps the metadata; time.Now when nil.
	Now func() time.Time
}

type TrainingResult struct {
	Model       *RandomForest
	Metadata    *Metadata
	Report      *ClassificationReport
	Importances []FeatureImportance
	TrainSize   int
	TestSize    int
}

// TrainAndSave fits a forest on ds, evaluates it on a stratified hold-out and
// overwrites the model artifact and metadata document.
func TrainAndSave(ds *Dataset, config TrainingConfig, logger *zap.Logger) (*TrainingResult, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, errors.New("dataset is empty")
	}
	if config.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if config.MetadataPath == "" {
		return nil, errors.New("metadata path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	split, err := StratifiedSplit(ds.Matrix(), ds.Labels, config.TestRatio, config.Seed)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}
	logger.Info("Dataset split",
		zap.Int("train_samples", len(split.TrainY)),
		zap.Int("test_samples", len(split.TestY)),
	)

	model := NewRandomForest(config.Forest)
	logger.Info("Training model",
		zap.Int("n_estimators", config.Forest.NEstimators),
		zap.Int("max_depth", config.Forest.MaxDepth),
		zap.String("class_weight", config.Forest.ClassWeight),
	)
	if err := model.Train(split.TrainX, split.TrainY); err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}

	predicted := make([]int, len(split.TestX))
	for i, row := range split.TestX {
		label, _, err := model.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("evaluate model: %w", err)
		}
		predicted[i] = label
	}
	report, err := NewClassificationReport(split.TestY, predicted)
	if err != nil {
		return nil, fmt.Errorf("evaluate model: %w", err)
	}
	logger.Info("Model evaluated", zap.Float64("accuracy", report.Accuracy))
	logger.Info("Classification report\n" + report.String())

	ranked := RankFeatureImportances(model.FeatureNames(), model.FeatureImportances())
	for _, fi := range ranked {
		logger.Info("Feature importance", zap.String("feature", fi.Name), zap.Float64("importance", fi.Importance))
	}

	if err := model.Save(config.ModelPath); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	logger.Info("Model saved", zap.String("path", config.ModelPath))

	metadata := NewMetadata(ModelTypeRandomForest, report.Accuracy, now(), config.Version)
	if err := metadata.Write(config.MetadataPath); err != nil {
		return nil, fmt.Errorf("save metadata: %w", err)
	}
	logger.Info("Metadata saved", zap.String("path", config.MetadataPath))

	return &TrainingResult{
		Model:       model,
		Metadata:    metadata,
		Report:      report,
		Importances: ranked,
		TrainSize:   len(split.TrainY),
		TestSize:    len(split.TestY),
	}, nil
}
