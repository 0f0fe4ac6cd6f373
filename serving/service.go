package serving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"diabetesapi/ml"
	"go.uber.org/zap"
)

// APIVersion is reported by the banner and /stats.
const APIVersion = "1.0.0"

// Prediction is the outcome of one successful inference.
type Prediction struct {
	Label    int
	Diabetic bool
	// Confidence is the probability of the predicted label.
	Confidence float64
	// Probability is Confidence rounded to three decimals.
	Probability  float64
	ModelVersion string
	Timestamp    time.Time
	// Count is the request counter value after this prediction.
	Count  int64
	Cached bool
}

// Observer is notified after every successful prediction. Implementations
// must not block.
type Observer interface {
	ObservePrediction(p Prediction)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Prediction)

func (f ObserverFunc) ObservePrediction(p Prediction) { f(p) }

type HealthReport struct {
	Status          string `json:"status"`
	ModelLoaded     bool   `json:"model_loaded"`
	PredictionCount int64  `json:"prediction_count"`
	Timestamp       string `json:"timestamp"`
}

type StatsReport struct {
	TotalPredictions int64           `json:"total_predictions"`
	ModelInfo        json.RawMessage `json:"model_info"`
	APIVersion       string          `json:"api_version"`
}

type Options struct {
	ModelPath    string
	MetadataPath string
	CacheSize    int
	Logger       *zap.Logger
	// Now stamps predictions and health reports; time.Now when nil.
	Now func() time.Time
	// LoadModel restores the classifier; ml.LoadModel when nil.
	LoadModel func(path string) (ml.Classifier, error)
}

type loadedModel struct {
	classifier ml.Classifier
	metadata   *ml.Metadata
	document   json.RawMessage
}

// Service owns the loaded model, its metadata and the request counter.
// The model is loaded once and only read afterwards.
type Service struct {
	opts   Options
	logger *zap.Logger
	cache  *inferenceCache

	loadMu  sync.Mutex
	state   atomic.Int32
	model   atomic.Pointer[loadedModel]
	lastErr atomic.Pointer[error]
	count   atomic.Int64

	observerMu sync.RWMutex
	observers  []Observer
}

func New(opts Options) (*Service, error) {
	if opts.ModelPath == "" {
		opts.ModelPath = ml.DefaultModelPath
	}
	if opts.MetadataPath == "" {
		opts.MetadataPath = ml.DefaultMetadataPath
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoadModel == nil {
		opts.LoadModel = func(path string) (ml.Classifier, error) {
			return ml.LoadModel(path)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := newInferenceCache(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create inference cache: %w", err)
	}
	return &Service{
		opts:   opts,
		logger: logger.Named("serving"),
		cache:  cache,
	}, nil
}

// AddObserver registers o for prediction events.
func (s *Service) AddObserver(o Observer) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observers = append(s.observers, o)
}

// Load reads the model artifact and metadata document. Calling it again after
// a successful load is a no-op. A failure leaves the service in StateFailed.
func (s *Service) Load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.State() == StateReady {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state.Store(int32(StateLoading))
	s.logger.Info("Loading model", zap.String("path", s.opts.ModelPath))

	loaded, err := s.load()
	if err != nil {
		s.lastErr.Store(&err)
		s.state.Store(int32(StateFailed))
		s.logger.Error("Model load failed", zap.Error(err))
		return err
	}

	s.model.Store(loaded)
	s.lastErr.Store(nil)
	s.state.Store(int32(StateReady))
	s.logger.Info("Model ready",
		zap.String("model_type", loaded.metadata.ModelType),
		zap.String("version", loaded.metadata.ModelVersion()),
	)
	return nil
}

func (s *Service) load() (*loadedModel, error) {
	classifier, err := s.opts.LoadModel(s.opts.ModelPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("model file %s not found, run train_model first: %w", s.opts.ModelPath, err)
		}
		return nil, fmt.Errorf("load model %s: %w", s.opts.ModelPath, err)
	}
	if names := classifier.FeatureNames(); !ml.SameFeatureOrder(names) {
		return nil, fmt.Errorf("%w: model expects %v, want %v", ErrFeatureOrderMismatch, names, ml.FeatureNames())
	}

	metadata, err := ml.ReadMetadata(s.opts.MetadataPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Warn("Metadata file not found, using defaults", zap.String("path", s.opts.MetadataPath))
		metadata = ml.DefaultMetadata()
	case err != nil:
		return nil, fmt.Errorf("load metadata %s: %w", s.opts.MetadataPath, err)
	}
	if metadata.FeatureNames != nil && !ml.SameFeatureOrder(metadata.FeatureNames) {
		return nil, fmt.Errorf("%w: metadata lists %v, want %v", ErrFeatureOrderMismatch, metadata.FeatureNames, ml.FeatureNames())
	}

	document, err := metadata.Document()
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return &loadedModel{classifier: classifier, metadata: metadata, document: document}, nil
}

func (s *Service) State() State {
	return State(s.state.Load())
}

func (s *Service) Ready() bool {
	return s.State() == StateReady
}

// LoadError returns the error of the last failed load, if any.
func (s *Service) LoadError() error {
	if err := s.lastErr.Load(); err != nil {
		return *err
	}
	return nil
}

func (s *Service) PredictionCount() int64 {
	return s.count.Load()
}

// Predict runs the classifier on f. The counter is only incremented when a
// prediction is produced.
func (s *Service) Predict(ctx context.Context, f ml.Features) (*Prediction, error) {
	loaded := s.model.Load()
	if loaded == nil || !s.Ready() {
		return nil, ErrModelNotLoaded
	}
	if fields := f.OutOfRange(); len(fields) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeatures, fields)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := f.Key()
	result, cached := s.cache.get(key)
	if !cached {
		var err error
		result, err = s.infer(loaded.classifier, f)
		if err != nil {
			s.logger.Error("Prediction failed", zap.Error(err))
			return nil, err
		}
		s.cache.add(key, result)
	}

	count := s.count.Add(1)
	prediction := Prediction{
		Label:        result.label,
		Diabetic:     result.label == 1,
		Confidence:   result.confidence,
		Probability:  math.Round(result.confidence*1000) / 1000,
		ModelVersion: loaded.metadata.ModelVersion(),
		Timestamp:    s.opts.Now(),
		Count:        count,
		Cached:       cached,
	}

	outcome := "Low Risk"
	if prediction.Diabetic {
		outcome = "Diabetic Risk"
	}
	s.logger.Info(fmt.Sprintf("Prediction #%d: %s (confidence: %.2f)", count, outcome, result.confidence),
		zap.Int64("prediction_count", count),
		zap.Int("label", result.label),
		zap.Float64("confidence", result.confidence),
		zap.Bool("cached", cached),
	)

	s.observerMu.RLock()
	observers := s.observers
	s.observerMu.RUnlock()
	for _, o := range observers {
		o.ObservePrediction(prediction)
	}
	return &prediction, nil
}

func (s *Service) infer(classifier ml.Classifier, f ml.Features) (result inference, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PredictionError{Err: fmt.Errorf("%v", r)}
		}
	}()

	label, confidence, err := classifier.Predict(ml.FeatureVector(f))
	if err != nil {
		return inference{}, &PredictionError{Err: err}
	}
	if label != 0 && label != 1 {
		return inference{}, &PredictionError{Err: fmt.Errorf("unexpected class label %d", label)}
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return inference{}, &PredictionError{Err: fmt.Errorf("invalid probability %v", confidence)}
	}
	return inference{label: label, confidence: confidence}, nil
}

// Metadata returns the metadata document exactly as loaded.
func (s *Service) Metadata() (json.RawMessage, error) {
	loaded := s.model.Load()
	if loaded == nil {
		return nil, ErrMetadataUnavailable
	}
	return loaded.document, nil
}

// ModelVersion is empty until a model is loaded.
func (s *Service) ModelVersion() string {
	if loaded := s.model.Load(); loaded != nil {
		return loaded.metadata.ModelVersion()
	}
	return ""
}

func (s *Service) Health() HealthReport {
	report := HealthReport{
		Status:          "unhealthy",
		ModelLoaded:     s.Ready(),
		PredictionCount: s.PredictionCount(),
		Timestamp:       s.opts.Now().Format(time.RFC3339Nano),
	}
	if report.ModelLoaded {
		report.Status = "healthy"
	}
	return report
}

func (s *Service) Stats() StatsReport {
	report := StatsReport{
		TotalPredictions: s.PredictionCount(),
		ModelInfo:        json.RawMessage("null"),
		APIVersion:       APIVersion,
	}
	if document, err := s.Metadata(); err == nil {
		report.ModelInfo = document
	}
	return report
}

// CachedInferences reports how many distinct inputs are memoized.
func (s *Service) CachedInferences() int {
	return s.cache.len()
}
