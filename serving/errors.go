package serving

import "errors"

var (
	ErrModelNotLoaded       = errors.New("model not loaded")
	ErrMetadataUnavailable  = errors.New("model metadata not available")
	ErrPrediction           = errors.New("prediction failed")
	ErrFeatureOrderMismatch = errors.New("feature order mismatch")
	ErrInvalidFeatures      = errors.New("features out of range")
)

// PredictionError carries the classifier's own failure message.
type PredictionError struct {
	Err error
}

func (e *PredictionError) Error() string { return e.Err.Error() }

func (e *PredictionError) Unwrap() error { return e.Err }

func (e *PredictionError) Is(target error) bool { return target == ErrPrediction }
