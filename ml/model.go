package ml

// Classifier is the read-only view of a fitted model used at inference time.
type Classifier interface {
	Predict(features []float64) (int, float64, error)
	PredictProba(features []float64) ([]float64, error)
	FeatureNames() []string
}

type MLModel interface {
	Classifier
	Train(features [][]float64, labels []int) error
	Save(path string) error
	Load(path string) error
}
