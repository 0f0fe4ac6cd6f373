package ml

import "fmt"

// Features is the five-field input of one prediction, in model order.
type Features struct {
	Pregnancies   int     `json:"Pregnancies"`
	Glucose       float64 `json:"Glucose"`
	BloodPressure float64 `json:"BloodPressure"`
	BMI           float64 `json:"BMI"`
	Age           int     `json:"Age"`
}

// Bound is the inclusive range accepted for one feature.
type Bound struct {
	Name string
	Min  float64
	Max  float64
}

var featureBounds = []Bound{
	{Name: "Pregnancies", Min: 0, Max: 20},
	{Name: "Glucose", Min: 50, Max: 300},
	{Name: "BloodPressure", Min: 40, Max: 150},
	{Name: "BMI", Min: 15, Max: 60},
	{Name: "Age", Min: 18, Max: 100},
}

// NumFeatures is the length of every feature vector fed to a model.
const NumFeatures = 5

func FeatureNames() []string {
	names := make([]string, len(featureBounds))
	for i, b := range featureBounds {
		names[i] = b.Name
	}
	return names
}

func FeatureBounds() []Bound {
	return append([]Bound(nil), featureBounds...)
}

func FeatureVector(f Features) []float64 {
	return []float64{
		float64(f.Pregnancies),
		f.Glucose,
		f.BloodPressure,
		f.BMI,
		float64(f.Age),
	}
}

// FeaturesFromVector is the inverse of FeatureVector. Integer fields are truncated.
func FeaturesFromVector(v []float64) (Features, error) {
	if len(v) != NumFeatures {
		return Features{}, fmt.Errorf("expected %d features, got %d", NumFeatures, len(v))
	}
	return Features{
		Pregnancies:   int(v[0]),
		Glucose:       v[1],
		BloodPressure: v[2],
		BMI:           v[3],
		Age:           int(v[4]),
	}, nil
}

// Key returns a comparable form of the vector, usable as a map or cache key.
func (f Features) Key() [NumFeatures]float64 {
	var key [NumFeatures]float64
	copy(key[:], FeatureVector(f))
	return key
}

// OutOfRange returns the names of the fields that fall outside their bounds.
func (f Features) OutOfRange() []string {
	var names []string
	for i, value := range FeatureVector(f) {
		b := featureBounds[i]
		if value < b.Min || value > b.Max {
			names = append(names, b.Name)
		}
	}
	return names
}

// SameFeatureOrder reports whether names lists exactly the canonical features in order.
func SameFeatureOrder(names []string) bool {
	if len(names) != len(featureBounds) {
		return false
	}
	for i, b := range featureBounds {
		if names[i] != b.Name {
			return false
		}
	}
	return true
}
