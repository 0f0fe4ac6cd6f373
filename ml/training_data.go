package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Dataset is a labeled set of feature vectors; Labels[i] is 1 for diabetic.
type Dataset struct {
	Features []Features
	Labels   []int
}

func (d *Dataset) Len() int {
	return len(d.Labels)
}

func (d *Dataset) Append(f Features, label int) {
	d.Features = append(d.Features, f)
	d.Labels = append(d.Labels, label)
}

func (d *Dataset) Matrix() [][]float64 {
	rows := make([][]float64, len(d.Features))
	for i, f := range d.Features {
		rows[i] = FeatureVector(f)
	}
	return rows
}

// Prevalence is the share of positive labels.
func (d *Dataset) Prevalence() float64 {
	if len(d.Labels) == 0 {
		return 0
	}
	positive := 0
	for _, label := range d.Labels {
		positive += label
	}
	return float64(positive) / float64(len(d.Labels))
}

// GenerateSyntheticData draws an illustrative dataset whose labels mark the
// top quartile of a hand-written linear risk score. It is a placeholder for
// real labeled data and encodes no medical truth.
func GenerateSyntheticData(n int, seed int64) (*Dataset, error) {
	if n <= 0 {
		return nil, errors.New("sample count must be positive")
	}
	rng := rand.New(rand.NewSource(seed))

	pregnancies := make([]int, n)
	glucose := make([]float64, n)
	bloodPressure := make([]float64, n)
	bmi := make([]float64, n)
	age := make([]int, n)
	for i := 0; i < n; i++ {
		pregnancies[i] = rng.Intn(15)
	}
	for i := 0; i < n; i++ {
		glucose[i] = 120 + 30*rng.NormFloat64()
	}
	for i := 0; i < n; i++ {
		bloodPressure[i] = 70 + 15*rng.NormFloat64()
	}
	for i := 0; i < n; i++ {
		bmi[i] = 30 + 8*rng.NormFloat64()
	}
	for i := 0; i < n; i++ {
		age[i] = 18 + rng.Intn(62)
	}

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		scores[i] = 0.01*float64(pregnancies[i]) +
			0.005*math.Max(glucose[i]-100, 0) +
			0.01*math.Max(bmi[i]-25, 0) +
			0.005*math.Max(float64(age[i]-30), 0) +
			0.1*rng.NormFloat64()
	}
	threshold := Percentile(scores, 75)

	ds := &Dataset{
		Features: make([]Features, n),
		Labels:   make([]int, n),
	}
	for i := 0; i < n; i++ {
		if scores[i] > threshold {
			ds.Labels[i] = 1
		}
		ds.Features[i] = ClipToRealisticRanges(Features{
			Pregnancies:   pregnancies[i],
			Glucose:       glucose[i],
			BloodPressure: bloodPressure[i],
			BMI:           bmi[i],
			Age:           age[i],
		})
	}
	return ds, nil
}

// Percentile uses linear interpolation between closest ranks.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
