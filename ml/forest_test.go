package ml

import (
	"math"
	"testing"
)

func separableData() ([][]float64, []int) {
	features := make([][]float64, 0, 40)
	labels := make([]int, 0, 40)
	for i := 0; i < 40; i++ {
		x0 := float64(i) / 40
		x1 := float64(i*7%40) / 40
		features = append(features, []float64{x0, x1})
		label := 0
		if x0 >= 0.5 {
			label = 1
		}
		labels = append(labels, label)
	}
	return features, labels
}

func TestRandomForestTrainPredict(t *testing.T) {
	features, labels := separableData()
	model := NewRandomForest(ForestConfig{
		NEstimators: 20,
		MaxFeatures: 2,
		Seed:        1,
		Bootstrap:   true,
		ClassWeight: ClassWeightBalanced,
	})
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.NumTrees() != 20 {
		t.Fatalf("expected 20 trees, got %d", model.NumTrees())
	}

	tests := []struct {
		input []float64
		want  int
	}{
		{input: []float64{0.1, 0.5}, want: 0},
		{input: []float64{0.9, 0.5}, want: 1},
	}
	for _, tt := range tests {
		label, confidence, err := model.Predict(tt.input)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if label != tt.want {
			t.Fatalf("input %v: expected label %d, got %d", tt.input, tt.want, label)
		}
		if confidence < 0.5 || confidence > 1 {
			t.Fatalf("input %v: confidence %f outside [0.5, 1]", tt.input, confidence)
		}
	}

	proba, err := model.PredictProba([]float64{0.45, 0.2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(proba[0]+proba[1]-1) > 1e-9 {
		t.Fatalf("expected probabilities to sum to 1, got %v", proba)
	}
}

func TestRandomForestDeterministicForSeed(t *testing.T) {
	features, labels := separableData()
	config := ForestConfig{NEstimators: 15, Seed: 7, Bootstrap: true, ClassWeight: ClassWeightBalanced}

	first := NewRandomForest(config)
	second := NewRandomForest(config)
	if err := first.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := second.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, row := range features {
		a, _ := first.PredictProba(row)
		b, _ := second.PredictProba(row)
		if a[0] != b[0] || a[1] != b[1] {
			t.Fatalf("expected identical probabilities for %v, got %v and %v", row, a, b)
		}
	}
}

func TestRandomForestFeatureImportancesSumToOne(t *testing.T) {
	features, labels := separableData()
	model := NewRandomForest(ForestConfig{NEstimators: 10, Seed: 3, Bootstrap: true})
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := 0.0
	for _, imp := range model.FeatureImportances() {
		if imp < 0 {
			t.Fatalf("negative importance: %v", model.FeatureImportances())
		}
		sum += imp
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("expected importances to sum to 1, got %f", sum)
	}
}

func TestRandomForestRejectsWrongWidth(t *testing.T) {
	features, labels := separableData()
	model := NewRandomForest(ForestConfig{NEstimators: 3, Seed: 1, Bootstrap: true})
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := model.Predict([]float64{0.1}); err == nil {
		t.Fatal("expected error for short feature vector")
	}
}

func TestComputeClassWeights(t *testing.T) {
	weights, err := computeClassWeights([]int{0, 0, 0, 1}, ClassWeightBalanced)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(weights[0]-4.0/6.0) > 1e-12 || weights[1] != 2 {
		t.Fatalf("unexpected balanced weights: %v", weights)
	}

	weights, err = computeClassWeights([]int{0, 1, 1}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if weights != [NumClasses]float64{1, 1} {
		t.Fatalf("expected unit weights, got %v", weights)
	}

	if _, err := computeClassWeights([]int{0, 1}, "inverse"); err == nil {
		t.Fatal("expected error for unknown class weight mode")
	}
}
