package ml

import (
	"math"
	"testing"
)

func TestDecisionTreeTrainPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 1, 1}

	model := NewDecisionTree(TreeConfig{MaxDepth: 2})
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	label, confidence, err := model.Predict([]float64{0.15, 0.15})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 0 {
		t.Fatalf("expected label 0, got %d", label)
	}
	if confidence != 1 {
		t.Fatalf("expected confidence 1 on a pure leaf, got %f", confidence)
	}
	label, _, err = model.Predict([]float64{0.85, 0.85})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != 1 {
		t.Fatalf("expected label 1, got %d", label)
	}
}

func TestDecisionTreeRespectsMaxDepth(t *testing.T) {
	features := make([][]float64, 0, 32)
	labels := make([]int, 0, 32)
	for i := 0; i < 32; i++ {
		features = append(features, []float64{float64(i)})
		labels = append(labels, i%2)
	}

	model := NewDecisionTree(TreeConfig{MaxDepth: 3})
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if depth := model.Depth(); depth > 3 {
		t.Fatalf("expected depth <= 3, got %d", depth)
	}
	proba, err := model.PredictProba([]float64{4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum := proba[0] + proba[1]; sum < 0.999999 || sum > 1.000001 {
		t.Fatalf("expected probabilities to sum to 1, got %f", sum)
	}
}

func TestDecisionTreeImportancesFollowInformativeFeature(t *testing.T) {
	features := [][]float64{
		{0, 5}, {1, 5}, {2, 5}, {3, 5},
		{10, 5}, {11, 5}, {12, 5}, {13, 5},
	}
	labels := []int{0, 0, 0, 0, 1, 1, 1, 1}

	model := NewDecisionTree(TreeConfig{})
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	importances := model.FeatureImportances()
	if importances[0] != 1 || importances[1] != 0 {
		t.Fatalf("expected all importance on feature 0, got %v", importances)
	}
}

func TestDecisionTreeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		features [][]float64
		labels   []int
	}{
		{name: "empty", features: nil, labels: nil},
		{name: "size mismatch", features: [][]float64{{1}, {2}}, labels: []int{0}},
		{name: "ragged rows", features: [][]float64{{1, 2}, {2}}, labels: []int{0, 1}},
		{name: "label out of range", features: [][]float64{{1}, {2}}, labels: []int{0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewDecisionTree(TreeConfig{}).Train(tt.features, tt.labels); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDecisionTreePredictUntrained(t *testing.T) {
	if _, _, err := (&DecisionTree{}).Predict([]float64{1}); err == nil {
		t.Fatal("expected error for untrained model")
	}
}

func TestDecisionTreeSplitsAdjacentFloats(t *testing.T) {
	a := 1 + math.Pow(2, -52)
	b := math.Nextafter(a, 2)

	for _, maxDepth := range []int{0, 50} {
		model := NewDecisionTree(TreeConfig{MaxDepth: maxDepth})
		if err := model.Train([][]float64{{a}, {b}}, []int{0, 1}); err != nil {
			t.Fatalf("max_depth=%d: unexpected error: %v", maxDepth, err)
		}
		if depth := model.Depth(); depth != 1 {
			t.Errorf("max_depth=%d: expected a single split, got depth %d", maxDepth, depth)
		}
		for value, want := range map[float64]int{a: 0, b: 1} {
			label, _, err := model.Predict([]float64{value})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if label != want {
				t.Errorf("max_depth=%d: predict(%v) = %d, want %d", maxDepth, value, label, want)
			}
		}
	}
}
