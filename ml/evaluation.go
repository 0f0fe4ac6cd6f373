package ml

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// ClassificationReport summarizes held-out predictions per class.
type ClassificationReport struct {
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
}

type FeatureImportance struct {
	Name       string
	Importance float64
}

func Accuracy(actual, predicted []int) (float64, error) {
	if len(actual) != len(predicted) {
		return 0, errors.New("actual and predicted size mismatch")
	}
	if len(actual) == 0 {
		return 0, errors.New("no samples")
	}
	correct := 0
	for i := range actual {
		if actual[i] == predicted[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(actual)), nil
}

func NewClassificationReport(actual, predicted []int) (*ClassificationReport, error) {
	accuracy, err := Accuracy(actual, predicted)
	if err != nil {
		return nil, err
	}

	var truePositive, predictedCount, support [NumClasses]int
	for i := range actual {
		support[actual[i]]++
		predictedCount[predicted[i]]++
		if actual[i] == predicted[i] {
			truePositive[actual[i]]++
		}
	}

	report := &ClassificationReport{
		Classes:  make([]ClassMetrics, NumClasses),
		Accuracy: accuracy,
	}
	total := len(actual)
	for c := 0; c < NumClasses; c++ {
		m := ClassMetrics{Support: support[c]}
		if predictedCount[c] > 0 {
			m.Precision = float64(truePositive[c]) / float64(predictedCount[c])
		}
		if support[c] > 0 {
			m.Recall = float64(truePositive[c]) / float64(support[c])
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.Classes[c] = m

		weight := float64(support[c]) / float64(total)
		report.MacroAvg.Precision += m.Precision / NumClasses
		report.MacroAvg.Recall += m.Recall / NumClasses
		report.MacroAvg.F1 += m.F1 / NumClasses
		report.WeightedAvg.Precision += m.Precision * weight
		report.WeightedAvg.Recall += m.Recall * weight
		report.WeightedAvg.F1 += m.F1 * weight
	}
	report.MacroAvg.Support = total
	report.WeightedAvg.Support = total
	return report, nil
}

// String renders the report in the familiar fixed-width text layout.
func (r *ClassificationReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%14s %9s %9s %9s %9s\n\n", "", "precision", "recall", "f1-score", "support")
	for c, m := range r.Classes {
		fmt.Fprintf(&b, "%14d %9.2f %9.2f %9.2f %9d\n", c, m.Precision, m.Recall, m.F1, m.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%14s %9s %9s %9.2f %9d\n", "accuracy", "", "", r.Accuracy, r.MacroAvg.Support)
	fmt.Fprintf(&b, "%14s %9.2f %9.2f %9.2f %9d\n", "macro avg",
		r.MacroAvg.Precision, r.MacroAvg.Recall, r.MacroAvg.F1, r.MacroAvg.Support)
	fmt.Fprintf(&b, "%14s %9.2f %9.2f %9.2f %9d\n", "weighted avg",
		r.WeightedAvg.Precision, r.WeightedAvg.Recall, r.WeightedAvg.F1, r.WeightedAvg.Support)
	return b.String()
}

// RankFeatureImportances pairs names with scores, highest first.
func RankFeatureImportances(names []string, importances []float64) []FeatureImportance {
	ranked := make([]FeatureImportance, 0, len(importances))
	for i, imp := range importances {
		if i >= len(names) {
			break
		}
		ranked = append(ranked, FeatureImportance{Name: names[i], Importance: imp})
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Importance > ranked[b].Importance
	})
	return ranked
}
