package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// NumClasses is fixed: every model here is a binary classifier over {0, 1}.
const NumClasses = 2

type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	Value      []float64 `json:"value,omitempty"`
	IsLeaf     bool      `json:"is_leaf"`
}

// TreeConfig controls tree growth. Zero MaxDepth grows until leaves are pure,
// zero MaxFeatures considers every feature at each split.
type TreeConfig struct {
	MaxDepth       int
	MinSamplesLeaf int
	MaxFeatures    int
	Seed           int64
}

type DecisionTree struct {
	config       TreeConfig
	nodes        []TreeNode
	importances  []float64
	featureNames []string
	rng          *rand.Rand
}

func NewDecisionTree(config TreeConfig) *DecisionTree {
	return &DecisionTree{config: config}
}

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	weights := make([]float64, len(labels))
	for i := range weights {
		weights[i] = 1
	}
	return dt.fit(features, labels, weights)
}

// fit grows the tree on weighted samples. A zero weight leaves a sample out,
// which is how the forest expresses bootstrap draws.
func (dt *DecisionTree) fit(features [][]float64, labels []int, weights []float64) error {
	nFeatures, err := checkTrainingSet(features, labels)
	if err != nil {
		return err
	}
	if len(weights) != len(labels) {
		return errors.New("weights and labels size mismatch")
	}
	if dt.config.MinSamplesLeaf <= 0 {
		dt.config.MinSamplesLeaf = 1
	}
	if dt.config.MaxFeatures <= 0 || dt.config.MaxFeatures > nFeatures {
		dt.config.MaxFeatures = nFeatures
	}

	idx := make([]int, 0, len(labels))
	for i, w := range weights {
		if w > 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return errors.New("no samples with positive weight")
	}

	dt.rng = rand.New(rand.NewSource(dt.config.Seed))
	dt.nodes = nil
	dt.importances = make([]float64, nFeatures)
	dt.featureNames = defaultFeatureNames(nFeatures)

	set := &trainSet{features: features, labels: labels, weights: weights}
	dt.build(set, idx, 0)
	normalize(dt.importances)
	return nil
}

func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	proba, err := dt.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), leaf.Value...), nil
}

func (dt *DecisionTree) FeatureNames() []string {
	return append([]string(nil), dt.featureNames...)
}

// FeatureImportances returns the normalized impurity decrease per feature.
func (dt *DecisionTree) FeatureImportances() []float64 {
	return append([]float64(nil), dt.importances...)
}

func (dt *DecisionTree) Depth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return 0
		}
		left, right := walk(node.LeftChild), walk(node.RightChild)
		if left > right {
			return left + 1
		}
		return right + 1
	}
	return walk(0)
}

func (dt *DecisionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return errors.New("model not trained")
	}
	return writeArtifact(path, &Artifact{
		Format:        ArtifactFormat,
		FormatVersion: ArtifactFormatVersion,
		ModelType:     ModelTypeDecisionTree,
		FeatureNames:  dt.featureNames,
		Classes:       artifactClasses(),
		Trees:         [][]TreeNode{dt.nodes},
	})
}

func (dt *DecisionTree) Load(path string) error {
	artifact, err := ReadArtifact(path)
	if err != nil {
		return err
	}
	if artifact.ModelType != ModelTypeDecisionTree {
		return fmt.Errorf("artifact holds %s, not %s", artifact.ModelType, ModelTypeDecisionTree)
	}
	dt.nodes = artifact.Trees[0]
	dt.featureNames = artifact.FeatureNames
	dt.importances = nil
	return nil
}

func (dt *DecisionTree) leaf(features []float64) (TreeNode, error) {
	if len(dt.nodes) == 0 {
		return TreeNode{}, errors.New("model not trained")
	}
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return TreeNode{}, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return TreeNode{}, errors.New("invalid tree state")
		}
	}
}

type trainSet struct {
	features [][]float64
	labels   []int
	weights  []float64
}

func (s *trainSet) classWeights(idx []int) [NumClasses]float64 {
	var counts [NumClasses]float64
	for _, i := range idx {
		counts[s.labels[i]] += s.weights[i]
	}
	return counts
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
}

// build appends the subtree rooted at idx and returns its node index.
// Children always sit after their parent, which Artifact.Validate relies on.
func (dt *DecisionTree) build(set *trainSet, idx []int, depth int) int {
	counts := set.classWeights(idx)
	nodeIdx := len(dt.nodes)
	dt.nodes = append(dt.nodes, newLeaf(counts))

	if dt.stopAt(counts, len(idx), depth) {
		return nodeIdx
	}
	best, ok := dt.findBestSplit(set, idx, counts)
	if !ok {
		return nodeIdx
	}

	left, right := partition(set, idx, best.feature, best.threshold)
	if len(left) == 0 || len(right) == 0 {
		return nodeIdx
	}
	total := counts[0] + counts[1]
	dt.importances[best.feature] += total*gini(counts) - total*best.impurity

	leftIdx := dt.build(set, left, depth+1)
	rightIdx := dt.build(set, right, depth+1)
	dt.nodes[nodeIdx] = TreeNode{
		FeatureIdx: best.feature,
		Threshold:  best.threshold,
		LeftChild:  leftIdx,
		RightChild: rightIdx,
		IsLeaf:     false,
	}
	return nodeIdx
}

func (dt *DecisionTree) stopAt(counts [NumClasses]float64, samples, depth int) bool {
	if dt.config.MaxDepth > 0 && depth >= dt.config.MaxDepth {
		return true
	}
	if samples < 2*dt.config.MinSamplesLeaf {
		return true
	}
	return counts[0] == 0 || counts[1] == 0
}

// findBestSplit scans features in random order and stops after MaxFeatures
// non-constant ones, so constant features never use up the budget.
func (dt *DecisionTree) findBestSplit(set *trainSet, idx []int, counts [NumClasses]float64) (split, bool) {
	total := counts[0] + counts[1]
	best := split{feature: -1, impurity: math.MaxFloat64}
	sorted := make([]int, len(idx))
	visited := 0

	for _, featureIdx := range dt.rng.Perm(len(dt.importances)) {
		if visited >= dt.config.MaxFeatures {
			break
		}
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool {
			return set.features[sorted[a]][featureIdx] < set.features[sorted[b]][featureIdx]
		})
		if set.features[sorted[0]][featureIdx] == set.features[sorted[len(sorted)-1]][featureIdx] {
			continue
		}
		visited++

		var left [NumClasses]float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			left[set.labels[i]] += set.weights[i]
			value := set.features[i][featureIdx]
			next := set.features[sorted[k+1]][featureIdx]
			if next <= value {
				continue
			}
			nLeft := k + 1
			if nLeft < dt.config.MinSamplesLeaf || len(sorted)-nLeft < dt.config.MinSamplesLeaf {
				continue
			}
			right := [NumClasses]float64{counts[0] - left[0], counts[1] - left[1]}
			leftWeight := left[0] + left[1]
			rightWeight := right[0] + right[1]
			impurity := (leftWeight*gini(left) + rightWeight*gini(right)) / total
			if impurity < best.impurity {
				threshold := value + (next-value)/2
				// adjacent floats: the midpoint can round up to next
				if threshold == next {
					threshold = value
				}
				best = split{
					feature:   featureIdx,
					threshold: threshold,
					impurity:  impurity,
				}
			}
		}
	}
	return best, best.feature >= 0
}

func partition(set *trainSet, idx []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if set.features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func newLeaf(counts [NumClasses]float64) TreeNode {
	value := make([]float64, NumClasses)
	total := counts[0] + counts[1]
	for c := range value {
		if total > 0 {
			value[c] = counts[c] / total
		}
	}
	return TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      value,
		IsLeaf:     true,
	}
}

func gini(counts [NumClasses]float64) float64 {
	total := counts[0] + counts[1]
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := count / total
		impurity -= prob * prob
	}
	return impurity
}

func checkTrainingSet(features [][]float64, labels []int) (int, error) {
	if len(features) == 0 || len(labels) == 0 {
		return 0, errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return 0, errors.New("features and labels size mismatch")
	}
	nFeatures := len(features[0])
	if nFeatures == 0 {
		return 0, errors.New("feature vectors are empty")
	}
	for i, row := range features {
		if len(row) != nFeatures {
			return 0, fmt.Errorf("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
		if labels[i] < 0 || labels[i] >= NumClasses {
			return 0, fmt.Errorf("row %d has label %d, expected 0 or 1", i, labels[i])
		}
	}
	return nFeatures, nil
}

func defaultFeatureNames(n int) []string {
	if n == NumFeatures {
		return FeatureNames()
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("x%d", i)
	}
	return names
}

// argmax breaks ties toward the lower class index.
func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

func normalize(values []float64) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	if sum <= 0 {
		return
	}
	for i := range values {
		values[i] /= sum
	}
}
