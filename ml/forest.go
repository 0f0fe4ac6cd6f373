package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

const ClassWeightBalanced = "balanced"

type ForestConfig struct {
	NEstimators    int
	MaxDepth       int
	MinSamplesLeaf int
	// MaxFeatures of zero means floor(sqrt(n_features)).
	MaxFeatures int
	Seed        int64
	Bootstrap   bool
	ClassWeight string
}

func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NEstimators:    100,
		MinSamplesLeaf: 1,
		Seed:           42,
		Bootstrap:      true,
		ClassWeight:    ClassWeightBalanced,
	}
}

// RandomForest averages the class distributions of bagged CART trees.
type RandomForest struct {
	config       ForestConfig
	trees        []*DecisionTree
	importances  []float64
	featureNames []string
}

func NewRandomForest(config ForestConfig) *RandomForest {
	if config.NEstimators <= 0 {
		config.NEstimators = 100
	}
	return &RandomForest{config: config}
}

func (f *RandomForest) Train(features [][]float64, labels []int) error {
	nFeatures, err := checkTrainingSet(features, labels)
	if err != nil {
		return err
	}
	classWeights, err := computeClassWeights(labels, f.config.ClassWeight)
	if err != nil {
		return err
	}

	maxFeatures := f.config.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(nFeatures)))
		if maxFeatures < 1 {
			maxFeatures = 1
		}
	}

	rng := rand.New(rand.NewSource(f.config.Seed))
	trees := make([]*DecisionTree, 0, f.config.NEstimators)
	importances := make([]float64, nFeatures)
	n := len(labels)

	for t := 0; t < f.config.NEstimators; t++ {
		seed := rng.Int63()
		weights := make([]float64, n)
		if f.config.Bootstrap {
			sampler := rand.New(rand.NewSource(seed))
			for k := 0; k < n; k++ {
				weights[sampler.Intn(n)]++
			}
		} else {
			for i := range weights {
				weights[i] = 1
			}
		}
		for i := range weights {
			weights[i] *= classWeights[labels[i]]
		}

		tree := NewDecisionTree(TreeConfig{
			MaxDepth:       f.config.MaxDepth,
			MinSamplesLeaf: f.config.MinSamplesLeaf,
			MaxFeatures:    maxFeatures,
			Seed:           seed,
		})
		if err := tree.fit(features, labels, weights); err != nil {
			return fmt.Errorf("tree %d: %w", t, err)
		}
		for i, imp := range tree.importances {
			importances[i] += imp
		}
		trees = append(trees, tree)
	}

	normalize(importances)
	f.trees = trees
	f.importances = importances
	f.featureNames = defaultFeatureNames(nFeatures)
	return nil
}

func (f *RandomForest) Predict(features []float64) (int, float64, error) {
	proba, err := f.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

func (f *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, errors.New("model not trained")
	}
	if len(features) != len(f.featureNames) {
		return nil, fmt.Errorf("expected %d features, got %d", len(f.featureNames), len(features))
	}
	proba := make([]float64, NumClasses)
	for _, tree := range f.trees {
		leaf, err := tree.leaf(features)
		if err != nil {
			return nil, err
		}
		for c, p := range leaf.Value {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.trees))
	}
	return proba, nil
}

func (f *RandomForest) FeatureNames() []string {
	return append([]string(nil), f.featureNames...)
}

// FeatureImportances is empty for a forest restored from an artifact.
func (f *RandomForest) FeatureImportances() []float64 {
	return append([]float64(nil), f.importances...)
}

func (f *RandomForest) NumTrees() int {
	return len(f.trees)
}

func (f *RandomForest) Save(path string) error {
	if len(f.trees) == 0 {
		return errors.New("model not trained")
	}
	trees := make([][]TreeNode, len(f.trees))
	for i, tree := range f.trees {
		trees[i] = tree.nodes
	}
	return writeArtifact(path, &Artifact{
		Format:        ArtifactFormat,
		FormatVersion: ArtifactFormatVersion,
		ModelType:     ModelTypeRandomForest,
		FeatureNames:  f.featureNames,
		Classes:       artifactClasses(),
		Trees:         trees,
	})
}

func (f *RandomForest) Load(path string) error {
	artifact, err := ReadArtifact(path)
	if err != nil {
		return err
	}
	if artifact.ModelType != ModelTypeRandomForest {
		return fmt.Errorf("artifact holds %s, not %s", artifact.ModelType, ModelTypeRandomForest)
	}
	f.restore(artifact)
	return nil
}

func (f *RandomForest) restore(artifact *Artifact) {
	f.trees = make([]*DecisionTree, len(artifact.Trees))
	for i, nodes := range artifact.Trees {
		f.trees[i] = &DecisionTree{nodes: nodes, featureNames: artifact.FeatureNames}
	}
	f.featureNames = artifact.FeatureNames
	f.importances = nil
}

// computeClassWeights mirrors the "balanced" heuristic: n / (classes * count).
func computeClassWeights(labels []int, mode string) ([NumClasses]float64, error) {
	weights := [NumClasses]float64{1, 1}
	switch mode {
	case "":
		return weights, nil
	case ClassWeightBalanced:
	default:
		return weights, fmt.Errorf("unsupported class weight %q", mode)
	}

	var counts [NumClasses]int
	for _, label := range labels {
		counts[label]++
	}
	for c, count := range counts {
		if count > 0 {
			weights[c] = float64(len(labels)) / float64(NumClasses*count)
		}
	}
	return weights, nil
}
