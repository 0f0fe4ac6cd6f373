package ml

import (
	"fmt"
)

// LoadModel restores whichever model type the artifact at path records.
func LoadModel(path string) (MLModel, error) {
	artifact, err := ReadArtifact(path)
	if err != nil {
		return nil, err
	}
	switch artifact.ModelType {
	case ModelTypeRandomForest:
		model := &RandomForest{}
		model.restore(artifact)
		return model, nil
	case ModelTypeDecisionTree:
		return &DecisionTree{nodes: artifact.Trees[0], featureNames: artifact.FeatureNames}, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", artifact.ModelType)
	}
}
