package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

const (
	ArtifactFormat        = "diabetes-rf"
	ArtifactFormatVersion = 1

	ModelTypeRandomForest = "RandomForestClassifier"
	ModelTypeDecisionTree = "DecisionTreeClassifier"
)

// Artifact is the on-disk form of a fitted classifier. It is written once
// per training run and only ever read afterwards.
type Artifact struct {
	Format        string       `json:"format"`
	FormatVersion int          `json:"format_version"`
	ModelType     string       `json:"model_type"`
	FeatureNames  []string     `json:"feature_names"`
	Classes       []int        `json:"classes"`
	Trees         [][]TreeNode `json:"trees"`
}

func artifactClasses() []int {
	classes := make([]int, NumClasses)
	for c := range classes {
		classes[c] = c
	}
	return classes
}

func ReadArtifact(path string) (*Artifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact Artifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return &artifact, nil
}

func (a *Artifact) Validate() error {
	if a.Format != ArtifactFormat {
		return fmt.Errorf("unknown format %q", a.Format)
	}
	if a.FormatVersion != ArtifactFormatVersion {
		return fmt.Errorf("unsupported format version %d", a.FormatVersion)
	}
	switch a.ModelType {
	case ModelTypeRandomForest:
	case ModelTypeDecisionTree:
		if len(a.Trees) != 1 {
			return fmt.Errorf("decision tree artifact has %d trees", len(a.Trees))
		}
	default:
		return fmt.Errorf("unsupported model type %q", a.ModelType)
	}
	if len(a.FeatureNames) == 0 {
		return errors.New("feature names missing")
	}
	if len(a.Classes) != NumClasses || a.Classes[0] != 0 || a.Classes[1] != 1 {
		return fmt.Errorf("expected classes [0 1], got %v", a.Classes)
	}
	if len(a.Trees) == 0 {
		return errors.New("no trees")
	}
	for t, nodes := range a.Trees {
		if err := validateNodes(nodes, len(a.FeatureNames)); err != nil {
			return fmt.Errorf("tree %d: %w", t, err)
		}
	}
	return nil
}

// validateNodes requires children to follow their parent, which rules out cycles.
func validateNodes(nodes []TreeNode, nFeatures int) error {
	if len(nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, node := range nodes {
		if node.IsLeaf {
			if len(node.Value) != NumClasses {
				return fmt.Errorf("leaf %d has %d class values", i, len(node.Value))
			}
			for _, v := range node.Value {
				if v < 0 || v > 1 || math.IsNaN(v) {
					return fmt.Errorf("leaf %d has probability %v", i, v)
				}
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d", i, node.FeatureIdx)
		}
		if node.LeftChild <= i || node.LeftChild >= len(nodes) ||
			node.RightChild <= i || node.RightChild >= len(nodes) {
			return fmt.Errorf("node %d has invalid children %d/%d", i, node.LeftChild, node.RightChild)
		}
	}
	return nil
}

// writeArtifact replaces path atomically so a reader never sees a partial file.
func writeArtifact(path string, artifact *Artifact) error {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, payload)
}

func writeFileAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
