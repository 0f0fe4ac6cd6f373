package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const DefaultModelVersion = "1.0"

// Metadata describes a model artifact. Document keeps the file bytes so the
// serving side can return it verbatim.
type Metadata struct {
	ModelType         string   `json:"model_type"`
	FeatureNames      []string `json:"feature_names,omitempty"`
	Accuracy          *float64 `json:"accuracy,omitempty"`
	TrainingTimestamp string   `json:"training_timestamp,omitempty"`
	Version           string   `json:"version"`

	document json.RawMessage
}

// legacyMetadata holds the key names used by older training runs.
type legacyMetadata struct {
	Features     []string `json:"features"`
	TrainingDate string   `json:"training_date"`
}

// DefaultMetadata stands in when no metadata document exists next to the model.
func DefaultMetadata() *Metadata {
	return &Metadata{
		ModelType: "RandomForest",
		Version:   DefaultModelVersion,
	}
}

func NewMetadata(modelType string, accuracy float64, trainedAt time.Time, version string) *Metadata {
	if version == "" {
		version = DefaultModelVersion
	}
	return &Metadata{
		ModelType:         modelType,
		FeatureNames:      FeatureNames(),
		Accuracy:          &accuracy,
		TrainingTimestamp: trainedAt.Format(time.RFC3339Nano),
		Version:           version,
	}
}

func ReadMetadata(path string) (*Metadata, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMetadata(payload)
}

func ParseMetadata(payload []byte) (*Metadata, error) {
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("decode metadata: document is not a JSON object")
	}
	var meta Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	var legacy legacyMetadata
	if err := json.Unmarshal(payload, &legacy); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if meta.FeatureNames == nil {
		meta.FeatureNames = legacy.Features
	}
	if meta.TrainingTimestamp == "" {
		meta.TrainingTimestamp = legacy.TrainingDate
	}
	meta.document = append(json.RawMessage(nil), payload...)
	return &meta, nil
}

// ModelVersion falls back to DefaultModelVersion when the document has none.
func (m *Metadata) ModelVersion() string {
	if m == nil || m.Version == "" {
		return DefaultModelVersion
	}
	return m.Version
}

// Document returns the metadata as it was read, or its JSON encoding when it
// was built in memory.
func (m *Metadata) Document() (json.RawMessage, error) {
	if len(m.document) > 0 {
		return m.document, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Write(path string) error {
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(payload, '\n'))
}
