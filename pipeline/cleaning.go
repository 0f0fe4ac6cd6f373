package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"diabetesapi/ml"
)

// Record is one raw training example before cleaning.
type Record struct {
	Ref     string
	Values  [ml.NumFeatures]float64
	Present [ml.NumFeatures]bool
	// Invalid names fields whose raw text could not be parsed.
	Invalid  []string
	Label    int
	HasLabel bool
}

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*Record) (*Record, error)
	Name() string
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules []CleaningRule
	stats CleaningStats
}

// NewDataCleaner 创建数据清洗器
func NewDataCleaner() *DataCleaner {
	cleaner := &DataCleaner{
		stats: CleaningStats{Issues: make(map[string]int64)},
	}

	// 默认规则
	cleaner.AddRule(NewCompletenessRule())
	cleaner.AddRule(NewLabelRule())
	cleaner.AddRule(NewIntegerRule())
	cleaner.AddRule(NewRangeRule())

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// Clean runs every rule over records and keeps the ones that pass all of them.
func (dc *DataCleaner) Clean(records []*Record) *ml.Dataset {
	ds := &ml.Dataset{}
	for _, record := range records {
		dc.stats.TotalProcessed++
		cleaned, err := dc.apply(record)
		if err != nil {
			dc.stats.Rejected++
			continue
		}
		features, err := ml.FeaturesFromVector(cleaned.Values[:])
		if err != nil {
			dc.stats.Rejected++
			dc.stats.Issues["shape"]++
			continue
		}
		ds.Append(features, cleaned.Label)
		dc.stats.Passed++
	}
	return ds
}

func (dc *DataCleaner) apply(record *Record) (*Record, error) {
	current := record
	for _, rule := range dc.rules {
		next, err := rule.Apply(current)
		if err != nil {
			dc.stats.Issues[rule.Name()]++
			return nil, fmt.Errorf("%s: %s: %w", current.Ref, rule.Name(), err)
		}
		current = next
	}
	return current, nil
}

// Stats 获取清洗统计
func (dc *DataCleaner) Stats() CleaningStats {
	issues := make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		issues[k] = v
	}
	stats := dc.stats
	stats.Issues = issues
	return stats
}

// CompletenessRule rejects records with missing or unparseable fields.
type CompletenessRule struct{}

func NewCompletenessRule() *CompletenessRule { return &CompletenessRule{} }

func (r *CompletenessRule) Name() string { return "missing_value" }

func (r *CompletenessRule) Apply(record *Record) (*Record, error) {
	if len(record.Invalid) > 0 {
		return nil, fmt.Errorf("unparseable fields: %s", strings.Join(record.Invalid, ", "))
	}
	names := ml.FeatureNames()
	var missing []string
	for i, ok := range record.Present {
		if !ok {
			missing = append(missing, names[i])
		}
	}
	if !record.HasLabel {
		missing = append(missing, "label")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}
	return record, nil
}

// LabelRule 标签校验
type LabelRule struct{}

func NewLabelRule() *LabelRule { return &LabelRule{} }

func (r *LabelRule) Name() string { return "invalid_label" }

func (r *LabelRule) Apply(record *Record) (*Record, error) {
	if record.Label != 0 && record.Label != 1 {
		return nil, fmt.Errorf("label %d is not 0 or 1", record.Label)
	}
	return record, nil
}

// IntegerRule requires whole numbers for the count-like features.
type IntegerRule struct{}

func NewIntegerRule() *IntegerRule { return &IntegerRule{} }

func (r *IntegerRule) Name() string { return "non_integer" }

func (r *IntegerRule) Apply(record *Record) (*Record, error) {
	for _, i := range []int{0, 4} {
		if v := record.Values[i]; v != math.Trunc(v) {
			return nil, fmt.Errorf("%s must be a whole number, got %v", ml.FeatureNames()[i], v)
		}
	}
	return record, nil
}

// RangeRule drops rows the serving side would reject anyway.
type RangeRule struct {
	bounds []ml.Bound
}

func NewRangeRule() *RangeRule {
	return &RangeRule{bounds: ml.FeatureBounds()}
}

func (r *RangeRule) Name() string { return "out_of_range" }

func (r *RangeRule) Apply(record *Record) (*Record, error) {
	for i, b := range r.bounds {
		v := record.Values[i]
		if math.IsNaN(v) || v < b.Min || v > b.Max {
			return nil, fmt.Errorf("%s=%v outside [%v, %v]", b.Name, v, b.Min, b.Max)
		}
	}
	return record, nil
}

var errNoRecords = errors.New("no usable records")
