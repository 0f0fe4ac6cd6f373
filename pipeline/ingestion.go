package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"diabetesapi/db"
	"diabetesapi/ml"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"

	DefaultLabelColumn = "Diabetic"
	DefaultTable       = "patients"
)

// Older exports name the label column after the Pima dataset.
var fallbackLabelColumns = []string{"Diabetic", "Outcome"}

// IngestionConfig 数据摄取配置
type IngestionConfig struct {
	Path        string `yaml:"path"`
	Format      string `yaml:"format"`
	Table       string `yaml:"table"`
	LabelColumn string `yaml:"label_column"`
	Encoding    string `yaml:"encoding"`
}

// IngestionStats 摄取统计
type IngestionStats struct {
	Format   string        `json:"format"`
	RowsRead int           `json:"rows_read"`
	Cleaning CleaningStats `json:"cleaning"`
}

// LoadDataset reads a labeled dataset from CSV or SQLite and drops every row
// the cleaner rejects.
func LoadDataset(ctx context.Context, config IngestionConfig, cleaner *DataCleaner) (*ml.Dataset, IngestionStats, error) {
	if cleaner == nil {
		cleaner = NewDataCleaner()
	}
	format := config.Format
	if format == "" {
		format = InferFormat(config.Path)
	}
	stats := IngestionStats{Format: format}

	var (
		records []*Record
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = readCSVFile(config)
	case FormatSQLite:
		records, err = readSQLite(ctx, config)
	default:
		return nil, stats, fmt.Errorf("unsupported dataset format %q", format)
	}
	if err != nil {
		return nil, stats, err
	}
	stats.RowsRead = len(records)

	ds := cleaner.Clean(records)
	stats.Cleaning = cleaner.Stats()
	if ds.Len() == 0 {
		return nil, stats, errNoRecords
	}
	return ds, stats, nil
}

// InferFormat guesses the dataset format from the file extension.
func InferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatCSV
	}
}

func readCSVFile(config IngestionConfig) ([]*Record, error) {
	f, err := os.Open(config.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, config.Encoding, config.LabelColumn)
}

// ReadCSV parses a header-first CSV. Columns are matched by name, case-insensitively.
func ReadCSV(r io.Reader, encoding, labelColumn string) ([]*Record, error) {
	decoded, err := decodeReader(r, encoding)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv is empty")
		}
		return nil, err
	}
	featureCols, labelCol, err := resolveColumns(header, labelColumn)
	if err != nil {
		return nil, err
	}

	var records []*Record
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, parseRow(row, featureCols, labelCol, fmt.Sprintf("line %d", line)))
	}
	return records, nil
}

func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(encoding))
	if name == "" || name == "utf-8" || name == "utf8" {
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", encoding, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

func resolveColumns(header []string, labelColumn string) ([ml.NumFeatures]int, int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var featureCols [ml.NumFeatures]int
	for i, name := range ml.FeatureNames() {
		col, ok := index[strings.ToLower(name)]
		if !ok {
			return featureCols, 0, fmt.Errorf("missing column %q", name)
		}
		featureCols[i] = col
	}

	candidates := fallbackLabelColumns
	if labelColumn != "" {
		candidates = []string{labelColumn}
	}
	for _, name := range candidates {
		if col, ok := index[strings.ToLower(name)]; ok {
			return featureCols, col, nil
		}
	}
	return featureCols, 0, fmt.Errorf("missing label column %q", candidates[0])
}

func parseRow(row []string, featureCols [ml.NumFeatures]int, labelCol int, ref string) *Record {
	record := &Record{Ref: ref}
	names := ml.FeatureNames()
	for i, col := range featureCols {
		raw := cell(row, col)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			record.Invalid = append(record.Invalid, names[i])
			continue
		}
		record.Values[i] = v
		record.Present[i] = true
	}

	if raw := cell(row, labelCol); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		switch {
		case err != nil:
			record.Invalid = append(record.Invalid, "label")
		case v != float64(int(v)):
			record.Invalid = append(record.Invalid, "label")
		default:
			record.Label = int(v)
			record.HasLabel = true
		}
	}
	return record
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func readSQLite(ctx context.Context, config IngestionConfig) ([]*Record, error) {
	store, err := db.Open(config.Path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	table := config.Table
	if table == "" {
		table = DefaultTable
	}
	label := config.LabelColumn
	if label == "" {
		label = DefaultLabelColumn
	}
	rows, err := store.LabeledRows(ctx, table, label)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}

	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		record := &Record{Ref: fmt.Sprintf("rowid %d", row.RowID)}
		for i, v := range row.Values {
			record.Values[i] = v.Float64
			record.Present[i] = v.Valid
		}
		record.Label = int(row.Label.Int64)
		record.HasLabel = row.Label.Valid
		records = append(records, record)
	}
	return records, nil
}
