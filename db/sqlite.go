package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"diabetesapi/ml"
	_ "github.com/mattn/go-sqlite3"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LabeledRow is one training example as stored; NULL columns stay invalid.
type LabeledRow struct {
	RowID  int64
	Values [ml.NumFeatures]sql.NullFloat64
	Label  sql.NullInt64
}

// Store reads labeled examples from a SQLite file. It never writes.
type Store struct {
	database *sql.DB
}

// Open opens an existing SQLite file read-only.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	database, err := sql.Open("sqlite3", readOnlyDSN(path))
	if err != nil {
		return nil, err
	}
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{database: database}, nil
}

// readOnlyDSN escapes path so '?' and '#' stay part of the file name.
func readOnlyDSN(path string) string {
	dsn := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: "mode=ro"}
	return dsn.String()
}

func (s *Store) Close() error {
	if s.database == nil {
		return nil
	}
	return s.database.Close()
}

// LabeledRows selects the five feature columns plus labelColumn from table.
func (s *Store) LabeledRows(ctx context.Context, table, labelColumn string) ([]LabeledRow, error) {
	if s.database == nil {
		return nil, errors.New("database not initialized")
	}
	columns := append(ml.FeatureNames(), labelColumn)
	for _, name := range append([]string{table}, columns...) {
		if !identifierPattern.MatchString(name) {
			return nil, fmt.Errorf("invalid identifier %q", name)
		}
	}

	quoted := make([]string, len(columns))
	for i, name := range columns {
		quoted[i] = `"` + name + `"`
	}
	query := fmt.Sprintf(`SELECT rowid, %s FROM "%s" ORDER BY rowid`, strings.Join(quoted, ", "), table)

	rows, err := s.database.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]LabeledRow, 0)
	for rows.Next() {
		var row LabeledRow
		dest := []interface{}{&row.RowID}
		for i := range row.Values {
			dest = append(dest, &row.Values[i])
		}
		dest = append(dest, &row.Label)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
