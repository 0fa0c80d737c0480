package panel

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DateLayout is the date format used in every exported file.
const DateLayout = "2006-01-02"

// WriteTable writes a header and rows to path, creating parent directories.
func WriteTable(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, row := range rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return file.Close()
}

// WriteStore exports a store as entity, secondary, date, features..., targets...
// Missing values are written as empty cells.
func WriteStore(path string, s *Store) error {
	header := []string{columnName(s.EntityColumn, "entity_id")}
	if s.SecondaryColumn != "" {
		header = append(header, s.SecondaryColumn)
	}
	header = append(header, "date")
	header = append(header, s.FeatureNames...)
	header = append(header, s.TargetNames...)

	rows := make([][]string, 0, len(s.Records))
	for _, r := range s.Records {
		row := make([]string, 0, len(header))
		row = append(row, r.EntityID)
		if s.SecondaryColumn != "" {
			row = append(row, r.SecondaryID)
		}
		row = append(row, FormatDate(r.Date))
		for _, v := range r.Features {
			row = append(row, FormatFloat(v))
		}
		for _, v := range r.Targets {
			row = append(row, FormatFloat(v))
		}
		rows = append(rows, row)
	}
	return WriteTable(path, header, rows)
}

// FormatFloat renders v in shortest form, NaN as an empty cell.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FormatDate renders a date in DateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func columnName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
