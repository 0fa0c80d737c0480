package panel

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
)

// ErrEncoding is returned when neither UTF-8 nor the latin1 fallback can decode a file.
var ErrEncoding = errors.New("undecodable input encoding")

// Schema names the canonical columns that identify rows of one panel.
type Schema struct {
	Name      string // Panel name for logs, e.g. "prices"
	Entity    string // Canonical entity column, e.g. "permno"
	Secondary string // Canonical co-identifying column; empty if the panel has none
	Date      string // Canonical date column, defaults to "date"
}

// LoadStats counts what ingestion kept and dropped.
type LoadStats struct {
	Rows           int
	MalformedRows  int
	BadDateRows    int
	MissingIDRows  int
	Fallback       bool
	DroppedColumns []string
	FeatureColumns int
}

// Loader reads panel CSV files into Stores.
type Loader struct {
	aliases AliasTable
	log     zerolog.Logger
}

// NewLoader creates a loader resolving headers through aliases
func NewLoader(aliases AliasTable, log zerolog.Logger) *Loader {
	if aliases == nil {
		aliases = DefaultAliases
	}
	return &Loader{
		aliases: aliases,
		log:     log.With().Str("component", "panel_loader").Logger(),
	}
}

// LoadFile reads a CSV file into a Store.
func (l *Loader) LoadFile(path string, schema Schema) (*Store, LoadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	l.log.Info().Str("panel", schema.Name).Str("path", path).Msg("Loading panel file")
	return l.Load(data, schema)
}

// Load parses CSV bytes into a Store. Input that is not valid UTF-8 is decoded
// once more as latin1; failure of that fallback is fatal.
func (l *Loader) Load(data []byte, schema Schema) (*Store, LoadStats, error) {
	var stats LoadStats
	if schema.Date == "" {
		schema.Date = "date"
	}

	text, fallback, err := decode(data)
	if err != nil {
		return nil, stats, err
	}
	stats.Fallback = fallback
	if fallback {
		l.log.Warn().Str("panel", schema.Name).Msg("UTF-8 decoding failed, using latin1")
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rawHeader, err := reader.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read header of %s panel: %w", schema.Name, err)
	}
	header, err := l.aliases.Resolve(rawHeader)
	if err != nil {
		return nil, stats, fmt.Errorf("%s panel: %w", schema.Name, err)
	}

	entityCol := indexOf(header, schema.Entity)
	dateCol := indexOf(header, schema.Date)
	secondaryCol := -1
	if schema.Secondary != "" {
		secondaryCol = indexOf(header, schema.Secondary)
		if secondaryCol < 0 {
			return nil, stats, fmt.Errorf("%s panel: %w: %s", schema.Name, ErrMissingColumn, schema.Secondary)
		}
	}
	if entityCol < 0 {
		return nil, stats, fmt.Errorf("%s panel: %w: %s", schema.Name, ErrMissingColumn, schema.Entity)
	}
	if dateCol < 0 {
		return nil, stats, fmt.Errorf("%s panel: %w: %s", schema.Name, ErrMissingColumn, schema.Date)
	}

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			stats.MalformedRows++
			continue
		}
		if err != nil {
			return nil, stats, fmt.Errorf("failed to read %s panel: %w", schema.Name, err)
		}
		if len(rec) != len(header) {
			stats.MalformedRows++
			continue
		}
		rows = append(rows, rec)
	}

	featureCols := numericColumns(header, rows, entityCol, secondaryCol, dateCol)
	store := &Store{
		EntityColumn:    schema.Entity,
		SecondaryColumn: schema.Secondary,
	}
	for _, c := range featureCols {
		store.FeatureNames = append(store.FeatureNames, header[c])
	}
	isFeature := make(map[int]bool, len(featureCols))
	for _, c := range featureCols {
		isFeature[c] = true
	}
	for c, name := range header {
		if c != entityCol && c != secondaryCol && c != dateCol && !isFeature[c] {
			stats.DroppedColumns = append(stats.DroppedColumns, name)
		}
	}
	stats.FeatureColumns = len(featureCols)

	store.Records = make([]Record, 0, len(rows))
	for _, row := range rows {
		date, ok := ParseDate(row[dateCol])
		if !ok {
			stats.BadDateRows++
			continue
		}
		entity := NormalizeID(row[entityCol])
		if entity == "" {
			stats.MissingIDRows++
			continue
		}
		rec := Record{
			EntityID: entity,
			Date:     MonthStart(date),
			Features: make([]float64, len(featureCols)),
		}
		if secondaryCol >= 0 {
			rec.SecondaryID = NormalizeID(row[secondaryCol])
		}
		for i, c := range featureCols {
			rec.Features[i] = parseFloat(row[c])
		}
		store.Records = append(store.Records, rec)
	}
	stats.Rows = len(store.Records)

	l.log.Info().
		Str("panel", schema.Name).
		Int("rows", stats.Rows).
		Int("features", stats.FeatureColumns).
		Int("malformed_rows", stats.MalformedRows).
		Int("bad_date_rows", stats.BadDateRows).
		Int("missing_id_rows", stats.MissingIDRows).
		Strs("dropped_columns", stats.DroppedColumns).
		Msg("Loaded panel")

	return store, stats, nil
}

func decode(data []byte) ([]byte, bool, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data, false, nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return decoded, true, nil
}

// numericColumns returns the non-key columns whose non-empty cells all parse as numbers.
func numericColumns(header []string, rows [][]string, skip ...int) []int {
	skipped := make(map[int]bool, len(skip))
	for _, c := range skip {
		skipped[c] = true
	}

	var cols []int
	for c := range header {
		if skipped[c] {
			continue
		}
		numeric := true
		for _, row := range rows {
			cell := strings.TrimSpace(row[c])
			if cell == "" {
				continue
			}
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				numeric = false
				break
			}
		}
		if numeric {
			cols = append(cols, c)
		}
	}
	return cols
}

func parseFloat(cell string) float64 {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// NormalizeID trims an identifier and renders integral float spellings
// ("10001.0") as integers.
func NormalizeID(raw string) string {
	id := strings.TrimSpace(raw)
	dot := strings.IndexByte(id, '.')
	if dot <= 0 {
		return id
	}
	whole, frac := id[:dot], id[dot+1:]
	if strings.Trim(whole, "0123456789") == "" && strings.Trim(frac, "0") == "" {
		return whole
	}
	return id
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006/01/02",
	"20060102",
	"01/02/2006",
	"2006-01",
}

// ParseDate accepts the date spellings found in vendor extracts.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
