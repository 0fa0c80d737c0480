// Package panel holds the in-memory (entity, month) panel that every research
// stage reads and derives new panels from.
package panel

import (
	"math"
	"sort"
	"time"
)

// Record is one (entity, secondary, month) observation.
// Features and Targets are positional; names live on the owning Store.
type Record struct {
	EntityID    string    `msgpack:"e"`
	SecondaryID string    `msgpack:"s"`
	Date        time.Time `msgpack:"d"`
	Features    []float64 `msgpack:"f"`
	Targets     []float64 `msgpack:"t"`
}

// Store is an immutable table of records sharing one schema.
//
// Stages never mutate a Store or the slices inside its records; they build
// a new Store instead, so a Store can be read from many goroutines.
type Store struct {
	EntityColumn    string   `msgpack:"entity_column"`
	SecondaryColumn string   `msgpack:"secondary_column"`
	FeatureNames    []string `msgpack:"features"`
	TargetNames     []string `msgpack:"targets"`
	Records         []Record `msgpack:"records"`
}

// GroupKey selects which identifier(s) define an entity timeline.
type GroupKey int

const (
	ByEntity GroupKey = iota
	BySecondary
	ByEntityAndSecondary
)

// String returns the group key name used in logs
func (k GroupKey) String() string {
	switch k {
	case BySecondary:
		return "secondary"
	case ByEntityAndSecondary:
		return "entity+secondary"
	default:
		return "entity"
	}
}

// Of returns the group identifier of a record.
func (k GroupKey) Of(r Record) string {
	switch k {
	case BySecondary:
		return r.SecondaryID
	case ByEntityAndSecondary:
		return r.EntityID + "|" + r.SecondaryID
	default:
		return r.EntityID
	}
}

// Group is the ordered set of records sharing a group key.
type Group struct {
	Key     string
	Records []Record
}

// WithRecords returns a store with the same schema holding records.
func (s *Store) WithRecords(records []Record) *Store {
	return &Store{
		EntityColumn:    s.EntityColumn,
		SecondaryColumn: s.SecondaryColumn,
		FeatureNames:    s.FeatureNames,
		TargetNames:     s.TargetNames,
		Records:         records,
	}
}

// Len returns the number of records
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// FeatureIndex returns the position of a feature column or -1.
func (s *Store) FeatureIndex(name string) int {
	return indexOf(s.FeatureNames, name)
}

// TargetIndex returns the position of a target column or -1.
func (s *Store) TargetIndex(name string) int {
	return indexOf(s.TargetNames, name)
}

// Feature returns a named feature value of r; NaN when the column is absent.
func (s *Store) Feature(r Record, name string) float64 {
	i := s.FeatureIndex(name)
	if i < 0 || i >= len(r.Features) {
		return math.NaN()
	}
	return r.Features[i]
}

// Target returns a named target value of r; NaN when the column is absent.
func (s *Store) Target(r Record, name string) float64 {
	i := s.TargetIndex(name)
	if i < 0 || i >= len(r.Targets) {
		return math.NaN()
	}
	return r.Targets[i]
}

// Filter returns the records for which keep is true.
func (s *Store) Filter(keep func(Record) bool) *Store {
	out := make([]Record, 0, len(s.Records))
	for _, r := range s.Records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return s.WithRecords(out)
}

// Sorted returns a copy ordered by group key then date. The sort is stable,
// so ingestion order breaks ties.
func (s *Store) Sorted(key GroupKey) *Store {
	out := make([]Record, len(s.Records))
	copy(out, s.Records)
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := key.Of(out[i]), key.Of(out[j])
		if ki != kj {
			return ki < kj
		}
		return out[i].Date.Before(out[j].Date)
	})
	return s.WithRecords(out)
}

// Partition splits records by group key. Groups appear in first-seen order and
// keep the store's record order inside each group.
func (s *Store) Partition(key GroupKey) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, r := range s.Records {
		k := key.Of(r)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Key: k})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}

// Dates returns the distinct record dates in ascending order.
func (s *Store) Dates() []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, r := range s.Records {
		if !seen[r.Date] {
			seen[r.Date] = true
			dates = append(dates, r.Date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Concat joins groups back into one record slice.
func Concat(groups []Group) []Record {
	n := 0
	for _, g := range groups {
		n += len(g.Records)
	}
	out := make([]Record, 0, n)
	for _, g := range groups {
		out = append(out, g.Records...)
	}
	return out
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
