package preprocessing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aristath/returnlab/internal/modules/panel"
)

// ErrDuplicateJoinKey reports that a join input holds more than one row per (entity, month).
var ErrDuplicateJoinKey = errors.New("duplicate (entity, month) join key")

// DuplicateKeyError identifies the first offending key of a join precondition failure.
type DuplicateKeyError struct {
	Side   string
	Entity string
	Month  string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s panel has more than one row for entity %s in %s", e.Side, e.Entity, e.Month)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateJoinKey
}

// JoinStats counts rows on each side and in the result.
type JoinStats struct {
	Left   int
	Right  int
	Joined int
}

type monthKey struct {
	entity string
	month  int
}

// Join inner-joins two panels on (entity, calendar month).
//
// Both sides must hold at most one row per key; otherwise a *DuplicateKeyError
// is returned instead of a fanned-out result. The left secondary id is kept,
// features are the union of both sides and colliding names get "_x"/"_y"
// suffixes. Output is ordered by entity then month.
func Join(left, right *panel.Store) (*panel.Store, JoinStats, error) {
	stats := JoinStats{Left: left.Len(), Right: right.Len()}

	if _, err := indexByMonth(left, "left"); err != nil {
		return nil, stats, err
	}
	rightIdx, err := indexByMonth(right, "right")
	if err != nil {
		return nil, stats, err
	}

	features := mergeNames(left.FeatureNames, right.FeatureNames)
	targets := mergeNames(left.TargetNames, right.TargetNames)

	var joined []panel.Record
	for _, l := range left.Records {
		ri, ok := rightIdx[monthKey{entity: l.EntityID, month: panel.MonthIndex(l.Date)}]
		if !ok {
			continue
		}
		r := right.Records[ri]

		values := make([]float64, 0, len(features))
		values = append(values, l.Features...)
		values = append(values, r.Features...)
		var tgt []float64
		if len(targets) > 0 {
			tgt = make([]float64, 0, len(targets))
			tgt = append(tgt, l.Targets...)
			tgt = append(tgt, r.Targets...)
		}

		joined = append(joined, panel.Record{
			EntityID:    l.EntityID,
			SecondaryID: l.SecondaryID,
			Date:        panel.MonthStart(l.Date),
			Features:    values,
			Targets:     tgt,
		})
	}

	sort.SliceStable(joined, func(i, j int) bool {
		if joined[i].EntityID != joined[j].EntityID {
			return joined[i].EntityID < joined[j].EntityID
		}
		return joined[i].Date.Before(joined[j].Date)
	})
	stats.Joined = len(joined)

	return &panel.Store{
		EntityColumn:    left.EntityColumn,
		SecondaryColumn: left.SecondaryColumn,
		FeatureNames:    features,
		TargetNames:     targets,
		Records:         joined,
	}, stats, nil
}

// indexByMonth maps (entity, month) to a record position, rejecting repeats.
func indexByMonth(s *panel.Store, side string) (map[monthKey]int, error) {
	idx := make(map[monthKey]int, len(s.Records))
	for i, r := range s.Records {
		k := monthKey{entity: r.EntityID, month: panel.MonthIndex(r.Date)}
		if _, dup := idx[k]; dup {
			return nil, &DuplicateKeyError{Side: side, Entity: r.EntityID, Month: r.Date.Format("2006-01")}
		}
		idx[k] = i
	}
	return idx, nil
}

// mergeNames concatenates left and right names, suffixing collisions.
func mergeNames(left, right []string) []string {
	inRight := make(map[string]bool, len(right))
	for _, n := range right {
		inRight[n] = true
	}
	inLeft := make(map[string]bool, len(left))
	for _, n := range left {
		inLeft[n] = true
	}

	out := make([]string, 0, len(left)+len(right))
	for _, n := range left {
		if inRight[n] {
			n += "_x"
		}
		out = append(out, n)
	}
	for _, n := range right {
		if inLeft[n] {
			n += "_y"
		}
		out = append(out, n)
	}
	return out
}
