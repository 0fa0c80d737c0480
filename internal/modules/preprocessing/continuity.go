package preprocessing

import (
	"sort"
	"time"

	"github.com/aristath/returnlab/internal/modules/panel"
)

// MissingMonth is one calendar month absent from a group's observed span.
type MissingMonth struct {
	Group string
	Month time.Time
}

// ContinuityReport splits a panel into continuous and gapped entity timelines.
type ContinuityReport struct {
	Continuous *panel.Store
	Gapped     *panel.Store
	Missing    []MissingMonth
	// Repeated lists months observed more than once inside one group.
	Repeated         []MissingMonth
	ContinuousGroups int
	GappedGroups     int
}

// ValidateContinuity checks every group for an unbroken monthly sequence
// between its first and last observation.
//
// A group is gapped when it contains a run of at least minConsecutiveMissing
// missing months, or any repeated month. With minConsecutiveMissing of 1 a
// group is continuous exactly when no month is missing. Gapped groups move to
// the gapped store whole; they are never repaired. Missing months are reported
// for gapped groups only.
func ValidateContinuity(s *panel.Store, key panel.GroupKey, minConsecutiveMissing int) ContinuityReport {
	if minConsecutiveMissing < 1 {
		minConsecutiveMissing = 1
	}

	var continuous, gapped []panel.Group
	report := ContinuityReport{}

	for _, g := range s.Partition(key) {
		records := make([]panel.Record, len(g.Records))
		copy(records, g.Records)
		sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
		g.Records = records

		missing, repeated := monthGaps(records)
		if len(repeated) == 0 && longestRun(missing) < minConsecutiveMissing {
			continuous = append(continuous, g)
			report.ContinuousGroups++
			continue
		}

		gapped = append(gapped, g)
		report.GappedGroups++
		for _, m := range missing {
			report.Missing = append(report.Missing, MissingMonth{Group: g.Key, Month: m})
		}
		for _, m := range repeated {
			report.Repeated = append(report.Repeated, MissingMonth{Group: g.Key, Month: m})
		}
	}

	report.Continuous = s.WithRecords(panel.Concat(continuous))
	report.Gapped = s.WithRecords(panel.Concat(gapped))
	return report
}

// monthGaps returns the months missing from the span of date-sorted records,
// and the months that occur more than once.
func monthGaps(records []panel.Record) (missing, repeated []time.Time) {
	if len(records) == 0 {
		return nil, nil
	}

	observed := make(map[int]int, len(records))
	for _, r := range records {
		idx := panel.MonthIndex(r.Date)
		observed[idx]++
		if observed[idx] == 2 {
			repeated = append(repeated, panel.MonthStart(r.Date))
		}
	}

	for _, m := range panel.MonthRange(records[0].Date, records[len(records)-1].Date) {
		if observed[panel.MonthIndex(m)] == 0 {
			missing = append(missing, m)
		}
	}
	return missing, repeated
}

// longestRun returns the longest streak of consecutive months in an ascending list.
func longestRun(months []time.Time) int {
	longest, run := 0, 0
	for i, m := range months {
		if i > 0 && panel.MonthsBetween(months[i-1], m) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}
