package preprocessing

import (
	"time"

	"github.com/aristath/returnlab/internal/modules/panel"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func rec(entity, secondary string, date time.Time, features ...float64) panel.Record {
	return panel.Record{EntityID: entity, SecondaryID: secondary, Date: date, Features: features}
}

// monthlyRecords builds n consecutive monthly rows for one entity starting at start.
func monthlyRecords(entity, secondary string, start time.Time, n int) []panel.Record {
	out := make([]panel.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, rec(entity, secondary, start.AddDate(0, i, 0), float64(i)))
	}
	return out
}
