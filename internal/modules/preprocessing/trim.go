package preprocessing

import (
	"github.com/aristath/returnlab/internal/modules/panel"
)

// TrimTrailingMonths drops every row dated in the last n distinct months of the panel.
// Panels with n or fewer distinct months are returned unchanged.
func TrimTrailingMonths(s *panel.Store, n int) *panel.Store {
	dates := s.Dates()
	if n <= 0 || len(dates) <= n {
		return s
	}

	cutoff := dates[len(dates)-n]
	return s.Filter(func(r panel.Record) bool { return r.Date.Before(cutoff) })
}
