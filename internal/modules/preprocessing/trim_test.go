package preprocessing

import (
	"testing"

	"github.com/aristath/returnlab/internal/modules/panel"
	"github.com/stretchr/testify/assert"
)

func TestTrimTrailingMonths(t *testing.T) {
	s := &panel.Store{Records: append(
		monthlyRecords("1", "A", month(2000, 1), 6),
		monthlyRecords("2", "B", month(2000, 3), 2)...,
	)}

	trimmed := TrimTrailingMonths(s, 3)

	assert.Equal(t, 4, trimmed.Len())
	for _, r := range trimmed.Records {
		assert.True(t, r.Date.Before(month(2000, 4)))
	}
	assert.Equal(t, 8, s.Len())
}

func TestTrimTrailingMonths_ShortPanelUnchanged(t *testing.T) {
	s := &panel.Store{Records: monthlyRecords("1", "A", month(2000, 1), 3)}

	assert.Same(t, s, TrimTrailingMonths(s, 3))
	assert.Same(t, s, TrimTrailingMonths(s, 0))
}
