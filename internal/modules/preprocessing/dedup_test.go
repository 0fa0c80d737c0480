package preprocessing

import (
	"testing"

	"github.com/aristath/returnlab/internal/modules/panel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduplicate_KeepsFirstOccurrence(t *testing.T) {
	s := &panel.Store{FeatureNames: []string{"prc"}, Records: []panel.Record{
		rec("1", "A", month(2000, 1), 10),
		rec("1", "A", month(2000, 1), 99),
		rec("1", "B", month(2000, 1), 11),
		rec("2", "A", month(2000, 1), 12),
		rec("1", "A", month(2000, 2), 13),
		rec("1", "A", month(2000, 1), 98),
	}}

	clean, discarded := Deduplicate(s, ScopeEntitySecondary)

	require.Equal(t, 4, clean.Len())
	assert.Equal(t, 10.0, clean.Records[0].Features[0])
	assert.Equal(t, []float64{99}, discarded.Records[0].Features)
	assert.Equal(t, []float64{98}, discarded.Records[1].Features)
	assert.Equal(t, s.Len(), clean.Len()+discarded.Len())
	assert.Equal(t, s.FeatureNames, discarded.FeatureNames)
}

func TestDeduplicate_EntityScopeIgnoresSecondary(t *testing.T) {
	s := &panel.Store{Records: []panel.Record{
		rec("1", "A", month(2000, 1)),
		rec("1", "B", month(2000, 1)),
	}}

	clean, discarded := Deduplicate(s, ScopeEntity)

	assert.Equal(t, 1, clean.Len())
	assert.Equal(t, "A", clean.Records[0].SecondaryID)
	assert.Equal(t, 1, discarded.Len())
}

func TestDeduplicate_Idempotent(t *testing.T) {
	s := &panel.Store{Records: []panel.Record{
		rec("1", "A", month(2000, 1)),
		rec("1", "A", month(2000, 1)),
		rec("1", "A", month(2000, 2)),
		rec("1", "A", month(2000, 2)),
	}}

	for _, scope := range []DedupScope{ScopeEntitySecondary, ScopeEntity} {
		once, _ := Deduplicate(s, scope)
		twice, discarded := Deduplicate(once, scope)

		assert.Equal(t, once.Records, twice.Records)
		assert.Equal(t, 0, discarded.Len())
	}
}
