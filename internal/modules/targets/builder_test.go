package targets

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/returnlab/internal/modules/panel"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func priceRecords(entity string, prices ...float64) []panel.Record {
	records := make([]panel.Record, 0, len(prices))
	for i, p := range prices {
		records = append(records, panel.Record{
			EntityID:    entity,
			SecondaryID: "N" + entity,
			Date:        month(2000, 1).AddDate(0, i, 0),
			Features:    []float64{float64(i), p},
		})
	}
	return records
}

func priceStore(records ...[]panel.Record) *panel.Store {
	s := &panel.Store{EntityColumn: "permno", SecondaryColumn: "ncusip", FeatureNames: []string{"bm", "prc"}}
	for _, r := range records {
		s.Records = append(s.Records, r...)
	}
	return s
}

func TestBuild_GrowthLooksForward(t *testing.T) {
	prices := make([]float64, 13)
	for i := range prices {
		prices[i] = float64(10 + i)
	}
	s := priceStore(priceRecords("1", prices...))

	out, err := Build(s, Spec{Kind: KindGrowth, PriceField: "prc", Horizons: []int{1}})
	require.NoError(t, err)

	assert.Equal(t, []string{"growth_1m"}, out.TargetNames)
	// The final month has no future price.
	require.Equal(t, 12, out.Len())
	assert.InDelta(t, 0.10, out.Records[0].Targets[0], 1e-12)
	assert.Equal(t, month(2000, 1), out.Records[0].Date)
	assert.InDelta(t, 22.0/21.0-1, out.Records[11].Targets[0], 1e-12)
}

func TestBuild_TargetDependsOnlyOnItsForwardWindow(t *testing.T) {
	base := []float64{10, 12, 15, 9, 30, 31, 28, 40}
	const h = 2
	spec := Spec{Kind: KindGrowth, PriceField: "prc", Horizons: []int{h}}

	reference, err := Build(priceStore(priceRecords("1", base...)), spec)
	require.NoError(t, err)

	for t0 := range reference.Records {
		for k := range base {
			if k >= t0 && k <= t0+h {
				continue
			}
			perturbed := append([]float64(nil), base...)
			perturbed[k] *= 3

			out, err := Build(priceStore(priceRecords("1", perturbed...)), spec)
			require.NoError(t, err)
			assert.Equal(t, reference.Records[t0].Targets[0], out.Records[t0].Targets[0],
				"target at %d changed when price %d moved", t0, k)
		}
	}
}

func TestBuild_GrowthZeroBaseIsNaN(t *testing.T) {
	s := priceStore(priceRecords("2", 5, 0, 7, 8))

	out, err := Build(s, Spec{Kind: KindGrowth, PriceField: "prc", Horizons: []int{1}})
	require.NoError(t, err)

	require.Equal(t, 2, out.Len())
	assert.InDelta(t, -1.0, out.Records[0].Targets[0], 1e-12)
	assert.Equal(t, month(2000, 3), out.Records[1].Date)
	assert.InDelta(t, 8.0/7.0-1, out.Records[1].Targets[0], 1e-12)
}

func TestBuild_KeepsRowsWithAnyHorizon(t *testing.T) {
	s := priceStore(priceRecords("1", 1, 2, 3, 4, 5, 6))

	out, err := Build(s, Spec{Kind: KindGrowth, PriceField: "prc", Horizons: []int{1, 3}})
	require.NoError(t, err)

	assert.Equal(t, []string{"growth_1m", "growth_3m"}, out.TargetNames)
	require.Equal(t, 5, out.Len())
	assert.InDelta(t, 3.0, out.Records[0].Targets[1], 1e-12)
	assert.True(t, math.IsNaN(out.Records[3].Targets[1]))
	assert.False(t, math.IsNaN(out.Records[3].Targets[0]))
}

func TestBuild_GroupsDoNotLeak(t *testing.T) {
	s := priceStore(priceRecords("1", 10, 20), priceRecords("2", 100, 50))

	out, err := Build(s, Spec{Kind: KindGrowth, PriceField: "prc", Horizons: []int{1}})
	require.NoError(t, err)

	require.Equal(t, 2, out.Len())
	assert.InDelta(t, 1.0, out.Records[0].Targets[0], 1e-12)
	assert.InDelta(t, -0.5, out.Records[1].Targets[0], 1e-12)
}

func TestBuild_RejectsRepeatedMonth(t *testing.T) {
	records := priceRecords("1", 10, 11, 50, 12)
	records[2].Date = records[1].Date
	records[3].Date = month(2000, 3)
	s := priceStore(records)

	for _, kind := range []Kind{KindGrowth, KindVolatility} {
		out, err := Build(s, Spec{Kind: kind, PriceField: "prc", Horizons: []int{1}})
		assert.ErrorIs(t, err, ErrNonMonotonicDates, "kind %s", kind)
		assert.Nil(t, out)
	}
}

func TestBuild_AllowsGapsBetweenMonths(t *testing.T) {
	records := priceRecords("1", 10, 20, 40)
	records[2].Date = month(2000, 6)

	out, err := Build(priceStore(records), Spec{Kind: KindGrowth, PriceField: "prc", Horizons: []int{1}})
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
}

func TestBuild_Volatility(t *testing.T) {
	s := priceStore(priceRecords("1", 1, 2, 3, 4))

	out, err := Build(s, Spec{Kind: KindVolatility, PriceField: "prc", Horizons: []int{2}})
	require.NoError(t, err)

	assert.Equal(t, []string{"volatility_2m"}, out.TargetNames)
	require.Equal(t, 2, out.Len())
	assert.InDelta(t, math.Sqrt(0.5), out.Records[0].Targets[0], 1e-12)
	assert.InDelta(t, math.Sqrt(0.5), out.Records[1].Targets[0], 1e-12)
}

func TestBuild_Errors(t *testing.T) {
	s := priceStore(priceRecords("1", 1, 2))

	_, err := Build(s, Spec{Kind: KindGrowth, PriceField: "close", Horizons: []int{1}})
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = Build(s, Spec{Kind: "drawdown", PriceField: "prc", Horizons: []int{1}})
	assert.Error(t, err)

	_, err = Build(s, Spec{Kind: KindGrowth, PriceField: "prc", Horizons: []int{0}})
	assert.Error(t, err)
}

func TestCorrectPrice(t *testing.T) {
	s := priceStore(priceRecords("1", -10, 11))

	out, corrected, err := CorrectPrice(s, "prc")
	require.NoError(t, err)

	assert.Equal(t, 1, corrected)
	assert.Equal(t, 10.0, out.Feature(out.Records[0], "prc"))
	assert.Equal(t, -10.0, s.Feature(s.Records[0], "prc"))

	_, _, err = CorrectPrice(s, "close")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestForHorizon(t *testing.T) {
	s := priceStore(priceRecords("1", 1, 2, 3, 4, 5, 6))
	built, err := Build(s, Spec{Kind: KindGrowth, PriceField: "prc", Horizons: []int{1, 3}})
	require.NoError(t, err)

	out, err := ForHorizon(built, "growth_3m")
	require.NoError(t, err)

	assert.Equal(t, []string{"growth_3m"}, out.TargetNames)
	assert.Equal(t, 3, out.Len())
	for _, r := range out.Records {
		assert.Len(t, r.Targets, 1)
	}

	_, err = ForHorizon(built, "growth_9m")
	assert.Error(t, err)
}
