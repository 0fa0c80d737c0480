// Package targets derives forward-looking return targets from a price field.
package targets

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/returnlab/internal/modules/panel"
)

// ErrMissingField is returned when the price field is not a feature of the store.
var ErrMissingField = errors.New("price field not found")

// ErrNonMonotonicDates is returned when a timeline repeats or reorders a month.
var ErrNonMonotonicDates = errors.New("timeline dates are not strictly increasing")

// Kind selects the statistic a target is built from.
type Kind string

const (
	KindGrowth     Kind = "growth"
	KindVolatility Kind = "volatility"
)

// Spec describes which targets to build.
type Spec struct {
	Kind       Kind
	PriceField string
	Horizons   []int
}

// TargetName returns the column name of the kind's target at horizon months.
func TargetName(kind Kind, horizon int) string {
	return fmt.Sprintf("%s_%dm", kind, horizon)
}

// CorrectPrice replaces negative encodings of field with their absolute value.
func CorrectPrice(s *panel.Store, field string) (*panel.Store, int, error) {
	idx := s.FeatureIndex(field)
	if idx < 0 {
		return nil, 0, fmt.Errorf("%w: %s", ErrMissingField, field)
	}

	corrected := 0
	records := make([]panel.Record, len(s.Records))
	for i, r := range s.Records {
		records[i] = r
		if v := r.Features[idx]; v < 0 {
			features := make([]float64, len(r.Features))
			copy(features, r.Features)
			features[idx] = math.Abs(v)
			records[i].Features = features
			corrected++
		}
	}

	return s.WithRecords(records), corrected, nil
}

// Build computes one target per horizon for every (entity, secondary) timeline.
//
// The value attached to the row at month t describes months t..t+H, so a row
// never carries information from before its own date in its features and only
// future information in its targets. Rows without any non-NaN target are
// dropped. Existing targets are replaced. A timeline whose months do not
// strictly increase fails with ErrNonMonotonicDates.
func Build(s *panel.Store, spec Spec) (*panel.Store, error) {
	idx := s.FeatureIndex(spec.PriceField)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, spec.PriceField)
	}
	if spec.Kind != KindGrowth && spec.Kind != KindVolatility {
		return nil, fmt.Errorf("unknown target kind %q", spec.Kind)
	}
	for _, h := range spec.Horizons {
		if h <= 0 {
			return nil, fmt.Errorf("invalid target horizon %d", h)
		}
	}

	names := make([]string, len(spec.Horizons))
	for i, h := range spec.Horizons {
		names[i] = TargetName(spec.Kind, h)
	}

	var out []panel.Record
	for _, g := range s.Sorted(panel.ByEntityAndSecondary).Partition(panel.ByEntityAndSecondary) {
		prices := make([]float64, len(g.Records))
		for i, r := range g.Records {
			if i > 0 && panel.MonthIndex(r.Date) <= panel.MonthIndex(g.Records[i-1].Date) {
				return nil, fmt.Errorf("%w: %s/%s repeats %s",
					ErrNonMonotonicDates, r.EntityID, r.SecondaryID, panel.FormatDate(r.Date))
			}
			prices[i] = r.Features[idx]
		}

		columns := make([][]float64, len(spec.Horizons))
		for j, h := range spec.Horizons {
			var series []float64
			if spec.Kind == KindGrowth {
				series = growth(prices, h)
			} else {
				series = rollingStd(prices, h)
			}
			columns[j] = shiftForward(series, h)
		}

		for i, r := range g.Records {
			targets := make([]float64, len(columns))
			kept := false
			for j := range columns {
				targets[j] = columns[j][i]
				if !math.IsNaN(targets[j]) {
					kept = true
				}
			}
			if !kept {
				continue
			}
			r.Targets = targets
			out = append(out, r)
		}
	}

	return &panel.Store{
		EntityColumn:    s.EntityColumn,
		SecondaryColumn: s.SecondaryColumn,
		FeatureNames:    s.FeatureNames,
		TargetNames:     names,
		Records:         out,
	}, nil
}

// ForHorizon narrows a targeted store to one target column and drops rows
// where that target is NaN.
func ForHorizon(s *panel.Store, name string) (*panel.Store, error) {
	idx := s.TargetIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("target %s not found", name)
	}

	var out []panel.Record
	for _, r := range s.Records {
		v := r.Targets[idx]
		if math.IsNaN(v) {
			continue
		}
		r.Targets = []float64{v}
		out = append(out, r)
	}

	return &panel.Store{
		EntityColumn:    s.EntityColumn,
		SecondaryColumn: s.SecondaryColumn,
		FeatureNames:    s.FeatureNames,
		TargetNames:     []string{name},
		Records:         out,
	}, nil
}

// growth returns price[t]/price[t-h]-1, NaN for the first h rows and for a zero
// or missing base.
func growth(prices []float64, h int) []float64 {
	out := make([]float64, len(prices))
	if len(prices) > h {
		copy(out, talib.Rocp(prices, h))
	}
	for i := range out {
		if i < h || prices[i-h] == 0 || math.IsNaN(prices[i-h]) || math.IsNaN(prices[i]) {
			out[i] = math.NaN()
		}
	}
	return out
}

// rollingStd returns the sample standard deviation of the trailing window of
// up to h observations. Windows with fewer than two values are NaN.
func rollingStd(prices []float64, h int) []float64 {
	out := make([]float64, len(prices))
	window := make([]float64, 0, h)
	for i := range prices {
		window = window[:0]
		for j := max(0, i-h+1); j <= i; j++ {
			if !math.IsNaN(prices[j]) {
				window = append(window, prices[j])
			}
		}
		if len(window) < 2 {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.StdDev(window, nil)
	}
	return out
}

// shiftForward moves series[t+h] onto index t; the last h entries become NaN.
func shiftForward(series []float64, h int) []float64 {
	out := make([]float64, len(series))
	for i := range out {
		if i+h < len(series) {
			out[i] = series[i+h]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}
