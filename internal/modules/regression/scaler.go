package regression

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centers columns on their mean and divides by their
// population standard deviation. Constant columns keep a scale of 1.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler learns column statistics from x.
func FitScaler(x [][]float64) (*StandardScaler, error) {
	if len(x) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	d := len(x[0])
	if err := checkWidth(x, d); err != nil {
		return nil, err
	}

	s := &StandardScaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	column := make([]float64, len(x))
	for j := 0; j < d; j++ {
		for i, row := range x {
			column[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(column, nil)
		s.Mean[j] = mean
		s.Scale[j] = math.Sqrt(variance)
		if s.Scale[j] == 0 || math.IsNaN(s.Scale[j]) {
			s.Scale[j] = 1
		}
	}
	return s, nil
}

// Transform returns a standardized copy of x.
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	if err := checkWidth(x, len(s.Mean)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}
