package regression

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// RMSE returns the root mean squared error, or NaN for empty input.
// It panics if the slices differ in length.
func RMSE(truth, pred []float64) float64 {
	if len(truth) == 0 {
		return math.NaN()
	}
	return floats.Distance(truth, pred, 2) / math.Sqrt(float64(len(truth)))
}

// MAE returns the mean absolute error, or NaN for empty input.
func MAE(truth, pred []float64) float64 {
	if len(truth) == 0 {
		return math.NaN()
	}
	return floats.Distance(truth, pred, 1) / float64(len(truth))
}
