package regression

import (
	"math"
	"math/rand"
)

// Split shuffles n row positions with seed and holds out ceil(n*fraction) of
// them for validation. The hold-out is empty when it would consume every row.
func Split(n int, fraction float64, seed int64) (fit, validation []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	held := int(math.Ceil(float64(n) * fraction))
	if fraction <= 0 || held >= n {
		held = 0
	}
	return perm[held:], perm[:held]
}

// Rows selects rows of x and y by position.
func Rows(x [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for k, i := range idx {
		xs[k] = x[i]
		ys[k] = y[i]
	}
	return xs, ys
}
