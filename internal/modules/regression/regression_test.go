package regression

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearData returns rows of two features with y = 3*x0 - 2*x1 + 1.
func linearData(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
		y[i] = 3*x[i][0] - 2*x[i][1] + 1
	}
	return x, y
}

func TestNew(t *testing.T) {
	for _, name := range Names() {
		factory, err := New(name, DefaultParams())
		require.NoError(t, err)
		assert.Equal(t, name, factory().Name())
	}

	_, err := New("svm", DefaultParams())
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestModels_RejectEmptyAndRaggedInput(t *testing.T) {
	for _, name := range Names() {
		factory, err := New(name, DefaultParams())
		require.NoError(t, err)

		_, err = factory().Fit(nil, nil, 1)
		assert.ErrorIs(t, err, ErrEmptyTrainingSet, name)

		_, err = factory().Fit([][]float64{{1, 2}, {3}}, []float64{1, 2}, 1)
		assert.ErrorIs(t, err, ErrShape, name)
	}
}

func TestLinear_RecoversCoefficients(t *testing.T) {
	x, y := linearData(200, 1)

	fitted, err := (&Linear{Lambda: 1e-6}).Fit(x, y, 0)
	require.NoError(t, err)

	pred, err := fitted.Predict([][]float64{{0, 0}, {1, 1}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pred[0], 1e-4)
	assert.InDelta(t, 2.0, pred[1], 1e-4)

	_, err = fitted.Predict([][]float64{{1}})
	assert.ErrorIs(t, err, ErrShape)
}

func TestLinear_CollinearColumnsStillSolve(t *testing.T) {
	x := [][]float64{{1, 1}, {2, 2}, {3, 3}, {4, 4}}
	y := []float64{2, 4, 6, 8}

	fitted, err := (&Linear{Lambda: 1e-6}).Fit(x, y, 0)
	require.NoError(t, err)

	pred, err := fitted.Predict([][]float64{{5, 5}})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, pred[0], 1e-3)
}

func TestForest_FitsStepFunction(t *testing.T) {
	var x [][]float64
	var y []float64
	for i := 0; i < 100; i++ {
		v := float64(i)
		x = append(x, []float64{v})
		if v < 50 {
			y = append(y, -1)
		} else {
			y = append(y, 1)
		}
	}

	fitted, err := (&Forest{Trees: 5, MinLeaf: 1}).Fit(x, y, 7)
	require.NoError(t, err)

	pred, err := fitted.Predict([][]float64{{10}, {90}})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, pred[0], 1e-9)
	assert.InDelta(t, 1.0, pred[1], 1e-9)
}

func TestForest_DeterministicForSeed(t *testing.T) {
	x, y := linearData(80, 3)
	probe := [][]float64{{0.3, -0.2}, {1.5, 0.4}}

	predict := func(seed int64) []float64 {
		fitted, err := (&Forest{Trees: 3, MaxDepth: 4, MinLeaf: 2}).Fit(x, y, seed)
		require.NoError(t, err)
		pred, err := fitted.Predict(probe)
		require.NoError(t, err)
		return pred
	}

	assert.Equal(t, predict(11), predict(11))
}

func TestMLP_LearnsLinearSignal(t *testing.T) {
	x, y := linearData(400, 5)
	model := &MLP{Hidden: 16, Epochs: 300, BatchSize: 32, LearningRate: 0.01}

	fitted, err := model.Fit(x, y, 42)
	require.NoError(t, err)

	pred, err := fitted.Predict(x)
	require.NoError(t, err)

	baseline := make([]float64, len(y))
	assert.Less(t, RMSE(y, pred), 0.25*RMSE(y, baseline))

	again, err := model.Fit(x, y, 42)
	require.NoError(t, err)
	pred2, err := again.Predict(x[:5])
	require.NoError(t, err)
	assert.Equal(t, pred[:5], pred2)
}

func TestStandardScaler(t *testing.T) {
	x := [][]float64{{1, 5}, {3, 5}}

	s, err := FitScaler(x)
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Scale)

	out, err := s.Transform([][]float64{{1, 5}, {5, 7}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{-1, 0}, {3, 2}}, out)
	assert.Equal(t, []float64{1, 5}, x[0])

	_, err = FitScaler(nil)
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)
}

func TestMetrics(t *testing.T) {
	truth := []float64{1, 2, 3, 4}
	pred := []float64{1, 2, 3, 8}

	assert.InDelta(t, 2.0, RMSE(truth, pred), 1e-12)
	assert.InDelta(t, 1.0, MAE(truth, pred), 1e-12)
	assert.True(t, math.IsNaN(RMSE(nil, nil)))
	assert.True(t, math.IsNaN(MAE(nil, nil)))
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		fraction float64
		held     int
	}{
		{"tenth rounds up", 25, 0.1, 3},
		{"no validation", 10, 0, 0},
		{"single row keeps fit set", 1, 0.1, 0},
		{"two rows", 2, 0.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fit, validation := Split(tt.n, tt.fraction, 42)
			assert.Len(t, validation, tt.held)
			assert.Len(t, fit, tt.n-tt.held)

			seen := map[int]bool{}
			for _, i := range append(append([]int{}, fit...), validation...) {
				assert.False(t, seen[i])
				seen[i] = true
			}
		})
	}

	a, _ := Split(50, 0.2, 9)
	b, _ := Split(50, 0.2, 9)
	assert.Equal(t, a, b)
}
