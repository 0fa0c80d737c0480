// Package regression defines the model contract used by the backtester and
// the linear, random forest and neural network regressors behind it.
package regression

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownModel is returned by New for an unregistered model name.
	ErrUnknownModel = errors.New("unknown model")
	// ErrEmptyTrainingSet is returned when Fit receives no rows.
	ErrEmptyTrainingSet = errors.New("empty training set")
	// ErrShape is returned when rows have inconsistent widths.
	ErrShape = errors.New("inconsistent input shape")
)

// Model fits a regressor on standardized rows.
type Model interface {
	Name() string
	Fit(x [][]float64, y []float64, seed int64) (Fitted, error)
}

// Fitted is a trained regressor.
type Fitted interface {
	Predict(x [][]float64) ([]float64, error)
}

// Factory creates a fresh model. Each backtest worker calls it once per window.
type Factory func() Model

// Params holds hyperparameters for every registered model.
type Params struct {
	Ridge float64

	ForestTrees    int
	ForestMaxDepth int // 0 grows trees until leaves are pure or minimal
	ForestMinLeaf  int

	MLPHidden       int
	MLPEpochs       int
	MLPBatch        int
	MLPLearningRate float64
}

// DefaultParams returns 5-tree forests and a 10-unit MLP trained for 50 epochs.
func DefaultParams() Params {
	return Params{
		Ridge:           1e-6,
		ForestTrees:     5,
		ForestMinLeaf:   1,
		MLPHidden:       10,
		MLPEpochs:       50,
		MLPBatch:        512,
		MLPLearningRate: 0.001,
	}
}

var registry = map[string]func(Params) Model{
	"linear": func(p Params) Model { return &Linear{Lambda: p.Ridge} },
	"forest": func(p Params) Model {
		return &Forest{Trees: p.ForestTrees, MaxDepth: p.ForestMaxDepth, MinLeaf: p.ForestMinLeaf}
	},
	"mlp": func(p Params) Model {
		return &MLP{Hidden: p.MLPHidden, Epochs: p.MLPEpochs, BatchSize: p.MLPBatch, LearningRate: p.MLPLearningRate}
	},
}

// New returns a factory for the named model.
func New(name string, p Params) (Factory, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return func() Model { return build(p) }, nil
}

// Names lists the registered model names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkShape validates a training set and returns its row and column counts.
func checkShape(x [][]float64, y []float64) (int, int, error) {
	if len(x) == 0 {
		return 0, 0, ErrEmptyTrainingSet
	}
	if len(x) != len(y) {
		return 0, 0, fmt.Errorf("%w: %d rows, %d targets", ErrShape, len(x), len(y))
	}
	d := len(x[0])
	if err := checkWidth(x, d); err != nil {
		return 0, 0, err
	}
	return len(x), d, nil
}

func checkWidth(x [][]float64, d int) error {
	for i, row := range x {
		if len(row) != d {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), d)
		}
	}
	return nil
}
