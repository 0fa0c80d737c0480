package regression

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Linear is ordinary least squares with an intercept and a small ridge term
// on the slopes so collinear ratio columns still solve.
type Linear struct {
	Lambda float64
}

// Name returns the registry name
func (m *Linear) Name() string { return "linear" }

// Fit solves (XᵀX + λI)β = Xᵀy with an unpenalized intercept column.
func (m *Linear) Fit(x [][]float64, y []float64, _ int64) (Fitted, error) {
	n, d, err := checkShape(x, y)
	if err != nil {
		return nil, err
	}

	design := mat.NewDense(n, d+1, nil)
	for i, row := range x {
		design.Set(i, 0, 1)
		for j, v := range row {
			design.Set(i, j+1, v)
		}
	}

	var gram mat.Dense
	gram.Mul(design.T(), design)
	for j := 1; j <= d; j++ {
		gram.Set(j, j, gram.At(j, j)+m.Lambda)
	}

	var rhs mat.VecDense
	rhs.MulVec(design.T(), mat.NewVecDense(n, y))

	var coef mat.VecDense
	if err := coef.SolveVec(&gram, &rhs); err != nil {
		// A Condition error still carries a usable solution.
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("linear fit: %w", err)
		}
	}

	weights := make([]float64, d+1)
	for j := range weights {
		weights[j] = coef.AtVec(j)
	}
	return &linearFit{intercept: weights[0], slopes: weights[1:]}, nil
}

type linearFit struct {
	intercept float64
	slopes    []float64
}

func (f *linearFit) Predict(x [][]float64) ([]float64, error) {
	if err := checkWidth(x, len(f.slopes)); err != nil {
		return nil, err
	}
	pred := make([]float64, len(x))
	if len(x) == 0 || len(f.slopes) == 0 {
		for i := range pred {
			pred[i] = f.intercept
		}
		return pred, nil
	}

	rows := mat.NewDense(len(x), len(f.slopes), nil)
	for i, row := range x {
		rows.SetRow(i, row)
	}
	var out mat.VecDense
	out.MulVec(rows, mat.NewVecDense(len(f.slopes), f.slopes))

	for i := range pred {
		pred[i] = out.AtVec(i) + f.intercept
	}
	return pred, nil
}
