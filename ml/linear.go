package ml

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LinearModel is an ordinary least squares fit: intercept + coef·x.
type LinearModel struct {
	features  []string
	coef      *mat.VecDense
	intercept float64
}

func NewLinearModel(features []string, coef []float64, intercept float64) (*LinearModel, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("linear model has no features")
	}
	if len(coef) != len(features) {
		return nil, fmt.Errorf("coef has %d entries for %d features", len(coef), len(features))
	}
	if floats.HasNaN(coef) {
		return nil, fmt.Errorf("coef contains NaN")
	}
	return &LinearModel{
		features:  append([]string(nil), features...),
		coef:      mat.NewVecDense(len(coef), append([]float64(nil), coef...)),
		intercept: intercept,
	}, nil
}

func (m *LinearModel) Predict(frame Frame) (float64, error) {
	if err := checkFrame(m.features, frame); err != nil {
		return 0, err
	}
	x := mat.NewVecDense(len(frame.Values), append([]float64(nil), frame.Values...))
	return m.intercept + mat.Dot(m.coef, x), nil
}

func (m *LinearModel) FeatureNames() []string {
	return append([]string(nil), m.features...)
}
