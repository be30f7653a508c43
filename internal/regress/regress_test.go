package regress

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFit_RecoversLinearRelation(t *testing.T) {
	// y = 3a - 2b + 10
	var X [][]float64
	var y []float64
	for a := 0; a < 10; a++ {
		for b := 0; b < 5; b++ {
			X = append(X, []float64{float64(a), float64(b)})
			y = append(y, 3*float64(a)-2*float64(b)+10)
		}
	}

	m, met, err := Fit([]string{"a", "b"}, X, y, FitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 50, met.N)
	assert.InDelta(t, 0, met.RMSE, 1e-4)
	assert.InDelta(t, 1, met.R2, 1e-6)
	assert.InDelta(t, 10+3*4-2*1, m.Predict([]float64{4, 1}), 1e-4)
	assert.InDelta(t, 10+3*20, m.Predict([]float64{20, 0}), 1e-3)
}

func TestFit_HandlesNaNAndConstantColumns(t *testing.T) {
	X := [][]float64{
		{1, 5, math.NaN()},
		{2, 5, 1},
		{3, 5, 1},
		{4, 5, 1},
	}
	y := []float64{2, 4, 6, 8}

	m, met, err := Fit([]string{"x", "const", "sparse"}, X, y, FitOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 1, met.R2, 1e-6)
	assert.InDelta(t, 10, m.Predict([]float64{5, 5, math.NaN()}), 1e-3)
	assert.False(t, math.IsNaN(m.Predict([]float64{math.NaN(), math.NaN(), math.NaN()})))
}

func TestFit_Errors(t *testing.T) {
	_, _, err := Fit([]string{"a"}, nil, nil, FitOptions{})
	assert.ErrorIs(t, err, ErrNoData)

	_, _, err = Fit([]string{"a"}, [][]float64{{1}}, []float64{1, 2}, FitOptions{})
	assert.ErrorContains(t, err, "labels")

	_, _, err = Fit([]string{"a", "b"}, [][]float64{{1}}, []float64{1}, FitOptions{})
	assert.ErrorContains(t, err, "want 2")

	_, _, err = Fit(nil, [][]float64{{}}, []float64{1}, FitOptions{})
	assert.ErrorContains(t, err, "no features")
}

func TestPredictBatch(t *testing.T) {
	m := &Model{
		Features:  []string{"x"},
		Means:     []float64{0},
		Scales:    []float64{1},
		Coef:      []float64{2},
		Intercept: 1,
	}
	assert.Equal(t, []float64{1, 3, 5}, m.PredictBatch([][]float64{{0}, {1}, {2}}))
}

func TestSolve_Singular(t *testing.T) {
	A := mat.NewSymDense(2, []float64{1, 2, 2, 4})
	_, err := solve(A, mat.NewVecDense(2, []float64{1, 2}))
	assert.ErrorIs(t, err, ErrSingular)
}

func TestFit_CollinearFeaturesStaySolvable(t *testing.T) {
	// b duplicates a; the ridge term keeps ZᵀZ + λI positive definite.
	X := [][]float64{{1, 1}, {2, 2}, {3, 3}, {4, 4}}
	y := []float64{3, 5, 7, 9}

	m, met, err := Fit([]string{"a", "b"}, X, y, FitOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 1, met.R2, 1e-6)
	assert.InDelta(t, 11, m.Predict([]float64{5, 5}), 1e-3)
	assert.InDelta(t, m.Coef[0], m.Coef[1], 1e-9)
}

func TestFit_SingleRow(t *testing.T) {
	m, met, err := Fit([]string{"a"}, [][]float64{{2}}, []float64{7}, FitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, met.N)
	assert.Equal(t, []float64{1}, m.Scales)
	assert.InDelta(t, 7, m.Predict([]float64{2}), 1e-9)
}
