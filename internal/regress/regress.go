// Package regress fits and applies a ridge linear regression.
package regress

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultLambda keeps the normal equations solvable when a feature is constant.
const DefaultLambda = 1e-6

var (
	ErrNoData   = errors.New("no training rows")
	ErrSingular = errors.New("normal equations are singular")
)

// Model is a fitted linear model over standardized features.
type Model struct {
	Features  []string  `yaml:"features"`
	Means     []float64 `yaml:"means"`
	Scales    []float64 `yaml:"scales"`
	Coef      []float64 `yaml:"coef"`
	Intercept float64   `yaml:"intercept"`
	Lambda    float64   `yaml:"lambda"`
}

// FitOptions tunes Fit.
type FitOptions struct {
	Lambda float64 // L2 penalty; <= 0 uses DefaultLambda
}

// Metrics are in-sample fit statistics.
type Metrics struct {
	N    int
	RMSE float64
	R2   float64
}

// Fit trains a model on X (rows × len(features)) and y. NaN inputs are
// replaced with the column mean.
func Fit(features []string, X [][]float64, y []float64, opts FitOptions) (*Model, Metrics, error) {
	n, p := len(X), len(features)
	if n == 0 {
		return nil, Metrics{}, ErrNoData
	}
	if p == 0 {
		return nil, Metrics{}, errors.New("no features")
	}
	if len(y) != n {
		return nil, Metrics{}, fmt.Errorf("got %d rows but %d labels", n, len(y))
	}
	for i, row := range X {
		if len(row) != p {
			return nil, Metrics{}, fmt.Errorf("row %d has %d values, want %d", i, len(row), p)
		}
	}
	lambda := opts.Lambda
	if lambda <= 0 {
		lambda = DefaultLambda
	}

	means := make([]float64, p)
	scales := make([]float64, p)
	col := make([]float64, n)
	seen := make([]float64, 0, n)
	for j := 0; j < p; j++ {
		seen = seen[:0]
		for _, row := range X {
			if !math.IsNaN(row[j]) {
				seen = append(seen, row[j])
			}
		}
		if len(seen) > 0 {
			means[j] = stat.Mean(seen, nil)
		}
		for i, row := range X {
			col[i] = fill(row[j], means[j])
		}
		_, sd := stat.MeanStdDev(col, nil)
		if !(sd > 0) {
			sd = 1
		}
		scales[j] = sd
	}

	ybar := stat.Mean(y, nil)

	Z := mat.NewDense(n, p, nil)
	r := mat.NewVecDense(n, nil)
	for i, row := range X {
		for j, v := range row {
			Z.Set(i, j, (fill(v, means[j])-means[j])/scales[j])
		}
		r.SetVec(i, y[i]-ybar)
	}

	// A = ZᵀZ + λI, b = Zᵀ(y - ȳ)
	var A mat.SymDense
	A.SymOuterK(1, Z.T())
	for j := 0; j < p; j++ {
		A.SetSym(j, j, A.At(j, j)+lambda)
	}
	var b mat.VecDense
	b.MulVec(Z.T(), r)

	coef, err := solve(&A, &b)
	if err != nil {
		return nil, Metrics{}, err
	}

	m := &Model{
		Features:  append([]string(nil), features...),
		Means:     means,
		Scales:    scales,
		Coef:      coef,
		Intercept: ybar,
		Lambda:    lambda,
	}
	return m, m.Evaluate(X, y), nil
}

// Predict scores a single row ordered like m.Features.
func (m *Model) Predict(x []float64) float64 {
	out := m.Intercept
	for j, c := range m.Coef {
		v := math.NaN()
		if j < len(x) {
			v = x[j]
		}
		out += c * (fill(v, m.Means[j]) - m.Means[j]) / m.Scales[j]
	}
	return out
}

// PredictBatch scores rows in order.
func (m *Model) PredictBatch(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = m.Predict(row)
	}
	return out
}

// Evaluate computes RMSE and R² of m on X, y.
func (m *Model) Evaluate(X [][]float64, y []float64) Metrics {
	n := len(y)
	if n == 0 {
		return Metrics{}
	}
	ybar := stat.Mean(y, nil)

	var sse, sst float64
	for i, row := range X {
		d := y[i] - m.Predict(row)
		sse += d * d
		t := y[i] - ybar
		sst += t * t
	}
	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}
	return Metrics{N: n, RMSE: math.Sqrt(sse / float64(n)), R2: r2}
}

func fill(v, mean float64) float64 {
	if math.IsNaN(v) {
		return mean
	}
	return v
}

// solve factors A with Cholesky and returns A⁻¹b.
func solve(A *mat.SymDense, b mat.Vector) ([]float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(A); !ok {
		return nil, ErrSingular
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSingular, err)
	}
	return mat.Col(nil, 0, &x), nil
}
