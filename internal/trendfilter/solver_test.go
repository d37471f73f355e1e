package trendfilter

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/statlearn/busflow/internal/routegraph"
	"github.com/statlearn/busflow/internal/sparse"
)

func preciseOptions() SolverOptions {
	opts := DefaultSolverOptions()
	opts.GapTol = 1e-13
	opts.MaxIter = 50000
	return opts
}

func l1OfDx(t *testing.T, d *sparse.CSR, x []float64) float64 {
	t.Helper()
	r, _ := d.Dims()
	dx := make([]float64, r)
	require.NoError(t, d.MulVec(dx, x))
	return floats.Norm(dx, 1)
}

func TestSolve_ZeroLambdaReturnsSignal(t *testing.T) {
	g := kiteGraph(t)
	d, err := DifferenceOperator(g, 2)
	require.NoError(t, err)
	y := []float64{0.3, 1.7, -2, 4}

	sol, err := Solve(y, d, 0, DefaultSolverOptions())
	require.NoError(t, err)

	assert.Equal(t, y, sol.X)
	assert.Equal(t, 0, sol.Iterations)
	y[0] = 99
	assert.Equal(t, 0.3, sol.X[0], "solution does not alias the input")
}

func TestSolve_EmptyOperatorReturnsSignal(t *testing.T) {
	d, err := sparse.Zeros(0, 3)
	require.NoError(t, err)

	sol, err := Solve([]float64{1, 2, 3}, d, 10, DefaultSolverOptions())
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, sol.X)
}

func TestSolve_TwoVertexClosedForm(t *testing.T) {
	g := pathGraph(t, "a", "b")
	d, err := DifferenceOperator(g, 1)
	require.NoError(t, err)

	tests := []struct {
		lambda   float64
		expected []float64
	}{
		{lambda: 2, expected: []float64{2, 8}},
		{lambda: 4.5, expected: []float64{4.5, 5.5}},
		{lambda: 5, expected: []float64{5, 5}},
		{lambda: 100, expected: []float64{5, 5}},
	}

	for _, tt := range tests {
		sol, err := Solve([]float64{0, 10}, d, tt.lambda, preciseOptions())
		require.NoError(t, err, "lambda=%v", tt.lambda)
		assert.InDeltaSlice(t, tt.expected, sol.X, 1e-4, "lambda=%v", tt.lambda)
	}
}

func TestSolve_LargeLambdaShrinksToMean(t *testing.T) {
	for _, order := range []int{1, 2} {
		g := pathGraph(t, "a", "b", "c")
		d, err := DifferenceOperator(g, order)
		require.NoError(t, err)

		sol, err := Solve([]float64{0, 10, 0}, d, 100, preciseOptions())
		require.NoError(t, err, "order %d", order)
		for _, v := range sol.X {
			assert.InDelta(t, 10.0/3, v, 1e-3, "order %d", order)
		}
	}
}

func TestSolve_SmoothnessNonIncreasingInLambda(t *testing.T) {
	g := kiteGraph(t)
	d, err := DifferenceOperator(g, 1)
	require.NoError(t, err)
	y := []float64{1, 7, -3, 12}

	prev := math.Inf(1)
	for _, lambda := range []float64{0, 0.25, 0.5, 1, 2, 4, 8, 16} {
		sol, err := Solve(y, d, lambda, preciseOptions())
		require.NoError(t, err)
		tv := l1OfDx(t, d, sol.X)
		assert.LessOrEqual(t, tv, prev+1e-4, "lambda=%v", lambda)
		prev = tv
	}
}

func TestSolve_ObjectiveNotWorseThanSignal(t *testing.T) {
	g := kiteGraph(t)
	d, err := DifferenceOperator(g, 2)
	require.NoError(t, err)
	y := []float64{1, 7, -3, 12}

	sol, err := Solve(y, d, 3, preciseOptions())
	require.NoError(t, err)

	atY, err := Objective(y, d, y, 3)
	require.NoError(t, err)
	assert.Less(t, sol.Objective, atY)
	assert.Positive(t, sol.Iterations)
}

func TestSolve_InvalidInput(t *testing.T) {
	d, err := DifferenceOperator(pathGraph(t, "a", "b"), 1)
	require.NoError(t, err)

	_, err = Solve([]float64{1, 2}, d, -1, DefaultSolverOptions())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Solve([]float64{1, 2, 3}, d, 1, DefaultSolverOptions())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Solve([]float64{1, math.NaN()}, d, 1, DefaultSolverOptions())
	assert.ErrorIs(t, err, ErrNumerical)
}

func TestSolve_IterationBudget(t *testing.T) {
	d, err := DifferenceOperator(kiteGraph(t), 2)
	require.NoError(t, err)
	opts := preciseOptions()
	opts.MaxIter = 1

	_, err = Solve([]float64{1, 7, -3, 12}, d, 3, opts)
	assert.ErrorIs(t, err, ErrNotConverged)
}

func TestFitSignal(t *testing.T) {
	g := pathGraph(t, "a", "b")
	sg := &SignalGraph{Graph: g, Elapsed: map[string]float64{"a": 0, "b": 10}}
	d, err := DifferenceOperator(g, 1)
	require.NoError(t, err)

	fitted, sol, err := FitSignal(sg, d, 2, preciseOptions())
	require.NoError(t, err)

	assert.InDelta(t, 2, fitted["a"], 1e-4)
	assert.InDelta(t, 8, fitted["b"], 1e-4)
	assert.Len(t, sol.X, 2)
}

// gridGraph returns an n×n lattice with row-major stop ids.
func gridGraph(t *testing.T, n int) *routegraph.Graph {
	t.Helper()
	id := func(r, c int) string { return fmt.Sprintf("s%02d_%02d", r, c) }
	var ids []string
	var edges [][2]string
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			ids = append(ids, id(r, c))
			if c+1 < n {
				edges = append(edges, [2]string{id(r, c), id(r, c+1)})
			}
			if r+1 < n {
				edges = append(edges, [2]string{id(r, c), id(r+1, c)})
			}
		}
	}
	return makeGraph(t, ids, edges)
}

// paceSignal draws seconds-per-meter values in [0.1, 0.15].
func paceSignal(n int) []float64 {
	rng := rand.New(rand.NewPCG(7, 11))
	y := make([]float64, n)
	for i := range y {
		y[i] = 0.1 + 0.05*rng.Float64()
	}
	return y
}

func TestSolve_PaceScaleMatchesDualCertificate(t *testing.T) {
	g := gridGraph(t, 8)
	y := paceSignal(g.NumStops())
	scale := floats.Norm(y, math.Inf(1))

	for _, order := range []int{1, 2, 3} {
		d, err := DifferenceOperator(g, order)
		require.NoError(t, err)
		dense := d.Dense()
		rows, _ := dense.Dims()

		for _, lambda := range []float64{1e-3, 1e-2, 0.1, 1} {
			t.Run(fmt.Sprintf("order %d lambda %g", order, lambda), func(t *testing.T) {
				sol, err := Solve(y, d, lambda, DefaultSolverOptions())
				require.NoError(t, err)
				require.Len(t, sol.Multipliers, rows)

				for i, v := range sol.Multipliers {
					require.LessOrEqual(t, math.Abs(v), lambda*(1+1e-12), "multiplier %d is not dual feasible", i)
				}

				// Weak duality recomputed with dense products: P(x) - D(v) bounds
				// ½‖x - x*‖² from above.
				var r, dtv mat.VecDense
				r.MulVec(dense, mat.NewVecDense(len(sol.X), sol.X))
				dtv.MulVec(dense.T(), mat.NewVecDense(rows, sol.Multipliers))
				var fit, pen float64
				for j := range y {
					e := y[j] - sol.X[j] - dtv.AtVec(j)
					fit += e * e
				}
				for i := 0; i < rows; i++ {
					ri, vi := r.AtVec(i), sol.Multipliers[i]
					pen += math.Abs(ri) * (lambda - math.Copysign(1, ri)*vi)
				}
				gap := 0.5*fit + pen

				assert.LessOrEqual(t, gap, 1e-9*scale*scale)
				assert.LessOrEqual(t, math.Sqrt(2*gap), 5e-5*scale, "estimate is within five digits of the optimum")
				assert.InDelta(t, gap, sol.Gap, 1e-9*scale*scale)
			})
		}
	}
}

func TestSolve_PaceScaleLargeLambdaIsMean(t *testing.T) {
	g := gridGraph(t, 8)
	y := paceSignal(g.NumStops())
	mean := floats.Sum(y) / float64(len(y))
	var optimum float64
	for _, v := range y {
		optimum += 0.5 * (v - mean) * (v - mean)
	}

	for _, order := range []int{1, 2, 3} {
		d, err := DifferenceOperator(g, order)
		require.NoError(t, err)

		for _, lambda := range []float64{50, 512} {
			sol, err := Solve(y, d, lambda, DefaultSolverOptions())
			require.NoError(t, err, "order=%d lambda=%v", order, lambda)

			for i, x := range sol.X {
				require.InDelta(t, mean, x, 5e-5*mean, "order=%d lambda=%v vertex %d", order, lambda, i)
			}
			assert.InEpsilon(t, optimum, sol.Objective, 1e-6, "order=%d lambda=%v", order, lambda)
		}
	}
}

func TestSolve_IndependentOfSignalUnits(t *testing.T) {
	g := gridGraph(t, 8)
	y := paceSignal(g.NumStops())
	d, err := DifferenceOperator(g, 1)
	require.NoError(t, err)

	small, err := Solve(y, d, 0.01, DefaultSolverOptions())
	require.NoError(t, err)
	scaled := make([]float64, len(y))
	floats.ScaleTo(scaled, 100, y)
	large, err := Solve(scaled, d, 1, DefaultSolverOptions())
	require.NoError(t, err)

	assert.InDelta(t, large.Iterations, small.Iterations, 1)
	for i := range small.X {
		assert.InDelta(t, large.X[i]/100, small.X[i], 5e-6)
	}
}
