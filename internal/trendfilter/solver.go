package trendfilter

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/statlearn/busflow/internal/sparse"
)

var (
	// ErrNotConverged is returned when ADMM exhausts its iteration budget.
	ErrNotConverged = errors.New("trendfilter: solver did not converge")

	// ErrNumerical is returned when the iterates stop being finite.
	ErrNumerical = errors.New("trendfilter: numerical failure")
)

// SolverOptions tunes the ADMM solver. Zero fields take the DefaultSolverOptions value.
//
// The solve runs on y/‖y‖∞ with λ/‖y‖∞, so Rho and GapTol do not depend on the units of
// the signal.
type SolverOptions struct {
	// Rho is the initial augmented Lagrangian penalty. It is rebalanced during the solve.
	Rho float64
	// GapTol bounds the duality gap at exit, relative to max(objective, 1) on the
	// normalized problem.
	GapTol    float64
	MaxIter   int
	CGTol     float64
	CGMaxIter int
}

// DefaultSolverOptions stops at a normalized duality gap of 1e-10. The objective is
// 1-strongly convex, so the estimate is then within ‖y‖∞·sqrt(2·gap) of the optimum in
// Euclidean norm, up to the rounding floor of evaluating λ‖Dx‖₁.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		Rho:       1,
		GapTol:    1e-10,
		MaxIter:   20000,
		CGTol:     1e-10,
		CGMaxIter: 1000,
	}
}

func (o SolverOptions) withDefaults() SolverOptions {
	d := DefaultSolverOptions()
	if o.Rho <= 0 {
		o.Rho = d.Rho
	}
	if o.GapTol <= 0 {
		o.GapTol = d.GapTol
	}
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.CGTol <= 0 {
		o.CGTol = d.CGTol
	}
	if o.CGMaxIter <= 0 {
		o.CGMaxIter = d.CGMaxIter
	}
	return o
}

// Bounds on the rebalanced penalty of the normalized problem. Past them the x-update
// system becomes too ill-conditioned for the inner conjugate gradient.
const (
	minRho = 1e-3
	maxRho = 1e3
)

// Solution is the result of one trend filtering solve.
type Solution struct {
	X          []float64
	Iterations int
	// Primal and Dual are the last ADMM residuals on the normalized problem.
	Primal float64
	Dual   float64
	// Gap is the duality gap of X against Multipliers, in the units of the objective.
	Gap       float64
	Objective float64
	// Multipliers is a dual feasible point (|v_i| <= λ). By weak duality
	// Objective - Gap is a lower bound on the optimal value.
	Multipliers []float64
}

// Objective evaluates ½‖y - x‖² + λ‖Dx‖₁.
func Objective(y []float64, d *sparse.CSR, x []float64, lambda float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: x has %d entries, y has %d", ErrConfiguration, len(x), len(y))
	}
	rows, _ := d.Dims()
	dx := make([]float64, rows)
	if err := d.MulVec(dx, x); err != nil {
		return 0, err
	}
	dist := floats.Distance(y, x, 2)
	return 0.5*dist*dist + lambda*floats.Norm(dx, 1), nil
}

// DualityGap returns P(x) - D(v) for the trend filtering problem, where
// D(v) = vᵀDy - ½‖Dᵀv‖² is the dual objective at a feasible v (|v_i| <= λ). It is
// evaluated as ½‖y - x - Dᵀv‖² + Σ|r_i|(λ - sign(r_i)v_i) with r = Dx; both sums are
// nonnegative, so no cancellation occurs.
func DualityGap(y []float64, d *sparse.CSR, x, v []float64, lambda float64) (float64, error) {
	rows, cols := d.Dims()
	if len(y) != cols || len(x) != cols || len(v) != rows {
		return 0, fmt.Errorf("%w: gap of %dx%d operator with y=%d x=%d v=%d", ErrConfiguration, rows, cols, len(y), len(x), len(v))
	}
	r := make([]float64, rows)
	if err := d.MulVec(r, x); err != nil {
		return 0, err
	}
	dtv := make([]float64, cols)
	if err := d.MulTransVec(dtv, v); err != nil {
		return 0, err
	}
	return dualityGap(y, x, dtv, r, v, lambda), nil
}

func dualityGap(y, x, dtv, r, v []float64, lambda float64) float64 {
	var fit, pen float64
	for j := range y {
		e := y[j] - x[j] - dtv[j]
		fit += e * e
	}
	for i, ri := range r {
		switch {
		case ri > 0:
			pen += ri * (lambda - v[i])
		case ri < 0:
			pen -= ri * (lambda + v[i])
		}
	}
	return 0.5*fit + pen
}

// certify fills v with the dual point carried by the ADMM state: λ·sign(z_i) where the
// z-update left z_i nonzero, ρu_i clipped to [-λ, λ] elsewhere.
func certify(v, z, u []float64, rho, lambda float64) {
	for i := range v {
		switch {
		case z[i] > 0:
			v[i] = lambda
		case z[i] < 0:
			v[i] = -lambda
		default:
			v[i] = math.Max(-lambda, math.Min(lambda, rho*u[i]))
		}
	}
}

// Solve minimizes ½‖y - x‖² + λ‖Dx‖₁ with ADMM on the split Dx = z. The x-update
// solves (I + ρDᵀD)x = y + ρDᵀ(z - u) by conjugate gradients warm-started from the
// previous iterate; ρ is rebalanced whenever one residual dominates the other.
//
// Every iteration derives a dual feasible point from the multipliers and stops once
// the duality gap of either the iterate or y - Dᵀv falls below GapTol. The returned
// estimate is whichever of the two has the smaller gap.
func Solve(y []float64, d *sparse.CSR, lambda float64, opts SolverOptions) (Solution, error) {
	rows, cols := d.Dims()
	switch {
	case math.IsNaN(lambda) || lambda < 0:
		return Solution{}, fmt.Errorf("%w: lambda must be >= 0, got %v", ErrConfiguration, lambda)
	case cols != len(y):
		return Solution{}, fmt.Errorf("%w: operator has %d columns, signal has %d entries", ErrConfiguration, cols, len(y))
	case !allFinite(y):
		return Solution{}, fmt.Errorf("%w: signal contains NaN or Inf", ErrNumerical)
	}

	scale := floats.Norm(y, math.Inf(1))
	if lambda == 0 || rows == 0 || d.NNZ() == 0 || scale == 0 {
		x := make([]float64, len(y))
		copy(x, y)
		obj, err := Objective(y, d, x, lambda)
		return Solution{X: x, Objective: obj, Multipliers: make([]float64, rows)}, err
	}

	opts = opts.withDefaults()
	rho := math.Max(minRho, math.Min(maxRho, opts.Rho))

	// Normalized problem: y/scale with lambda/scale has solution x*/scale.
	yn := make([]float64, cols)
	floats.ScaleTo(yn, 1/scale, y)
	lam := lambda / scale

	x := make([]float64, cols)
	copy(x, yn)
	z := make([]float64, rows)
	u := make([]float64, rows)
	v := make([]float64, rows)
	zOld := make([]float64, rows)
	dx := make([]float64, rows)
	rv := make([]float64, rows)
	tmp := make([]float64, rows)
	rhs := make([]float64, cols)
	dtv := make([]float64, cols)
	xv := make([]float64, cols)
	ws := newCGWorkspace(cols, rows)

	if err := d.MulVec(z, x); err != nil {
		return Solution{}, err
	}

	// Evaluating λ‖Dx‖₁ in floating point is exact only to about eps·λ·Σ|D||x|.
	var absSum float64
	for i := 0; i < rows; i++ {
		d.DoRowNonZero(i, func(_ int, a float64) { absSum += math.Abs(a) })
	}
	roundoff := 8 * floatEps * lam * absSum

	for iter := 1; iter <= opts.MaxIter; iter++ {
		// x-update
		floats.SubTo(tmp, z, u)
		if err := d.MulTransVec(dtv, tmp); err != nil {
			return Solution{}, err
		}
		floats.AddScaledTo(rhs, yn, rho, dtv)
		if err := conjugateGradient(d, rho, rhs, x, opts.CGTol, opts.CGMaxIter, ws); err != nil {
			return Solution{}, err
		}

		// z-update
		if err := d.MulVec(dx, x); err != nil {
			return Solution{}, err
		}
		copy(zOld, z)
		kappa := lam / rho
		for i := range z {
			z[i] = softThreshold(dx[i]+u[i], kappa)
		}

		// u-update
		for i := range u {
			u[i] += dx[i] - z[i]
		}

		floats.SubTo(tmp, dx, z)
		primal := floats.Norm(tmp, 2)
		floats.SubTo(tmp, z, zOld)
		if err := d.MulTransVec(dtv, tmp); err != nil {
			return Solution{}, err
		}
		dual := rho * floats.Norm(dtv, 2)

		if math.IsNaN(primal) || math.IsInf(primal, 0) || math.IsNaN(dual) || math.IsInf(dual, 0) {
			return Solution{Iterations: iter}, fmt.Errorf("%w: residuals diverged at iteration %d", ErrNumerical, iter)
		}

		// Duality gap of the iterate and of the primal point recovered from v.
		certify(v, z, u, rho, lam)
		if err := d.MulTransVec(dtv, v); err != nil {
			return Solution{}, err
		}
		floats.SubTo(xv, yn, dtv)
		if err := d.MulVec(rv, xv); err != nil {
			return Solution{}, err
		}
		gapX := dualityGap(yn, x, dtv, dx, v, lam)
		gapV := dualityGap(yn, xv, dtv, rv, v, lam)

		best, gap, penalty := x, gapX, floats.Norm(dx, 1)
		if gapV < gapX {
			best, gap, penalty = xv, gapV, floats.Norm(rv, 1)
		}
		dist := floats.Distance(yn, best, 2)
		objN := 0.5*dist*dist + lam*penalty
		if gap <= opts.GapTol*math.Max(objN, 1)+roundoff {
			if !allFinite(best) {
				return Solution{Iterations: iter}, fmt.Errorf("%w: non-finite estimate", ErrNumerical)
			}
			return finish(y, d, lambda, scale, best, v, lam, Solution{
				Iterations: iter,
				Primal:     primal,
				Dual:       dual,
				Gap:        gap * scale * scale,
			})
		}

		// u is scaled by 1/ρ, so it moves inversely to ρ.
		switch {
		case primal > 10*dual && rho < maxRho:
			rho *= 2
			floats.Scale(0.5, u)
		case dual > 10*primal && rho > minRho:
			rho /= 2
			floats.Scale(2, u)
		}
	}
	return Solution{Iterations: opts.MaxIter}, fmt.Errorf("%w after %d iterations (lambda=%g)", ErrNotConverged, opts.MaxIter, lambda)
}

const floatEps = 0x1p-52

// finish maps the normalized estimate and certificate back to the units of y.
func finish(y []float64, d *sparse.CSR, lambda, scale float64, xn, vn []float64, lam float64, sol Solution) (Solution, error) {
	sol.X = make([]float64, len(xn))
	floats.ScaleTo(sol.X, scale, xn)
	sol.Multipliers = make([]float64, len(vn))
	for i, vi := range vn {
		switch vi {
		case lam:
			sol.Multipliers[i] = lambda
		case -lam:
			sol.Multipliers[i] = -lambda
		default:
			sol.Multipliers[i] = math.Max(-lambda, math.Min(lambda, scale*vi))
		}
	}
	obj, err := Objective(y, d, sol.X, lambda)
	if err != nil {
		return Solution{}, err
	}
	sol.Objective = obj
	return sol, nil
}

type cgWorkspace struct {
	r, p, ap, dp []float64
}

func newCGWorkspace(cols, rows int) *cgWorkspace {
	return &cgWorkspace{
		r:  make([]float64, cols),
		p:  make([]float64, cols),
		ap: make([]float64, cols),
		dp: make([]float64, rows),
	}
}

// applyNormal computes dst = (I + ρDᵀD)v.
func applyNormal(d *sparse.CSR, rho float64, v, dst, scratch []float64) error {
	if err := d.MulVec(scratch, v); err != nil {
		return err
	}
	if err := d.MulTransVec(dst, scratch); err != nil {
		return err
	}
	floats.Scale(rho, dst)
	floats.Add(dst, v)
	return nil
}

// conjugateGradient refines x in place towards (I + ρDᵀD)x = b. The system is symmetric
// positive definite with eigenvalues >= 1, so plain CG needs no preconditioner.
// Stopping short of tol is not an error: the outer ADMM loop tolerates inexact updates.
func conjugateGradient(d *sparse.CSR, rho float64, b, x []float64, tol float64, maxIter int, ws *cgWorkspace) error {
	if err := applyNormal(d, rho, x, ws.ap, ws.dp); err != nil {
		return err
	}
	floats.SubTo(ws.r, b, ws.ap)
	copy(ws.p, ws.r)

	bNorm := floats.Norm(b, 2)
	if bNorm == 0 {
		bNorm = 1
	}
	rr := floats.Dot(ws.r, ws.r)
	for k := 0; k < maxIter && math.Sqrt(rr) > tol*bNorm; k++ {
		if err := applyNormal(d, rho, ws.p, ws.ap, ws.dp); err != nil {
			return err
		}
		alpha := rr / floats.Dot(ws.p, ws.ap)
		floats.AddScaled(x, alpha, ws.p)
		floats.AddScaled(ws.r, -alpha, ws.ap)
		rrNext := floats.Dot(ws.r, ws.r)
		beta := rrNext / rr
		rr = rrNext
		for i := range ws.p {
			ws.p[i] = ws.r[i] + beta*ws.p[i]
		}
	}
	if math.IsNaN(rr) || math.IsInf(rr, 0) {
		return fmt.Errorf("%w: conjugate gradient diverged", ErrNumerical)
	}
	return nil
}

func softThreshold(v, kappa float64) float64 {
	switch {
	case v > kappa:
		return v - kappa
	case v < -kappa:
		return v + kappa
	default:
		return 0
	}
}

func allFinite(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// FitSignal solves the trend filtering problem for sg and returns the fitted value of
// every stop, keyed by stop ID. d must have been built from sg.Graph.
func FitSignal(sg *SignalGraph, d *sparse.CSR, lambda float64, opts SolverOptions) (map[string]float64, Solution, error) {
	sol, err := Solve(sg.Vector(), d, lambda, opts)
	if err != nil {
		return nil, sol, err
	}
	ids := sg.Graph.VertexIDs()
	fitted := make(map[string]float64, len(ids))
	for i, id := range ids {
		fitted[id] = sol.X[i]
	}
	return fitted, sol, nil
}
