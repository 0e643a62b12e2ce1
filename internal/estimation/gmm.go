// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package estimation

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/blp-engine/internal/blperr"
)

// ComputeLinearParameters recovers beta by GMM-weighted two-stage least
// squares,
//
//	beta = (X1'Z W Z'X1)⁻¹ X1'Z W Z'delta,
//
// solved by Cholesky rather than explicit inversion, and returns the
// structural residual xi = delta - X1·beta. A nil w uses (Z'Z)⁻¹, which is
// plain 2SLS (and OLS when Z = X1).
func ComputeLinearParameters(delta []float64, x1, z mat.Matrix, w mat.Symmetric) (beta, xi []float64, err error) {
	const op = "estimation.ComputeLinearParameters"

	n, k1 := x1.Dims()
	zn, l := z.Dims()
	if len(delta) != n {
		return nil, nil, blperr.Shape(blperr.ErrShapeMismatch, op, "delta length", n, len(delta))
	}
	if zn != n {
		return nil, nil, blperr.Shape(blperr.ErrShapeMismatch, op, "instrument rows", n, zn)
	}
	for i, d := range delta {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, nil, blperr.New(blperr.ErrNonFinite, op, "delta").AtIndex(i).WithValue(d)
		}
	}

	if s, ok := w.(*mat.SymDense); ok && s == nil {
		w = nil
	}
	if w == nil {
		inv, err := inverseZTZ(z)
		if err != nil {
			return nil, nil, err
		}
		w = inv
	} else if wr := w.SymmetricDim(); wr != l {
		return nil, nil, blperr.Shape(blperr.ErrShapeMismatch, op, "weighting rows", l, wr)
	}

	deltaVec := mat.NewVecDense(n, append([]float64(nil), delta...))

	// ZX = Z'X1 (L×K1), Zd = Z'delta (L).
	var zx mat.Dense
	zx.Mul(z.T(), x1)
	var zd mat.VecDense
	zd.MulVec(z.T(), deltaVec)

	// A = X1'Z W Z'X1 (K1×K1), b = X1'Z W Z'delta (K1).
	var wzx mat.Dense
	wzx.Mul(w, &zx)
	var a mat.Dense
	a.Mul(zx.T(), &wzx)
	var wzd mat.VecDense
	wzd.MulVec(w, &zd)
	var b mat.VecDense
	b.MulVec(zx.T(), &wzd)

	var chol mat.Cholesky
	if ok := chol.Factorize(symmetrize(&a)); !ok {
		return nil, nil, blperr.New(blperr.ErrSingularMoment, op, "X1'Z W Z'X1")
	}
	if cond := chol.Cond(); cond > MaxConditionNumber || math.IsNaN(cond) {
		return nil, nil, blperr.New(blperr.ErrSingularMoment, op, "X1'Z W Z'X1").WithValue(cond)
	}

	var betaVec mat.VecDense
	if err := chol.SolveVecTo(&betaVec, &b); err != nil {
		return nil, nil, blperr.New(blperr.ErrSingularMoment, op, "X1'Z W Z'X1")
	}

	var fitted mat.VecDense
	fitted.MulVec(x1, &betaVec)

	beta = make([]float64, k1)
	for i := range beta {
		beta[i] = betaVec.AtVec(i)
	}
	xi = make([]float64, n)
	for i := range xi {
		xi[i] = delta[i] - fitted.AtVec(i)
	}
	return beta, xi, nil
}

// Moments returns the stacked moment vector g = Z'xi.
func Moments(xi []float64, z mat.Matrix) ([]float64, error) {
	const op = "estimation.Moments"

	n, l := z.Dims()
	if len(xi) != n {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "xi length", n, len(xi))
	}
	var g mat.VecDense
	g.MulVec(z.T(), mat.NewVecDense(n, append([]float64(nil), xi...)))

	out := make([]float64, l)
	for i := range out {
		out[i] = g.AtVec(i)
	}
	return out, nil
}

// GMMObjective evaluates Q = g'Wg with g = Z'xi, resolving the weighting
// choice against z first. Custom matrices that are not symmetric positive
// definite fail with ErrWeightingNotPositiveDefinite.
func GMMObjective(xi []float64, z mat.Matrix, weighting WeightingMatrix) (float64, error) {
	w, err := weighting.Resolve(z)
	if err != nil {
		return 0, err
	}
	return objective(xi, z, w)
}

// objective evaluates g'Wg for an already resolved W.
func objective(xi []float64, z mat.Matrix, w mat.Symmetric) (float64, error) {
	const op = "estimation.GMMObjective"

	g, err := Moments(xi, z)
	if err != nil {
		return 0, err
	}
	if w.SymmetricDim() != len(g) {
		return 0, blperr.Shape(blperr.ErrShapeMismatch, op, "weighting rows", len(g), w.SymmetricDim())
	}
	// g'Wg = |L'g|² with W = LL'.
	var chol mat.Cholesky
	if ok := chol.Factorize(w); !ok {
		return 0, blperr.New(blperr.ErrWeightingNotPositiveDefinite, op, "cholesky factorization")
	}
	var lower mat.TriDense
	chol.LTo(&lower)
	var lg mat.VecDense
	lg.MulVec(lower.T(), mat.NewVecDense(len(g), g))
	q := mat.Dot(&lg, &lg)
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return 0, blperr.New(blperr.ErrNonFinite, op, "objective").WithValue(q)
	}
	return q, nil
}

// RobustWeighting returns the heteroskedasticity-robust second-step
// weighting matrix S⁻¹ with S = (1/N) Σ_i (z_i xi_i)(z_i xi_i)'.
func RobustWeighting(xi []float64, z mat.Matrix) (*mat.SymDense, error) {
	const op = "estimation.RobustWeighting"

	n, l := z.Dims()
	if len(xi) != n {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "xi length", n, len(xi))
	}

	// Rows of scaled are z_i * xi_i, so S = scaled'scaled / N.
	scaled := mat.NewDense(n, l, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < l; j++ {
			scaled.Set(i, j, z.At(i, j)*xi[i])
		}
	}
	s := mat.NewSymDense(l, nil)
	s.SymOuterK(1/float64(n), scaled.T())
	return invertSPD(op, "S", s)
}
