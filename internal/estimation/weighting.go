// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package estimation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/blp-engine/internal/blperr"
)

// MaxConditionNumber is the largest condition number accepted for Z'Z and
// the 2SLS normal-equation matrix before they are treated as singular.
const MaxConditionNumber = 1e14

// symmetryTolerance bounds |W_ij - W_ji| relative to the largest entry.
const symmetryTolerance = 1e-10

// WeightingKind selects how the GMM weighting matrix is obtained.
type WeightingKind int

const (
	// WeightingInverseZTZ uses (Z'Z)⁻¹, the standard first-step choice.
	WeightingInverseZTZ WeightingKind = iota

	// WeightingProvided uses a caller-supplied positive-definite matrix.
	WeightingProvided
)

// String implements fmt.Stringer.
func (k WeightingKind) String() string {
	switch k {
	case WeightingInverseZTZ:
		return "inverse-ztz"
	case WeightingProvided:
		return "provided"
	default:
		return fmt.Sprintf("WeightingKind(%d)", int(k))
	}
}

// WeightingMatrix is the weighting choice passed in Options. The zero value
// is InverseZTZ.
type WeightingMatrix struct {
	kind   WeightingKind
	matrix mat.Matrix
}

// InverseZTZ returns the default (Z'Z)⁻¹ weighting.
func InverseZTZ() WeightingMatrix {
	return WeightingMatrix{kind: WeightingInverseZTZ}
}

// Provided wraps a caller-supplied weighting matrix. It is validated when
// resolved against the instruments.
func Provided(w mat.Matrix) WeightingMatrix {
	if w == nil {
		return WeightingMatrix{kind: WeightingProvided}
	}
	return WeightingMatrix{kind: WeightingProvided, matrix: mat.DenseCopyOf(w)}
}

// Matrix returns the provided matrix, or nil for InverseZTZ.
func (w WeightingMatrix) Matrix() mat.Matrix {
	return w.matrix
}

// Kind reports which weighting is selected.
func (w WeightingMatrix) Kind() WeightingKind {
	return w.kind
}

// Resolve returns the weighting matrix for instruments z. InverseZTZ fails
// with ErrSingularMoment when Z'Z cannot be inverted; a provided matrix
// fails with ErrShapeMismatch when it is not L×L and with
// ErrWeightingNotPositiveDefinite when it is not symmetric positive definite.
func (w WeightingMatrix) Resolve(z mat.Matrix) (*mat.SymDense, error) {
	const op = "estimation.WeightingMatrix.Resolve"

	_, l := z.Dims()
	switch w.kind {
	case WeightingInverseZTZ:
		return inverseZTZ(z)
	case WeightingProvided:
		if w.matrix == nil {
			return nil, blperr.New(blperr.ErrMissingComponent, op, "weighting matrix")
		}
		r, c := w.matrix.Dims()
		if r != l {
			return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "weighting rows", l, r)
		}
		if c != l {
			return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "weighting columns", l, c)
		}
		return validatePositiveDefinite(op, w.matrix)
	default:
		return nil, blperr.New(blperr.ErrInvalidOptions, op, w.kind.String())
	}
}

// validatePositiveDefinite checks symmetry and attempts a Cholesky
// factorization of m.
func validatePositiveDefinite(op string, m mat.Matrix) (*mat.SymDense, error) {
	n, _ := m.Dims()
	scale := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, blperr.New(blperr.ErrNonFinite, op, "weighting matrix").AtIndex(i*n + j).WithValue(v)
			}
			scale = math.Max(scale, math.Abs(v))
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if diff := math.Abs(m.At(i, j) - m.At(j, i)); diff > symmetryTolerance*math.Max(scale, 1) {
				return nil, blperr.New(blperr.ErrWeightingNotPositiveDefinite, op, "asymmetric weighting matrix").
					AtIndex(i*n + j).WithValue(diff)
			}
		}
	}

	sym := symmetrize(m)
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, blperr.New(blperr.ErrWeightingNotPositiveDefinite, op, "cholesky factorization")
	}
	return sym, nil
}

// inverseZTZ returns (Z'Z)⁻¹ via Cholesky.
func inverseZTZ(z mat.Matrix) (*mat.SymDense, error) {
	const op = "estimation.inverseZTZ"

	_, l := z.Dims()
	ztz := mat.NewSymDense(l, nil)
	ztz.SymOuterK(1, z.T())
	return invertSPD(op, "Z'Z", ztz)
}

// invertSPD inverts a symmetric positive-definite matrix, reporting
// ErrSingularMoment when the factorization fails or is ill-conditioned.
func invertSPD(op, context string, a *mat.SymDense) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, blperr.New(blperr.ErrSingularMoment, op, context)
	}
	if cond := chol.Cond(); cond > MaxConditionNumber || math.IsNaN(cond) {
		return nil, blperr.New(blperr.ErrSingularMoment, op, context).WithValue(cond)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, blperr.New(blperr.ErrSingularMoment, op, context)
	}
	return &inv, nil
}

// symmetrize returns (m + mᵀ)/2 as a SymDense.
func symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return s
}
