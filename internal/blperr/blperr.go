// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package blperr defines the error kinds shared by the estimation packages.
//
// Every failure is an *Error whose Kind is one of the sentinel values below,
// so callers match with errors.Is(err, blperr.ErrShapeMismatch) and recover
// diagnostics (iteration counts, offending index, achieved gap) with
// errors.As.
package blperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrShapeMismatch is returned when matrix or vector dimensions disagree.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrNonPositiveShare is returned when a product share is outside (0, 1)
	// or a market's outside share is not positive.
	ErrNonPositiveShare = errors.New("non-positive share")

	// ErrNonContiguousMarket is returned when rows of one market are split.
	ErrNonContiguousMarket = errors.New("non-contiguous market")

	// ErrInvalidDrawCount is returned when simulation draws have no rows or
	// no dimensions.
	ErrInvalidDrawCount = errors.New("invalid draw count")

	// ErrInvalidWeights is returned when integration weights are not
	// positive or do not sum to one.
	ErrInvalidWeights = errors.New("invalid weights")

	// ErrContractionDidNotConverge is returned when the fixed point was not
	// reached within the iteration cap.
	ErrContractionDidNotConverge = errors.New("contraction did not converge")

	// ErrSingularMoment is returned when a moment or normal-equation matrix
	// cannot be factorized within the conditioning threshold.
	ErrSingularMoment = errors.New("singular moment matrix")

	// ErrWeightingNotPositiveDefinite is returned for a weighting matrix that
	// is not symmetric positive definite.
	ErrWeightingNotPositiveDefinite = errors.New("weighting matrix not positive definite")

	// ErrInvalidParameterShape is returned when sigma does not match x2.
	ErrInvalidParameterShape = errors.New("invalid parameter shape")

	// ErrMissingComponent is returned when a builder is finalized without a
	// required input.
	ErrMissingComponent = errors.New("missing component")

	// ErrNonFinite is returned when input data or intermediate values are
	// NaN or infinite.
	ErrNonFinite = errors.New("non-finite value")

	// ErrShareUnderflow is returned when a predicted share rounds to 0 or 1.
	ErrShareUnderflow = errors.New("predicted share underflow")

	// ErrInvalidOptions is returned when solver options are out of range.
	ErrInvalidOptions = errors.New("invalid options")
)

// Error carries the kind of failure together with the diagnostics that
// produced it. Detail fields that do not apply are left out of the message.
type Error struct {
	// Kind is one of the package sentinels.
	Kind error

	// Op names the operation that failed (e.g. "market.Build").
	Op string

	// Context describes what was being checked (e.g. "x1 rows").
	Context string

	// Expected and Found hold the dimensions involved in a shape mismatch.
	Expected, Found int

	// Index is the offending row, if any.
	Index int

	// Market is the offending market id, if any.
	Market string

	// Value is the offending value (a share, a weight slack, a condition number).
	Value float64

	// Iterations and Gap describe the state of an iterative routine.
	Iterations int
	Gap        float64

	hasShape, hasIndex, hasValue, hasIter bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Context != "" {
		fmt.Fprintf(&b, " in %s", e.Context)
	}
	if e.Market != "" {
		fmt.Fprintf(&b, " (market %q)", e.Market)
	}
	if e.hasShape {
		fmt.Fprintf(&b, ": expected %d, found %d", e.Expected, e.Found)
	}
	if e.hasIndex {
		fmt.Fprintf(&b, " at index %d", e.Index)
	}
	if e.hasValue {
		fmt.Fprintf(&b, " (value %g)", e.Value)
	}
	if e.hasIter {
		fmt.Fprintf(&b, " after %d iterations, gap %g", e.Iterations, e.Gap)
	}
	return b.String()
}

// Unwrap exposes the kind so errors.Is matches the sentinel.
func (e *Error) Unwrap() error {
	return e.Kind
}

// New returns an Error of the given kind with a context description.
func New(kind error, op, context string) *Error {
	return &Error{Kind: kind, Op: op, Context: context, Index: -1, Expected: -1, Found: -1}
}

// Shape builds an ErrShapeMismatch (or another shape-related kind).
func Shape(kind error, op, context string, expected, found int) *Error {
	e := New(kind, op, context)
	e.Expected, e.Found, e.hasShape = expected, found, true
	return e
}

// AtIndex records the offending row.
func (e *Error) AtIndex(i int) *Error {
	e.Index, e.hasIndex = i, true
	return e
}

// InMarket records the offending market id.
func (e *Error) InMarket(id string) *Error {
	e.Market = id
	return e
}

// WithValue records the offending value.
func (e *Error) WithValue(v float64) *Error {
	e.Value, e.hasValue = v, true
	return e
}

// WithProgress records the iteration count and last gap of an iterative routine.
func (e *Error) WithProgress(iterations int, gap float64) *Error {
	e.Iterations, e.Gap, e.hasIter = iterations, gap, true
	return e
}

// KindOf returns the sentinel kind of err, or nil when err is not an *Error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
