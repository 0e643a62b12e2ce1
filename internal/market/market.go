// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package market holds validated product-level data for demand estimation.
//
// ProductData is built once through Builder, which checks shapes, share
// bounds and market contiguity, and is immutable afterwards. Markets are
// index ranges over shared row-major matrices (see Partition) rather than
// separate per-market objects.
package market

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/blp-engine/internal/blperr"
)

// ProductData is one row per product-market observation.
type ProductData struct {
	marketIDs   []string
	shares      []float64
	x1          *mat.Dense
	x2          *mat.Dense // nil when there are no nonlinear characteristics
	instruments *mat.Dense
	excluded    bool
	partition   Partition
}

// Len returns the number of product rows across all markets.
func (d *ProductData) Len() int {
	return len(d.shares)
}

// LinearDim returns the number of columns of X1.
func (d *ProductData) LinearDim() int {
	_, c := d.x1.Dims()
	return c
}

// NonlinearDim returns the number of columns of X2 (0 when absent).
func (d *ProductData) NonlinearDim() int {
	if d.x2 == nil {
		return 0
	}
	_, c := d.x2.Dims()
	return c
}

// InstrumentDim returns the number of columns of Z.
func (d *ProductData) InstrumentDim() int {
	_, c := d.instruments.Dims()
	return c
}

// X1 returns the linear characteristics. The matrix must not be modified.
func (d *ProductData) X1() mat.Matrix {
	return d.x1
}

// X2 returns the nonlinear characteristics, or nil when there are none.
// The matrix must not be modified.
func (d *ProductData) X2() mat.Matrix {
	if d.x2 == nil {
		return nil
	}
	return d.x2
}

// Instruments returns Z. When no instruments were supplied this is X1.
// The matrix must not be modified.
func (d *ProductData) Instruments() mat.Matrix {
	return d.instruments
}

// HasExcludedInstruments reports whether Z was supplied separately from X1.
func (d *ProductData) HasExcludedInstruments() bool {
	return d.excluded
}

// Shares returns a copy of the observed shares.
func (d *ProductData) Shares() []float64 {
	out := make([]float64, len(d.shares))
	copy(out, d.shares)
	return out
}

// Share returns the observed share of a row.
func (d *ProductData) Share(product int) float64 {
	return d.shares[product]
}

// MarketIDs returns a copy of the per-row market identifiers.
func (d *ProductData) MarketIDs() []string {
	out := make([]string, len(d.marketIDs))
	copy(out, d.marketIDs)
	return out
}

// MarketID returns the market identifier of a row.
func (d *ProductData) MarketID(product int) string {
	return d.marketIDs[product]
}

// OutsideShare returns the outside share of the market containing a row.
func (d *ProductData) OutsideShare(product int) float64 {
	return d.partition.Segment(d.partition.MarketOf(product)).OutsideShare
}

// Partition returns the precomputed market partition.
func (d *ProductData) Partition() Partition {
	return d.partition
}

// Builder validates inputs before constructing ProductData. Setters return
// the builder so calls chain; Build performs every check.
type Builder struct {
	marketIDs   []string
	shares      []float64
	x1          mat.Matrix
	x2          mat.Matrix
	instruments mat.Matrix
}

// NewBuilder starts building product data from market ids and observed shares.
func NewBuilder(marketIDs []string, shares []float64) *Builder {
	return &Builder{marketIDs: marketIDs, shares: shares}
}

// X1 sets the linear characteristics.
func (b *Builder) X1(m mat.Matrix) *Builder {
	b.x1 = m
	return b
}

// X2 sets the nonlinear (random-coefficient) characteristics.
func (b *Builder) X2(m mat.Matrix) *Builder {
	b.x2 = m
	return b
}

// Instruments sets Z. Without it, X1 serves as its own instrument.
func (b *Builder) Instruments(m mat.Matrix) *Builder {
	b.instruments = m
	return b
}

// Build validates every input and returns immutable product data. Inputs are
// copied, so later changes to the caller's slices and matrices have no effect.
func (b *Builder) Build() (*ProductData, error) {
	const op = "market.Build"

	n := len(b.shares)
	if len(b.marketIDs) != n {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "market_ids length", n, len(b.marketIDs))
	}
	if n == 0 {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "shares length", 1, 0)
	}

	for i, s := range b.shares {
		if !(s > 0 && s < 1) {
			return nil, blperr.New(blperr.ErrNonPositiveShare, op, "shares").AtIndex(i).WithValue(s)
		}
	}

	x1, err := copyRows(op, "x1", b.x1, n)
	if err != nil {
		return nil, err
	}
	if x1 == nil {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "x1 rows", n, 0)
	}

	x2, err := copyRows(op, "x2", b.x2, n)
	if err != nil {
		return nil, err
	}

	z, err := copyRows(op, "instruments", b.instruments, n)
	if err != nil {
		return nil, err
	}
	excluded := z != nil
	if z == nil {
		z = x1
	}

	partition, err := NewPartition(b.marketIDs, b.shares)
	if err != nil {
		return nil, err
	}

	ids := make([]string, n)
	copy(ids, b.marketIDs)
	shares := make([]float64, n)
	copy(shares, b.shares)

	return &ProductData{
		marketIDs:   ids,
		shares:      shares,
		x1:          x1,
		x2:          x2,
		instruments: z,
		excluded:    excluded,
		partition:   partition,
	}, nil
}

// copyRows checks the row count and finiteness of m and returns a private
// copy. A nil matrix yields nil.
func copyRows(op, name string, m mat.Matrix, n int) (*mat.Dense, error) {
	if m == nil {
		return nil, nil
	}
	r, c := m.Dims()
	if r != n {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, name+" rows", n, r)
	}
	if c == 0 {
		return nil, nil
	}
	out := mat.DenseCopyOf(m)
	for i := 0; i < r; i++ {
		for _, v := range out.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, blperr.New(blperr.ErrNonFinite, op, name).AtIndex(i).WithValue(v)
			}
		}
	}
	return out, nil
}
