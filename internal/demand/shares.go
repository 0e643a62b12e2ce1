// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package demand implements random-coefficients logit share prediction and
// the BLP contraction that inverts observed shares into mean utilities.
//
// Markets are independent: both operations run one task per market on a
// bounded worker pool, each writing only its own rows of the output.
package demand

import (
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/blp-engine/internal/blperr"
	"github.com/pdiddy/blp-engine/internal/integration"
	"github.com/pdiddy/blp-engine/internal/market"
)

// kernel holds the delta-independent part of utility,
// mu[j, r] = x2_j · sigma · node_r, for every row and draw.
type kernel struct {
	mu      []float64 // row-major rows×draws; nil for plain logit
	stride  int
	weights []float64
	draws   int
}

// newKernel validates sigma, x2 and draws against each other and the row
// count, then precomputes X2 · sigma · nodesᵀ. With no nonlinear
// characteristics sigma must be nil and the kernel is a single zero-offset
// draw with weight one.
func newKernel(op string, sigma, x2 mat.Matrix, draws *integration.Draws, rows int) (*kernel, error) {
	k2 := 0
	if x2 != nil {
		r, c := x2.Dims()
		if r != rows {
			return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "x2 rows", rows, r)
		}
		k2 = c
	}

	if k2 == 0 {
		if sigma != nil {
			if r, c := sigma.Dims(); r != 0 || c != 0 {
				return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma rows", 0, r)
			}
		}
		return &kernel{weights: []float64{1}, draws: 1}, nil
	}

	if sigma == nil {
		return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma rows", k2, 0)
	}
	if r, c := sigma.Dims(); r != k2 || c != k2 {
		if r != k2 {
			return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma rows", k2, r)
		}
		return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma columns", k2, c)
	}
	for i := 0; i < k2; i++ {
		for j := 0; j < k2; j++ {
			if v := sigma.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, blperr.New(blperr.ErrNonFinite, op, "sigma").AtIndex(i*k2 + j).WithValue(v)
			}
		}
	}

	if draws == nil {
		return nil, blperr.New(blperr.ErrMissingComponent, op, "simulation draws")
	}
	if draws.Dim() != k2 {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "draw dimension", k2, draws.Dim())
	}

	var taste, mu mat.Dense
	taste.Mul(x2, sigma)
	mu.Mul(&taste, draws.Nodes().T())
	raw := mu.RawMatrix()
	for i := 0; i < rows; i++ {
		for r := 0; r < draws.Len(); r++ {
			if v := raw.Data[i*raw.Stride+r]; math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, blperr.New(blperr.ErrNonFinite, op, "x2 · sigma · nodes").AtIndex(i).WithValue(v)
			}
		}
	}

	return &kernel{
		mu:      raw.Data,
		stride:  raw.Stride,
		weights: draws.Weights(),
		draws:   draws.Len(),
	}, nil
}

func (k *kernel) offset(row, draw int) float64 {
	if k.mu == nil {
		return 0
	}
	return k.mu[row*k.stride+draw]
}

// marketShares writes the predicted shares of one market into out. delta,
// out and scratch are market-local slices; start is the market's first row.
//
// For each draw the largest utility, or zero for the outside good, is
// subtracted before exponentiating, so every exponent is at most zero.
func (k *kernel) marketShares(start int, delta, out, scratch []float64) {
	for i := range out {
		out[i] = 0
	}
	for r := 0; r < k.draws; r++ {
		top := 0.0
		for i, d := range delta {
			u := d + k.offset(start+i, r)
			scratch[i] = u
			if u > top {
				top = u
			}
		}
		denom := math.Exp(-top)
		for i := range delta {
			e := math.Exp(scratch[i] - top)
			scratch[i] = e
			denom += e
		}
		w := k.weights[r]
		for i := range delta {
			out[i] += w * scratch[i] / denom
		}
	}
}

// PredictShares computes model-implied shares for mean utilities delta and
// nonlinear parameters sigma (K2×K2). x2 may be nil for a plain logit, in
// which case sigma must be nil and draws are ignored. The output has one
// entry per row, in row order, each strictly inside (0, 1); a share that
// rounds to an endpoint fails with ErrShareUnderflow.
func PredictShares(delta []float64, sigma, x2 mat.Matrix, draws *integration.Draws, partition market.Partition) ([]float64, error) {
	return PredictSharesWith(delta, sigma, x2, draws, partition, DefaultContractionOptions())
}

// PredictSharesWith is PredictShares with the worker bound taken from opts.
func PredictSharesWith(delta []float64, sigma, x2 mat.Matrix, draws *integration.Draws, partition market.Partition, opts ContractionOptions) ([]float64, error) {
	const op = "demand.PredictShares"

	rows := partition.Rows()
	if len(delta) != rows {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "delta length", rows, len(delta))
	}
	for i, d := range delta {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, blperr.New(blperr.ErrNonFinite, op, "delta").AtIndex(i).WithValue(d)
		}
	}

	k, err := newKernel(op, sigma, x2, draws, rows)
	if err != nil {
		return nil, err
	}

	predicted := make([]float64, rows)
	var g errgroup.Group
	g.SetLimit(opts.workers())
	for m := 0; m < partition.Len(); m++ {
		g.Go(func() error {
			seg := partition.Segment(m)
			k.marketShares(seg.Start, delta[seg.Start:seg.End], predicted[seg.Start:seg.End], make([]float64, seg.Len()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, s := range predicted {
		switch {
		case math.IsNaN(s):
			return nil, blperr.New(blperr.ErrNonFinite, op, "predicted share").
				InMarket(partition.Segment(partition.MarketOf(i)).ID).AtIndex(i).WithValue(s)
		case s <= 0 || s >= 1:
			return nil, blperr.New(blperr.ErrShareUnderflow, op, "predicted share").
				InMarket(partition.Segment(partition.MarketOf(i)).ID).AtIndex(i).WithValue(s)
		}
	}
	return predicted, nil
}
