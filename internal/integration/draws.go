// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package integration provides Monte Carlo draws over heterogeneous
// consumer tastes. Draws are immutable and safe to share across concurrent
// market solves and repeated estimations.
package integration

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pdiddy/blp-engine/internal/blperr"
)

// WeightTolerance is the allowed deviation of the weight sum from one.
const WeightTolerance = 1e-9

// pcgStream is the second PCG seed word. Fixing it makes the generated
// nodes a function of the caller's seed alone.
const pcgStream = 0x9e3779b97f4a7c15

// Draws holds integration nodes (one row per simulated consumer, one column
// per random coefficient) and their weights.
type Draws struct {
	nodes   *mat.Dense
	weights []float64
}

// NewDraws validates nodes and weights and returns private copies.
func NewDraws(nodes mat.Matrix, weights []float64) (*Draws, error) {
	const op = "integration.NewDraws"

	if nodes == nil {
		return nil, blperr.New(blperr.ErrInvalidDrawCount, op, "nodes")
	}
	r, c := nodes.Dims()
	if r == 0 || c == 0 {
		return nil, blperr.Shape(blperr.ErrInvalidDrawCount, op, "nodes", 1, min(r, c))
	}
	if len(weights) != r {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "weights length", r, len(weights))
	}

	sum := 0.0
	for i, w := range weights {
		if !(w > 0) || math.IsInf(w, 0) {
			return nil, blperr.New(blperr.ErrInvalidWeights, op, "weights").AtIndex(i).WithValue(w)
		}
		sum += w
	}
	if slack := math.Abs(sum - 1); slack > WeightTolerance {
		return nil, blperr.New(blperr.ErrInvalidWeights, op, "weight sum").WithValue(slack)
	}

	copied := mat.DenseCopyOf(nodes)
	for i := 0; i < r; i++ {
		for _, v := range copied.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, blperr.New(blperr.ErrNonFinite, op, "nodes").AtIndex(i).WithValue(v)
			}
		}
	}

	w := make([]float64, r)
	copy(w, weights)
	return &Draws{nodes: copied, weights: w}, nil
}

// StandardNormal draws numDraws independent standard normal vectors of
// length numDims with uniform weights 1/numDraws. The same seed always
// yields bit-identical nodes.
func StandardNormal(numDraws, numDims int, seed uint64) (*Draws, error) {
	const op = "integration.StandardNormal"

	if numDraws <= 0 {
		return nil, blperr.Shape(blperr.ErrInvalidDrawCount, op, "num_draws", 1, numDraws)
	}
	if numDims <= 0 {
		return nil, blperr.Shape(blperr.ErrInvalidDrawCount, op, "num_dims", 1, numDims)
	}

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, pcgStream)}
	values := make([]float64, numDraws*numDims)
	for i := range values {
		values[i] = normal.Rand()
	}

	weights := make([]float64, numDraws)
	for i := range weights {
		weights[i] = 1 / float64(numDraws)
	}

	return &Draws{nodes: mat.NewDense(numDraws, numDims, values), weights: weights}, nil
}

// Len returns the number of draws.
func (d *Draws) Len() int {
	r, _ := d.nodes.Dims()
	return r
}

// Dim returns the number of random coefficients per draw.
func (d *Draws) Dim() int {
	_, c := d.nodes.Dims()
	return c
}

// Nodes returns the node matrix. It must not be modified.
func (d *Draws) Nodes() mat.Matrix {
	return d.nodes
}

// Node returns a read-only view of draw i.
func (d *Draws) Node(i int) []float64 {
	return d.nodes.RawRowView(i)
}

// Weights returns a copy of the integration weights.
func (d *Draws) Weights() []float64 {
	out := make([]float64, len(d.weights))
	copy(out, d.weights)
	return out
}

// Weight returns the weight of draw i.
func (d *Draws) Weight(i int) float64 {
	return d.weights[i]
}
