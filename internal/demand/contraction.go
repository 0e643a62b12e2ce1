// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package demand

import (
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/blp-engine/internal/blperr"
	"github.com/pdiddy/blp-engine/internal/integration"
	"github.com/pdiddy/blp-engine/internal/market"
)

// SolveDelta recovers mean utilities that equate predicted and observed
// shares, starting each market from the logit inversion
// log(s_j) - log(s_0).
//
// Every market iterates
//
//	delta' = delta + damping * (log(s) - log(max(pred(delta), floor)))
//
// until the sup-norm of the update is below the tolerance. When a market
// hits MaxIterations first, SolveDelta still returns the full Solution
// together with an ErrContractionDidNotConverge error naming the first such
// market; the caller decides whether that is fatal.
func SolveDelta(shares []float64, sigma, x2 mat.Matrix, draws *integration.Draws, partition market.Partition, opts ContractionOptions) (*Solution, error) {
	return solve("demand.SolveDelta", nil, shares, sigma, x2, draws, partition, opts)
}

// SolveDeltaFrom is SolveDelta with an explicit starting point, e.g. the
// delta recovered at a nearby sigma.
func SolveDeltaFrom(initial, shares []float64, sigma, x2 mat.Matrix, draws *integration.Draws, partition market.Partition, opts ContractionOptions) (*Solution, error) {
	const op = "demand.SolveDeltaFrom"
	if len(initial) != partition.Rows() {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "initial delta length", partition.Rows(), len(initial))
	}
	for i, d := range initial {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, blperr.New(blperr.ErrNonFinite, op, "initial delta").AtIndex(i).WithValue(d)
		}
	}
	return solve(op, initial, shares, sigma, x2, draws, partition, opts)
}

// LogitDelta returns the closed-form plain-logit inversion
// log(s_j) - log(s_0) for every row.
func LogitDelta(shares []float64, partition market.Partition) []float64 {
	delta := make([]float64, len(shares))
	for _, seg := range partition.Segments() {
		logOutside := math.Log(seg.OutsideShare)
		for j := seg.Start; j < seg.End; j++ {
			delta[j] = math.Log(shares[j]) - logOutside
		}
	}
	return delta
}

func solve(op string, initial, shares []float64, sigma, x2 mat.Matrix, draws *integration.Draws, partition market.Partition, opts ContractionOptions) (*Solution, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	rows := partition.Rows()
	if len(shares) != rows {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "shares length", rows, len(shares))
	}
	logObserved := make([]float64, rows)
	for i, s := range shares {
		if !(s > 0 && s < 1) {
			return nil, blperr.New(blperr.ErrNonPositiveShare, op, "shares").AtIndex(i).WithValue(s)
		}
		logObserved[i] = math.Log(s)
	}

	k, err := newKernel(op, sigma, x2, draws, rows)
	if err != nil {
		return nil, err
	}

	delta := make([]float64, rows)
	if initial != nil {
		copy(delta, initial)
	} else {
		delta = LogitDelta(shares, partition)
	}

	summaries := make([]ContractionSummary, partition.Len())
	var g errgroup.Group
	g.SetLimit(opts.workers())
	for m := 0; m < partition.Len(); m++ {
		g.Go(func() error {
			seg := partition.Segment(m)
			summary, err := k.contractMarket(op, seg, logObserved[seg.Start:seg.End], delta[seg.Start:seg.End], opts)
			summaries[m] = summary
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	solution := &Solution{Delta: delta, Summaries: summaries}
	for _, s := range summaries {
		if !s.Converged {
			return solution, blperr.New(blperr.ErrContractionDidNotConverge, op, "").
				InMarket(s.Market).
				WithProgress(s.Iterations, s.FinalGap)
		}
	}
	return solution, nil
}

// contractMarket iterates one market in place on delta.
func (k *kernel) contractMarket(op string, seg market.Segment, logObserved, delta []float64, opts ContractionOptions) (ContractionSummary, error) {
	n := seg.Len()
	predicted := make([]float64, n)
	next := make([]float64, n)
	scratch := make([]float64, n)
	logFloor := math.Log(opts.MinimumShare)

	summary := ContractionSummary{Market: seg.ID}
	for it := 1; it <= opts.MaxIterations; it++ {
		k.marketShares(seg.Start, delta, predicted, scratch)

		gap := 0.0
		for i := range delta {
			logPredicted := logFloor
			if predicted[i] >= opts.MinimumShare {
				logPredicted = math.Log(predicted[i])
			} else {
				summary.FloorHits++
			}
			step := opts.Damping * (logObserved[i] - logPredicted)
			next[i] = delta[i] + step
			gap = math.Max(gap, math.Abs(step))
		}
		if math.IsNaN(gap) || math.IsInf(gap, 0) {
			return summary, blperr.New(blperr.ErrNonFinite, op, "delta update").InMarket(seg.ID).WithProgress(it, gap)
		}

		copy(delta, next)
		summary.Iterations = it
		summary.FinalGap = gap
		if gap < opts.Tolerance {
			summary.Converged = true
			break
		}
	}
	return summary, nil
}
