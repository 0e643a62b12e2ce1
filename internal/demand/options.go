// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package demand

import (
	"fmt"
	"math"
	"runtime"

	"github.com/pdiddy/blp-engine/internal/blperr"
)

// Defaults for ContractionOptions.
const (
	DefaultTolerance     = 1e-12
	DefaultMaxIterations = 1000
	DefaultDamping       = 1.0

	// DefaultMinimumShare is the floor applied to predicted shares before
	// taking logs in the contraction update.
	DefaultMinimumShare = 1e-300
)

// ContractionOptions configures the fixed-point iteration that recovers
// mean utilities. Pass by value; there are no process-wide defaults beyond
// DefaultContractionOptions.
type ContractionOptions struct {
	// Tolerance is the sup-norm threshold on the delta update.
	Tolerance float64

	// MaxIterations caps the number of updates per market.
	MaxIterations int

	// Damping scales each update; 1 is the undamped BLP contraction.
	Damping float64

	// MinimumShare is the floor applied to predicted shares before logs.
	MinimumShare float64

	// Workers bounds the number of markets solved concurrently. Zero or
	// negative uses GOMAXPROCS.
	Workers int
}

// DefaultContractionOptions returns the standard undamped configuration.
func DefaultContractionOptions() ContractionOptions {
	return ContractionOptions{
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
		Damping:       DefaultDamping,
		MinimumShare:  DefaultMinimumShare,
	}
}

// Validate checks option ranges.
func (o ContractionOptions) Validate() error {
	const op = "demand.ContractionOptions"
	switch {
	case !(o.Tolerance > 0) || math.IsInf(o.Tolerance, 0):
		return blperr.New(blperr.ErrInvalidOptions, op, "tolerance").WithValue(o.Tolerance)
	case o.MaxIterations <= 0:
		return blperr.New(blperr.ErrInvalidOptions, op, "max_iterations").WithValue(float64(o.MaxIterations))
	case !(o.Damping > 0 && o.Damping <= 1):
		return blperr.New(blperr.ErrInvalidOptions, op, "damping").WithValue(o.Damping)
	case !(o.MinimumShare > 0 && o.MinimumShare < 1):
		return blperr.New(blperr.ErrInvalidOptions, op, "minimum_share").WithValue(o.MinimumShare)
	}
	return nil
}

func (o ContractionOptions) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// ContractionSummary describes how one market's contraction ended.
type ContractionSummary struct {
	// Market is the market identifier.
	Market string `json:"market" yaml:"market"`

	// Iterations is the number of updates performed.
	Iterations int `json:"iterations" yaml:"iterations"`

	// FinalGap is the sup-norm of the last update.
	FinalGap float64 `json:"final_gap" yaml:"final_gap"`

	// Converged reports whether FinalGap fell below the tolerance.
	Converged bool `json:"converged" yaml:"converged"`

	// FloorHits counts predicted shares raised to the minimum share floor
	// over all iterations.
	FloorHits int `json:"floor_hits" yaml:"floor_hits"`
}

// String formats the summary for logs and CLI output.
func (s ContractionSummary) String() string {
	state := "converged"
	if !s.Converged {
		state = "not converged"
	}
	return fmt.Sprintf("%s: %s after %d iterations (gap %.3g, floor hits %d)",
		s.Market, state, s.Iterations, s.FinalGap, s.FloorHits)
}

// Solution is the output of SolveDelta: mean utilities in original row
// order and one summary per market, in partition order.
type Solution struct {
	Delta     []float64
	Summaries []ContractionSummary
}

// Converged reports whether every market converged.
func (s *Solution) Converged() bool {
	for _, m := range s.Summaries {
		if !m.Converged {
			return false
		}
	}
	return true
}

// MaxGap returns the largest final gap across markets.
func (s *Solution) MaxGap() float64 {
	gap := 0.0
	for _, m := range s.Summaries {
		gap = math.Max(gap, m.FinalGap)
	}
	return gap
}

// TotalIterations sums iterations across markets.
func (s *Solution) TotalIterations() int {
	total := 0
	for _, m := range s.Summaries {
		total += m.Iterations
	}
	return total
}

// FloorHits sums share-floor clamps across markets.
func (s *Solution) FloorHits() int {
	total := 0
	for _, m := range s.Summaries {
		total += m.FloorHits
	}
	return total
}

// Unconverged returns the summaries of markets that did not converge.
func (s *Solution) Unconverged() []ContractionSummary {
	var out []ContractionSummary
	for _, m := range s.Summaries {
		if !m.Converged {
			out = append(out, m)
		}
	}
	return out
}
