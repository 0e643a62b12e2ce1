// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package estimation

import (
	"fmt"
	"math"

	"github.com/pdiddy/blp-engine/internal/blperr"
	"github.com/pdiddy/blp-engine/internal/demand"
)

// OptimizerMethod names the outer-loop search over sigma.
type OptimizerMethod string

const (
	MethodNelderMead OptimizerMethod = "nelder-mead"
	MethodLBFGS      OptimizerMethod = "lbfgs"
)

// OptimizerOptions controls Problem.Optimize.
type OptimizerOptions struct {
	// Method selects the gonum/optimize method.
	Method OptimizerMethod

	// MaxIterations caps major iterations (0 = no cap).
	MaxIterations int

	// Tolerance is the absolute change in the objective treated as convergence.
	Tolerance float64
}

// Options composes everything an Estimate call needs. Pass by value.
type Options struct {
	// Contraction configures the inner fixed point.
	Contraction demand.ContractionOptions

	// Weighting is the first-step weighting matrix.
	Weighting WeightingMatrix

	// Steps is the number of GMM steps (1 = one-step estimator).
	Steps int

	// UpdateWeighting replaces W by the robust S⁻¹ between steps.
	UpdateWeighting bool

	// StepTolerance stops iterated GMM early once the objective changes
	// by less than this between steps. Zero runs all Steps.
	StepTolerance float64

	// ErrorOnNonConvergence makes Estimate return ErrContractionDidNotConverge
	// (alongside the full result) when any market did not converge. When
	// false the result is returned with Converged = false and a nil error.
	ErrorOnNonConvergence bool

	// Optimizer configures Problem.Optimize.
	Optimizer OptimizerOptions
}

// DefaultOptions returns one-step GMM with (Z'Z)⁻¹ weighting, the default
// contraction and Nelder-Mead for the outer search.
func DefaultOptions() Options {
	return Options{
		Contraction:           demand.DefaultContractionOptions(),
		Weighting:             InverseZTZ(),
		Steps:                 1,
		ErrorOnNonConvergence: true,
		Optimizer: OptimizerOptions{
			Method:        MethodNelderMead,
			MaxIterations: 500,
			Tolerance:     1e-10,
		},
	}
}

// TwoStep returns DefaultOptions configured for the two-step efficient GMM
// estimator.
func TwoStep() Options {
	o := DefaultOptions()
	o.Steps = 2
	o.UpdateWeighting = true
	return o
}

// Validate checks option ranges.
func (o Options) Validate() error {
	const op = "estimation.Options"
	if err := o.Contraction.Validate(); err != nil {
		return err
	}
	if o.Steps < 1 {
		return blperr.New(blperr.ErrInvalidOptions, op, "steps").WithValue(float64(o.Steps))
	}
	switch o.Optimizer.Method {
	case "", MethodNelderMead, MethodLBFGS:
	default:
		return blperr.New(blperr.ErrInvalidOptions, op, fmt.Sprintf("optimizer method %q", o.Optimizer.Method))
	}
	if o.StepTolerance < 0 || math.IsNaN(o.StepTolerance) {
		return blperr.New(blperr.ErrInvalidOptions, op, "step tolerance").WithValue(o.StepTolerance)
	}
	if o.Optimizer.MaxIterations < 0 {
		return blperr.New(blperr.ErrInvalidOptions, op, "optimizer max_iterations").WithValue(float64(o.Optimizer.MaxIterations))
	}
	if o.Optimizer.Tolerance < 0 {
		return blperr.New(blperr.ErrInvalidOptions, op, "optimizer tolerance").WithValue(o.Optimizer.Tolerance)
	}
	return nil
}
