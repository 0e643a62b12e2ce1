// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package estimation recovers linear parameters and evaluates the GMM
// objective on top of the demand contraction, and composes both into a
// Problem that estimates the model for a candidate sigma.
package estimation

import (
	"errors"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/blp-engine/internal/blperr"
	"github.com/pdiddy/blp-engine/internal/demand"
	"github.com/pdiddy/blp-engine/internal/integration"
	"github.com/pdiddy/blp-engine/internal/market"
)

// StepResult records one GMM step.
type StepResult struct {
	Step      int       `json:"step" yaml:"step"`
	Weighting string    `json:"weighting" yaml:"weighting"`
	Beta      []float64 `json:"beta" yaml:"beta"`
	GMMValue  float64   `json:"gmm_value" yaml:"gmm_value"`
}

// Result is the output of one Estimate call. Every slice is freshly
// allocated and owned by the caller.
type Result struct {
	// Sigma is a copy of the nonlinear parameters evaluated (nil for plain
	// logit).
	Sigma *mat.Dense

	Beta            []float64
	Delta           []float64
	Xi              []float64
	PredictedShares []float64
	GMMValue        float64

	// Weighting is the matrix used in the final step.
	Weighting *mat.SymDense

	// Contraction holds one summary per market, in market order.
	Contraction []demand.ContractionSummary

	// Converged is true when every market's contraction converged.
	Converged bool

	Steps []StepResult
}

// TotalIterations sums contraction iterations across markets.
func (r *Result) TotalIterations() int {
	total := 0
	for _, s := range r.Contraction {
		total += s.Iterations
	}
	return total
}

// Option configures a Problem at construction.
type Option func(*Problem)

// WithLogger sets the logger used for run-level events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Problem) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOptions replaces the stored default options used by Solve.
func WithOptions(o Options) Option {
	return func(p *Problem) {
		p.options = o
	}
}

// Problem owns validated product data and simulation draws. Both are
// immutable, so a Problem may be estimated from several goroutines.
type Problem struct {
	products *market.ProductData
	draws    *integration.Draws
	options  Options
	logger   logrus.FieldLogger
}

// NewProblem validates that the draws match the nonlinear characteristics.
// Draws must be nil when the products have no X2 columns.
func NewProblem(products *market.ProductData, draws *integration.Draws, opts ...Option) (*Problem, error) {
	const op = "estimation.NewProblem"

	if products == nil {
		return nil, blperr.New(blperr.ErrMissingComponent, op, "products")
	}
	k2 := products.NonlinearDim()
	if k2 > 0 {
		if draws == nil {
			return nil, blperr.New(blperr.ErrMissingComponent, op, "draws")
		}
		if draws.Dim() != k2 {
			return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "draw dimension", k2, draws.Dim())
		}
	} else if draws != nil && draws.Dim() != 0 {
		return nil, blperr.Shape(blperr.ErrShapeMismatch, op, "draw dimension", 0, draws.Dim())
	}

	p := &Problem{
		products: products,
		draws:    draws,
		options:  DefaultOptions(),
		logger:   discardLogger(),
	}
	for _, o := range opts {
		o(p)
	}
	if err := p.options.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Products returns the problem's product data.
func (p *Problem) Products() *market.ProductData {
	return p.products
}

// Draws returns the problem's simulation draws (nil for plain logit).
func (p *Problem) Draws() *integration.Draws {
	return p.draws
}

// Options returns the options stored at construction.
func (p *Problem) Options() Options {
	return p.options
}

// Solve is Estimate with the stored options.
func (p *Problem) Solve(sigma mat.Matrix) (*Result, error) {
	return p.Estimate(sigma, p.options)
}

// Estimate recovers delta for sigma, then beta, xi and the GMM objective.
//
// When a market's contraction does not converge and
// opts.ErrorOnNonConvergence is set, Estimate returns the complete Result
// together with an ErrContractionDidNotConverge error. Any other failure
// returns a nil Result. The Problem is never modified.
func (p *Problem) Estimate(sigma mat.Matrix, opts Options) (*Result, error) {
	const op = "estimation.Problem.Estimate"

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	sigmaCopy, err := p.checkSigma(op, sigma)
	if err != nil {
		return nil, err
	}
	var sigmaArg mat.Matrix
	if sigmaCopy != nil {
		sigmaArg = sigmaCopy
	}

	log := p.logger.WithFields(logrus.Fields{
		"products": p.products.Len(),
		"markets":  p.products.Partition().Len(),
		"steps":    opts.Steps,
	})
	log.Debug("estimate started")

	partition := p.products.Partition()
	solution, contractionErr := demand.SolveDelta(p.products.Shares(), sigmaArg, p.products.X2(), p.draws, partition, opts.Contraction)
	if contractionErr != nil && !errors.Is(contractionErr, blperr.ErrContractionDidNotConverge) {
		return nil, contractionErr
	}
	for _, s := range solution.Summaries {
		if s.FloorHits > 0 {
			log.WithFields(logrus.Fields{"market": s.Market, "floor_hits": s.FloorHits}).
				Warn("predicted shares clamped to minimum share")
		}
		if !s.Converged {
			log.WithFields(logrus.Fields{"market": s.Market, "iterations": s.Iterations, "gap": s.FinalGap}).
				Warn("contraction did not converge")
		}
	}

	z := p.products.Instruments()
	x1 := p.products.X1()

	w, err := opts.Weighting.Resolve(z)
	if err != nil {
		return nil, err
	}
	kind := opts.Weighting.Kind().String()

	var (
		beta, xi []float64
		q        float64
	)
	steps := make([]StepResult, 0, opts.Steps)
	for step := 1; step <= opts.Steps; step++ {
		if step > 1 && opts.UpdateWeighting {
			if w, err = RobustWeighting(xi, z); err != nil {
				return nil, err
			}
			kind = "robust"
		}
		if beta, xi, err = ComputeLinearParameters(solution.Delta, x1, z, w); err != nil {
			return nil, err
		}
		if q, err = objective(xi, z, w); err != nil {
			return nil, err
		}
		steps = append(steps, StepResult{Step: step, Weighting: kind, Beta: beta, GMMValue: q})
		log.WithFields(logrus.Fields{"step": step, "weighting": kind, "gmm_value": q}).Debug("gmm step")

		if step > 1 && math.Abs(q-steps[step-2].GMMValue) < opts.StepTolerance {
			break
		}
	}

	predicted, err := demand.PredictSharesWith(solution.Delta, sigmaArg, p.products.X2(), p.draws, partition, opts.Contraction)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Sigma:           sigmaCopy,
		Beta:            beta,
		Delta:           solution.Delta,
		Xi:              xi,
		PredictedShares: predicted,
		GMMValue:        q,
		Weighting:       w,
		Contraction:     solution.Summaries,
		Converged:       solution.Converged(),
		Steps:           steps,
	}
	log.WithFields(logrus.Fields{
		"gmm_value":  q,
		"converged":  result.Converged,
		"iterations": result.TotalIterations(),
	}).Info("estimate finished")

	if contractionErr != nil && opts.ErrorOnNonConvergence {
		return result, contractionErr
	}
	return result, nil
}

// checkSigma validates sigma against X2 and returns a private copy, or nil
// when the problem has no nonlinear characteristics.
func (p *Problem) checkSigma(op string, sigma mat.Matrix) (*mat.Dense, error) {
	k2 := p.products.NonlinearDim()
	if k2 == 0 {
		if sigma != nil {
			if r, c := sigma.Dims(); r != 0 || c != 0 {
				return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma rows", 0, r)
			}
		}
		return nil, nil
	}
	if sigma == nil {
		return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma rows", k2, 0)
	}
	r, c := sigma.Dims()
	if r != k2 {
		return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma rows", k2, r)
	}
	if c != k2 {
		return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma columns", k2, c)
	}
	out := mat.DenseCopyOf(sigma)
	for i := 0; i < k2; i++ {
		for j := 0; j < k2; j++ {
			if v := out.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, blperr.New(blperr.ErrNonFinite, op, "sigma").AtIndex(i*k2 + j).WithValue(v)
			}
		}
	}
	return out, nil
}

// Builder assembles a Problem.
type Builder struct {
	products *market.ProductData
	draws    *integration.Draws
	opts     []Option
}

// NewProblemBuilder returns an empty Builder.
func NewProblemBuilder() *Builder {
	return &Builder{}
}

// Products sets the product data.
func (b *Builder) Products(d *market.ProductData) *Builder {
	b.products = d
	return b
}

// Draws sets the simulation draws.
func (b *Builder) Draws(d *integration.Draws) *Builder {
	b.draws = d
	return b
}

// Options sets the stored estimation options.
func (b *Builder) Options(o Options) *Builder {
	b.opts = append(b.opts, WithOptions(o))
	return b
}

// Logger sets the run logger.
func (b *Builder) Logger(l logrus.FieldLogger) *Builder {
	b.opts = append(b.opts, WithLogger(l))
	return b
}

// Build returns ErrMissingComponent when products were never set, or when
// draws are missing for a problem with nonlinear characteristics.
func (b *Builder) Build() (*Problem, error) {
	if b.products == nil {
		return nil, blperr.New(blperr.ErrMissingComponent, "estimation.Builder.Build", "products")
	}
	return NewProblem(b.products, b.draws, b.opts...)
}
