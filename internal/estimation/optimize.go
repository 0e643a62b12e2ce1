// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package estimation

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// OptimizeResult is the estimate at the optimum of the outer search plus
// optimizer statistics.
type OptimizeResult struct {
	*Result

	Method      OptimizerMethod
	Status      string
	Iterations  int
	Evaluations int
	Runtime     time.Duration
}

// Optimize minimizes the GMM objective over the nonzero entries of sigma0.
// Zero entries stay fixed at zero. Each objective evaluation is a full
// Estimate; evaluations that fail are scored +Inf so the search moves away
// from them. When sigma0 has no free entries Optimize is a single Estimate.
func (p *Problem) Optimize(sigma0 mat.Matrix, opts Options) (*OptimizeResult, error) {
	const op = "estimation.Problem.Optimize"

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	start, err := p.checkSigma(op, sigma0)
	if err != nil {
		return nil, err
	}

	method := opts.Optimizer.Method
	if method == "" {
		method = MethodNelderMead
	}

	free := freeEntries(start)
	if len(free) == 0 {
		res, err := p.Estimate(sigma0, opts)
		if res == nil {
			return nil, err
		}
		return &OptimizeResult{Result: res, Method: method, Status: "NoFreeParameters"}, err
	}

	x0 := make([]float64, len(free))
	for i, idx := range free {
		x0[i] = start.At(idx[0], idx[1])
	}

	// The search itself never logs per evaluation; only the final estimate
	// reports through the problem logger.
	quiet := *p
	quiet.logger = discardLogger()

	f := func(x []float64) float64 {
		res, err := quiet.Estimate(withEntries(start, free, x), opts)
		if err != nil || res == nil {
			return math.Inf(1)
		}
		return res.GMMValue
	}

	problem := optimize.Problem{Func: f}
	var gonumMethod optimize.Method
	switch method {
	case MethodLBFGS:
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, f, x, nil)
		}
		gonumMethod = &optimize.LBFGS{}
	default:
		gonumMethod = &optimize.NelderMead{}
	}

	settings := &optimize.Settings{
		MajorIterations: opts.Optimizer.MaxIterations,
	}
	if opts.Optimizer.Tolerance > 0 {
		settings.Converger = &optimize.FunctionConverge{
			Absolute:   opts.Optimizer.Tolerance,
			Iterations: 50,
		}
	}

	out, err := optimize.Minimize(problem, x0, settings, gonumMethod)
	if out == nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		p.logger.WithError(err).WithField("status", out.Status.String()).Warn("outer search stopped early")
	}

	res, estErr := p.Estimate(withEntries(start, free, out.X), opts)
	if res == nil {
		return nil, estErr
	}
	p.logger.WithFields(logrus.Fields{
		"method":      method,
		"status":      out.Status.String(),
		"iterations":  out.Stats.MajorIterations,
		"evaluations": out.Stats.FuncEvaluations,
		"gmm_value":   res.GMMValue,
	}).Info("outer search finished")

	return &OptimizeResult{
		Result:      res,
		Method:      method,
		Status:      out.Status.String(),
		Iterations:  out.Stats.MajorIterations,
		Evaluations: out.Stats.FuncEvaluations,
		Runtime:     out.Stats.Runtime,
	}, estErr
}

// freeEntries lists the (row, col) positions of nonzero entries in sigma.
func freeEntries(sigma *mat.Dense) [][2]int {
	if sigma == nil {
		return nil
	}
	r, c := sigma.Dims()
	var free [][2]int
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if sigma.At(i, j) != 0 {
				free = append(free, [2]int{i, j})
			}
		}
	}
	return free
}

// withEntries returns a copy of base with the free entries set from x.
func withEntries(base *mat.Dense, free [][2]int, x []float64) *mat.Dense {
	out := mat.DenseCopyOf(base)
	for i, idx := range free {
		out.Set(idx[0], idx[1], x[i])
	}
	return out
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
