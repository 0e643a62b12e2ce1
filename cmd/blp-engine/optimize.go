package main

import (
	"github.com/spf13/cobra"

	"github.com/pdiddy/blp-engine/internal/estimation"
	"github.com/pdiddy/blp-engine/pkg/types"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Minimize the GMM objective over sigma",
	Long: `Optimize searches over the nonzero entries of the starting sigma
(zeros stay fixed) and minimizes the GMM objective with Nelder-Mead or
L-BFGS. The estimate at the optimum is printed and saved to the run store.`,
	RunE: runOptimize,
}

func runOptimize(cmd *cobra.Command, args []string) error {
	opts := optionsFromFlags(cmd)
	if method, _ := cmd.Flags().GetString("method"); method != "" {
		opts.Optimizer.Method = estimation.OptimizerMethod(method)
	}
	if iters, _ := cmd.Flags().GetInt("max-iterations"); iters > 0 {
		opts.Optimizer.MaxIterations = iters
	}

	lp, err := loadProblem(cmd, opts)
	if err != nil {
		return err
	}

	out, optErr := lp.problem.Optimize(lp.sigma, opts)
	if out == nil {
		return optErr
	}
	rec := lp.record(types.RunOptimize, out.Result)
	rec.OptimizerStatus = out.Status
	logger.WithField("evaluations", out.Evaluations).WithField("runtime", out.Runtime).Debug("optimizer stats")

	if err := finishRun(cmd.Context(), cmd, rec); err != nil {
		return err
	}
	return optErr
}

func init() {
	addProblemFlags(optimizeCmd)
	optimizeCmd.Flags().String("method", "", "nelder-mead or lbfgs (overrides gmm.optimizer.method)")
	optimizeCmd.Flags().Int("max-iterations", 0, "outer iterations (overrides gmm.optimizer.max_iterations)")
	rootCmd.AddCommand(optimizeCmd)
}
