// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/blp-engine/internal/config"
	"github.com/pdiddy/blp-engine/internal/dataset"
	"github.com/pdiddy/blp-engine/internal/estimation"
	"github.com/pdiddy/blp-engine/internal/integration"
	"github.com/pdiddy/blp-engine/internal/logging"
	"github.com/pdiddy/blp-engine/internal/runstore"
	"github.com/pdiddy/blp-engine/pkg/types"
)

// loadedProblem is a problem built from a manifest plus the sigma to
// evaluate or start from.
type loadedProblem struct {
	data    *dataset.Dataset
	problem *estimation.Problem
	sigma   *mat.Dense
	draws   int
}

// addProblemFlags registers the flags shared by estimate and optimize.
func addProblemFlags(cmd *cobra.Command) {
	cmd.Flags().String("problem", "", "problem manifest (YAML)")
	cmd.Flags().String("sigma", "", `sigma: "0.5", "0.5,1.2" (diagonal) or "0.5,0;0,1.2"; defaults to the manifest`)
	cmd.Flags().Int("steps", 0, "GMM steps (overrides gmm.steps)")
	cmd.Flags().Bool("two-step", false, "two-step GMM with robust weighting")
	cmd.Flags().Bool("json", false, "print the run record as JSON")
	cmd.Flags().Bool("no-store", false, "do not save the run")
	cmd.MarkFlagRequired("problem")
}

// optionsFromFlags applies per-command overrides to the configured options.
func optionsFromFlags(cmd *cobra.Command) estimation.Options {
	opts := config.EstimationOptions(cfg)
	if steps, _ := cmd.Flags().GetInt("steps"); steps > 0 {
		opts.Steps = steps
	}
	if twoStep, _ := cmd.Flags().GetBool("two-step"); twoStep {
		opts.Steps = 2
		opts.UpdateWeighting = true
	}
	return opts
}

func loadProblem(cmd *cobra.Command, opts estimation.Options) (*loadedProblem, error) {
	path, _ := cmd.Flags().GetString("problem")
	ds, err := dataset.Load(path)
	if err != nil {
		return nil, err
	}

	k2 := ds.Products.NonlinearDim()
	sigma, err := ds.Sigma()
	if err != nil {
		return nil, err
	}
	if text, _ := cmd.Flags().GetString("sigma"); text != "" {
		if sigma, err = dataset.ParseSigma(text, k2); err != nil {
			return nil, err
		}
	}
	if k2 > 0 && sigma == nil {
		return nil, fmt.Errorf("sigma required: set --sigma or sigma in %s", path)
	}

	var draws *integration.Draws
	if k2 > 0 {
		if draws, err = integration.StandardNormal(cfg.Draws.Count, k2, cfg.Draws.Seed); err != nil {
			return nil, err
		}
	}

	problem, err := estimation.NewProblemBuilder().
		Products(ds.Products).
		Draws(draws).
		Options(opts).
		Logger(logging.WithComponent(logger, "estimation")).
		Build()
	if err != nil {
		return nil, err
	}

	lp := &loadedProblem{data: ds, problem: problem, sigma: sigma}
	if draws != nil {
		lp.draws = draws.Len()
	}
	return lp, nil
}

// record builds the stored run for res.
func (lp *loadedProblem) record(kind types.RunKind, res *estimation.Result) types.RunRecord {
	p := lp.data.Products
	rec := runstore.RecordFromResult(kind, p.Len(), p.Partition().Len(), res)
	rec.Manifest = lp.data.Path
	rec.Draws = lp.draws
	if lp.draws > 0 {
		rec.Seed = cfg.Draws.Seed
	}
	rec.LinearNames = lp.data.LinearNames
	return rec
}

// finishRun stores rec unless --no-store is set and prints it.
func finishRun(ctx context.Context, cmd *cobra.Command, rec types.RunRecord) error {
	noStore, _ := cmd.Flags().GetBool("no-store")
	if !noStore {
		store, err := runstore.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()
		if rec, err = store.Save(ctx, rec); err != nil {
			return err
		}
		logger.WithField("id", rec.ID).Info("run saved")
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return printRecord(os.Stdout, rec, jsonOutput)
}

func printRecord(w io.Writer, rec types.RunRecord, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	if rec.ID != "" {
		fmt.Fprintf(w, "run        %s (%s)\n", rec.ID, rec.Kind)
	}
	fmt.Fprintf(w, "products   %d in %d markets\n", rec.Products, rec.MarketCount)
	if rec.SigmaDim > 0 {
		fmt.Fprintf(w, "sigma      %v (%d draws, seed %d)\n", rec.Sigma, rec.Draws, rec.Seed)
	}
	if rec.OptimizerStatus != "" {
		fmt.Fprintf(w, "optimizer  %s\n", rec.OptimizerStatus)
	}
	fmt.Fprintf(w, "gmm value  %.10g\n", rec.GMMValue)
	fmt.Fprintf(w, "converged  %t\n\n", rec.Converged)

	fmt.Fprintf(w, "%-20s  %s\n", "Parameter", "Beta")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for i, b := range rec.Beta {
		name := fmt.Sprintf("beta[%d]", i)
		if i < len(rec.LinearNames) {
			name = rec.LinearNames[i]
		}
		fmt.Fprintf(w, "%-20s  % .8f\n", name, b)
	}

	if len(rec.Markets) > 0 {
		fmt.Fprintf(w, "\n%-20s  %10s  %12s  %9s  %s\n", "Market", "Iterations", "Final gap", "Converged", "Floor hits")
		fmt.Fprintln(w, strings.Repeat("-", 70))
		for _, m := range rec.Markets {
			fmt.Fprintf(w, "%-20s  %10d  %12.3e  %9t  %d\n", m.Market, m.Iterations, m.FinalGap, m.Converged, m.FloorHits)
		}
	}
	return nil
}
