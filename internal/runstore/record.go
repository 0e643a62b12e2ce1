// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package runstore

import (
	"github.com/pdiddy/blp-engine/internal/estimation"
	"github.com/pdiddy/blp-engine/pkg/types"
)

// RecordFromResult flattens an estimation result into a RunRecord. The
// caller fills Manifest, Draws, Seed and LinearNames.
func RecordFromResult(kind types.RunKind, products, markets int, res *estimation.Result) types.RunRecord {
	rec := types.RunRecord{
		Kind:        kind,
		Products:    products,
		MarketCount: markets,
		Beta:        append([]float64(nil), res.Beta...),
		GMMValue:    res.GMMValue,
		Converged:   res.Converged,
	}
	if res.Sigma != nil {
		r, _ := res.Sigma.Dims()
		rec.SigmaDim = r
		rec.Sigma = make([]float64, 0, r*r)
		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				rec.Sigma = append(rec.Sigma, res.Sigma.At(i, j))
			}
		}
	}
	for _, s := range res.Steps {
		rec.Steps = append(rec.Steps, types.GMMStep{
			Step:      s.Step,
			Weighting: s.Weighting,
			Beta:      append([]float64(nil), s.Beta...),
			GMMValue:  s.GMMValue,
		})
	}
	for _, c := range res.Contraction {
		rec.Markets = append(rec.Markets, types.MarketSummary{
			Market:     c.Market,
			Iterations: c.Iterations,
			FinalGap:   c.FinalGap,
			Converged:  c.Converged,
			FloorHits:  c.FloorHits,
		})
	}
	return rec
}
