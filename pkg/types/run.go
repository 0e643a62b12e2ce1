// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// RunKind distinguishes a single evaluation from an outer search.
type RunKind string

const (
	RunEstimate RunKind = "estimate"
	RunOptimize RunKind = "optimize"
)

// MarketSummary is one market's contraction outcome as persisted.
type MarketSummary struct {
	Market     string  `json:"market" yaml:"market"`
	Iterations int     `json:"iterations" yaml:"iterations"`
	FinalGap   float64 `json:"final_gap" yaml:"final_gap"`
	Converged  bool    `json:"converged" yaml:"converged"`
	FloorHits  int     `json:"floor_hits" yaml:"floor_hits"`
}

// GMMStep is one step's objective and weighting as persisted.
type GMMStep struct {
	Step      int       `json:"step" yaml:"step"`
	Weighting string    `json:"weighting" yaml:"weighting"`
	Beta      []float64 `json:"beta" yaml:"beta"`
	GMMValue  float64   `json:"gmm_value" yaml:"gmm_value"`
}

// RunRecord is a stored estimation run.
type RunRecord struct {
	// ID is a UUID assigned when the run is saved.
	ID string `json:"id" yaml:"id"`

	Kind      RunKind   `json:"kind" yaml:"kind"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// Manifest is the path of the problem manifest the run was built from.
	Manifest string `json:"manifest" yaml:"manifest"`

	Products    int    `json:"products" yaml:"products"`
	MarketCount int    `json:"market_count" yaml:"market_count"`
	Draws       int    `json:"draws" yaml:"draws"`
	Seed        uint64 `json:"seed" yaml:"seed"`

	// Sigma is stored row-major; SigmaDim is its side length.
	Sigma    []float64 `json:"sigma" yaml:"sigma"`
	SigmaDim int       `json:"sigma_dim" yaml:"sigma_dim"`

	LinearNames []string  `json:"linear_names,omitempty" yaml:"linear_names,omitempty"`
	Beta        []float64 `json:"beta" yaml:"beta"`
	GMMValue    float64   `json:"gmm_value" yaml:"gmm_value"`
	Converged   bool      `json:"converged" yaml:"converged"`

	// OptimizerStatus is set for optimize runs.
	OptimizerStatus string `json:"optimizer_status,omitempty" yaml:"optimizer_status,omitempty"`

	Steps   []GMMStep       `json:"steps" yaml:"steps"`
	Markets []MarketSummary `json:"markets" yaml:"markets"`
}
