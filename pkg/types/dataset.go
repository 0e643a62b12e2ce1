// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ProblemManifest describes how to build a problem from a product CSV.
// Relative paths are resolved against the manifest's directory.
type ProblemManifest struct {
	// Data is the CSV file with one row per product-market observation.
	Data string `json:"data" yaml:"data" validate:"required"`

	// MarketID names the market identifier column. Rows of a market must
	// be contiguous.
	MarketID string `json:"market_id" yaml:"market_id" validate:"required"`

	// Share names the observed market share column.
	Share string `json:"share" yaml:"share" validate:"required"`

	// Intercept prepends a constant column to X1, and to Z when
	// instruments are listed.
	Intercept bool `json:"intercept" yaml:"intercept"`

	// Linear lists the X1 columns.
	Linear []string `json:"linear" yaml:"linear"`

	// Nonlinear lists the X2 columns. Empty means plain logit.
	Nonlinear []string `json:"nonlinear,omitempty" yaml:"nonlinear,omitempty"`

	// Exogenous lists X1 columns that also enter Z.
	Exogenous []string `json:"exogenous,omitempty" yaml:"exogenous,omitempty"`

	// Instruments lists excluded instrument columns. When both Exogenous
	// and Instruments are empty, Z is X1.
	Instruments []string `json:"instruments,omitempty" yaml:"instruments,omitempty"`

	// Sigma is the default nonlinear parameter matrix (len(Nonlinear) rows).
	Sigma [][]float64 `json:"sigma,omitempty" yaml:"sigma,omitempty"`
}
