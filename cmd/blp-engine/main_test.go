package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/blp-engine/internal/integration"
	"github.com/pdiddy/blp-engine/pkg/types"
)

func TestPrintRecordText(t *testing.T) {
	rec := types.RunRecord{
		ID:          "run-1",
		Kind:        types.RunEstimate,
		Products:    3,
		MarketCount: 2,
		Sigma:       []float64{0.5},
		SigmaDim:    1,
		Draws:       200,
		LinearNames: []string{"1", "prices"},
		Beta:        []float64{-1.5, 0.25},
		GMMValue:    0.01,
		Converged:   true,
		Markets:     []types.MarketSummary{{Market: "m1", Iterations: 7, FinalGap: 1e-13, Converged: true}},
	}

	var buf bytes.Buffer
	require.NoError(t, printRecord(&buf, rec, false))
	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "prices")
	assert.Contains(t, out, "converged  true")
	assert.Contains(t, out, "m1")
}

func TestPrintRecordJSON(t *testing.T) {
	rec := types.RunRecord{Kind: types.RunOptimize, Beta: []float64{1, 2}, OptimizerStatus: "FunctionConvergence"}

	var buf bytes.Buffer
	require.NoError(t, printRecord(&buf, rec, true))

	var back types.RunRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, rec.Beta, back.Beta)
	assert.Equal(t, "FunctionConvergence", back.OptimizerStatus)
}

func TestPrintDraws(t *testing.T) {
	draws, err := integration.StandardNormal(100, 2, 3)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printDraws(&buf, draws, 2))
	out := buf.String()
	assert.Contains(t, out, "100 draws, 2 dimensions")
	assert.Contains(t, out, "w=0.010000")
}

func TestPersistentFlagsBindConfigKeys(t *testing.T) {
	flags := rootCmd.PersistentFlags()
	for key, name := range flagKeys {
		require.NotNil(t, flags.Lookup(name), name)
		assert.NotNil(t, viper.Get(key), key)
	}
}
