// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/blp-engine/internal/blperr"
	"github.com/pdiddy/blp-engine/pkg/types"
)

func TestLoadTestdata(t *testing.T) {
	ds, err := Load(filepath.Join("testdata", "problem.yaml"))
	require.NoError(t, err)

	p := ds.Products
	assert.Equal(t, 6, p.Len())
	assert.Equal(t, 3, p.Partition().Len())
	assert.Equal(t, []string{"1", "prices", "sugar"}, ds.LinearNames)
	assert.Equal(t, []string{"prices"}, ds.NonlinearNames)
	assert.Equal(t, []string{"1", "sugar", "demand_instruments0"}, ds.InstrumentNames)

	assert.Equal(t, 3, p.LinearDim())
	assert.Equal(t, 1, p.NonlinearDim())
	assert.Equal(t, 3, p.InstrumentDim())
	assert.True(t, p.HasExcludedInstruments())

	assert.Equal(t, 1.0, p.X1().At(0, 0))
	assert.Equal(t, 2.0, p.X1().At(1, 1))
	assert.Equal(t, 1.1, p.X1().At(1, 2))
	assert.Equal(t, 2.5, p.X2().At(4, 0))
	assert.Equal(t, 2.2, p.Instruments().At(4, 2))
	assert.Equal(t, "m3", p.MarketID(5))

	sigma, err := ds.Sigma()
	require.NoError(t, err)
	require.NotNil(t, sigma)
	assert.Equal(t, 0.5, sigma.At(0, 0))
}

func TestReadPlainLogitUsesX1AsInstruments(t *testing.T) {
	csv := "market,share,x\na,0.3,1\na,0.24,2\nb,0.42,0.5\n"
	m := types.ProblemManifest{Data: "-", MarketID: "market", Share: "share", Intercept: true, Linear: []string{"x"}}

	ds, err := Read(strings.NewReader(csv), m)
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Products.NonlinearDim())
	assert.Nil(t, ds.Products.X2())
	assert.False(t, ds.Products.HasExcludedInstruments())
	assert.Equal(t, ds.LinearNames, ds.InstrumentNames)

	sigma, err := ds.Sigma()
	require.NoError(t, err)
	assert.Nil(t, sigma)
}

func TestReadErrors(t *testing.T) {
	base := types.ProblemManifest{Data: "-", MarketID: "market", Share: "share", Intercept: true, Linear: []string{"x"}}
	tests := []struct {
		name    string
		csv     string
		mutate  func(*types.ProblemManifest)
		wantMsg string
		kind    error
	}{
		{name: "empty", csv: "", wantMsg: "empty product data"},
		{name: "header only", csv: "market,share,x\n", wantMsg: "no product rows"},
		{name: "missing column", csv: "market,share\na,0.3\n", wantMsg: `column "x" not found`},
		{name: "bad number", csv: "market,share,x\na,0.3,abc\n", wantMsg: `line 2 column "x"`},
		{name: "ragged row", csv: "market,share,x\na,0.3\n", wantMsg: "reading line 2"},
		{name: "no linear columns", csv: "market,share,x\na,0.3,1\n", mutate: func(m *types.ProblemManifest) {
			m.Intercept = false
			m.Linear = nil
		}, wantMsg: "no linear characteristics"},
		{name: "share of one", csv: "market,share,x\na,1,1\n", kind: blperr.ErrNonPositiveShare},
		{name: "non-contiguous", csv: "market,share,x\na,0.1,1\nb,0.1,1\na,0.1,1\n", kind: blperr.ErrNonContiguousMarket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			if tt.mutate != nil {
				tt.mutate(&m)
			}
			_, err := Read(strings.NewReader(tt.csv), m)
			require.Error(t, err)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
			}
		})
	}
}

func TestLoadManifestValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "problem.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data: products.csv\nmarket_id: m\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, blperr.ErrInvalidOptions)
	assert.Contains(t, err.Error(), "share")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseSigma(t *testing.T) {
	s, err := ParseSigma("0.5", 1)
	require.NoError(t, err)
	assert.Equal(t, 0.5, s.At(0, 0))

	s, err = ParseSigma("0.5, 1.2", 2)
	require.NoError(t, err)
	assert.Equal(t, 0.5, s.At(0, 0))
	assert.Equal(t, 0.0, s.At(0, 1))
	assert.Equal(t, 1.2, s.At(1, 1))

	s, err = ParseSigma("0.5,0.1;0,1.2", 2)
	require.NoError(t, err)
	assert.Equal(t, 0.1, s.At(0, 1))

	s, err = ParseSigma("", 0)
	require.NoError(t, err)
	assert.Nil(t, s)

	tests := []struct {
		name string
		text string
		dim  int
	}{
		{name: "sigma for plain logit", text: "1", dim: 0},
		{name: "missing", text: "", dim: 1},
		{name: "too few rows", text: "1,0", dim: 3},
		{name: "ragged", text: "1,0;1", dim: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSigma(tt.text, tt.dim)
			assert.ErrorIs(t, err, blperr.ErrInvalidParameterShape)
		})
	}

	_, err = ParseSigma("x", 1)
	assert.Error(t, err)
}
