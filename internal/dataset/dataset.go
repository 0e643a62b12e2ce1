// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dataset loads product data for estimation from a YAML problem
// manifest and the CSV file it names.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/blp-engine/internal/blperr"
	"github.com/pdiddy/blp-engine/internal/config"
	"github.com/pdiddy/blp-engine/internal/market"
	"github.com/pdiddy/blp-engine/pkg/types"
)

// interceptColumn names the constant column added when Intercept is set.
const interceptColumn = "1"

// Dataset is a manifest together with the product data it describes.
type Dataset struct {
	// Path is the manifest file, empty when built from a reader.
	Path     string
	Manifest types.ProblemManifest
	Products *market.ProductData

	// Column names in matrix order, including the intercept as "1".
	LinearNames     []string
	NonlinearNames  []string
	InstrumentNames []string
}

// Sigma returns the manifest's default sigma, or nil when the manifest
// has none or the problem has no nonlinear characteristics.
func (d *Dataset) Sigma() (*mat.Dense, error) {
	if len(d.Manifest.Sigma) == 0 || len(d.NonlinearNames) == 0 {
		return nil, nil
	}
	return SigmaFromRows(d.Manifest.Sigma, len(d.NonlinearNames))
}

// LoadManifest reads and validates a problem manifest.
func LoadManifest(path string) (types.ProblemManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ProblemManifest{}, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m types.ProblemManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return types.ProblemManifest{}, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if err := config.ValidateManifest(m); err != nil {
		return types.ProblemManifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Load reads the manifest at path and the CSV it names. A relative data
// path is resolved against the manifest's directory.
func Load(path string) (*Dataset, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}

	dataPath := m.Data
	if !filepath.IsAbs(dataPath) {
		dataPath = filepath.Join(filepath.Dir(path), dataPath)
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("opening product data: %w", err)
	}
	defer f.Close()

	ds, err := Read(f, m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dataPath, err)
	}
	ds.Path = path
	return ds, nil
}

// Read builds a Dataset from CSV with a header row.
func Read(r io.Reader, m types.ProblemManifest) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty product data")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	lookup := func(names []string) ([]int, error) {
		cols := make([]int, len(names))
		for i, name := range names {
			c, ok := index[name]
			if !ok {
				return nil, fmt.Errorf("column %q not found", name)
			}
			cols[i] = c
		}
		return cols, nil
	}

	idCol, err := lookup([]string{m.MarketID})
	if err != nil {
		return nil, err
	}
	shareCol, err := lookup([]string{m.Share})
	if err != nil {
		return nil, err
	}
	linearCols, err := lookup(m.Linear)
	if err != nil {
		return nil, err
	}
	nonlinearCols, err := lookup(m.Nonlinear)
	if err != nil {
		return nil, err
	}
	exogenousCols, err := lookup(m.Exogenous)
	if err != nil {
		return nil, err
	}
	instrumentCols, err := lookup(m.Instruments)
	if err != nil {
		return nil, err
	}
	zCols := append(append([]int(nil), exogenousCols...), instrumentCols...)
	hasZ := len(zCols) > 0

	ds := &Dataset{
		Manifest:       m,
		LinearNames:    withIntercept(m.Intercept, m.Linear),
		NonlinearNames: append([]string(nil), m.Nonlinear...),
	}
	if hasZ {
		ds.InstrumentNames = withIntercept(m.Intercept, append(append([]string(nil), m.Exogenous...), m.Instruments...))
	} else {
		ds.InstrumentNames = ds.LinearNames
	}
	if len(ds.LinearNames) == 0 {
		return nil, fmt.Errorf("no linear characteristics: set intercept or list linear columns")
	}

	var (
		ids    []string
		shares []float64
		x1     []float64
		x2     []float64
		z      []float64
	)
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}
		ids = append(ids, strings.TrimSpace(rec[idCol[0]]))

		s, err := parseCell(rec, shareCol[0], header, line)
		if err != nil {
			return nil, err
		}
		shares = append(shares, s)

		if x1, err = appendRow(x1, rec, linearCols, m.Intercept, header, line); err != nil {
			return nil, err
		}
		if x2, err = appendRow(x2, rec, nonlinearCols, false, header, line); err != nil {
			return nil, err
		}
		if hasZ {
			if z, err = appendRow(z, rec, zCols, m.Intercept, header, line); err != nil {
				return nil, err
			}
		}
	}
	n := len(shares)
	if n == 0 {
		return nil, fmt.Errorf("no product rows")
	}

	b := market.NewBuilder(ids, shares).
		X1(mat.NewDense(n, len(ds.LinearNames), x1))
	if len(nonlinearCols) > 0 {
		b = b.X2(mat.NewDense(n, len(nonlinearCols), x2))
	}
	if hasZ {
		b = b.Instruments(mat.NewDense(n, len(ds.InstrumentNames), z))
	}
	products, err := b.Build()
	if err != nil {
		return nil, err
	}
	ds.Products = products
	return ds, nil
}

func withIntercept(intercept bool, names []string) []string {
	out := make([]string, 0, len(names)+1)
	if intercept {
		out = append(out, interceptColumn)
	}
	return append(out, names...)
}

func appendRow(dst []float64, rec []string, cols []int, intercept bool, header []string, line int) ([]float64, error) {
	if intercept {
		dst = append(dst, 1)
	}
	for _, c := range cols {
		v, err := parseCell(rec, c, header, line)
		if err != nil {
			return nil, err
		}
		dst = append(dst, v)
	}
	return dst, nil
}

func parseCell(rec []string, col int, header []string, line int) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
	if err != nil {
		return 0, fmt.Errorf("line %d column %q: %w", line, header[col], err)
	}
	return v, nil
}

// SigmaFromRows builds a dim×dim sigma from nested rows.
func SigmaFromRows(rows [][]float64, dim int) (*mat.Dense, error) {
	const op = "dataset.SigmaFromRows"
	if len(rows) != dim {
		return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma rows", dim, len(rows))
	}
	data := make([]float64, 0, dim*dim)
	for i, row := range rows {
		if len(row) != dim {
			return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma columns", dim, len(row)).AtIndex(i)
		}
		data = append(data, row...)
	}
	return mat.NewDense(dim, dim, data), nil
}

// ParseSigma parses sigma from command-line text. Rows are separated by
// ';' and entries by ','. A single row of dim values is the diagonal.
//
//	"0.5"          1×1
//	"0.5,1.2"      diag(0.5, 1.2)
//	"0.5,0;0,1.2"  full 2×2
func ParseSigma(text string, dim int) (*mat.Dense, error) {
	const op = "dataset.ParseSigma"

	text = strings.TrimSpace(text)
	if dim == 0 {
		if text != "" {
			return nil, blperr.New(blperr.ErrInvalidParameterShape, op, "sigma given for a problem without nonlinear characteristics")
		}
		return nil, nil
	}
	if text == "" {
		return nil, blperr.Shape(blperr.ErrInvalidParameterShape, op, "sigma rows", dim, 0)
	}

	var rows [][]float64
	for _, part := range strings.Split(text, ";") {
		var row []float64
		for _, cell := range strings.Split(part, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: parsing %q: %w", op, cell, err)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}

	if len(rows) == 1 && len(rows[0]) == dim && dim > 1 {
		diag := mat.NewDense(dim, dim, nil)
		for i, v := range rows[0] {
			diag.Set(i, i, v)
		}
		return diag, nil
	}
	return SigmaFromRows(rows, dim)
}
