// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package demand

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/blp-engine/internal/blperr"
	"github.com/pdiddy/blp-engine/internal/integration"
	"github.com/pdiddy/blp-engine/internal/market"
)

// --- test helpers ---

type fixture struct {
	data  *market.ProductData
	draws *integration.Draws
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	data, err := market.NewBuilder(
		[]string{"a", "a", "b", "c", "c", "c"},
		[]float64{0.30, 0.24, 0.42, 0.10, 0.15, 0.20},
	).
		X1(mat.NewDense(6, 2, []float64{1, 1.0, 1, 2.0, 1, 1.5, 1, 0.5, 1, 2.5, 1, 1.2})).
		X2(mat.NewDense(6, 1, []float64{1.0, 2.0, 1.5, 0.5, 2.5, 1.2})).
		Build()
	require.NoError(t, err)

	draws, err := integration.StandardNormal(200, 1, 7)
	require.NoError(t, err)
	return fixture{data: data, draws: draws}
}

func (f fixture) solve(t *testing.T, sigma float64, opts ContractionOptions) (*Solution, error) {
	t.Helper()
	return SolveDelta(f.data.Shares(), mat.NewDense(1, 1, []float64{sigma}), f.data.X2(), f.draws, f.data.Partition(), opts)
}

// --- share prediction ---

func TestPredictSharesPlusOutsideSumToOne(t *testing.T) {
	f := newFixture(t)
	delta := []float64{-1, 0.5, 2, -3, 0, 1}
	sigma := mat.NewDense(1, 1, []float64{1.7})

	predicted, err := PredictShares(delta, sigma, f.data.X2(), f.draws, f.data.Partition())
	require.NoError(t, err)
	require.Len(t, predicted, len(delta))

	for _, seg := range f.data.Partition().Segments() {
		inside := 0.0
		for j := seg.Start; j < seg.End; j++ {
			assert.Greater(t, predicted[j], 0.0)
			assert.Less(t, predicted[j], 1.0)
			inside += predicted[j]
		}
		assert.Less(t, inside, 1.0, "market %s leaves a positive outside share", seg.ID)
	}
}

func TestPredictSharesPlainLogit(t *testing.T) {
	data, err := market.NewBuilder([]string{"m", "m"}, []float64{0.2, 0.3}).
		X1(mat.NewDense(2, 1, []float64{1, 1})).
		Build()
	require.NoError(t, err)

	delta := []float64{math.Log(0.2 / 0.5), math.Log(0.3 / 0.5)}
	predicted, err := PredictShares(delta, nil, nil, nil, data.Partition())
	require.NoError(t, err)
	assert.InDelta(t, 0.2, predicted[0], 1e-14)
	assert.InDelta(t, 0.3, predicted[1], 1e-14)
}

func TestPredictSharesIsStableForLargeUtilities(t *testing.T) {
	data, err := market.NewBuilder([]string{"m", "m"}, []float64{0.2, 0.3}).
		X1(mat.NewDense(2, 1, []float64{1, 1})).
		Build()
	require.NoError(t, err)

	predicted, err := PredictShares([]float64{800, 799}, nil, nil, nil, data.Partition())
	require.NoError(t, err)
	for _, p := range predicted {
		assert.False(t, math.IsNaN(p) || math.IsInf(p, 0))
	}
	assert.InDelta(t, 1/(1+math.Exp(-1)), predicted[0], 1e-12)
}

func TestPredictSharesRejectsDegenerateShares(t *testing.T) {
	data, err := market.NewBuilder([]string{"m", "m"}, []float64{0.2, 0.3}).
		X1(mat.NewDense(2, 1, []float64{1, 1})).
		Build()
	require.NoError(t, err)

	predicted, err := PredictShares([]float64{-1000, 800}, nil, nil, nil, data.Partition())
	assert.Nil(t, predicted)
	require.ErrorIs(t, err, blperr.ErrShareUnderflow)

	var detail *blperr.Error
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, "m", detail.Market)
}

func TestPredictSharesRejectsOverflowingTaste(t *testing.T) {
	f := newFixture(t)
	delta := make([]float64, f.data.Len())

	predicted, err := PredictShares(delta, mat.NewDense(1, 1, []float64{1e308}), f.data.X2(), f.draws, f.data.Partition())
	assert.Nil(t, predicted)
	assert.ErrorIs(t, err, blperr.ErrNonFinite)

	_, err = f.solve(t, 1e308, DefaultContractionOptions())
	assert.ErrorIs(t, err, blperr.ErrNonFinite)
}

func TestPredictSharesWithWorkerBound(t *testing.T) {
	f := newFixture(t)
	delta := []float64{-1, 0.5, 2, -3, 0, 1}
	sigma := mat.NewDense(1, 1, []float64{0.8})

	opts := DefaultContractionOptions()
	opts.Workers = 1
	serial, err := PredictSharesWith(delta, sigma, f.data.X2(), f.draws, f.data.Partition(), opts)
	require.NoError(t, err)
	parallel, err := PredictShares(delta, sigma, f.data.X2(), f.draws, f.data.Partition())
	require.NoError(t, err)
	assert.Equal(t, parallel, serial)
}

func TestPredictSharesIsDeterministic(t *testing.T) {
	f := newFixture(t)
	delta := []float64{-1, 0.5, 2, -3, 0, 1}
	sigma := mat.NewDense(1, 1, []float64{0.8})

	a, err := PredictShares(delta, sigma, f.data.X2(), f.draws, f.data.Partition())
	require.NoError(t, err)
	b, err := PredictShares(delta, sigma, f.data.X2(), f.draws, f.data.Partition())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPredictSharesRejects(t *testing.T) {
	f := newFixture(t)
	delta := make([]float64, f.data.Len())

	tests := []struct {
		name    string
		delta   []float64
		sigma   mat.Matrix
		draws   *integration.Draws
		wantErr error
	}{
		{"delta length", delta[:3], mat.NewDense(1, 1, []float64{1}), f.draws, blperr.ErrShapeMismatch},
		{"sigma shape", delta, mat.NewDense(2, 2, nil), f.draws, blperr.ErrInvalidParameterShape},
		{"sigma missing", delta, nil, f.draws, blperr.ErrInvalidParameterShape},
		{"draws missing", delta, mat.NewDense(1, 1, []float64{1}), nil, blperr.ErrMissingComponent},
		{"NaN delta", []float64{0, 0, math.NaN(), 0, 0, 0}, mat.NewDense(1, 1, []float64{1}), f.draws, blperr.ErrNonFinite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PredictShares(tt.delta, tt.sigma, f.data.X2(), tt.draws, f.data.Partition())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPredictSharesRejectsDrawDimension(t *testing.T) {
	f := newFixture(t)
	draws, err := integration.StandardNormal(10, 2, 1)
	require.NoError(t, err)

	_, err = PredictShares(make([]float64, f.data.Len()), mat.NewDense(1, 1, []float64{1}), f.data.X2(), draws, f.data.Partition())
	assert.ErrorIs(t, err, blperr.ErrShapeMismatch)
}

// --- contraction ---

func TestContractionWithZeroSigmaMatchesLogit(t *testing.T) {
	f := newFixture(t)
	sol, err := f.solve(t, 0, DefaultContractionOptions())
	require.NoError(t, err)
	require.True(t, sol.Converged())

	shares := f.data.Shares()
	for j, d := range sol.Delta {
		want := math.Log(shares[j]) - math.Log(f.data.OutsideShare(j))
		assert.InDelta(t, want, d, 1e-12, "row %d", j)
	}
	for _, s := range sol.Summaries {
		assert.Equal(t, 1, s.Iterations, "market %s starts at the fixed point", s.Market)
	}
}

func TestContractionPlainLogitWithoutDraws(t *testing.T) {
	data, err := market.NewBuilder([]string{"0", "0", "1"}, []float64{0.3, 0.2, 0.4}).
		X1(mat.NewDense(3, 2, []float64{1, 10, 1, 15, 1, 12})).
		Build()
	require.NoError(t, err)

	sol, err := SolveDelta(data.Shares(), nil, nil, nil, data.Partition(), DefaultContractionOptions())
	require.NoError(t, err)

	want := []float64{-0.5108256237659907, -0.916290731874155, -0.4054651081081644}
	assert.InDeltaSlice(t, want, sol.Delta, 1e-12)
}

func TestContractionReproducesObservedShares(t *testing.T) {
	f := newFixture(t)
	sigma := mat.NewDense(1, 1, []float64{1.5})

	sol, err := SolveDelta(f.data.Shares(), sigma, f.data.X2(), f.draws, f.data.Partition(), DefaultContractionOptions())
	require.NoError(t, err)
	assert.True(t, sol.Converged())
	assert.Less(t, sol.MaxGap(), DefaultTolerance)

	predicted, err := PredictShares(sol.Delta, sigma, f.data.X2(), f.draws, f.data.Partition())
	require.NoError(t, err)
	assert.InDeltaSlice(t, f.data.Shares(), predicted, 1e-10)
}

func TestContractionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sigma := mat.NewDense(1, 1, []float64{1.2})
	opts := DefaultContractionOptions()

	first, err := SolveDelta(f.data.Shares(), sigma, f.data.X2(), f.draws, f.data.Partition(), opts)
	require.NoError(t, err)

	second, err := SolveDeltaFrom(first.Delta, f.data.Shares(), sigma, f.data.X2(), f.draws, f.data.Partition(), opts)
	require.NoError(t, err)

	for j := range first.Delta {
		assert.Less(t, math.Abs(second.Delta[j]-first.Delta[j]), opts.Tolerance)
	}
	for _, s := range second.Summaries {
		assert.Equal(t, 1, s.Iterations)
	}
}

func TestContractionReportsNonConvergence(t *testing.T) {
	f := newFixture(t)
	opts := DefaultContractionOptions()
	opts.MaxIterations = 1
	opts.Tolerance = 1e-15

	sol, err := f.solve(t, 2.0, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, blperr.ErrContractionDidNotConverge)

	require.NotNil(t, sol, "partial solution is returned with the error")
	assert.False(t, sol.Converged())
	assert.NotEmpty(t, sol.Unconverged())
	for _, s := range sol.Summaries {
		assert.Equal(t, 1, s.Iterations)
	}

	var e *blperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 1, e.Iterations)
	assert.Greater(t, e.Gap, opts.Tolerance)
}

func TestContractionDampingConverges(t *testing.T) {
	f := newFixture(t)

	undamped, err := f.solve(t, 1.5, DefaultContractionOptions())
	require.NoError(t, err)

	opts := DefaultContractionOptions()
	opts.Damping = 0.5
	damped, err := f.solve(t, 1.5, opts)
	require.NoError(t, err)

	assert.InDeltaSlice(t, undamped.Delta, damped.Delta, 1e-9)
	assert.Greater(t, damped.TotalIterations(), undamped.TotalIterations())
}

func TestContractionRecordsShareFloor(t *testing.T) {
	data, err := market.NewBuilder([]string{"m", "m"}, []float64{0.2, 0.3}).
		X1(mat.NewDense(2, 1, []float64{1, 1})).
		Build()
	require.NoError(t, err)

	// exp(-1000) underflows to zero, so the first predicted share is floored.
	sol, err := SolveDeltaFrom([]float64{-1000, 0}, data.Shares(), nil, nil, nil, data.Partition(), DefaultContractionOptions())
	require.NoError(t, err)
	assert.Positive(t, sol.FloorHits())
	assert.True(t, sol.Converged())
	assert.InDelta(t, math.Log(0.2/0.5), sol.Delta[0], 1e-9)
}

func TestContractionWorkerCountDoesNotChangeResult(t *testing.T) {
	f := newFixture(t)

	sequential := DefaultContractionOptions()
	sequential.Workers = 1
	parallel := DefaultContractionOptions()
	parallel.Workers = 4

	a, err := f.solve(t, 0.9, sequential)
	require.NoError(t, err)
	b, err := f.solve(t, 0.9, parallel)
	require.NoError(t, err)
	assert.Equal(t, a.Delta, b.Delta)
	assert.Equal(t, a.Summaries, b.Summaries)
}

func TestContractionOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ContractionOptions)
	}{
		{"zero tolerance", func(o *ContractionOptions) { o.Tolerance = 0 }},
		{"zero iterations", func(o *ContractionOptions) { o.MaxIterations = 0 }},
		{"zero damping", func(o *ContractionOptions) { o.Damping = 0 }},
		{"damping above one", func(o *ContractionOptions) { o.Damping = 1.5 }},
		{"zero floor", func(o *ContractionOptions) { o.MinimumShare = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultContractionOptions()
			tt.mutate(&opts)
			assert.ErrorIs(t, opts.Validate(), blperr.ErrInvalidOptions)
		})
	}
	assert.NoError(t, DefaultContractionOptions().Validate())
}

func TestContractionRejectsBadShares(t *testing.T) {
	f := newFixture(t)
	shares := f.data.Shares()
	shares[2] = 0

	_, err := SolveDelta(shares, mat.NewDense(1, 1, []float64{1}), f.data.X2(), f.draws, f.data.Partition(), DefaultContractionOptions())
	assert.ErrorIs(t, err, blperr.ErrNonPositiveShare)
}

func TestSummaryString(t *testing.T) {
	s := ContractionSummary{Market: "m1", Iterations: 12, FinalGap: 1e-13, Converged: true}
	assert.Equal(t, "m1: converged after 12 iterations (gap 1e-13, floor hits 0)", s.String())
}
