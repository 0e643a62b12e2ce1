// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package blperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKind(t *testing.T) {
	err := Shape(ErrShapeMismatch, "market.Build", "x1 rows", 3, 2)
	wrapped := fmt.Errorf("loading dataset: %w", err)

	assert.ErrorIs(t, wrapped, ErrShapeMismatch)
	assert.NotErrorIs(t, wrapped, ErrNonPositiveShare)

	var e *Error
	require.ErrorAs(t, wrapped, &e)
	assert.Equal(t, 3, e.Expected)
	assert.Equal(t, 2, e.Found)
	assert.Equal(t, ErrShapeMismatch, KindOf(wrapped))
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "shape",
			err:  Shape(ErrShapeMismatch, "market.Build", "x1 rows", 3, 2),
			want: "market.Build: shape mismatch in x1 rows: expected 3, found 2",
		},
		{
			name: "share at index",
			err:  New(ErrNonPositiveShare, "market.Build", "shares").AtIndex(1).WithValue(0),
			want: "market.Build: non-positive share in shares at index 1 (value 0)",
		},
		{
			name: "market",
			err:  New(ErrNonContiguousMarket, "market.Build", "market_ids").InMarket("a").AtIndex(2),
			want: `market.Build: non-contiguous market in market_ids (market "a") at index 2`,
		},
		{
			name: "progress",
			err:  New(ErrContractionDidNotConverge, "demand.SolveDelta", "").InMarket("m1").WithProgress(5, 0.25),
			want: `demand.SolveDelta: contraction did not converge (market "m1") after 5 iterations, gap 0.25`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOfPlainError(t *testing.T) {
	assert.Nil(t, KindOf(errors.New("boom")))
	assert.Nil(t, KindOf(nil))
}
