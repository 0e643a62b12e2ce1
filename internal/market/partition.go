// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package market

import (
	"github.com/pdiddy/blp-engine/internal/blperr"
)

// Segment is one market: a contiguous half-open row range [Start, End) in
// the product arrays together with the observed outside share.
type Segment struct {
	// ID is the market identifier carried from the input data.
	ID string

	// Start is the first row of the market (inclusive).
	Start int

	// End is one past the last row of the market.
	End int

	// OutsideShare is 1 - sum of the market's product shares.
	OutsideShare float64
}

// Len returns the number of products in the market.
func (s Segment) Len() int {
	return s.End - s.Start
}

// Partition splits the product rows into markets. It covers every row
// exactly once, in the original order.
type Partition struct {
	segments        []Segment
	productToMarket []int
}

// NewPartition scans market ids for contiguous blocks and computes each
// market's outside share. A market id that reappears after another market
// began is rejected as non-contiguous.
func NewPartition(marketIDs []string, shares []float64) (Partition, error) {
	const op = "market.NewPartition"

	n := len(marketIDs)
	if len(shares) != n {
		return Partition{}, blperr.Shape(blperr.ErrShapeMismatch, op, "shares length", n, len(shares))
	}
	if n == 0 {
		return Partition{}, blperr.Shape(blperr.ErrShapeMismatch, op, "market_ids length", 1, 0)
	}

	var (
		segments        []Segment
		productToMarket = make([]int, n)
		seen            = make(map[string]struct{})
	)

	for start := 0; start < n; {
		id := marketIDs[start]
		if _, dup := seen[id]; dup {
			return Partition{}, blperr.New(blperr.ErrNonContiguousMarket, op, "market_ids").InMarket(id).AtIndex(start)
		}
		seen[id] = struct{}{}

		end := start + 1
		for end < n && marketIDs[end] == id {
			end++
		}

		total := 0.0
		for i := start; i < end; i++ {
			productToMarket[i] = len(segments)
			total += shares[i]
		}
		outside := 1 - total
		if !(outside > 0) {
			return Partition{}, blperr.New(blperr.ErrNonPositiveShare, op, "outside share").InMarket(id).WithValue(outside)
		}

		segments = append(segments, Segment{ID: id, Start: start, End: end, OutsideShare: outside})
		start = end
	}

	return Partition{segments: segments, productToMarket: productToMarket}, nil
}

// Len returns the number of markets.
func (p Partition) Len() int {
	return len(p.segments)
}

// Rows returns the number of product rows covered.
func (p Partition) Rows() int {
	return len(p.productToMarket)
}

// Segment returns market m.
func (p Partition) Segment(m int) Segment {
	return p.segments[m]
}

// Segments returns a copy of all market segments in row order.
func (p Partition) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// MarketOf returns the index of the market containing the given row.
func (p Partition) MarketOf(product int) int {
	return p.productToMarket[product]
}
