package exchange

import (
	"errors"
	"fmt"
	"sort"

	"github.com/xtrntr/marketplace/internal/book"
	"github.com/xtrntr/marketplace/internal/gas"
	"github.com/xtrntr/marketplace/internal/models"
)

var (
	// ErrNotCleared is returned when verifying an interval without a result
	ErrNotCleared = errors.New("interval not cleared")
	// ErrResultMismatch is returned when a stored result differs from a recomputation
	ErrResultMismatch = errors.New("stored result does not match recomputed clearing")
)

// Clear runs a uniform-price double auction over one interval's orders.
//
// Bids are ranked by price descending and asks by price ascending, earlier
// submissions first at equal prices. Units are matched while the best
// remaining bid is at least the best remaining ask. Every fill settles at a
// single price: the ask price of the marginal matched unit. With nothing
// matched the price is zero.
//
// The summed amount of each side must fit in a uint64; the marketplace keeps
// both at or below math.MaxInt64.
func Clear(intervalID int64, bids, asks []models.Order) models.ClearingResult {
	bids = sortBids(bids)
	asks = sortAsks(asks)

	result := models.ClearingResult{IntervalID: intervalID, Fills: []models.Fill{}}

	var i, j int
	var bidLeft, askLeft uint64
	if len(bids) > 0 {
		bidLeft = bids[0].Amount
	}
	if len(asks) > 0 {
		askLeft = asks[0].Amount
	}

	for i < len(bids) && j < len(asks) {
		if bids[i].Price < asks[j].Price {
			break
		}

		// Calculate matched quantity for this pair
		qty := min(bidLeft, askLeft)
		result.Fills = append(result.Fills, models.Fill{
			BidID:    bids[i].ID,
			AskID:    asks[j].ID,
			Buyer:    bids[i].Sender,
			Seller:   asks[j].Sender,
			Quantity: qty,
		})
		result.ClearedQuantity += qty
		result.ClearingPrice = asks[j].Price

		bidLeft -= qty
		askLeft -= qty
		if bidLeft == 0 {
			i++
			if i < len(bids) {
				bidLeft = bids[i].Amount
			}
		}
		if askLeft == 0 {
			j++
			if j < len(asks) {
				askLeft = asks[j].Amount
			}
		}
	}

	return result
}

// sortBids returns bids ordered highest price first, then earliest submission
func sortBids(orders []models.Order) []models.Order {
	sorted := live(orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Price == sorted[j].Price {
			return sorted[i].Seq < sorted[j].Seq
		}
		return sorted[i].Price > sorted[j].Price
	})
	return sorted
}

// sortAsks returns asks ordered lowest price first, then earliest submission
func sortAsks(orders []models.Order) []models.Order {
	sorted := live(orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Price == sorted[j].Price {
			return sorted[i].Seq < sorted[j].Seq
		}
		return sorted[i].Price < sorted[j].Price
	})
	return sorted
}

// live copies the orders that carry a quantity
func live(orders []models.Order) []models.Order {
	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if o.Amount > 0 {
			out = append(out, o)
		}
	}
	return out
}

// Cost is the gas charged for ranking and walking n orders
func Cost(n int) uint64 {
	return uint64(n) * (gas.GasSortPerOrder + gas.GasMatchStep)
}

// Verify recomputes the clearing of a cleared book and compares it with the
// stored result
func Verify(b *book.Book) error {
	if b.Result == nil {
		return ErrNotCleared
	}
	want := Clear(b.IntervalID, b.Bids(), b.Asks())
	got := b.Result

	if got.ClearingPrice != want.ClearingPrice || got.ClearedQuantity != want.ClearedQuantity {
		return fmt.Errorf("interval %d: stored %d@%d, recomputed %d@%d: %w",
			b.IntervalID, got.ClearedQuantity, got.ClearingPrice,
			want.ClearedQuantity, want.ClearingPrice, ErrResultMismatch)
	}
	if len(got.Fills) != len(want.Fills) {
		return fmt.Errorf("interval %d: stored %d fills, recomputed %d: %w",
			b.IntervalID, len(got.Fills), len(want.Fills), ErrResultMismatch)
	}
	for k := range want.Fills {
		if got.Fills[k] != want.Fills[k] {
			return fmt.Errorf("interval %d: fill %d differs: %w", b.IntervalID, k, ErrResultMismatch)
		}
	}
	return nil
}
