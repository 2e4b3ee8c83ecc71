// Package book implements the matching algorithm as a pure function over a
// taker order and a snapshot of resting makers. It never touches storage:
// callers feed it live order-book state and apply the returned fills and
// maker updates inside their own transaction, which is what makes the
// algorithm unit-testable in isolation.
package book

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matchbook/exchange-engine/internal/model"
	"github.com/matchbook/exchange-engine/internal/numeric"
)

// Taker is the incoming order from the matcher's point of view.
type Taker struct {
	OrderID   string
	UserID    string
	Side      model.Side
	Type      model.OrderType
	Price     decimal.Decimal // limit price; ignored for market orders
	Remaining decimal.Decimal
}

// Fill is one match between the taker and a maker, always at the maker's
// price.
type Fill struct {
	MakerOrderID string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
}

// MakerState is the post-match state of one touched maker.
type MakerState struct {
	Remaining       decimal.Decimal // visible remaining quantity
	HiddenRemaining decimal.Decimal
	Refreshed       bool // iceberg slice replenished; the order loses time priority
}

// Result of one Match call.
type Result struct {
	Fills          []Fill
	TakerRemaining decimal.Decimal
	Makers         map[string]MakerState
}

// entry is the mutable working copy of a maker during a match pass.
type entry struct {
	order     *model.Order
	remaining decimal.Decimal
	hidden    decimal.Decimal
	createdAt time.Time
	refreshed bool
}

// Crosses reports whether a maker at makerPrice satisfies the taker's limit.
// Market takers cross unconditionally.
func Crosses(t Taker, makerPrice decimal.Decimal) bool {
	if t.Type == model.OrderTypeMarket {
		return true
	}
	if t.Side == model.SideBuy {
		return makerPrice.LessThanOrEqual(t.Price)
	}
	return makerPrice.GreaterThanOrEqual(t.Price)
}

// Match crosses the taker against the given makers under price-time
// priority and returns the fills plus remaining quantities. maxFills bounds
// the number of fills produced in this call; zero or negative means
// unbounded. Inputs are not mutated.
func Match(t Taker, makers []*model.Order, maxFills int) Result {
	res := Result{
		TakerRemaining: t.Remaining,
		Makers:         make(map[string]MakerState),
	}

	entries := eligible(t, makers)
	sortEntries(t.Side, entries)

	for i := 0; i < len(entries); i++ {
		if res.TakerRemaining.IsZero() {
			break
		}
		if maxFills > 0 && len(res.Fills) >= maxFills {
			break
		}

		e := entries[i]
		if !Crosses(t, e.order.Price) {
			// Entries are price-sorted, so nothing further crosses either.
			break
		}

		if e.remaining.IsZero() {
			// A maker can arrive holding only hidden quantity. Replenish
			// its slice first so no zero-quantity fill is produced. A zero
			// display quantity cannot replenish; skip it.
			if !e.order.IcebergDisplayQuantity.IsPositive() {
				continue
			}
			refresh(e)
			demote(entries, i)
			i--
			continue
		}

		qty := numeric.Min(res.TakerRemaining, e.remaining)
		res.Fills = append(res.Fills, Fill{
			MakerOrderID: e.order.ID,
			Price:        e.order.Price,
			Quantity:     qty,
		})
		res.TakerRemaining = numeric.SubFloor(res.TakerRemaining, qty)
		e.remaining = numeric.SubFloor(e.remaining, qty)

		if e.remaining.IsZero() && e.hidden.IsPositive() {
			refresh(e)
			// Demotion: the refreshed slice moves behind every other order
			// at its price level, re-entering consideration after them.
			demote(entries, i)
			i--
			continue
		}

		res.Makers[e.order.ID] = MakerState{
			Remaining:       e.remaining,
			HiddenRemaining: e.hidden,
			Refreshed:       e.refreshed,
		}
		if e.remaining.IsPositive() {
			// Taker exhausted against a partially filled maker.
			break
		}
	}

	// Record touched-but-demoted entries that still hold quantity.
	for _, e := range entries {
		if e.refreshed {
			res.Makers[e.order.ID] = MakerState{
				Remaining:       e.remaining,
				HiddenRemaining: e.hidden,
				Refreshed:       true,
			}
		}
	}

	return res
}

// refresh replenishes an iceberg entry's visible slice from its hidden
// reserve and resets its time priority.
func refresh(e *entry) {
	display := numeric.Min(e.order.IcebergDisplayQuantity, e.hidden)
	e.remaining = display
	e.hidden = numeric.SubFloor(e.hidden, display)
	e.createdAt = time.Now().UTC()
	e.refreshed = true
}

// demote moves entries[i] behind the last entry sharing its price level.
// Same-price entries are contiguous after sorting.
func demote(entries []*entry, i int) {
	e := entries[i]
	j := i
	for j+1 < len(entries) && entries[j+1].order.Price.Equal(e.order.Price) {
		entries[j] = entries[j+1]
		j++
	}
	entries[j] = e
}

// eligible filters makers to the opposite side with quantity left and a
// non-terminal status, copying them into working entries.
func eligible(t Taker, makers []*model.Order) []*entry {
	var out []*entry
	for _, m := range makers {
		if m.Side != t.Side.Opposite() {
			continue
		}
		if m.Status.Terminal() {
			continue
		}
		if !m.RemainingQuantity.IsPositive() && !m.IcebergHiddenRemaining.IsPositive() {
			continue
		}
		out = append(out, &entry{
			order:     m,
			remaining: m.RemainingQuantity,
			hidden:    m.IcebergHiddenRemaining,
			createdAt: m.CreatedAt,
		})
	}
	return out
}

// sortEntries orders makers by price priority for the given taker side,
// breaking ties by created_at then id. Buy takers consume asks from the
// lowest price up; sell takers consume bids from the highest price down.
func sortEntries(takerSide model.Side, entries []*entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.order.Price.Equal(b.order.Price) {
			if takerSide == model.SideBuy {
				return a.order.Price.LessThan(b.order.Price)
			}
			return a.order.Price.GreaterThan(b.order.Price)
		}
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		return a.order.ID < b.order.ID
	})
}

// WouldCross reports whether any maker would fill the taker immediately.
// Used for the post-only pre-trade check.
func WouldCross(t Taker, makers []*model.Order) bool {
	for _, e := range eligible(t, makers) {
		if Crosses(t, e.order.Price) {
			return true
		}
	}
	return false
}

// ProbeCost walks the makers a market buy would consume and returns the
// conservative (ceiling-rounded) quote cost of filling qty, plus whether
// the book holds enough visible and hidden quantity to fill it fully.
func ProbeCost(t Taker, makers []*model.Order) (cost decimal.Decimal, fullyFillable bool) {
	entries := eligible(t, makers)
	sortEntries(t.Side, entries)

	remaining := t.Remaining
	for _, e := range entries {
		if remaining.IsZero() {
			break
		}
		if !Crosses(t, e.order.Price) {
			break
		}
		avail := e.remaining.Add(e.hidden)
		qty := numeric.Min(remaining, avail)
		cost = cost.Add(numeric.MulCeil(e.order.Price, qty))
		remaining = numeric.SubFloor(remaining, qty)
	}
	return cost, remaining.IsZero()
}
