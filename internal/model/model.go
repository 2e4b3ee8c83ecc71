// Package model defines the core domain types shared across the exchange
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes the two admissible order kinds.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TimeInForce controls what happens to unfilled quantity.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
)

// Terminal reports whether the status admits no further fills.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled
}

// HoldStatus is the reservation lifecycle state.
type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "active"
	HoldStatusConsumed HoldStatus = "consumed"
	HoldStatusReleased HoldStatus = "released"
)

// STPPolicy selects the self-trade-prevention behaviour when an incoming
// order would cross a resting order of the same user.
type STPPolicy string

const (
	STPCancelOldest STPPolicy = "cancel_oldest"
	STPCancelNewest STPPolicy = "cancel_newest"
	STPCancelBoth   STPPolicy = "cancel_both"
	STPNone         STPPolicy = "none"
)

// MarketStatus gates whether a market accepts orders.
type MarketStatus string

const (
	MarketEnabled  MarketStatus = "enabled"
	MarketDisabled MarketStatus = "disabled"
)

// Reserved system account owners, created at bootstrap. Trade fees credit
// FeeCollectorUserID; deposits draw against TreasuryUserID so every journal
// entry stays balanced.
const (
	FeeCollectorUserID = "system:fees"
	TreasuryUserID     = "system:treasury"
)

// Market is a tradable pair. All prices traded on it must be exact multiples
// of TickSize, and all quantities exact multiples of LotSize.
type Market struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	BaseAsset     string          `json:"base_asset"`
	QuoteAsset    string          `json:"quote_asset"`
	TickSize      decimal.Decimal `json:"tick_size"`
	LotSize       decimal.Decimal `json:"lot_size"`
	MakerFeeBps   int64           `json:"maker_fee_bps"`
	TakerFeeBps   int64           `json:"taker_fee_bps"`
	MaxNotional   decimal.Decimal `json:"max_notional"`    // per-order cap; zero = uncapped
	PriceBandBps  int64           `json:"price_band_bps"`  // allowed deviation from reference; zero = no band
	MaxOpenOrders int             `json:"max_open_orders"` // per user; zero = uncapped
	Status        MarketStatus    `json:"status"`
	HaltUntil     *time.Time      `json:"halt_until,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Halted reports whether the market is halted at the given instant.
func (m *Market) Halted(now time.Time) bool {
	return m.HaltUntil != nil && now.Before(*m.HaltUntil)
}

// Order is a buy or sell request, resting or in flight.
//
// Invariants: RemainingQuantity >= 0; a filled order has
// RemainingQuantity = 0 and admits no further fills. For iceberg orders
// RemainingQuantity is the visible slice and IcebergHiddenRemaining the
// undisplayed reserve.
type Order struct {
	ID                     string          `json:"id"`
	MarketID               string          `json:"market_id"`
	UserID                 string          `json:"user_id"`
	Side                   Side            `json:"side"`
	Type                   OrderType       `json:"type"`
	TimeInForce            TimeInForce     `json:"time_in_force"`
	PostOnly               bool            `json:"post_only,omitempty"`
	Price                  decimal.Decimal `json:"price"` // zero for market orders
	Quantity               decimal.Decimal `json:"quantity"`
	RemainingQuantity      decimal.Decimal `json:"remaining_quantity"`
	IcebergDisplayQuantity decimal.Decimal `json:"iceberg_display_quantity,omitempty"`
	IcebergHiddenRemaining decimal.Decimal `json:"iceberg_hidden_remaining,omitempty"`
	Status                 OrderStatus     `json:"status"`
	HoldID                 string          `json:"hold_id"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// Iceberg reports whether the order replenishes from a hidden reserve.
func (o *Order) Iceberg() bool {
	return o.IcebergDisplayQuantity.IsPositive()
}

// Hold is a reservation of funds against a ledger account, created
// atomically with its order. RemainingAmount only decreases and never
// exceeds Amount; release zeroes it via the status transition.
type Hold struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	AssetID         string          `json:"asset_id"`
	OrderID         string          `json:"order_id"`
	Amount          decimal.Decimal `json:"amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          HoldStatus      `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Account identifies one (user, asset) ledger account. Balance is the sum
// of journal lines posted to it; Available subtracts active holds.
type Account struct {
	UserID    string          `json:"user_id"`
	AssetID   string          `json:"asset_id"`
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
}

// JournalEntry groups lines that must sum to zero per asset. Immutable once
// written.
type JournalEntry struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`   // "trade", "deposit"
	RefID     string        `json:"ref_id"` // execution or external reference
	Lines     []JournalLine `json:"lines"`
	CreatedAt time.Time     `json:"created_at"`
}

// JournalLine is one signed posting to a (user, asset) account.
type JournalLine struct {
	UserID  string          `json:"user_id"`
	AssetID string          `json:"asset_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// Balanced reports whether the entry's lines sum to zero per asset, the
// double-entry invariant.
func (e *JournalEntry) Balanced() bool {
	sums := make(map[string]decimal.Decimal)
	for _, l := range e.Lines {
		sums[l.AssetID] = sums[l.AssetID].Add(l.Amount)
	}
	for _, s := range sums {
		if !s.IsZero() {
			return false
		}
	}
	return true
}

// Execution is the append-only audit record of a single match.
type Execution struct {
	ID           string          `json:"id"`
	MarketID     string          `json:"market_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	MakerOrderID string          `json:"maker_order_id"`
	TakerOrderID string          `json:"taker_order_id"`
	MakerFee     decimal.Decimal `json:"maker_fee"`
	TakerFee     decimal.Decimal `json:"taker_fee"`
	CreatedAt    time.Time       `json:"created_at"`
}

// IdempotencyStatus tracks an idempotency record's progress.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
)

// IdempotencyRecord deduplicates retried requests. Created before side
// effects, finalized after; on failure the pending record is removed rather
// than poisoned.
type IdempotencyRecord struct {
	UserID      string            `json:"user_id"`
	Scope       string            `json:"scope"`
	Key         string            `json:"key"`
	RequestHash string            `json:"request_hash"`
	Response    []byte            `json:"response,omitempty"`
	StatusCode  int               `json:"status_code,omitempty"`
	Status      IdempotencyStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// OutboxEvent is written in the same transaction as the domain change it
// describes and delivered asynchronously by the dispatcher, at least once.
type OutboxEvent struct {
	ID          string     `json:"id"`
	Topic       string     `json:"topic"`
	AggregateID string     `json:"aggregate_id"`
	Payload     []byte     `json:"payload"`
	VisibleAt   time.Time  `json:"visible_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	Attempts    int        `json:"attempts"`
	DeadAt      *time.Time `json:"dead_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
