// Package store defines the persistence interfaces for the exchange engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// market cache), and in-memory (for testing and development).
//
// The engine core depends only on these interfaces; all SQL lives behind
// them. Matching runs inside a UnitOfWork obtained from InMarketTx, which
// holds the per-market advisory lock so two placements on the same market
// never interleave while different markets proceed in parallel.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matchbook/exchange-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// PriceLevel is one aggregated order-book level.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Store is the engine's persistence boundary.
type Store interface {
	// --- Markets ---

	CreateMarket(ctx context.Context, m *model.Market) error
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	GetMarketBySymbol(ctx context.Context, symbol string) (*model.Market, error)
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// HaltMarket sets the market's halt_until. Runs outside placement
	// transactions so a circuit-breaker halt survives the rejection's
	// rollback.
	HaltMarket(ctx context.Context, id string, until time.Time) error

	// --- Read-side queries ---

	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOpenOrders(ctx context.Context, marketID, userID string) ([]model.Order, error)
	GetAccount(ctx context.Context, userID, assetID string) (*model.Account, error)
	ListExecutionsByOrder(ctx context.Context, orderID string) ([]model.Execution, error)
	BookDepth(ctx context.Context, marketID string, levels int) (bids, asks []PriceLevel, err error)

	// --- Idempotency (row-locked check-and-act) ---

	// BeginIdempotent atomically returns the existing record for the key,
	// or inserts rec as pending and returns nil. The caller inspects an
	// existing record for replay or conflict.
	BeginIdempotent(ctx context.Context, rec *model.IdempotencyRecord) (*model.IdempotencyRecord, error)

	// RemoveIdempotent deletes a pending record after a failed attempt so
	// a retry is not poisoned.
	RemoveIdempotent(ctx context.Context, userID, scope, key string) error

	// --- Outbox dispatch ---

	// ClaimOutbox leases up to limit unprocessed, visible events.
	ClaimOutbox(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error)
	// AckOutbox marks an event processed.
	AckOutbox(ctx context.Context, id string) error
	// NackOutbox releases the lease, delays the event by retryAfter, and
	// dead-letters it once attempts reach maxAttempts.
	NackOutbox(ctx context.Context, id string, retryAfter time.Duration, maxAttempts int) error

	// --- Transactions ---

	// InMarketTx runs fn in a transaction holding the per-market advisory
	// lock. Any error from fn rolls everything back.
	InMarketTx(ctx context.Context, marketID string, fn func(UnitOfWork) error) error

	// InTx runs fn in a transaction without a market lock. Used for
	// funding operations.
	InTx(ctx context.Context, fn func(UnitOfWork) error) error
}

// UnitOfWork exposes the transactional repositories the placement state
// machine writes through. Everything happens inside one database
// transaction; a returned error rolls the whole placement back.
type UnitOfWork interface {
	// Market re-reads the market row inside the transaction.
	Market(id string) (*model.Market, error)

	// --- Orders ---

	CreateOrder(o *model.Order) error
	// OrderForUpdate reads an order with a row lock.
	OrderForUpdate(id string) (*model.Order, error)
	// UpdateOrder persists the order and maintains its book entry:
	// terminal orders leave the book; a changed CreatedAt (iceberg
	// refresh) re-queues the order at the back of its price level.
	UpdateOrder(o *model.Order) error
	// RestOrder places an open order onto the book.
	RestOrder(o *model.Order) error
	// CrossableMakers returns up to limit resting orders on the opposite
	// side of takerSide, row-locked, in price-time priority order.
	CrossableMakers(marketID string, takerSide model.Side, limit int) ([]*model.Order, error)
	CountOpenOrders(marketID, userID string) (int, error)

	// --- Holds & accounts ---

	CreateHold(h *model.Hold) error
	HoldForUpdate(id string) (*model.Hold, error)
	UpdateHold(h *model.Hold) error
	// Available is posted balance minus active holds for the account.
	Available(userID, assetID string) (decimal.Decimal, error)

	// --- Ledger, executions, events ---

	PostJournal(e *model.JournalEntry) error
	AppendExecution(x *model.Execution) error
	LastTradePrice(marketID string) (decimal.Decimal, error)
	BestPrices(marketID string) (bestBid, bestAsk decimal.Decimal, err error)
	AppendOutbox(ev *model.OutboxEvent) error

	// CompleteIdempotent stores the final response under the key. It runs
	// in the same transaction as the domain change so the record and the
	// placement commit or roll back together; a pending record can never
	// outlive a committed placement.
	CompleteIdempotent(userID, scope, key string, response []byte, statusCode int) error
}
