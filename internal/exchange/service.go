// Package exchange orchestrates order placement: admission, self-trade
// prevention, funds reservation, the matching loop, terminal resolution,
// and the idempotency and outbox bookkeeping around them. The matching
// arithmetic itself lives in book and ledger; this package drives those
// pure functions inside a per-market storage transaction.
//
// All monetary values use shopspring/decimal — never float64 for money.
package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matchbook/exchange-engine/internal/book"
	"github.com/matchbook/exchange-engine/internal/ledger"
	"github.com/matchbook/exchange-engine/internal/metrics"
	"github.com/matchbook/exchange-engine/internal/model"
	"github.com/matchbook/exchange-engine/internal/numeric"
	"github.com/matchbook/exchange-engine/internal/risk"
	"github.com/matchbook/exchange-engine/internal/store"
)

// UserGate is the external allow-list check (session/KYC). The engine
// queries it but does not implement it; a nil gate allows everyone.
type UserGate interface {
	Allowed(ctx context.Context, userID string) (bool, error)
}

// FeeDebitor charges non-trading fees before risk checks run. A returned
// error short-circuits the placement.
type FeeDebitor interface {
	DebitPlacementFee(ctx context.Context, userID, marketID string) error
}

// Config tunes the placement engine.
type Config struct {
	// MaxFillsPerPass bounds fills per matching pass; the loop issues
	// further passes until the order or the book is exhausted. Zero or
	// negative means unbounded passes.
	MaxFillsPerPass int
	// HaltCooldown is how long a circuit-breaker halt lasts. Zero disables
	// the breaker (band breaches still reject the order).
	HaltCooldown time.Duration
}

// Service executes placements, cancels, and deposits against a Store.
type Service struct {
	store store.Store
	gate  UserGate
	fees  FeeDebitor
	cfg   Config
}

// NewService creates an exchange service. Pass nil for gate and fees when
// those external hooks are not wired.
func NewService(st store.Store, gate UserGate, fees FeeDebitor, cfg Config) *Service {
	if cfg.MaxFillsPerPass == 0 {
		cfg.MaxFillsPerPass = 64
	}
	return &Service{store: st, gate: gate, fees: fees, cfg: cfg}
}

// PlaceResult is the placement contract consumed verbatim by the HTTP
// layer: the final order plus every execution it produced.
type PlaceResult struct {
	Order      model.Order       `json:"order"`
	Executions []model.Execution `json:"executions"`
}

// IdempotencyScope namespaces placement idempotency keys.
const IdempotencyScope = "orders"

// PlaceOrder runs the full placement sequence. The returned bytes are the
// canonical JSON response; replays of a completed idempotency key return
// the stored bytes unchanged. An empty idempotencyKey skips deduplication.
func (s *Service) PlaceOrder(ctx context.Context, userID, idempotencyKey string, req model.OrderRequest) (*PlaceResult, []byte, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, nil, s.reject(err)
	}

	// The idempotency check runs before every other gate so a replay of a
	// completed key always returns the stored response, whatever the
	// caller's current standing.
	if idempotencyKey != "" {
		hash := requestHash(req)
		existing, err := s.store.BeginIdempotent(ctx, &model.IdempotencyRecord{
			UserID:      userID,
			Scope:       IdempotencyScope,
			Key:         idempotencyKey,
			RequestHash: hash,
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			if existing.RequestHash != hash {
				return nil, nil, s.reject(model.Reject(model.CodeIdempotencyConflict,
					"idempotency_key", idempotencyKey))
			}
			if existing.Status == model.IdempotencyCompleted {
				metrics.IdempotentReplays.Inc()
				var replay PlaceResult
				if err := json.Unmarshal(existing.Response, &replay); err != nil {
					return nil, nil, err
				}
				return &replay, existing.Response, nil
			}
			// A pending record means a concurrent submission of the same
			// key is still in flight.
			return nil, nil, s.reject(model.Reject(model.CodeTradeStateConflict,
				"idempotency_key", idempotencyKey, "reason", "placement_in_flight"))
		}
	}

	if s.gate != nil {
		ok, err := s.gate.Allowed(ctx, userID)
		if err != nil {
			return nil, nil, s.fail(ctx, userID, idempotencyKey, err)
		}
		if !ok {
			return nil, nil, s.fail(ctx, userID, idempotencyKey,
				model.Reject(model.CodeUserNotAllowed, "user_id", userID))
		}
	}

	result, response, err := s.place(ctx, userID, idempotencyKey, req)
	if err != nil {
		return nil, nil, s.fail(ctx, userID, idempotencyKey, err)
	}

	metrics.OrdersTotal.WithLabelValues(req.Symbol(), string(req.Side()), string(result.Order.Status)).Inc()
	metrics.PlacementLatency.WithLabelValues(req.Symbol()).Observe(time.Since(start).Seconds())
	slog.Info("order placed",
		"order_id", result.Order.ID,
		"user_id", userID,
		"symbol", req.Symbol(),
		"side", req.Side(),
		"status", result.Order.Status,
		"fills", len(result.Executions))
	return result, response, nil
}

// reject counts a structured rejection and passes it through.
func (s *Service) reject(err error) error {
	if rej, ok := model.AsRejection(err); ok {
		metrics.RejectionsTotal.WithLabelValues(rej.Code).Inc()
	}
	return err
}

// fail clears the pending idempotency record so a retry of the key is not
// poisoned, then passes the error through reject.
func (s *Service) fail(ctx context.Context, userID, idempotencyKey string, err error) error {
	if idempotencyKey != "" {
		if rmErr := s.store.RemoveIdempotent(ctx, userID, IdempotencyScope, idempotencyKey); rmErr != nil {
			slog.Error("remove pending idempotency record", "error", rmErr, "user_id", userID)
		}
	}
	return s.reject(err)
}

// place runs steps 2..7, the outbox emission, and the idempotency finalize
// inside one per-market transaction. The finalize commits with the
// placement: a crash between them cannot strand the key as pending while
// the ledger effects stand. Any error rolls the whole placement back.
func (s *Service) place(ctx context.Context, userID, idempotencyKey string, req model.OrderRequest) (*PlaceResult, []byte, error) {
	market, err := s.store.GetMarketBySymbol(ctx, req.Symbol())
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil, model.Reject(model.CodeMarketNotFound, "symbol", req.Symbol())
		}
		return nil, nil, err
	}

	if s.fees != nil {
		if err := s.fees.DebitPlacementFee(ctx, userID, market.ID); err != nil {
			return nil, nil, err
		}
	}

	var result *PlaceResult
	var response []byte
	err = s.store.InMarketTx(ctx, market.ID, func(uow store.UnitOfWork) error {
		var txErr error
		result, txErr = s.placeInTx(uow, userID, req, market.ID)
		if txErr != nil {
			return txErr
		}
		response, txErr = json.Marshal(result)
		if txErr != nil {
			return txErr
		}
		if idempotencyKey != "" {
			return uow.CompleteIdempotent(userID, IdempotencyScope, idempotencyKey, response, 200)
		}
		return nil
	})
	if err != nil {
		s.maybeHalt(ctx, market, err)
		return nil, nil, err
	}
	return result, response, nil
}

// maybeHalt trips the circuit breaker after a price-band rejection. The
// halt is persisted outside the rolled-back placement transaction so the
// rollback cannot undo it.
func (s *Service) maybeHalt(ctx context.Context, m *model.Market, err error) {
	rej, ok := model.AsRejection(err)
	if !ok || rej.Code != model.CodePriceOutOfBand || s.cfg.HaltCooldown <= 0 {
		return
	}
	until := time.Now().UTC().Add(s.cfg.HaltCooldown)
	if haltErr := s.store.HaltMarket(ctx, m.ID, until); haltErr != nil {
		slog.Error("persist circuit breaker halt", "error", haltErr, "market_id", m.ID)
		return
	}
	metrics.HaltsTotal.WithLabelValues(m.Symbol).Inc()
	slog.Warn("circuit breaker halt",
		"market_id", m.ID,
		"symbol", m.Symbol,
		"halt_until", until)
}

func (s *Service) placeInTx(uow store.UnitOfWork, userID string, req model.OrderRequest, marketID string) (*PlaceResult, error) {
	now := time.Now().UTC()

	// Re-read under the market lock; the snapshot fetched outside it may
	// be stale.
	m, err := uow.Market(marketID)
	if err != nil {
		return nil, err
	}

	lastTrade, err := uow.LastTradePrice(m.ID)
	if err != nil {
		return nil, err
	}
	bestBid, bestAsk, err := uow.BestPrices(m.ID)
	if err != nil {
		return nil, err
	}
	refPrice, _ := risk.ReferencePrice(lastTrade, bestBid, bestAsk)

	openCount, err := uow.CountOpenOrders(m.ID, userID)
	if err != nil {
		return nil, err
	}
	if err := risk.Admit(m, req, openCount, refPrice, now); err != nil {
		return nil, err
	}

	taker := takerFor(uuid.New().String(), userID, req)

	makers, err := uow.CrossableMakers(m.ID, taker.Side, 0)
	if err != nil {
		return nil, err
	}

	// STP resolution. Cancellations staged here roll back with the rest of
	// the placement if a later step rejects.
	cancelIDs, err := book.ResolveSelfTrade(req.STP(), taker, makers)
	if err != nil {
		return nil, err
	}
	for _, id := range cancelIDs {
		if err := s.cancelInTx(uow, id, now, "self_trade_prevention"); err != nil {
			return nil, err
		}
	}
	makers = without(makers, cancelIDs)

	if err := preTradeChecks(taker, req, makers); err != nil {
		return nil, err
	}

	order, hold, err := s.reserve(uow, m, userID, req, taker, makers, now)
	if err != nil {
		return nil, err
	}

	executions, err := s.matchLoop(uow, m, order, hold, taker, now)
	if err != nil {
		return nil, err
	}

	if err := s.resolveTerminal(uow, m, order, hold, req, len(executions) > 0, now); err != nil {
		return nil, err
	}

	result := &PlaceResult{Order: *order, Executions: executions}
	payload, err := json.Marshal(placedEvent{
		UserID:     userID,
		Symbol:     m.Symbol,
		Order:      *order,
		Executions: executions,
	})
	if err != nil {
		return nil, err
	}
	if err := uow.AppendOutbox(&model.OutboxEvent{
		ID:          uuid.New().String(),
		Topic:       TopicOrderPlaced,
		AggregateID: order.ID,
		Payload:     payload,
		VisibleAt:   now,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// Outbox topics emitted by the placement and cancel paths.
const (
	TopicOrderPlaced          = "ex.order.placed"
	TopicOrderFilled          = "ex.order.filled"
	TopicOrderPartiallyFilled = "ex.order.partially_filled"
	TopicOrderCanceled        = "ex.order.canceled"
)

// placedEvent is the ex.order.placed payload: the final order and its
// executions, keyed by user and symbol for downstream notification fan-out.
type placedEvent struct {
	UserID     string            `json:"user_id"`
	Symbol     string            `json:"symbol"`
	Order      model.Order       `json:"order"`
	Executions []model.Execution `json:"executions"`
}

// orderEvent is the per-order payload for fill and cancel topics.
type orderEvent struct {
	UserID  string      `json:"user_id"`
	OrderID string      `json:"order_id"`
	Reason  string      `json:"reason,omitempty"`
	Order   model.Order `json:"order"`
}

func takerFor(orderID, userID string, req model.OrderRequest) book.Taker {
	t := book.Taker{
		OrderID:   orderID,
		UserID:    userID,
		Side:      req.Side(),
		Type:      model.OrderTypeMarket,
		Remaining: req.Quantity(),
	}
	if lr, ok := req.(model.LimitRequest); ok {
		t.Type = model.OrderTypeLimit
		t.Price = lr.Price
	}
	return t
}

func without(makers []*model.Order, ids []string) []*model.Order {
	if len(ids) == 0 {
		return makers
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := makers[:0]
	for _, m := range makers {
		if !drop[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// preTradeChecks runs the dry-run liquidity gates: post-only must not
// cross, FOK must fill fully, and a market order needs at least some
// crossable liquidity.
func preTradeChecks(taker book.Taker, req model.OrderRequest, makers []*model.Order) error {
	switch r := req.(type) {
	case model.LimitRequest:
		if r.PostOnly && book.WouldCross(taker, makers) {
			return model.Reject(model.CodePostOnlyWouldTake, "price", r.Price.String())
		}
		if r.TIF() == model.TimeInForceFOK {
			dry := book.Match(taker, makers, 0)
			if dry.TakerRemaining.IsPositive() {
				return model.Reject(model.CodeFOKInsufficient,
					"unfilled_quantity", dry.TakerRemaining.String())
			}
		}
	case model.MarketRequest:
		if !book.WouldCross(taker, makers) {
			return model.Reject(model.CodeInsufficientLiquidity, "side", string(r.OrderSide))
		}
	}
	return nil
}

// reserve sizes the order's hold, verifies available funds, and creates the
// order and hold rows together.
func (s *Service) reserve(uow store.UnitOfWork, m *model.Market, userID string,
	req model.OrderRequest, taker book.Taker, makers []*model.Order, now time.Time) (*model.Order, *model.Hold, error) {

	holdAsset := ledger.HoldAsset(m, req.Side())

	var amount decimal.Decimal
	switch {
	case req.Side() == model.SideSell:
		amount = ledger.ReserveSell(req.Quantity())
	case taker.Type == model.OrderTypeLimit:
		amount = ledger.ReserveBuyLimit(m, taker.Price, req.Quantity())
	default:
		probe, _ := book.ProbeCost(taker, makers)
		amount = ledger.ReserveBuyMarket(m, probe)
	}

	available, err := uow.Available(userID, holdAsset)
	if err != nil {
		return nil, nil, err
	}
	if available.LessThan(amount) {
		return nil, nil, model.Reject(model.CodeInsufficientBalance,
			"asset", holdAsset,
			"required", amount.String(),
			"available", available.String())
	}

	order := &model.Order{
		ID:                taker.OrderID,
		MarketID:          m.ID,
		UserID:            userID,
		Side:              req.Side(),
		Type:              taker.Type,
		TimeInForce:       model.TimeInForceIOC,
		Price:             taker.Price,
		Quantity:          req.Quantity(),
		RemainingQuantity: req.Quantity(),
		Status:            model.OrderStatusOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if lr, ok := req.(model.LimitRequest); ok {
		order.TimeInForce = lr.TIF()
		order.PostOnly = lr.PostOnly
		order.IcebergDisplayQuantity = lr.IcebergDisplay
	}

	hold := &model.Hold{
		ID:              uuid.New().String(),
		UserID:          userID,
		AssetID:         holdAsset,
		OrderID:         order.ID,
		Amount:          amount,
		RemainingAmount: amount,
		Status:          model.HoldStatusActive,
		CreatedAt:       now,
	}
	order.HoldID = hold.ID

	if err := uow.CreateOrder(order); err != nil {
		return nil, nil, err
	}
	if err := uow.CreateHold(hold); err != nil {
		return nil, nil, err
	}
	return order, hold, nil
}

// matchLoop crosses the taker against the book in bounded passes. Each pass
// re-reads the crossable maker set with row locks, matches up to
// MaxFillsPerPass fills, and applies the ledger and maker effects before
// the next pass.
func (s *Service) matchLoop(uow store.UnitOfWork, m *model.Market, order *model.Order,
	hold *model.Hold, taker book.Taker, now time.Time) ([]model.Execution, error) {

	var executions []model.Execution
	for taker.Remaining.IsPositive() {
		makers, err := uow.CrossableMakers(m.ID, taker.Side, s.cfg.MaxFillsPerPass)
		if err != nil {
			return nil, err
		}
		res := book.Match(taker, makers, s.cfg.MaxFillsPerPass)
		if len(res.Fills) == 0 {
			break
		}

		byID := make(map[string]*model.Order, len(makers))
		for _, mk := range makers {
			byID[mk.ID] = mk
		}

		for _, f := range res.Fills {
			maker := byID[f.MakerOrderID]
			execID := uuid.New().String()
			posting := ledger.TradePosting(m, taker.Side, taker.UserID, maker.UserID,
				f.Price, f.Quantity, execID, now)

			if err := uow.PostJournal(posting.Entry); err != nil {
				return nil, err
			}
			exec := model.Execution{
				ID:           execID,
				MarketID:     m.ID,
				Price:        f.Price,
				Quantity:     f.Quantity,
				MakerOrderID: maker.ID,
				TakerOrderID: order.ID,
				MakerFee:     posting.MakerFee,
				TakerFee:     posting.TakerFee,
				CreatedAt:    now,
			}
			if err := uow.AppendExecution(&exec); err != nil {
				return nil, err
			}
			executions = append(executions, exec)
			metrics.FillsTotal.WithLabelValues(m.Symbol).Inc()

			if err := debitHold(uow, hold.ID, posting.TakerHoldDebit); err != nil {
				return nil, err
			}
			if err := debitHold(uow, maker.HoldID, posting.MakerHoldDebit); err != nil {
				return nil, err
			}
		}

		for id, mkState := range res.Makers {
			if err := s.applyMakerState(uow, byID[id], mkState, now); err != nil {
				return nil, err
			}
		}

		taker.Remaining = res.TakerRemaining
		if s.cfg.MaxFillsPerPass <= 0 || len(res.Fills) < s.cfg.MaxFillsPerPass {
			// The pass ended because the book ran out, not the fill bound.
			break
		}
	}

	order.RemainingQuantity = taker.Remaining
	return executions, nil
}

// applyMakerState writes one maker's post-match quantities, status, hold,
// and notification event.
func (s *Service) applyMakerState(uow store.UnitOfWork, maker *model.Order,
	st book.MakerState, now time.Time) error {

	maker.RemainingQuantity = st.Remaining
	maker.IcebergHiddenRemaining = st.HiddenRemaining
	maker.UpdatedAt = now
	if st.Refreshed {
		// Replenished slice re-enters the queue with fresh time priority.
		maker.CreatedAt = now
	}

	topic := TopicOrderPartiallyFilled
	if !st.Remaining.IsPositive() && !st.HiddenRemaining.IsPositive() {
		maker.Status = model.OrderStatusFilled
		topic = TopicOrderFilled
		if err := settleHold(uow, maker.HoldID); err != nil {
			return err
		}
	} else {
		maker.Status = model.OrderStatusPartiallyFilled
	}

	if err := uow.UpdateOrder(maker); err != nil {
		return err
	}
	return appendOrderEvent(uow, topic, maker, "", now)
}

// resolveTerminal decides the taker's final state: filled, canceled with
// hold released (market and IOC leftovers), or resting on the book (GTC).
func (s *Service) resolveTerminal(uow store.UnitOfWork, m *model.Market, order *model.Order,
	hold *model.Hold, req model.OrderRequest, filledAny bool, now time.Time) error {

	order.UpdatedAt = now

	switch {
	case order.RemainingQuantity.IsZero():
		order.Status = model.OrderStatusFilled
		if err := settleHold(uow, hold.ID); err != nil {
			return err
		}
	case order.Type == model.OrderTypeMarket || order.TimeInForce == model.TimeInForceIOC:
		order.Status = model.OrderStatusCanceled
		if err := releaseHold(uow, hold.ID); err != nil {
			return err
		}
	default:
		if filledAny {
			order.Status = model.OrderStatusPartiallyFilled
		}
		if order.Iceberg() {
			leftover := order.RemainingQuantity
			display := numeric.Min(order.IcebergDisplayQuantity, leftover)
			order.RemainingQuantity = display
			order.IcebergHiddenRemaining = numeric.SubFloor(leftover, display)
		}
		if err := uow.UpdateOrder(order); err != nil {
			return err
		}
		return uow.RestOrder(order)
	}
	return uow.UpdateOrder(order)
}

// cancelInTx cancels a resting order and releases its hold. Used by STP and
// by the cancel endpoint.
func (s *Service) cancelInTx(uow store.UnitOfWork, orderID string, now time.Time, reason string) error {
	o, err := uow.OrderForUpdate(orderID)
	if err != nil {
		if err == store.ErrNotFound {
			return model.Reject(model.CodeOrderNotFound, "order_id", orderID)
		}
		return err
	}
	if o.Status.Terminal() {
		return model.Reject(model.CodeOrderNotCancellable,
			"order_id", orderID, "status", string(o.Status))
	}
	o.Status = model.OrderStatusCanceled
	o.UpdatedAt = now
	if o.HoldID != "" {
		if err := releaseHold(uow, o.HoldID); err != nil {
			return err
		}
	}
	if err := uow.UpdateOrder(o); err != nil {
		return err
	}
	return appendOrderEvent(uow, TopicOrderCanceled, o, reason, now)
}

// CancelOrder cancels one of the user's open orders and releases its
// remaining hold.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, s.reject(model.Reject(model.CodeOrderNotFound, "order_id", orderID))
		}
		return nil, err
	}
	if o.UserID != userID {
		return nil, s.reject(model.Reject(model.CodeUserNotAllowed, "order_id", orderID))
	}

	now := time.Now().UTC()
	err = s.store.InMarketTx(ctx, o.MarketID, func(uow store.UnitOfWork) error {
		return s.cancelInTx(uow, orderID, now, "user_request")
	})
	if err != nil {
		return nil, s.reject(err)
	}

	canceled, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	slog.Info("order canceled", "order_id", orderID, "user_id", userID)
	return canceled, nil
}

// Deposit credits a user account from the treasury and returns the updated
// account.
func (s *Service) Deposit(ctx context.Context, userID, assetID string, amount decimal.Decimal, refID string) (*model.Account, error) {
	if !amount.IsPositive() {
		return nil, model.Reject(model.CodeInvalidInput, "field", "amount", "reason", "must_be_positive")
	}
	now := time.Now().UTC()
	err := s.store.InTx(ctx, func(uow store.UnitOfWork) error {
		return uow.PostJournal(ledger.DepositPosting(userID, assetID, amount, refID, now))
	})
	if err != nil {
		return nil, err
	}
	slog.Info("deposit posted", "user_id", userID, "asset", assetID, "amount", amount)
	return s.store.GetAccount(ctx, userID, assetID)
}

// --- Hold helpers ---

// debitHold consumes part of a hold. The subtraction saturates at zero so
// remaining_amount never goes negative.
func debitHold(uow store.UnitOfWork, holdID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	h, err := uow.HoldForUpdate(holdID)
	if err != nil {
		return err
	}
	h.RemainingAmount = numeric.SubFloor(h.RemainingAmount, amount)
	return uow.UpdateHold(h)
}

// settleHold marks a fully-filled order's hold consumed; any reservation
// headroom left over stops counting against the account.
func settleHold(uow store.UnitOfWork, holdID string) error {
	h, err := uow.HoldForUpdate(holdID)
	if err != nil {
		return err
	}
	h.Status = model.HoldStatusConsumed
	return uow.UpdateHold(h)
}

// releaseHold returns a canceled order's remaining reservation.
func releaseHold(uow store.UnitOfWork, holdID string) error {
	h, err := uow.HoldForUpdate(holdID)
	if err != nil {
		return err
	}
	if h.Status != model.HoldStatusActive {
		return nil
	}
	h.Status = model.HoldStatusReleased
	return uow.UpdateHold(h)
}

func appendOrderEvent(uow store.UnitOfWork, topic string, o *model.Order, reason string, now time.Time) error {
	payload, err := json.Marshal(orderEvent{
		UserID:  o.UserID,
		OrderID: o.ID,
		Reason:  reason,
		Order:   *o,
	})
	if err != nil {
		return err
	}
	return uow.AppendOutbox(&model.OutboxEvent{
		ID:          uuid.New().String(),
		Topic:       topic,
		AggregateID: o.ID,
		Payload:     payload,
		VisibleAt:   now,
		CreatedAt:   now,
	})
}

// requestHash is the normalized fingerprint used for idempotency conflict
// detection. Decimals are rendered at fixed scale so textual variants of
// the same value hash identically.
func requestHash(req model.OrderRequest) string {
	type canonical struct {
		Kind     string `json:"kind"`
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Price    string `json:"price,omitempty"`
		Quantity string `json:"quantity"`
		TIF      string `json:"tif,omitempty"`
		PostOnly bool   `json:"post_only,omitempty"`
		Iceberg  string `json:"iceberg,omitempty"`
		STP      string `json:"stp"`
	}
	c := canonical{
		Symbol:   req.Symbol(),
		Side:     string(req.Side()),
		Quantity: req.Quantity().StringFixed(numeric.Scale),
		STP:      string(req.STP()),
	}
	switch r := req.(type) {
	case model.LimitRequest:
		c.Kind = "limit"
		c.Price = r.Price.StringFixed(numeric.Scale)
		c.TIF = string(r.TIF())
		c.PostOnly = r.PostOnly
		if r.IcebergDisplay.IsPositive() {
			c.Iceberg = r.IcebergDisplay.StringFixed(numeric.Scale)
		}
	case model.MarketRequest:
		c.Kind = "market"
	}
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
