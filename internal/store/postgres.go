package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/matchbook/exchange-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// scanned through ::TEXT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema applies the embedded DDL. All statements are idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const marketColumns = `id, symbol, base_asset, quote_asset,
	tick_size::TEXT, lot_size::TEXT,
	maker_fee_bps, taker_fee_bps,
	max_notional::TEXT, price_band_bps, max_open_orders,
	status, halt_until, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var tick, lot, maxNotional string
	if err := row.Scan(&m.ID, &m.Symbol, &m.BaseAsset, &m.QuoteAsset,
		&tick, &lot,
		&m.MakerFeeBps, &m.TakerFeeBps,
		&maxNotional, &m.PriceBandBps, &m.MaxOpenOrders,
		&m.Status, &m.HaltUntil, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.TickSize, _ = decimal.NewFromString(tick)
	m.LotSize, _ = decimal.NewFromString(lot)
	m.MaxNotional, _ = decimal.NewFromString(maxNotional)
	return &m, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, symbol, base_asset, quote_asset,
		        tick_size, lot_size, maker_fee_bps, taker_fee_bps,
		        max_notional, price_band_bps, max_open_orders,
		        status, halt_until, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8,
		        $9::NUMERIC, $10, $11, $12, $13, $14)`,
		m.ID, m.Symbol, m.BaseAsset, m.QuoteAsset,
		m.TickSize.String(), m.LotSize.String(), m.MakerFeeBps, m.TakerFeeBps,
		m.MaxNotional.String(), m.PriceBandBps, m.MaxOpenOrders,
		m.Status, m.HaltUntil, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (s *PostgresStore) GetMarketBySymbol(ctx context.Context, symbol string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE symbol = $1`, symbol))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) HaltMarket(ctx context.Context, id string, until time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET halt_until = $2 WHERE id = $1`, id, until)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const orderColumns = `id, market_id, user_id, side, type, time_in_force, post_only,
	price::TEXT, quantity::TEXT, remaining_quantity::TEXT,
	iceberg_display_quantity::TEXT, iceberg_hidden_remaining::TEXT,
	status, hold_id, created_at, updated_at`

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	var price, qty, remaining, icebergDisplay, icebergHidden string
	if err := row.Scan(&o.ID, &o.MarketID, &o.UserID, &o.Side, &o.Type,
		&o.TimeInForce, &o.PostOnly,
		&price, &qty, &remaining, &icebergDisplay, &icebergHidden,
		&o.Status, &o.HoldID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Price, _ = decimal.NewFromString(price)
	o.Quantity, _ = decimal.NewFromString(qty)
	o.RemainingQuantity, _ = decimal.NewFromString(remaining)
	o.IcebergDisplayQuantity, _ = decimal.NewFromString(icebergDisplay)
	o.IcebergHiddenRemaining, _ = decimal.NewFromString(icebergHidden)
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

func (s *PostgresStore) ListOpenOrders(ctx context.Context, marketID, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status IN ('open', 'partially_filled')
		   AND ($1 = '' OR market_id = $1)
		   AND ($2 = '' OR user_id = $2)
		 ORDER BY created_at`, marketID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID, assetID string) (*model.Account, error) {
	var balance, held string
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COALESCE((SELECT SUM(amount) FROM journal_lines
		             WHERE user_id = $1 AND asset_id = $2), 0)::TEXT,
		   COALESCE((SELECT SUM(remaining_amount) FROM holds
		             WHERE user_id = $1 AND asset_id = $2 AND status = 'active'), 0)::TEXT`,
		userID, assetID).Scan(&balance, &held)
	if err != nil {
		return nil, err
	}
	a := &model.Account{UserID: userID, AssetID: assetID}
	a.Balance, _ = decimal.NewFromString(balance)
	h, _ := decimal.NewFromString(held)
	a.Available = a.Balance.Sub(h)
	return a, nil
}

const executionColumns = `id, market_id, price::TEXT, quantity::TEXT,
	maker_order_id, taker_order_id, maker_fee::TEXT, taker_fee::TEXT, created_at`

func scanExecution(row rowScanner) (*model.Execution, error) {
	var x model.Execution
	var price, qty, makerFee, takerFee string
	if err := row.Scan(&x.ID, &x.MarketID, &price, &qty,
		&x.MakerOrderID, &x.TakerOrderID, &makerFee, &takerFee, &x.CreatedAt); err != nil {
		return nil, err
	}
	x.Price, _ = decimal.NewFromString(price)
	x.Quantity, _ = decimal.NewFromString(qty)
	x.MakerFee, _ = decimal.NewFromString(makerFee)
	x.TakerFee, _ = decimal.NewFromString(takerFee)
	return &x, nil
}

func (s *PostgresStore) ListExecutionsByOrder(ctx context.Context, orderID string) ([]model.Execution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE taker_order_id = $1 OR maker_order_id = $1
		 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		x, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *x)
	}
	return execs, rows.Err()
}

func (s *PostgresStore) BookDepth(ctx context.Context, marketID string, levels int) ([]PriceLevel, []PriceLevel, error) {
	bids, err := s.sideDepth(ctx, marketID, model.SideBuy, levels)
	if err != nil {
		return nil, nil, err
	}
	asks, err := s.sideDepth(ctx, marketID, model.SideSell, levels)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func (s *PostgresStore) sideDepth(ctx context.Context, marketID string, side model.Side, levels int) ([]PriceLevel, error) {
	dir := "ASC"
	if side == model.SideBuy {
		dir = "DESC"
	}
	rows, err := s.pool.Query(ctx,
		`SELECT price::TEXT, SUM(remaining_quantity)::TEXT, COUNT(*)
		 FROM orders
		 WHERE market_id = $1 AND side = $2 AND resting
		 GROUP BY price
		 ORDER BY price `+dir+`
		 LIMIT $3`, marketID, side, levels)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceLevel
	for rows.Next() {
		var l PriceLevel
		var price, qty string
		if err := rows.Scan(&price, &qty, &l.Orders); err != nil {
			return nil, err
		}
		l.Price, _ = decimal.NewFromString(price)
		l.Quantity, _ = decimal.NewFromString(qty)
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Idempotency ---

func (s *PostgresStore) BeginIdempotent(ctx context.Context, rec *model.IdempotencyRecord) (*model.IdempotencyRecord, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (user_id, scope, key, request_hash, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, scope, key) DO NOTHING`,
		rec.UserID, rec.Scope, rec.Key, rec.RequestHash,
		model.IdempotencyPending, rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}
	var existing model.IdempotencyRecord
	err = s.pool.QueryRow(ctx,
		`SELECT user_id, scope, key, request_hash, response, status_code, status, created_at
		 FROM idempotency_keys
		 WHERE user_id = $1 AND scope = $2 AND key = $3`,
		rec.UserID, rec.Scope, rec.Key).
		Scan(&existing.UserID, &existing.Scope, &existing.Key, &existing.RequestHash,
			&existing.Response, &existing.StatusCode, &existing.Status, &existing.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &existing, nil
}

func (s *PostgresStore) RemoveIdempotent(ctx context.Context, userID, scope, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys
		 WHERE user_id = $1 AND scope = $2 AND key = $3`, userID, scope, key)
	return err
}

// --- Outbox ---

func (s *PostgresStore) ClaimOutbox(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE outbox_events SET locked_at = NOW()
		 WHERE id IN (
		   SELECT id FROM outbox_events
		   WHERE processed_at IS NULL AND dead_at IS NULL
		     AND visible_at <= NOW()
		     AND (locked_at IS NULL OR locked_at < NOW() - make_interval(secs => $2))
		   ORDER BY created_at
		   LIMIT $1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, topic, aggregate_id, payload, visible_at,
		           processed_at, locked_at, attempts, dead_at, created_at`,
		limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var ev model.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload,
			&ev.VisibleAt, &ev.ProcessedAt, &ev.LockedAt, &ev.Attempts,
			&ev.DeadAt, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) AckOutbox(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) NackOutbox(ctx context.Context, id string, retryAfter time.Duration, maxAttempts int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox_events
		 SET attempts = attempts + 1,
		     locked_at = NULL,
		     visible_at = NOW() + make_interval(secs => $2),
		     dead_at = CASE WHEN attempts + 1 >= $3 THEN NOW() ELSE dead_at END
		 WHERE id = $1`,
		id, retryAfter.Seconds(), maxAttempts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Transactions ---

// InMarketTx serializes writers per market with a transaction-scoped
// advisory lock, so only one placement or cancel mutates a market's book at
// a time.
func (s *PostgresStore) InMarketTx(ctx context.Context, marketID string, fn func(UnitOfWork) error) error {
	return s.transact(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1))`, marketID); err != nil {
			return fmt.Errorf("acquire market lock: %w", err)
		}
		return fn(&pgUOW{ctx: ctx, tx: tx})
	})
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(UnitOfWork) error) error {
	return s.transact(ctx, func(tx pgx.Tx) error {
		return fn(&pgUOW{ctx: ctx, tx: tx})
	})
}

func (s *PostgresStore) transact(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgUOW struct {
	ctx context.Context
	tx  pgx.Tx
}

func (u *pgUOW) Market(id string) (*model.Market, error) {
	m, err := scanMarket(u.tx.QueryRow(u.ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (u *pgUOW) CreateOrder(o *model.Order) error {
	_, err := u.tx.Exec(u.ctx,
		`INSERT INTO orders (id, market_id, user_id, side, type, time_in_force,
		        post_only, price, quantity, remaining_quantity,
		        iceberg_display_quantity, iceberg_hidden_remaining,
		        status, hold_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		        $11::NUMERIC, $12::NUMERIC, $13, $14, $15, $16)`,
		o.ID, o.MarketID, o.UserID, o.Side, o.Type, o.TimeInForce,
		o.PostOnly, o.Price.String(), o.Quantity.String(), o.RemainingQuantity.String(),
		o.IcebergDisplayQuantity.String(), o.IcebergHiddenRemaining.String(),
		o.Status, o.HoldID, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (u *pgUOW) OrderForUpdate(id string) (*model.Order, error) {
	o, err := scanOrder(u.tx.QueryRow(u.ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

func (u *pgUOW) UpdateOrder(o *model.Order) error {
	tag, err := u.tx.Exec(u.ctx,
		`UPDATE orders
		 SET remaining_quantity = $2::NUMERIC,
		     iceberg_hidden_remaining = $3::NUMERIC,
		     status = $4,
		     hold_id = $5,
		     resting = resting AND $4 NOT IN ('filled', 'canceled'),
		     created_at = $6,
		     updated_at = $7
		 WHERE id = $1`,
		o.ID, o.RemainingQuantity.String(), o.IcebergHiddenRemaining.String(),
		o.Status, o.HoldID, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RestOrder marks the order as resting; the partial index on resting rows is
// the book.
func (u *pgUOW) RestOrder(o *model.Order) error {
	tag, err := u.tx.Exec(u.ctx,
		`UPDATE orders SET resting = TRUE WHERE id = $1`, o.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (u *pgUOW) CrossableMakers(marketID string, takerSide model.Side, limit int) ([]*model.Order, error) {
	makerSide := takerSide.Opposite()
	dir := "ASC"
	if makerSide == model.SideBuy {
		dir = "DESC"
	}
	q := `SELECT ` + orderColumns + ` FROM orders
		 WHERE market_id = $1 AND side = $2 AND resting
		 ORDER BY price ` + dir + `, created_at, id`
	args := []any{marketID, makerSide}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	q += ` FOR UPDATE`

	rows, err := u.tx.Query(u.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (u *pgUOW) CountOpenOrders(marketID, userID string) (int, error) {
	var n int
	err := u.tx.QueryRow(u.ctx,
		`SELECT COUNT(*) FROM orders
		 WHERE market_id = $1 AND user_id = $2
		   AND status IN ('open', 'partially_filled')`,
		marketID, userID).Scan(&n)
	return n, err
}

func (u *pgUOW) CreateHold(h *model.Hold) error {
	_, err := u.tx.Exec(u.ctx,
		`INSERT INTO holds (id, user_id, asset_id, order_id, amount, remaining_amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		h.ID, h.UserID, h.AssetID, h.OrderID,
		h.Amount.String(), h.RemainingAmount.String(), h.Status, h.CreatedAt,
	)
	return err
}

func (u *pgUOW) HoldForUpdate(id string) (*model.Hold, error) {
	var h model.Hold
	var amount, remaining string
	err := u.tx.QueryRow(u.ctx,
		`SELECT id, user_id, asset_id, order_id, amount::TEXT, remaining_amount::TEXT, status, created_at
		 FROM holds WHERE id = $1 FOR UPDATE`, id).
		Scan(&h.ID, &h.UserID, &h.AssetID, &h.OrderID, &amount, &remaining, &h.Status, &h.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	h.Amount, _ = decimal.NewFromString(amount)
	h.RemainingAmount, _ = decimal.NewFromString(remaining)
	return &h, nil
}

func (u *pgUOW) UpdateHold(h *model.Hold) error {
	tag, err := u.tx.Exec(u.ctx,
		`UPDATE holds SET remaining_amount = $2::NUMERIC, status = $3 WHERE id = $1`,
		h.ID, h.RemainingAmount.String(), h.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (u *pgUOW) Available(userID, assetID string) (decimal.Decimal, error) {
	var available string
	err := u.tx.QueryRow(u.ctx,
		`SELECT (
		   COALESCE((SELECT SUM(amount) FROM journal_lines
		             WHERE user_id = $1 AND asset_id = $2), 0)
		   -
		   COALESCE((SELECT SUM(remaining_amount) FROM holds
		             WHERE user_id = $1 AND asset_id = $2 AND status = 'active'), 0)
		 )::TEXT`, userID, assetID).Scan(&available)
	if err != nil {
		return decimal.Zero, err
	}
	v, _ := decimal.NewFromString(available)
	return v, nil
}

func (u *pgUOW) PostJournal(e *model.JournalEntry) error {
	if !e.Balanced() {
		return model.Reject(model.CodeInternal, "reason", "unbalanced_journal_entry", "entry", e.ID)
	}
	if _, err := u.tx.Exec(u.ctx,
		`INSERT INTO journal_entries (id, kind, ref_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		e.ID, e.Kind, e.RefID, e.CreatedAt); err != nil {
		return err
	}
	for _, l := range e.Lines {
		if _, err := u.tx.Exec(u.ctx,
			`INSERT INTO journal_lines (entry_id, user_id, asset_id, amount)
			 VALUES ($1, $2, $3, $4::NUMERIC)`,
			e.ID, l.UserID, l.AssetID, l.Amount.String()); err != nil {
			return err
		}
	}
	return nil
}

func (u *pgUOW) AppendExecution(x *model.Execution) error {
	_, err := u.tx.Exec(u.ctx,
		`INSERT INTO executions (id, market_id, price, quantity,
		        maker_order_id, taker_order_id, maker_fee, taker_fee, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
		x.ID, x.MarketID, x.Price.String(), x.Quantity.String(),
		x.MakerOrderID, x.TakerOrderID, x.MakerFee.String(), x.TakerFee.String(),
		x.CreatedAt,
	)
	return err
}

func (u *pgUOW) LastTradePrice(marketID string) (decimal.Decimal, error) {
	var price string
	err := u.tx.QueryRow(u.ctx,
		`SELECT price::TEXT FROM executions
		 WHERE market_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		marketID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	v, _ := decimal.NewFromString(price)
	return v, nil
}

func (u *pgUOW) BestPrices(marketID string) (decimal.Decimal, decimal.Decimal, error) {
	var bidS, askS *string
	err := u.tx.QueryRow(u.ctx,
		`SELECT
		   (SELECT MAX(price) FROM orders WHERE market_id = $1 AND side = 'buy' AND resting)::TEXT,
		   (SELECT MIN(price) FROM orders WHERE market_id = $1 AND side = 'sell' AND resting)::TEXT`,
		marketID).Scan(&bidS, &askS)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	var bid, ask decimal.Decimal
	if bidS != nil {
		bid, _ = decimal.NewFromString(*bidS)
	}
	if askS != nil {
		ask, _ = decimal.NewFromString(*askS)
	}
	return bid, ask, nil
}

func (u *pgUOW) AppendOutbox(ev *model.OutboxEvent) error {
	_, err := u.tx.Exec(u.ctx,
		`INSERT INTO outbox_events (id, topic, aggregate_id, payload, visible_at, attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.Topic, ev.AggregateID, ev.Payload, ev.VisibleAt, ev.Attempts, ev.CreatedAt,
	)
	return err
}

func (u *pgUOW) CompleteIdempotent(userID, scope, key string, response []byte, statusCode int) error {
	tag, err := u.tx.Exec(u.ctx,
		`UPDATE idempotency_keys
		 SET response = $4, status_code = $5, status = $6
		 WHERE user_id = $1 AND scope = $2 AND key = $3`,
		userID, scope, key, response, statusCode, model.IdempotencyCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
