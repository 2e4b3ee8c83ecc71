package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matchbook/exchange-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market metadata and book depth. Writes go to the primary store
// and invalidate the cache; reads check Redis first then fall back to the
// primary. Transactional paths bypass the cache entirely so matching always
// sees primary-store state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) HaltMarket(ctx context.Context, id string, until time.Time) error {
	if err := s.primary.HaltMarket(ctx, id, until); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the halt visible.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketBySymbol(ctx context.Context, symbol string) (*model.Market, error) {
	// Try cache via symbol→marketID mapping.
	marketID, err := s.rdb.Get(ctx, symbolKey(symbol)).Result()
	if err == nil {
		return s.GetMarket(ctx, marketID)
	}

	m, err := s.primary.GetMarketBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// Cache both the market and the symbol→ID mapping.
	s.cacheMarket(ctx, m)
	s.rdb.Set(ctx, symbolKey(symbol), m.ID, s.ttl)
	return m, nil
}

func (s *CachedStore) BookDepth(ctx context.Context, marketID string, levels int) ([]PriceLevel, []PriceLevel, error) {
	data, err := s.rdb.Get(ctx, depthKey(marketID, levels)).Bytes()
	if err == nil {
		var cached struct {
			Bids []PriceLevel `json:"bids"`
			Asks []PriceLevel `json:"asks"`
		}
		if json.Unmarshal(data, &cached) == nil {
			return cached.Bids, cached.Asks, nil
		}
	}

	bids, asks, err := s.primary.BookDepth(ctx, marketID, levels)
	if err != nil {
		return nil, nil, err
	}

	payload := struct {
		Bids []PriceLevel `json:"bids"`
		Asks []PriceLevel `json:"asks"`
	}{Bids: bids, Asks: asks}
	if data, err := json.Marshal(payload); err == nil {
		// Depth staleness is bounded by a short fixed TTL, not the
		// metadata TTL.
		s.rdb.Set(ctx, depthKey(marketID, levels), data, time.Second)
	}
	return bids, asks, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) ListOpenOrders(ctx context.Context, marketID, userID string) ([]model.Order, error) {
	return s.primary.ListOpenOrders(ctx, marketID, userID)
}

func (s *CachedStore) GetAccount(ctx context.Context, userID, assetID string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, userID, assetID)
}

func (s *CachedStore) ListExecutionsByOrder(ctx context.Context, orderID string) ([]model.Execution, error) {
	return s.primary.ListExecutionsByOrder(ctx, orderID)
}

func (s *CachedStore) BeginIdempotent(ctx context.Context, rec *model.IdempotencyRecord) (*model.IdempotencyRecord, error) {
	return s.primary.BeginIdempotent(ctx, rec)
}

func (s *CachedStore) RemoveIdempotent(ctx context.Context, userID, scope, key string) error {
	return s.primary.RemoveIdempotent(ctx, userID, scope, key)
}

func (s *CachedStore) ClaimOutbox(ctx context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error) {
	return s.primary.ClaimOutbox(ctx, limit, lease)
}

func (s *CachedStore) AckOutbox(ctx context.Context, id string) error {
	return s.primary.AckOutbox(ctx, id)
}

func (s *CachedStore) NackOutbox(ctx context.Context, id string, retryAfter time.Duration, maxAttempts int) error {
	return s.primary.NackOutbox(ctx, id, retryAfter, maxAttempts)
}

// InMarketTx runs on the primary and drops depth caches touched by the
// market's writers.
func (s *CachedStore) InMarketTx(ctx context.Context, marketID string, fn func(UnitOfWork) error) error {
	err := s.primary.InMarketTx(ctx, marketID, fn)
	if err == nil {
		s.invalidateDepth(ctx, marketID)
	}
	return err
}

func (s *CachedStore) InTx(ctx context.Context, fn func(UnitOfWork) error) error {
	return s.primary.InTx(ctx, fn)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func (s *CachedStore) invalidateDepth(ctx context.Context, marketID string) {
	iter := s.rdb.Scan(ctx, 0, fmt.Sprintf("depth:%s:*", marketID), 0).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }

func symbolKey(sym string) string { return fmt.Sprintf("symbol:%s", sym) }

func depthKey(id string, levels int) string { return fmt.Sprintf("depth:%s:%d", id, levels) }
