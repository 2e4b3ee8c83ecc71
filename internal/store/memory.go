package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/matchbook/exchange-engine/internal/model"
)

// bookEntry is one resting order's position in a side's B-tree.
type bookEntry struct {
	price     decimal.Decimal
	createdAt time.Time
	orderID   string
}

// bidLess orders the bid side price descending, then created_at and id
// ascending, so Min() is the best bid.
func bidLess(a, b bookEntry) bool {
	if c := a.price.Cmp(b.price); c != 0 {
		return c > 0
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.orderID < b.orderID
}

// askLess orders the ask side price ascending; Min() is the best ask.
func askLess(a, b bookEntry) bool {
	if c := a.price.Cmp(b.price); c != 0 {
		return c < 0
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.orderID < b.orderID
}

type acctKey struct{ user, asset string }

type idemKey struct{ user, scope, key string }

// memState holds everything behind one mutex. Stored objects are never
// mutated in place, only replaced, so a shallow map copy plus B-tree
// clones is a consistent snapshot for rollback.
type memState struct {
	markets    map[string]*model.Market
	symbols    map[string]string // symbol -> market id
	orders     map[string]*model.Order
	bids       map[string]*btree.BTreeG[bookEntry]
	asks       map[string]*btree.BTreeG[bookEntry]
	bookIndex  map[string]bookEntry // order id -> entry
	holds      map[string]*model.Hold
	entries    []*model.JournalEntry
	balances   map[acctKey]decimal.Decimal
	holdTotals map[acctKey]decimal.Decimal // active hold remainders
	executions []*model.Execution
	lastTrade  map[string]decimal.Decimal
	idem       map[idemKey]*model.IdempotencyRecord
	outbox     []*model.OutboxEvent
}

func newMemState() *memState {
	return &memState{
		markets:    make(map[string]*model.Market),
		symbols:    make(map[string]string),
		orders:     make(map[string]*model.Order),
		bids:       make(map[string]*btree.BTreeG[bookEntry]),
		asks:       make(map[string]*btree.BTreeG[bookEntry]),
		bookIndex:  make(map[string]bookEntry),
		holds:      make(map[string]*model.Hold),
		balances:   make(map[acctKey]decimal.Decimal),
		holdTotals: make(map[acctKey]decimal.Decimal),
		lastTrade:  make(map[string]decimal.Decimal),
		idem:       make(map[idemKey]*model.IdempotencyRecord),
	}
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (st *memState) clone() *memState {
	c := &memState{
		markets:    copyMap(st.markets),
		symbols:    copyMap(st.symbols),
		orders:     copyMap(st.orders),
		bids:       make(map[string]*btree.BTreeG[bookEntry], len(st.bids)),
		asks:       make(map[string]*btree.BTreeG[bookEntry], len(st.asks)),
		bookIndex:  copyMap(st.bookIndex),
		holds:      copyMap(st.holds),
		entries:    st.entries,
		balances:   copyMap(st.balances),
		holdTotals: copyMap(st.holdTotals),
		executions: st.executions,
		lastTrade:  copyMap(st.lastTrade),
		idem:       copyMap(st.idem),
		outbox:     st.outbox,
	}
	for id, t := range st.bids {
		c.bids[id] = t.Clone()
	}
	for id, t := range st.asks {
		c.asks[id] = t.Clone()
	}
	return c
}

// MemoryStore implements Store with in-memory maps and B-tree order books.
// Used for testing and development; transactions roll back by restoring a
// snapshot of the state.
type MemoryStore struct {
	mu       sync.Mutex
	marketMu map[string]*sync.Mutex
	state    *memState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		marketMu: make(map[string]*sync.Mutex),
		state:    newMemState(),
	}
}

func (s *MemoryStore) marketLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.marketMu[id]
	if !ok {
		mu = &sync.Mutex{}
		s.marketMu[id] = mu
	}
	return mu
}

const bookDegree = 32

func (s *MemoryStore) ensureBooks(marketID string) {
	if _, ok := s.state.bids[marketID]; !ok {
		s.state.bids[marketID] = btree.NewG(bookDegree, bidLess)
		s.state.asks[marketID] = btree.NewG(bookDegree, askLess)
	}
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.symbols[m.Symbol]; ok {
		return model.Reject(model.CodeTradeStateConflict, "symbol", m.Symbol, "reason", "market_exists")
	}
	cp := *m
	s.state.markets[m.ID] = &cp
	s.state.symbols[m.Symbol] = m.ID
	s.ensureBooks(m.ID)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMarketBySymbol(_ context.Context, symbol string) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.state.symbols[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.state.markets[id]
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Market, 0, len(s.state.markets))
	for _, m := range s.state.markets {
		out = append(out, *m)
	}
	return out, nil
}

func (s *MemoryStore) HaltMarket(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.markets[id]
	if !ok {
		return ErrNotFound
	}
	cp := *m
	cp.HaltUntil = &until
	s.state.markets[id] = &cp
	return nil
}

// --- Read-side queries ---

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOpenOrders(_ context.Context, marketID, userID string) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.state.orders {
		if o.Status.Terminal() {
			continue
		}
		if marketID != "" && o.MarketID != marketID {
			continue
		}
		if userID != "" && o.UserID != userID {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID, assetID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := acctKey{userID, assetID}
	bal := s.state.balances[k]
	return &model.Account{
		UserID:    userID,
		AssetID:   assetID,
		Balance:   bal,
		Available: bal.Sub(s.state.holdTotals[k]),
	}, nil
}

func (s *MemoryStore) ListExecutionsByOrder(_ context.Context, orderID string) ([]model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Execution
	for _, x := range s.state.executions {
		if x.MakerOrderID == orderID || x.TakerOrderID == orderID {
			out = append(out, *x)
		}
	}
	return out, nil
}

func (s *MemoryStore) BookDepth(_ context.Context, marketID string, levels int) ([]PriceLevel, []PriceLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bidTree, ok := s.state.bids[marketID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return s.topLevels(bidTree, levels), s.topLevels(s.state.asks[marketID], levels), nil
}

func (s *MemoryStore) topLevels(tree *btree.BTreeG[bookEntry], n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(e bookEntry) bool {
		o := s.state.orders[e.orderID]
		if o == nil {
			return true
		}
		if len(levels) > 0 && levels[len(levels)-1].Price.Equal(e.price) {
			levels[len(levels)-1].Quantity = levels[len(levels)-1].Quantity.Add(o.RemainingQuantity)
			levels[len(levels)-1].Orders++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{Price: e.price, Quantity: o.RemainingQuantity, Orders: 1})
		return true
	})
	return levels
}

// --- Idempotency ---

func (s *MemoryStore) BeginIdempotent(_ context.Context, rec *model.IdempotencyRecord) (*model.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey{rec.UserID, rec.Scope, rec.Key}
	if existing, ok := s.state.idem[k]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *rec
	cp.Status = model.IdempotencyPending
	s.state.idem[k] = &cp
	return nil, nil
}

func (s *MemoryStore) RemoveIdempotent(_ context.Context, userID, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.idem, idemKey{userID, scope, key})
	return nil
}

// --- Outbox ---

func (s *MemoryStore) ClaimOutbox(_ context.Context, limit int, lease time.Duration) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var claimed []model.OutboxEvent
	for i, ev := range s.state.outbox {
		if len(claimed) >= limit {
			break
		}
		if ev.ProcessedAt != nil || ev.DeadAt != nil || ev.VisibleAt.After(now) {
			continue
		}
		if ev.LockedAt != nil && ev.LockedAt.Add(lease).After(now) {
			continue
		}
		cp := *ev
		locked := now
		cp.LockedAt = &locked
		s.state.outbox[i] = &cp
		claimed = append(claimed, cp)
	}
	return claimed, nil
}

func (s *MemoryStore) AckOutbox(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ev := range s.state.outbox {
		if ev.ID == id {
			cp := *ev
			now := time.Now().UTC()
			cp.ProcessedAt = &now
			s.state.outbox[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) NackOutbox(_ context.Context, id string, retryAfter time.Duration, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ev := range s.state.outbox {
		if ev.ID == id {
			cp := *ev
			now := time.Now().UTC()
			cp.Attempts++
			cp.LockedAt = nil
			cp.VisibleAt = now.Add(retryAfter)
			if cp.Attempts >= maxAttempts {
				cp.DeadAt = &now
			}
			s.state.outbox[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

// --- Transactions ---

func (s *MemoryStore) InMarketTx(_ context.Context, marketID string, fn func(UnitOfWork) error) error {
	ml := s.marketLock(marketID)
	ml.Lock()
	defer ml.Unlock()
	return s.runTx(fn)
}

func (s *MemoryStore) InTx(_ context.Context, fn func(UnitOfWork) error) error {
	return s.runTx(fn)
}

func (s *MemoryStore) runTx(fn func(UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state.clone()
	if err := fn(&memUOW{s: s}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// memUOW runs against the live state under the store mutex; rollback is a
// snapshot swap in runTx.
type memUOW struct {
	s *MemoryStore
}

func (u *memUOW) Market(id string) (*model.Market, error) {
	m, ok := u.s.state.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (u *memUOW) CreateOrder(o *model.Order) error {
	cp := *o
	u.s.state.orders[o.ID] = &cp
	return nil
}

func (u *memUOW) OrderForUpdate(id string) (*model.Order, error) {
	o, ok := u.s.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (u *memUOW) UpdateOrder(o *model.Order) error {
	st := u.s.state
	if _, ok := st.orders[o.ID]; !ok {
		return ErrNotFound
	}
	cp := *o
	st.orders[o.ID] = &cp

	entry, resting := st.bookIndex[o.ID]
	if !resting {
		return nil
	}
	tree := u.treeFor(o)
	switch {
	case o.Status.Terminal():
		tree.Delete(entry)
		delete(st.bookIndex, o.ID)
	case !entry.createdAt.Equal(o.CreatedAt):
		// Iceberg refresh: new time priority at the same price.
		tree.Delete(entry)
		ne := bookEntry{price: o.Price, createdAt: o.CreatedAt, orderID: o.ID}
		tree.ReplaceOrInsert(ne)
		st.bookIndex[o.ID] = ne
	}
	return nil
}

func (u *memUOW) RestOrder(o *model.Order) error {
	u.s.ensureBooks(o.MarketID)
	e := bookEntry{price: o.Price, createdAt: o.CreatedAt, orderID: o.ID}
	u.treeFor(o).ReplaceOrInsert(e)
	u.s.state.bookIndex[o.ID] = e
	return nil
}

func (u *memUOW) treeFor(o *model.Order) *btree.BTreeG[bookEntry] {
	u.s.ensureBooks(o.MarketID)
	if o.Side == model.SideBuy {
		return u.s.state.bids[o.MarketID]
	}
	return u.s.state.asks[o.MarketID]
}

func (u *memUOW) CrossableMakers(marketID string, takerSide model.Side, limit int) ([]*model.Order, error) {
	u.s.ensureBooks(marketID)
	tree := u.s.state.asks[marketID]
	if takerSide == model.SideSell {
		tree = u.s.state.bids[marketID]
	}
	var out []*model.Order
	tree.Ascend(func(e bookEntry) bool {
		o, ok := u.s.state.orders[e.orderID]
		if ok {
			cp := *o
			out = append(out, &cp)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

func (u *memUOW) CountOpenOrders(marketID, userID string) (int, error) {
	n := 0
	for _, o := range u.s.state.orders {
		if o.MarketID == marketID && o.UserID == userID && !o.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (u *memUOW) CreateHold(h *model.Hold) error {
	cp := *h
	u.s.state.holds[h.ID] = &cp
	if h.Status == model.HoldStatusActive {
		k := acctKey{h.UserID, h.AssetID}
		u.s.state.holdTotals[k] = u.s.state.holdTotals[k].Add(h.RemainingAmount)
	}
	return nil
}

func (u *memUOW) HoldForUpdate(id string) (*model.Hold, error) {
	h, ok := u.s.state.holds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (u *memUOW) UpdateHold(h *model.Hold) error {
	st := u.s.state
	old, ok := st.holds[h.ID]
	if !ok {
		return ErrNotFound
	}
	k := acctKey{h.UserID, h.AssetID}
	st.holdTotals[k] = st.holdTotals[k].Sub(activeRemainder(old)).Add(activeRemainder(h))
	cp := *h
	st.holds[h.ID] = &cp
	return nil
}

func activeRemainder(h *model.Hold) decimal.Decimal {
	if h.Status == model.HoldStatusActive {
		return h.RemainingAmount
	}
	return decimal.Zero
}

func (u *memUOW) Available(userID, assetID string) (decimal.Decimal, error) {
	k := acctKey{userID, assetID}
	return u.s.state.balances[k].Sub(u.s.state.holdTotals[k]), nil
}

func (u *memUOW) PostJournal(e *model.JournalEntry) error {
	if !e.Balanced() {
		return model.Reject(model.CodeInternal, "reason", "unbalanced_journal_entry", "entry", e.ID)
	}
	cp := *e
	cp.Lines = append([]model.JournalLine(nil), e.Lines...)
	u.s.state.entries = append(u.s.state.entries, &cp)
	for _, l := range e.Lines {
		k := acctKey{l.UserID, l.AssetID}
		u.s.state.balances[k] = u.s.state.balances[k].Add(l.Amount)
	}
	return nil
}

func (u *memUOW) AppendExecution(x *model.Execution) error {
	cp := *x
	u.s.state.executions = append(u.s.state.executions, &cp)
	u.s.state.lastTrade[x.MarketID] = x.Price
	return nil
}

func (u *memUOW) LastTradePrice(marketID string) (decimal.Decimal, error) {
	return u.s.state.lastTrade[marketID], nil
}

func (u *memUOW) BestPrices(marketID string) (decimal.Decimal, decimal.Decimal, error) {
	u.s.ensureBooks(marketID)
	var bid, ask decimal.Decimal
	if e, ok := u.s.state.bids[marketID].Min(); ok {
		bid = e.price
	}
	if e, ok := u.s.state.asks[marketID].Min(); ok {
		ask = e.price
	}
	return bid, ask, nil
}

func (u *memUOW) AppendOutbox(ev *model.OutboxEvent) error {
	cp := *ev
	u.s.state.outbox = append(u.s.state.outbox, &cp)
	return nil
}

func (u *memUOW) CompleteIdempotent(userID, scope, key string, response []byte, statusCode int) error {
	k := idemKey{userID, scope, key}
	rec, ok := u.s.state.idem[k]
	if !ok {
		return ErrNotFound
	}
	cp := *rec
	cp.Response = response
	cp.StatusCode = statusCode
	cp.Status = model.IdempotencyCompleted
	u.s.state.idem[k] = &cp
	return nil
}
