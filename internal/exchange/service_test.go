package exchange_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matchbook/exchange-engine/internal/exchange"
	"github.com/matchbook/exchange-engine/internal/model"
	"github.com/matchbook/exchange-engine/internal/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// newTestEnv creates a service over an in-memory store with one seeded
// market: tick 0.01, lot 0.001, maker fee 10 bps, taker fee 20 bps.
func newTestEnv(t *testing.T) (*exchange.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	m := &model.Market{
		ID:          "mkt-1",
		Symbol:      "ABC/USD",
		BaseAsset:   "ABC",
		QuoteAsset:  "USD",
		TickSize:    d("0.01"),
		LotSize:     d("0.001"),
		MakerFeeBps: 10,
		TakerFeeBps: 20,
		Status:      model.MarketEnabled,
		CreatedAt:   time.Now().UTC(),
	}
	if err := ms.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	svc := exchange.NewService(ms, nil, nil, exchange.Config{HaltCooldown: time.Minute})
	return svc, ms
}

func fund(t *testing.T, svc *exchange.Service, userID, asset, amount string) {
	t.Helper()
	if _, err := svc.Deposit(context.Background(), userID, asset, d(amount), "test-funding"); err != nil {
		t.Fatalf("fund %s %s %s: %v", userID, asset, amount, err)
	}
}

func limit(side model.Side, price, qty string) model.LimitRequest {
	return model.LimitRequest{
		MarketSymbol: "ABC/USD",
		OrderSide:    side,
		Price:        d(price),
		Qty:          d(qty),
	}
}

func place(t *testing.T, svc *exchange.Service, userID string, req model.OrderRequest) *exchange.PlaceResult {
	t.Helper()
	res, _, err := svc.PlaceOrder(context.Background(), userID, "", req)
	if err != nil {
		t.Fatalf("place for %s: %v", userID, err)
	}
	return res
}

func rejectionCode(t *testing.T, err error) string {
	t.Helper()
	rej, ok := model.AsRejection(err)
	if !ok {
		t.Fatalf("want rejection, got %v", err)
	}
	return rej.Code
}

func account(t *testing.T, ms *store.MemoryStore, userID, asset string) *model.Account {
	t.Helper()
	a, err := ms.GetAccount(context.Background(), userID, asset)
	if err != nil {
		t.Fatalf("account %s/%s: %v", userID, asset, err)
	}
	return a
}

// assertConserved checks that every user's balances in one asset sum to
// zero across the treasury, the fee collector, and the given users.
func assertConserved(t *testing.T, ms *store.MemoryStore, asset string, users ...string) {
	t.Helper()
	sum := decimal.Zero
	all := append([]string{model.TreasuryUserID, model.FeeCollectorUserID}, users...)
	for _, u := range all {
		sum = sum.Add(account(t, ms, u, asset).Balance)
	}
	if !sum.IsZero() {
		t.Fatalf("asset %s not conserved: sum=%s", asset, sum)
	}
}

func TestPlace_RestsWhenNothingCrosses(t *testing.T) {
	svc, ms := newTestEnv(t)
	fund(t, svc, "buyer", "USD", "1000")

	res := place(t, svc, "buyer", limit(model.SideBuy, "100.00", "0.500"))
	if res.Order.Status != model.OrderStatusOpen {
		t.Fatalf("status = %s", res.Order.Status)
	}
	if len(res.Executions) != 0 {
		t.Fatalf("unexpected executions: %+v", res.Executions)
	}

	// Hold is notional plus taker fee: 50.00 + 0.10.
	acct := account(t, ms, "buyer", "USD")
	if !acct.Available.Equal(d("949.90")) {
		t.Fatalf("available = %s, want 949.90", acct.Available)
	}

	bids, _, err := ms.BookDepth(context.Background(), "mkt-1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(bids) != 1 || !bids[0].Price.Equal(d("100.00")) {
		t.Fatalf("book = %+v", bids)
	}
}

func TestPlace_WorkedExample(t *testing.T) {
	svc, ms := newTestEnv(t)
	fund(t, svc, "alice", "ABC", "1")
	fund(t, svc, "bob", "USD", "1000")

	restRes := place(t, svc, "alice", limit(model.SideSell, "100.00", "1.000"))
	takeRes := place(t, svc, "bob", limit(model.SideBuy, "100.00", "0.400"))

	if len(takeRes.Executions) != 1 {
		t.Fatalf("want one execution, got %d", len(takeRes.Executions))
	}
	x := takeRes.Executions[0]
	if !x.Price.Equal(d("100.00")) || !x.Quantity.Equal(d("0.400")) {
		t.Fatalf("execution = %+v", x)
	}
	if x.MakerOrderID != restRes.Order.ID || x.TakerOrderID != takeRes.Order.ID {
		t.Fatalf("maker/taker ids wrong: %+v", x)
	}

	if takeRes.Order.Status != model.OrderStatusFilled || !takeRes.Order.RemainingQuantity.IsZero() {
		t.Fatalf("taker order = %+v", takeRes.Order)
	}
	maker, err := ms.GetOrder(context.Background(), restRes.Order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if maker.Status != model.OrderStatusPartiallyFilled || !maker.RemainingQuantity.Equal(d("0.600")) {
		t.Fatalf("maker order = %+v", maker)
	}

	// Notional 40.00; taker fee 20 bps = 0.08; maker fee 10 bps = 0.04.
	bobUSD := account(t, ms, "bob", "USD")
	if !bobUSD.Balance.Equal(d("959.92")) {
		t.Fatalf("bob USD = %s, want 959.92", bobUSD.Balance)
	}
	// Taker hold fully consumed: available equals balance again.
	if !bobUSD.Available.Equal(bobUSD.Balance) {
		t.Fatalf("bob USD available = %s, balance = %s", bobUSD.Available, bobUSD.Balance)
	}
	if got := account(t, ms, "bob", "ABC").Balance; !got.Equal(d("0.400")) {
		t.Fatalf("bob ABC = %s", got)
	}

	aliceUSD := account(t, ms, "alice", "USD")
	if !aliceUSD.Balance.Equal(d("39.96")) {
		t.Fatalf("alice USD = %s, want 39.96", aliceUSD.Balance)
	}
	aliceABC := account(t, ms, "alice", "ABC")
	if !aliceABC.Balance.Equal(d("0.600")) {
		t.Fatalf("alice ABC = %s, want 0.600", aliceABC.Balance)
	}
	// The rest of alice's sell hold still reserves her remaining base.
	if !aliceABC.Available.IsZero() {
		t.Fatalf("alice ABC available = %s, want 0", aliceABC.Available)
	}

	if got := account(t, ms, model.FeeCollectorUserID, "USD").Balance; !got.Equal(d("0.12")) {
		t.Fatalf("fee collector = %s, want 0.12", got)
	}

	assertConserved(t, ms, "USD", "alice", "bob")
	assertConserved(t, ms, "ABC", "alice", "bob")
}

func TestPriceTimePriority(t *testing.T) {
	svc, _ := newTestEnv(t)
	fund(t, svc, "s1", "ABC", "1")
	fund(t, svc, "s2", "ABC", "1")
	fund(t, svc, "s3", "ABC", "1")
	fund(t, svc, "buyer", "USD", "10000")

	cheap := place(t, svc, "s1", limit(model.SideSell, "99.00", "0.100"))
	early := place(t, svc, "s2", limit(model.SideSell, "100.00", "0.100"))
	late := place(t, svc, "s3", limit(model.SideSell, "100.00", "0.100"))

	res := place(t, svc, "buyer", limit(model.SideBuy, "100.00", "0.250"))
	if len(res.Executions) != 3 {
		t.Fatalf("want 3 executions, got %d", len(res.Executions))
	}
	order := []string{cheap.Order.ID, early.Order.ID, late.Order.ID}
	for i, x := range res.Executions {
		if x.MakerOrderID != order[i] {
			t.Fatalf("execution %d against %s, want %s", i, x.MakerOrderID, order[i])
		}
	}
	// Fills happen at maker prices.
	if !res.Executions[0].Price.Equal(d("99.00")) {
		t.Fatalf("first fill price = %s", res.Executions[0].Price)
	}
}

func TestIOC_CancelsRemainderAndReleasesHold(t *testing.T) {
	svc, ms := newTestEnv(t)
	fund(t, svc, "seller", "ABC", "1")
	fund(t, svc, "buyer", "USD", "1000")
	place(t, svc, "seller", limit(model.SideSell, "100.00", "0.100"))

	req := limit(model.SideBuy, "100.00", "0.500")
	req.TimeInForce = model.TimeInForceIOC
	res := place(t, svc, "buyer", req)

	if res.Order.Status != model.OrderStatusCanceled {
		t.Fatalf("IOC final status = %s", res.Order.Status)
	}
	if len(res.Executions) != 1 || !res.Executions[0].Quantity.Equal(d("0.100")) {
		t.Fatalf("executions = %+v", res.Executions)
	}
	if !res.Order.RemainingQuantity.Equal(d("0.400")) {
		t.Fatalf("remaining = %s", res.Order.RemainingQuantity)
	}

	// Hold released: only the settled 10.00 + 0.02 taker fee left the
	// account, and nothing stays reserved.
	acct := account(t, ms, "buyer", "USD")
	if !acct.Balance.Equal(d("989.98")) || !acct.Available.Equal(acct.Balance) {
		t.Fatalf("buyer USD = %+v", acct)
	}

	// Nothing rested.
	bids, _, _ := ms.BookDepth(context.Background(), "mkt-1", 5)
	if len(bids) != 0 {
		t.Fatalf("IOC remainder rested: %+v", bids)
	}
}

func TestFOK_AtomicRejection(t *testing.T) {
	svc, ms := newTestEnv(t)
	fund(t, svc, "seller", "ABC", "1")
	fund(t, svc, "buyer", "USD", "1000")
	place(t, svc, "seller", limit(model.SideSell, "100.00", "0.100"))

	req := limit(model.SideBuy, "100.00", "0.500")
	req.TimeInForce = model.TimeInForceFOK
	_, _, err := svc.PlaceOrder(context.Background(), "buyer", "", req)
	if code := rejectionCode(t, err); code != model.CodeFOKInsufficient {
		t.Fatalf("code = %s", code)
	}

	// No execution, no ledger effect, maker untouched.
	acct := account(t, ms, "buyer", "USD")
	if !acct.Balance.Equal(d("1000")) || !acct.Available.Equal(d("1000")) {
		t.Fatalf("buyer USD mutated: %+v", acct)
	}
	open, err := ms.ListOpenOrders(context.Background(), "mkt-1", "seller")
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || !open[0].RemainingQuantity.Equal(d("0.100")) {
		t.Fatalf("maker mutated: %+v", open)
	}

	// The same FOK succeeds once liquidity suffices.
	fund(t, svc, "seller2", "ABC", "1")
	place(t, svc, "seller2", limit(model.SideSell, "100.00", "0.400"))
	res := place(t, svc, "buyer", req)
	if res.Order.Status != model.OrderStatusFilled {
		t.Fatalf("FOK status = %s", res.Order.Status)
	}
}

func TestPostOnly(t *testing.T) {
	svc, _ := newTestEnv(t)
	fund(t, svc, "seller", "ABC", "1")
	fund(t, svc, "buyer", "USD", "1000")
	place(t, svc, "seller", limit(model.SideSell, "100.00", "0.100"))

	crossing := limit(model.SideBuy, "100.00", "0.100")
	crossing.PostOnly = true
	_, _, err := svc.PlaceOrder(context.Background(), "buyer", "", crossing)
	if code := rejectionCode(t, err); code != model.CodePostOnlyWouldTake {
		t.Fatalf("code = %s", code)
	}

	passive := limit(model.SideBuy, "99.00", "0.100")
	passive.PostOnly = true
	res := place(t, svc, "buyer", passive)
	if res.Order.Status != model.OrderStatusOpen || len(res.Executions) != 0 {
		t.Fatalf("post-only rest = %+v", res)
	}
}

func TestMarketOrder(t *testing.T) {
	svc, ms := newTestEnv(t)
	fund(t, svc, "buyer", "USD", "1000")

	// Empty book rejects outright.
	_, _, err := svc.PlaceOrder(context.Background(), "buyer", "", model.MarketRequest{
		MarketSymbol: "ABC/USD", OrderSide: model.SideBuy, Qty: d("0.100"),
	})
	if code := rejectionCode(t, err); code != model.CodeInsufficientLiquidity {
		t.Fatalf("code = %s", code)
	}

	// Partial liquidity: fill what exists, cancel the rest.
	fund(t, svc, "seller", "ABC", "1")
	place(t, svc, "seller", limit(model.SideSell, "100.00", "0.100"))

	res := place(t, svc, "buyer", model.MarketRequest{
		MarketSymbol: "ABC/USD", OrderSide: model.SideBuy, Qty: d("0.500"),
	})
	if res.Order.Status != model.OrderStatusCanceled {
		t.Fatalf("market order status = %s", res.Order.Status)
	}
	if len(res.Executions) != 1 || !res.Executions[0].Quantity.Equal(d("0.100")) {
		t.Fatalf("executions = %+v", res.Executions)
	}
	acct := account(t, ms, "buyer", "USD")
	if !acct.Available.Equal(acct.Balance) {
		t.Fatalf("market order hold not released: %+v", acct)
	}
}

func TestInsufficientBalance(t *testing.T) {
	svc, _ := newTestEnv(t)
	fund(t, svc, "buyer", "USD", "10")

	_, _, err := svc.PlaceOrder(context.Background(), "buyer", "",
		limit(model.SideBuy, "100.00", "1.000"))
	if code := rejectionCode(t, err); code != model.CodeInsufficientBalance {
		t.Fatalf("code = %s", code)
	}
}

func TestIdempotentReplay(t *testing.T) {
	svc, ms := newTestEnv(t)
	fund(t, svc, "seller", "ABC", "1")
	fund(t, svc, "buyer", "USD", "1000")
	place(t, svc, "seller", limit(model.SideSell, "100.00", "1.000"))

	req := limit(model.SideBuy, "100.00", "0.400")
	first, firstBytes, err := svc.PlaceOrder(context.Background(), "buyer", "key-1", req)
	if err != nil {
		t.Fatal(err)
	}
	second, secondBytes, err := svc.PlaceOrder(context.Background(), "buyer", "key-1", req)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(firstBytes, secondBytes) {
		t.Fatalf("replay not byte-identical:\n%s\n%s", firstBytes, secondBytes)
	}
	if second.Order.ID != first.Order.ID {
		t.Fatal("replay produced a different order")
	}

	// Exactly one set of ledger effects.
	if got := account(t, ms, "buyer", "USD").Balance; !got.Equal(d("959.92")) {
		t.Fatalf("buyer USD = %s, want 959.92 (single execution)", got)
	}
	execs, err := ms.ListExecutionsByOrder(context.Background(), first.Order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(execs) != 1 {
		t.Fatalf("want 1 execution, got %d", len(execs))
	}

	// Same key with a different body conflicts.
	_, _, err = svc.PlaceOrder(context.Background(), "buyer", "key-1",
		limit(model.SideBuy, "101.00", "0.400"))
	if code := rejectionCode(t, err); code != model.CodeIdempotencyConflict {
		t.Fatalf("code = %s", code)
	}

	// A rejected placement does not poison its key.
	_, _, err = svc.PlaceOrder(context.Background(), "buyer", "key-2",
		limit(model.SideBuy, "100.005", "0.400"))
	if code := rejectionCode(t, err); code != model.CodePriceNotMultipleOfTick {
		t.Fatalf("code = %s", code)
	}
	if _, _, err := svc.PlaceOrder(context.Background(), "buyer", "key-2",
		limit(model.SideBuy, "100.00", "0.100")); err != nil {
		t.Fatalf("key not reusable after rejection: %v", err)
	}
}

type toggleGate struct{ deny bool }

func (g *toggleGate) Allowed(context.Context, string) (bool, error) { return !g.deny, nil }

func TestIdempotentReplayBypassesGate(t *testing.T) {
	_, ms := newTestEnv(t)
	gate := &toggleGate{}
	svc := exchange.NewService(ms, gate, nil, exchange.Config{HaltCooldown: time.Minute})
	fund(t, svc, "buyer", "USD", "1000")

	req := limit(model.SideBuy, "100.00", "0.400")
	_, firstBytes, err := svc.PlaceOrder(context.Background(), "buyer", "key-1", req)
	if err != nil {
		t.Fatal(err)
	}

	// A completed key replays the stored response even when the caller's
	// standing has since changed.
	gate.deny = true
	_, replayBytes, err := svc.PlaceOrder(context.Background(), "buyer", "key-1", req)
	if err != nil {
		t.Fatalf("replay must return the stored response, got %v", err)
	}
	if !bytes.Equal(firstBytes, replayBytes) {
		t.Fatalf("replay not byte-identical:\n%s\n%s", firstBytes, replayBytes)
	}

	// A fresh key is still gated, and the denial does not poison the key.
	fresh := limit(model.SideBuy, "99.00", "0.100")
	_, _, err = svc.PlaceOrder(context.Background(), "buyer", "key-2", fresh)
	if code := rejectionCode(t, err); code != model.CodeUserNotAllowed {
		t.Fatalf("code = %s, want %s", code, model.CodeUserNotAllowed)
	}
	gate.deny = false
	if _, _, err := svc.PlaceOrder(context.Background(), "buyer", "key-2", fresh); err != nil {
		t.Fatalf("key not reusable after gate denial: %v", err)
	}
}

func TestSTP(t *testing.T) {
	svc, ms := newTestEnv(t)
	fund(t, svc, "trader", "ABC", "1")
	fund(t, svc, "trader", "USD", "1000")

	resting := place(t, svc, "trader", limit(model.SideSell, "100.00", "0.100"))

	t.Run("cancel_oldest cancels resting and proceeds", func(t *testing.T) {
		req := limit(model.SideBuy, "100.00", "0.100")
		req.STPPolicy = model.STPCancelOldest
		res := place(t, svc, "trader", req)

		// Nothing left to cross after the self-order cancel, so the buy
		// rests.
		if res.Order.Status != model.OrderStatusOpen || len(res.Executions) != 0 {
			t.Fatalf("taker = %+v", res)
		}
		old, err := ms.GetOrder(context.Background(), resting.Order.ID)
		if err != nil {
			t.Fatal(err)
		}
		if old.Status != model.OrderStatusCanceled {
			t.Fatalf("resting order = %s", old.Status)
		}
		// The canceled sell's base hold is back.
		if got := account(t, ms, "trader", "ABC"); !got.Available.Equal(d("1")) {
			t.Fatalf("ABC available = %s", got.Available)
		}
	})

	t.Run("cancel_newest rejects the taker", func(t *testing.T) {
		sell := place(t, svc, "trader", limit(model.SideSell, "101.00", "0.100"))
		req := limit(model.SideBuy, "101.00", "0.100")
		req.STPPolicy = model.STPCancelNewest
		_, _, err := svc.PlaceOrder(context.Background(), "trader", "", req)
		if code := rejectionCode(t, err); code != model.CodeSTPCancelNewest {
			t.Fatalf("code = %s", code)
		}
		// Resting order untouched by the rolled-back placement.
		o, err := ms.GetOrder(context.Background(), sell.Order.ID)
		if err != nil {
			t.Fatal(err)
		}
		if o.Status != model.OrderStatusOpen {
			t.Fatalf("resting order = %s", o.Status)
		}
	})

	t.Run("cancel_both rejects and rolls back staged cancels", func(t *testing.T) {
		sell := place(t, svc, "trader", limit(model.SideSell, "102.00", "0.100"))
		req := limit(model.SideBuy, "102.00", "0.100")
		req.STPPolicy = model.STPCancelBoth
		_, _, err := svc.PlaceOrder(context.Background(), "trader", "", req)
		if code := rejectionCode(t, err); code != model.CodeSTPCancelBoth {
			t.Fatalf("code = %s", code)
		}
		o, err := ms.GetOrder(context.Background(), sell.Order.ID)
		if err != nil {
			t.Fatal(err)
		}
		if o.Status != model.OrderStatusOpen {
			t.Fatalf("resting order = %s", o.Status)
		}
	})
}

func TestIcebergPriorityLoss(t *testing.T) {
	svc, ms := newTestEnv(t)
	fund(t, svc, "ice", "ABC", "1")
	fund(t, svc, "late", "ABC", "1")
	fund(t, svc, "buyer", "USD", "10000")

	icebergReq := limit(model.SideSell, "100.00", "1.000")
	icebergReq.IcebergDisplay = d("0.200")
	iceberg := place(t, svc, "ice", icebergReq)
	if !iceberg.Order.RemainingQuantity.Equal(d("0.200")) ||
		!iceberg.Order.IcebergHiddenRemaining.Equal(d("0.800")) {
		t.Fatalf("iceberg rest = %+v", iceberg.Order)
	}

	lateOrder := place(t, svc, "late", limit(model.SideSell, "100.00", "0.500"))

	// First taker drains the visible slice; the refresh demotes the
	// iceberg behind the later order, which absorbs the overflow.
	res := place(t, svc, "buyer", limit(model.SideBuy, "100.00", "0.300"))
	if len(res.Executions) != 2 {
		t.Fatalf("want 2 executions, got %+v", res.Executions)
	}
	if res.Executions[0].MakerOrderID != iceberg.Order.ID ||
		!res.Executions[0].Quantity.Equal(d("0.200")) {
		t.Fatalf("first fill = %+v", res.Executions[0])
	}
	if res.Executions[1].MakerOrderID != lateOrder.Order.ID ||
		!res.Executions[1].Quantity.Equal(d("0.100")) {
		t.Fatalf("second fill = %+v", res.Executions[1])
	}

	ice, err := ms.GetOrder(context.Background(), iceberg.Order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ice.RemainingQuantity.Equal(d("0.200")) || !ice.IcebergHiddenRemaining.Equal(d("0.600")) {
		t.Fatalf("iceberg after refresh = %+v", ice)
	}

	// The refreshed iceberg now queues behind the later order entirely.
	res2 := place(t, svc, "buyer", limit(model.SideBuy, "100.00", "0.400"))
	if len(res2.Executions) != 1 || res2.Executions[0].MakerOrderID != lateOrder.Order.ID {
		t.Fatalf("priority not lost: %+v", res2.Executions)
	}
	if !res2.Executions[0].Quantity.Equal(d("0.400")) {
		t.Fatalf("second taker fill = %+v", res2.Executions[0])
	}
}

func TestCancelOrder(t *testing.T) {
	svc, ms := newTestEnv(t)
	fund(t, svc, "buyer", "USD", "1000")
	res := place(t, svc, "buyer", limit(model.SideBuy, "100.00", "0.500"))

	_, err := svc.CancelOrder(context.Background(), "someone-else", res.Order.ID)
	if code := rejectionCode(t, err); code != model.CodeUserNotAllowed {
		t.Fatalf("code = %s", code)
	}

	canceled, err := svc.CancelOrder(context.Background(), "buyer", res.Order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if canceled.Status != model.OrderStatusCanceled {
		t.Fatalf("status = %s", canceled.Status)
	}
	acct := account(t, ms, "buyer", "USD")
	if !acct.Available.Equal(d("1000")) {
		t.Fatalf("hold not released: %+v", acct)
	}
	bids, _, _ := ms.BookDepth(context.Background(), "mkt-1", 5)
	if len(bids) != 0 {
		t.Fatalf("canceled order still on book: %+v", bids)
	}

	_, err = svc.CancelOrder(context.Background(), "buyer", res.Order.ID)
	if code := rejectionCode(t, err); code != model.CodeOrderNotCancellable {
		t.Fatalf("code = %s", code)
	}

	_, err = svc.CancelOrder(context.Background(), "buyer", "missing")
	if code := rejectionCode(t, err); code != model.CodeOrderNotFound {
		t.Fatalf("code = %s", code)
	}
}

func TestCircuitBreakerHalt(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	m := &model.Market{
		ID:           "mkt-1",
		Symbol:       "ABC/USD",
		BaseAsset:    "ABC",
		QuoteAsset:   "USD",
		TickSize:     d("0.01"),
		LotSize:      d("0.001"),
		PriceBandBps: 500,
		Status:       model.MarketEnabled,
		CreatedAt:    time.Now().UTC(),
	}
	if err := ms.CreateMarket(ctx, m); err != nil {
		t.Fatal(err)
	}
	svc := exchange.NewService(ms, nil, nil, exchange.Config{HaltCooldown: time.Minute})

	fund(t, svc, "seller", "ABC", "1")
	fund(t, svc, "buyer", "USD", "10000")
	place(t, svc, "seller", limit(model.SideSell, "100.00", "0.100"))
	place(t, svc, "buyer", limit(model.SideBuy, "100.00", "0.100")) // last trade = 100

	// 110 is more than 5% from the 100 reference: reject and halt.
	_, _, err := svc.PlaceOrder(ctx, "buyer", "", limit(model.SideBuy, "110.00", "0.100"))
	if code := rejectionCode(t, err); code != model.CodePriceOutOfBand {
		t.Fatalf("code = %s", code)
	}

	_, _, err = svc.PlaceOrder(ctx, "buyer", "", limit(model.SideBuy, "100.00", "0.100"))
	if code := rejectionCode(t, err); code != model.CodeMarketHalted {
		t.Fatalf("after breach, code = %s", code)
	}
}

func TestOpenOrderCap(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	m := &model.Market{
		ID:            "mkt-1",
		Symbol:        "ABC/USD",
		BaseAsset:     "ABC",
		QuoteAsset:    "USD",
		TickSize:      d("0.01"),
		LotSize:       d("0.001"),
		MaxOpenOrders: 2,
		Status:        model.MarketEnabled,
		CreatedAt:     time.Now().UTC(),
	}
	if err := ms.CreateMarket(ctx, m); err != nil {
		t.Fatal(err)
	}
	svc := exchange.NewService(ms, nil, nil, exchange.Config{})
	fund(t, svc, "buyer", "USD", "10000")

	place(t, svc, "buyer", limit(model.SideBuy, "99.00", "0.100"))
	place(t, svc, "buyer", limit(model.SideBuy, "98.00", "0.100"))
	_, _, err := svc.PlaceOrder(ctx, "buyer", "", limit(model.SideBuy, "97.00", "0.100"))
	if code := rejectionCode(t, err); code != model.CodeOpenOrdersLimit {
		t.Fatalf("code = %s", code)
	}
}

func TestOutboxEmission(t *testing.T) {
	svc, ms := newTestEnv(t)
	fund(t, svc, "seller", "ABC", "1")
	fund(t, svc, "buyer", "USD", "1000")
	place(t, svc, "seller", limit(model.SideSell, "100.00", "1.000"))
	place(t, svc, "buyer", limit(model.SideBuy, "100.00", "0.400"))

	events, err := ms.ClaimOutbox(context.Background(), 100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	topics := make(map[string]int)
	for _, ev := range events {
		topics[ev.Topic]++
	}
	// Two placements plus the maker's partial-fill notification.
	if topics[exchange.TopicOrderPlaced] != 2 {
		t.Fatalf("placed events = %d, topics = %v", topics[exchange.TopicOrderPlaced], topics)
	}
	if topics[exchange.TopicOrderPartiallyFilled] != 1 {
		t.Fatalf("partial fill events = %d, topics = %v", topics[exchange.TopicOrderPartiallyFilled], topics)
	}
}
