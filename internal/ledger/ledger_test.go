package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/matchbook/exchange-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testMarket() *model.Market {
	return &model.Market{
		ID:          "mkt-1",
		Symbol:      "BTC-USD",
		BaseAsset:   "BTC",
		QuoteAsset:  "USD",
		TickSize:    d("0.01"),
		LotSize:     d("0.001"),
		MakerFeeBps: 10,
		TakerFeeBps: 20,
	}
}

var now = time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

func TestTradePosting_BuyTaker(t *testing.T) {
	m := testMarket()
	p := TradePosting(m, model.SideBuy, "buyer", "seller", d("100.00"), d("0.400"), "exec-1", now)

	if !p.Entry.Balanced() {
		t.Fatal("entry must balance per asset")
	}
	if !p.Notional.Equal(d("40")) {
		t.Errorf("notional = %s, want 40", p.Notional)
	}
	// taker fee 20bps of 40 = 0.08, maker fee 10bps = 0.04
	if !p.TakerFee.Equal(d("0.08")) || !p.MakerFee.Equal(d("0.04")) {
		t.Errorf("fees = taker %s maker %s, want 0.08 / 0.04", p.TakerFee, p.MakerFee)
	}
	if !p.TakerHoldDebit.Equal(d("40.08")) {
		t.Errorf("taker hold debit = %s, want 40.08", p.TakerHoldDebit)
	}
	if !p.MakerHoldDebit.Equal(d("0.400")) {
		t.Errorf("maker hold debit = %s, want 0.400", p.MakerHoldDebit)
	}

	// Fee collector receives both fees.
	var collector decimal.Decimal
	for _, l := range p.Entry.Lines {
		if l.UserID == model.FeeCollectorUserID {
			collector = collector.Add(l.Amount)
		}
	}
	if !collector.Equal(d("0.12")) {
		t.Errorf("fee collector credit = %s, want 0.12", collector)
	}
}

func TestTradePosting_SellTakerSwapsRoles(t *testing.T) {
	m := testMarket()
	p := TradePosting(m, model.SideSell, "seller", "buyer", d("100.00"), d("0.400"), "exec-1", now)

	if !p.Entry.Balanced() {
		t.Fatal("entry must balance per asset")
	}
	// Taker is the seller: hold debit is base quantity.
	if !p.TakerHoldDebit.Equal(d("0.400")) {
		t.Errorf("taker hold debit = %s, want 0.400", p.TakerHoldDebit)
	}
	// Maker is the buyer: hold debit is notional + maker fee.
	if !p.MakerHoldDebit.Equal(d("40.04")) {
		t.Errorf("maker hold debit = %s, want 40.04", p.MakerHoldDebit)
	}

	// Base moves to the buyer.
	for _, l := range p.Entry.Lines {
		if l.UserID == "buyer" && l.AssetID == m.BaseAsset && !l.Amount.Equal(d("0.400")) {
			t.Errorf("buyer base line = %s, want 0.400", l.Amount)
		}
	}
}

func TestTradePosting_ZeroFeeOmitsFeeLines(t *testing.T) {
	m := testMarket()
	m.MakerFeeBps = 0
	m.TakerFeeBps = 0
	p := TradePosting(m, model.SideBuy, "b", "s", d("10"), d("1"), "exec-1", now)
	if len(p.Entry.Lines) != 4 {
		t.Errorf("expected 4 core lines without fees, got %d", len(p.Entry.Lines))
	}
	if !p.Entry.Balanced() {
		t.Error("entry must balance")
	}
}

func TestReserveBuyLimit(t *testing.T) {
	m := testMarket()
	// 100.00 * 0.400 = 40, taker fee 20bps = 0.08
	if got := ReserveBuyLimit(m, d("100.00"), d("0.400")); !got.Equal(d("40.08")) {
		t.Errorf("ReserveBuyLimit = %s, want 40.08", got)
	}
}

func TestReserveBuyMarket_DoubleFeeHeadroom(t *testing.T) {
	m := testMarket()
	// probe 40: maker 0.04 + taker 0.08 on top
	if got := ReserveBuyMarket(m, d("40")); !got.Equal(d("40.12")) {
		t.Errorf("ReserveBuyMarket = %s, want 40.12", got)
	}
}

func TestDepositPosting_Balances(t *testing.T) {
	e := DepositPosting("u1", "USD", d("1000"), "seed", now)
	if !e.Balanced() {
		t.Fatal("deposit entry must balance")
	}
	if len(e.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(e.Lines))
	}
}

// Property: every trade posting balances per asset and the reservation for
// a buy limit always covers the settled amount at or below the limit price.
func TestTradePosting_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := testMarket()
		m.MakerFeeBps = rapid.Int64Range(0, 100).Draw(t, "makerBps")
		m.TakerFeeBps = rapid.Int64Range(0, 100).Draw(t, "takerBps")

		limit := decimal.New(rapid.Int64Range(1, 100000).Draw(t, "limitCents"), -2)
		fillPrice := decimal.New(rapid.Int64Range(1, limit.Mul(d("100")).IntPart()).Draw(t, "fillCents"), -2)
		qty := decimal.New(rapid.Int64Range(1, 1000).Draw(t, "qtyLots"), -3)

		p := TradePosting(m, model.SideBuy, "taker", "maker", fillPrice, qty, "e", now)
		if !p.Entry.Balanced() {
			t.Fatalf("unbalanced entry: %+v", p.Entry.Lines)
		}

		reserve := ReserveBuyLimit(m, limit, qty)
		if p.TakerHoldDebit.GreaterThan(reserve) {
			t.Fatalf("settled %s exceeds reservation %s (limit %s, fill %s, qty %s)",
				p.TakerHoldDebit, reserve, limit, fillPrice, qty)
		}
	})
}
