// Package ledger sizes order reservations and builds the double-entry
// journal postings for trades. Every entry it produces sums to zero per
// asset; callers persist entries as-is and never mutate them.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matchbook/exchange-engine/internal/model"
	"github.com/matchbook/exchange-engine/internal/numeric"
)

// HoldAsset returns the asset an order's reservation is taken in: the quote
// asset for buys, the base asset for sells.
func HoldAsset(m *model.Market, side model.Side) string {
	if side == model.SideBuy {
		return m.QuoteAsset
	}
	return m.BaseAsset
}

// ReserveBuyLimit is the maximum quote a buy limit can consume: the
// ceiling-rounded notional plus the taker fee on it.
func ReserveBuyLimit(m *model.Market, price, qty decimal.Decimal) decimal.Decimal {
	notional := numeric.MulCeil(price, qty)
	return notional.Add(numeric.Fee(notional, m.TakerFeeBps))
}

// ReserveBuyMarket sizes a buy market order's reservation from a liquidity
// probe of the live ask book. Both the maker-fee equivalent and the taker
// fee are added on top of the probed cost; the double headroom is
// deliberate, the reservation must never come in under the settled amount.
func ReserveBuyMarket(m *model.Market, probeCost decimal.Decimal) decimal.Decimal {
	return probeCost.
		Add(numeric.Fee(probeCost, m.MakerFeeBps)).
		Add(numeric.Fee(probeCost, m.TakerFeeBps))
}

// ReserveSell is the base quantity itself.
func ReserveSell(qty decimal.Decimal) decimal.Decimal {
	return qty
}

// Posting is the ledger effect of one fill: the journal entry plus the
// amounts to debit from each side's hold.
type Posting struct {
	Entry          *model.JournalEntry
	Notional       decimal.Decimal
	MakerFee       decimal.Decimal
	TakerFee       decimal.Decimal
	TakerHoldDebit decimal.Decimal
	MakerHoldDebit decimal.Decimal
}

// TradePosting builds the journal entry for a single fill at price x qty
// between takerUser and makerUser. Core lines move the base quantity and
// the quote notional between buyer and seller; fee lines debit each side
// and credit the fee collector. Lines sum to zero per asset.
func TradePosting(m *model.Market, takerSide model.Side, takerUser, makerUser string,
	price, qty decimal.Decimal, execID string, now time.Time) Posting {

	notional := numeric.MulHalfUp(price, qty)
	makerFee := numeric.Fee(notional, m.MakerFeeBps)
	takerFee := numeric.Fee(notional, m.TakerFeeBps)

	buyer, seller := takerUser, makerUser
	buyerFee, sellerFee := takerFee, makerFee
	if takerSide == model.SideSell {
		buyer, seller = makerUser, takerUser
		buyerFee, sellerFee = makerFee, takerFee
	}

	lines := []model.JournalLine{
		{UserID: buyer, AssetID: m.BaseAsset, Amount: qty},
		{UserID: seller, AssetID: m.BaseAsset, Amount: qty.Neg()},
		{UserID: buyer, AssetID: m.QuoteAsset, Amount: notional.Neg()},
		{UserID: seller, AssetID: m.QuoteAsset, Amount: notional},
	}
	if buyerFee.IsPositive() {
		lines = append(lines, model.JournalLine{UserID: buyer, AssetID: m.QuoteAsset, Amount: buyerFee.Neg()})
	}
	if sellerFee.IsPositive() {
		lines = append(lines, model.JournalLine{UserID: seller, AssetID: m.QuoteAsset, Amount: sellerFee.Neg()})
	}
	if fees := buyerFee.Add(sellerFee); fees.IsPositive() {
		lines = append(lines, model.JournalLine{UserID: model.FeeCollectorUserID, AssetID: m.QuoteAsset, Amount: fees})
	}

	p := Posting{
		Entry: &model.JournalEntry{
			ID:        uuid.New().String(),
			Kind:      "trade",
			RefID:     execID,
			Lines:     lines,
			CreatedAt: now,
		},
		Notional: notional,
		MakerFee: makerFee,
		TakerFee: takerFee,
	}

	// A buy-side hold is in quote and settles notional plus that side's
	// fee; a sell-side hold is in base and settles the filled quantity.
	if takerSide == model.SideBuy {
		p.TakerHoldDebit = notional.Add(takerFee)
		p.MakerHoldDebit = qty
	} else {
		p.TakerHoldDebit = qty
		p.MakerHoldDebit = notional.Add(makerFee)
	}
	return p
}

// DepositPosting credits a user account from the treasury. Used at
// bootstrap and by the funding surface; keeps every balance explainable as
// a sum of balanced entries.
func DepositPosting(userID, assetID string, amount decimal.Decimal, refID string, now time.Time) *model.JournalEntry {
	return &model.JournalEntry{
		ID:    uuid.New().String(),
		Kind:  "deposit",
		RefID: refID,
		Lines: []model.JournalLine{
			{UserID: userID, AssetID: assetID, Amount: amount},
			{UserID: model.TreasuryUserID, AssetID: assetID, Amount: amount.Neg()},
		},
		CreatedAt: now,
	}
}
