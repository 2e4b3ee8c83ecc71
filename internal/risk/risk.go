// Package risk implements the admission controls evaluated before an order
// reaches the matching loop: market gating, open-order caps, notional caps,
// tick/lot validation, and the price-band circuit breaker. Every check is a
// pure function of the market, the request, and reference data supplied by
// the orchestrator, so the whole set is table-testable without storage.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/matchbook/exchange-engine/internal/model"
	"github.com/matchbook/exchange-engine/internal/numeric"
)

// CheckMarketOpen rejects orders on disabled or halted markets.
func CheckMarketOpen(m *model.Market, now time.Time) error {
	if m.Status != model.MarketEnabled {
		return model.Reject(model.CodeMarketDisabled, "market", m.Symbol)
	}
	if m.Halted(now) {
		return model.Reject(model.CodeMarketHalted,
			"market", m.Symbol, "halt_until", m.HaltUntil.UTC().Format(time.RFC3339))
	}
	return nil
}

// CheckOpenOrders enforces the per-user open-order cap.
func CheckOpenOrders(m *model.Market, openCount int) error {
	if m.MaxOpenOrders > 0 && openCount >= m.MaxOpenOrders {
		return model.Reject(model.CodeOpenOrdersLimit, "market", m.Symbol)
	}
	return nil
}

// CheckSteps validates that the request's price and quantities are exact
// multiples of the market's tick and lot sizes.
func CheckSteps(m *model.Market, req model.OrderRequest) error {
	if !numeric.IsMultipleOf(req.Quantity(), m.LotSize) {
		return model.Reject(model.CodeQtyNotMultipleOfLot,
			"quantity", req.Quantity().String(), "lot_size", m.LotSize.String())
	}
	if lr, ok := req.(model.LimitRequest); ok {
		if !numeric.IsMultipleOf(lr.Price, m.TickSize) {
			return model.Reject(model.CodePriceNotMultipleOfTick,
				"price", lr.Price.String(), "tick_size", m.TickSize.String())
		}
		if lr.IcebergDisplay.IsPositive() && !numeric.IsMultipleOf(lr.IcebergDisplay, m.LotSize) {
			return model.Reject(model.CodeIcebergInvalid,
				"iceberg_display_quantity", lr.IcebergDisplay.String(), "lot_size", m.LotSize.String())
		}
	}
	return nil
}

// CheckNotional enforces the per-order notional cap. Limit orders price at
// their limit; market orders use the best available reference price.
func CheckNotional(m *model.Market, req model.OrderRequest, refPrice decimal.Decimal) error {
	if !m.MaxNotional.IsPositive() {
		return nil
	}
	price := refPrice
	if lr, ok := req.(model.LimitRequest); ok {
		price = lr.Price
	}
	if !price.IsPositive() {
		// No reference price available for a market order; nothing to cap
		// against. The liquidity checks reject empty books separately.
		return nil
	}
	notional := numeric.MulCeil(price, req.Quantity())
	if notional.GreaterThan(m.MaxNotional) {
		return model.Reject(model.CodeNotionalTooLarge,
			"notional", notional.String(), "max_notional", m.MaxNotional.String())
	}
	return nil
}

// CheckBand rejects limit prices outside the market's price band around the
// reference price. A breach is the circuit-breaker trigger: the caller is
// expected to halt the market when this returns a rejection, outside the
// rolled-back placement transaction.
func CheckBand(m *model.Market, limitPrice, refPrice decimal.Decimal) error {
	if m.PriceBandBps <= 0 || !refPrice.IsPositive() || !limitPrice.IsPositive() {
		return nil
	}
	band := numeric.Fee(refPrice, m.PriceBandBps) // ceil(ref * bps / 1e4)
	if limitPrice.Sub(refPrice).Abs().GreaterThan(band) {
		return model.Reject(model.CodePriceOutOfBand,
			"price", limitPrice.String(), "reference", refPrice.String(), "band", band.String())
	}
	return nil
}

// ReferencePrice picks the band/notional reference: the last trade price
// when one exists, otherwise the mid of the best bid and ask, otherwise
// nothing.
func ReferencePrice(lastTrade, bestBid, bestAsk decimal.Decimal) (decimal.Decimal, bool) {
	if lastTrade.IsPositive() {
		return lastTrade, true
	}
	if bestBid.IsPositive() && bestAsk.IsPositive() {
		mid := bestBid.Add(bestAsk).Div(decimal.New(2, 0)).Round(numeric.Scale)
		return mid, true
	}
	return decimal.Zero, false
}

// Admit runs the full admission sequence: market gating, the open-order
// cap, the notional cap, tick/lot steps, then the price band.
func Admit(m *model.Market, req model.OrderRequest, openCount int, refPrice decimal.Decimal, now time.Time) error {
	if err := CheckMarketOpen(m, now); err != nil {
		return err
	}
	if err := CheckOpenOrders(m, openCount); err != nil {
		return err
	}
	if err := CheckNotional(m, req, refPrice); err != nil {
		return err
	}
	if err := CheckSteps(m, req); err != nil {
		return err
	}
	if lr, ok := req.(model.LimitRequest); ok {
		if err := CheckBand(m, lr.Price, refPrice); err != nil {
			return err
		}
	}
	return nil
}
