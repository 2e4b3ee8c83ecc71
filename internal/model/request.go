package model

import "github.com/shopspring/decimal"

// OrderRequest is the closed union of admissible placement requests. Exactly
// two kinds exist: LimitRequest and MarketRequest. The sealed method keeps
// the union closed so orchestration code can switch exhaustively.
type OrderRequest interface {
	Symbol() string
	Side() Side
	Quantity() decimal.Decimal
	STP() STPPolicy

	// Validate performs the structural checks that need no market state.
	// Tick/lot and risk checks happen later, against the market.
	Validate() error

	sealedRequest()
}

// LimitRequest places a limit order. Iceberg fields are only valid on GTC
// limits; post-only is only valid on GTC limits.
type LimitRequest struct {
	MarketSymbol   string          `json:"symbol"`
	OrderSide      Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Qty            decimal.Decimal `json:"quantity"`
	TimeInForce    TimeInForce     `json:"time_in_force,omitempty"`
	PostOnly       bool            `json:"post_only,omitempty"`
	IcebergDisplay decimal.Decimal `json:"iceberg_display_quantity,omitempty"`
	STPPolicy      STPPolicy       `json:"stp,omitempty"`
}

func (r LimitRequest) Symbol() string            { return r.MarketSymbol }
func (r LimitRequest) Side() Side                { return r.OrderSide }
func (r LimitRequest) Quantity() decimal.Decimal { return r.Qty }
func (r LimitRequest) STP() STPPolicy            { return defaultSTP(r.STPPolicy) }
func (LimitRequest) sealedRequest()              {}

// TIF returns the effective time-in-force, defaulting to GTC.
func (r LimitRequest) TIF() TimeInForce {
	if r.TimeInForce == "" {
		return TimeInForceGTC
	}
	return r.TimeInForce
}

func (r LimitRequest) Validate() error {
	if err := validateCommon(r.MarketSymbol, r.OrderSide, r.Qty, r.STPPolicy); err != nil {
		return err
	}
	if !r.Price.IsPositive() {
		return Reject(CodeInvalidInput, "field", "price", "reason", "must_be_positive")
	}
	switch r.TIF() {
	case TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
	default:
		return Reject(CodeInvalidInput, "field", "time_in_force", "reason", "unknown")
	}
	if r.PostOnly && r.TIF() != TimeInForceGTC {
		return Reject(CodeInvalidInput, "field", "post_only", "reason", "requires_gtc")
	}
	if r.IcebergDisplay.IsNegative() {
		return Reject(CodeIcebergInvalid, "field", "iceberg_display_quantity", "reason", "negative")
	}
	if r.IcebergDisplay.IsPositive() {
		if r.TIF() != TimeInForceGTC {
			return Reject(CodeIcebergInvalid, "field", "iceberg_display_quantity", "reason", "requires_gtc")
		}
		if r.IcebergDisplay.GreaterThan(r.Qty) {
			return Reject(CodeIcebergInvalid, "field", "iceberg_display_quantity", "reason", "exceeds_quantity")
		}
	}
	return nil
}

// MarketRequest places a market order. Market orders carry no price, always
// execute with immediate-or-cancel semantics, and never rest on the book.
type MarketRequest struct {
	MarketSymbol string          `json:"symbol"`
	OrderSide    Side            `json:"side"`
	Qty          decimal.Decimal `json:"quantity"`
	STPPolicy    STPPolicy       `json:"stp,omitempty"`
}

func (r MarketRequest) Symbol() string            { return r.MarketSymbol }
func (r MarketRequest) Side() Side                { return r.OrderSide }
func (r MarketRequest) Quantity() decimal.Decimal { return r.Qty }
func (r MarketRequest) STP() STPPolicy            { return defaultSTP(r.STPPolicy) }
func (MarketRequest) sealedRequest()              {}

func (r MarketRequest) Validate() error {
	return validateCommon(r.MarketSymbol, r.OrderSide, r.Qty, r.STPPolicy)
}

func validateCommon(symbol string, side Side, qty decimal.Decimal, stp STPPolicy) error {
	if symbol == "" {
		return Reject(CodeInvalidInput, "field", "symbol", "reason", "required")
	}
	if side != SideBuy && side != SideSell {
		return Reject(CodeInvalidInput, "field", "side", "reason", "must_be_buy_or_sell")
	}
	if !qty.IsPositive() {
		return Reject(CodeInvalidInput, "field", "quantity", "reason", "must_be_positive")
	}
	switch stp {
	case "", STPNone, STPCancelOldest, STPCancelNewest, STPCancelBoth:
	default:
		return Reject(CodeInvalidInput, "field", "stp", "reason", "unknown")
	}
	return nil
}

func defaultSTP(p STPPolicy) STPPolicy {
	if p == "" {
		return STPCancelOldest
	}
	return p
}
