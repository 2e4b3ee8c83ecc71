package model

// Rejection codes returned to callers. Every rejection aborts the enclosing
// transaction and rolls back completely; none are retried by the engine.
const (
	// Validation: caught before any write.
	CodeInvalidInput           = "invalid_input"
	CodePriceNotMultipleOfTick = "price_not_multiple_of_tick"
	CodeQtyNotMultipleOfLot    = "quantity_not_multiple_of_lot"
	CodeIcebergInvalid         = "iceberg_invalid"

	// Conflict/replay: inspect prior state rather than retrying blindly.
	CodeIdempotencyConflict = "idempotency_key_conflict"
	CodeTradeStateConflict  = "trade_state_conflict"

	// Risk rejection.
	CodeNotionalTooLarge = "order_notional_too_large"
	CodePriceOutOfBand   = "exchange_price_out_of_band"
	CodeMarketHalted     = "market_halted"
	CodeMarketDisabled   = "market_disabled"
	CodeOpenOrdersLimit  = "open_orders_limit"
	CodeSTPCancelNewest  = "stp_cancel_newest"
	CodeSTPCancelBoth    = "stp_cancel_both"

	// Liquidity rejection: evaluated via dry-run before committing anything.
	CodeInsufficientLiquidity = "insufficient_liquidity"
	CodeFOKInsufficient       = "fok_insufficient_liquidity"
	CodePostOnlyWouldTake     = "post_only_would_take"

	// Balance rejection.
	CodeInsufficientBalance = "insufficient_balance"

	// Not-found / terminal-state errors on cancel and query paths.
	CodeOrderNotFound       = "order_not_found"
	CodeMarketNotFound      = "market_not_found"
	CodeOrderNotCancellable = "order_not_cancellable"
	CodeUserNotAllowed      = "user_not_allowed"

	CodeInternal = "internal_error"
)

// Rejection is the structured error contract: a machine-readable code plus
// details the HTTP layer serializes verbatim.
type Rejection struct {
	Code    string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func (r *Rejection) Error() string {
	return r.Code
}

// Reject builds a Rejection from a code and alternating key/value detail
// pairs.
func Reject(code string, kv ...string) *Rejection {
	r := &Rejection{Code: code}
	if len(kv) > 0 {
		r.Details = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			r.Details[kv[i]] = kv[i+1]
		}
	}
	return r
}

// AsRejection unwraps err into a Rejection. ok is false when err is not a
// structured rejection; callers on unexpected paths map that to an internal
// error rather than swallowing it.
func AsRejection(err error) (*Rejection, bool) {
	r, ok := err.(*Rejection)
	return r, ok
}
