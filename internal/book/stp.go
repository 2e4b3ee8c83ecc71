package book

import (
	"strings"

	"github.com/matchbook/exchange-engine/internal/model"
)

// ResolveSelfTrade applies the self-trade-prevention policy before matching.
// It returns the resting order IDs to cancel, or a rejection of the incoming
// order. The resting order is always the older party, so cancel_oldest
// cancels resting orders and cancel_newest rejects the taker; cancel_both
// does both, which under all-or-nothing placement surfaces as a rejection
// carrying the resting IDs.
func ResolveSelfTrade(policy model.STPPolicy, t Taker, makers []*model.Order) (cancelRestingIDs []string, err error) {
	if policy == model.STPNone {
		return nil, nil
	}

	var own []string
	for _, e := range eligible(t, makers) {
		if e.order.UserID == t.UserID && Crosses(t, e.order.Price) {
			own = append(own, e.order.ID)
		}
	}
	if len(own) == 0 {
		return nil, nil
	}

	switch policy {
	case model.STPCancelOldest:
		return own, nil
	case model.STPCancelNewest:
		return nil, model.Reject(model.CodeSTPCancelNewest,
			"resting_order_ids", strings.Join(own, ","))
	case model.STPCancelBoth:
		return nil, model.Reject(model.CodeSTPCancelBoth,
			"resting_order_ids", strings.Join(own, ","))
	default:
		return nil, model.Reject(model.CodeInvalidInput, "field", "stp", "reason", "unknown")
	}
}
