package order

import (
	"github.com/ivanstrassberg/storefront/internal/types"
)

// Position of each non-cancelled status along the fulfilment path.
var rank = map[types.OrderStatus]int{
	types.OrderPending:    0,
	types.OrderProcessing: 1,
	types.OrderPaid:       2,
	types.OrderShipped:    3,
	types.OrderDelivered:  4,
}

func ValidStatus(s types.OrderStatus) bool {
	if s == types.OrderCancelled {
		return true
	}
	_, ok := rank[s]
	return ok
}

func Terminal(s types.OrderStatus) bool {
	return s == types.OrderDelivered || s == types.OrderCancelled
}

// CanTransition reports whether an order may move from one status to
// another. Forward moves may skip steps; CANCELLED is reachable from any
// non-terminal status. Non-strict mode allows any change between distinct
// statuses.
func CanTransition(from, to types.OrderStatus, strict bool) bool {
	if from == to || !ValidStatus(to) {
		return false
	}
	if !strict {
		return true
	}
	if Terminal(from) {
		return false
	}
	if to == types.OrderCancelled {
		return true
	}
	return rank[to] > rank[from]
}
