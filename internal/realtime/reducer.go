package realtime

import (
	"github.com/google/uuid"

	"github.com/Skotchmaster/restaurant/internal/models"
)

// ReduceOrder patches one cached order with ev and returns the new value.
// The input is never modified. ok is false when the event cannot be applied
// to what is cached (unknown order or item) and the caller has to refetch
// that order.
//
// Header-carrying events replace the cached header unless they are older
// than it; item events flip one item and are ignored when the cache already
// reflects their version.
func ReduceOrder(cached *models.OrderHeader, ev Event) (next *models.OrderHeader, ok bool) {
	switch e := ev.(type) {
	case OrderCreated:
		return replaceIfNewer(cached, e.Order), true
	case OrderStatusChanged:
		return replaceIfNewer(cached, e.Order), true
	case OrderUpdated:
		return replaceIfNewer(cached, e.Order), true
	case ItemStatusChanged:
		if cached == nil || cached.ID != e.OrderID {
			return cached, false
		}
		if e.Version <= cached.Version {
			return cached, true
		}
		next = cached.Clone()
		d := next.Detail(e.ItemID)
		if d == nil {
			return cached, false
		}
		d.KitchenStatus = e.KitchenStatus
		d.IsCancelled = d.IsCancelled || e.IsCancelled
		if e.CancelledAt != nil {
			at := *e.CancelledAt
			d.CancelledAt = &at
		}
		next.Version = e.Version
		return next, true
	}
	return cached, true
}

func replaceIfNewer(cached, incoming *models.OrderHeader) *models.OrderHeader {
	if incoming == nil {
		return cached
	}
	if cached != nil && incoming.Version < cached.Version {
		return cached
	}
	return incoming.Clone()
}

// PromotionState is what a viewer showing a promotion needs to know.
type PromotionState struct {
	Code      string `json:"code"`
	Exhausted bool   `json:"exhausted"`
	Remaining *int   `json:"remaining,omitempty"`
}

func ReducePromotion(cached PromotionState, ev Event) PromotionState {
	switch e := ev.(type) {
	case PromotionQuotaExhausted:
		zero := 0
		return PromotionState{Code: e.Code, Exhausted: true, Remaining: &zero}
	case PromotionQuotaReleased:
		next := PromotionState{Code: e.Code}
		if e.Remaining != nil {
			r := *e.Remaining
			next.Remaining = &r
		}
		return next
	}
	return cached
}

// OrderID extracts the order an event concerns, if any.
func OrderID(ev Event) (uuid.UUID, bool) {
	switch e := ev.(type) {
	case OrderCreated:
		return e.Order.ID, true
	case OrderStatusChanged:
		return e.Order.ID, true
	case OrderUpdated:
		return e.Order.ID, true
	case ItemStatusChanged:
		return e.OrderID, true
	}
	return uuid.Nil, false
}
