package status

import "fmt"

// OrderStatus is the header-level state of an order. Values are persisted and
// published as plain strings.
type OrderStatus string

const (
	Pending        OrderStatus = "pending"
	PendingPayment OrderStatus = "pending_payment"
	Paid           OrderStatus = "paid"
	Approved       OrderStatus = "approved"
	Preparing      OrderStatus = "preparing"
	Ready          OrderStatus = "ready"
	Completed      OrderStatus = "completed"
	Cancelled      OrderStatus = "cancelled"
	Closed         OrderStatus = "closed"
)

var orderStatuses = []OrderStatus{
	Pending, PendingPayment, Paid, Approved, Preparing, Ready, Completed, Cancelled, Closed,
}

// OrderStatuses lists every order status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, st := range orderStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s OrderStatus) Valid() bool {
	_, err := ParseOrderStatus(string(s))
	return err == nil
}

// Terminal reports whether no lifecycle edge leaves s other than archival.
func (s OrderStatus) Terminal() bool {
	return s == Completed || s == Cancelled || s == Closed
}

// AwaitingAcceptance is true while the owner may still cancel on their own.
func (s OrderStatus) AwaitingAcceptance() bool {
	return s == Pending || s == PendingPayment
}

// OrderEvent names a header transition. Status is never assigned directly,
// only through one of these events.
type OrderEvent string

const (
	Accept           OrderEvent = "accept"
	Reject           OrderEvent = "reject"
	ConfirmPayment   OrderEvent = "confirm_payment"
	BeginPreparation OrderEvent = "begin_preparation"
	FinishKitchen    OrderEvent = "kitchen_done"
	HandOver         OrderEvent = "hand_over"
	Cancel           OrderEvent = "cancel"
	Close            OrderEvent = "close"
)

var orderEvents = []OrderEvent{
	Accept, Reject, ConfirmPayment, BeginPreparation, FinishKitchen, HandOver, Cancel, Close,
}

func OrderEvents() []OrderEvent {
	out := make([]OrderEvent, len(orderEvents))
	copy(out, orderEvents)
	return out
}

// Next is the order transition table. It is total over (status, event):
// every pair returns either the target status and true, or ("", false).
func (s OrderStatus) Next(ev OrderEvent) (OrderStatus, bool) {
	switch ev {
	case Accept:
		if s == Pending {
			return Approved, true
		}
	case Reject:
		if s == Pending {
			return Cancelled, true
		}
	case ConfirmPayment:
		if s == PendingPayment {
			return Paid, true
		}
	case BeginPreparation:
		if s == Approved || s == Paid {
			return Preparing, true
		}
	case FinishKitchen:
		if s == Preparing {
			return Ready, true
		}
	case HandOver:
		if s == Ready {
			return Completed, true
		}
	case Cancel:
		if s.Valid() && !s.Terminal() {
			return Cancelled, true
		}
	case Close:
		if s == Completed || s == Cancelled {
			return Closed, true
		}
	}
	return "", false
}

// Allowed lists the events that have an edge out of s.
func (s OrderStatus) Allowed() []OrderEvent {
	var out []OrderEvent
	for _, ev := range orderEvents {
		if _, ok := s.Next(ev); ok {
			out = append(out, ev)
		}
	}
	return out
}
