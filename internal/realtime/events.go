package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/status"
)

type Kind string

const (
	KindOrderCreated            Kind = "order_created"
	KindOrderStatusChanged      Kind = "order_status_changed"
	KindOrderUpdated            Kind = "order_updated"
	KindItemStatusChanged       Kind = "item_status_changed"
	KindPromotionQuotaReleased  Kind = "promotion_quota_released"
	KindPromotionQuotaExhausted Kind = "promotion_quota_exhausted"
)

// Event is the closed set of notifications published after a committed
// change. Only types in this package implement it.
type Event interface {
	Kind() Kind
	// Key orders delivery: events sharing a key reach a subscriber in
	// publish order.
	Key() string
	isEvent()
}

type OrderCreated struct {
	Order *models.OrderHeader `json:"order"`
}

type OrderStatusChanged struct {
	Order *models.OrderHeader `json:"order"`
	From  status.OrderStatus  `json:"from"`
}

// OrderUpdated carries a header whose status did not move: totals after an
// item cancellation, customer field edits, a cash payment.
type OrderUpdated struct {
	Order *models.OrderHeader `json:"order"`
}

type ItemStatusChanged struct {
	OrderID       uuid.UUID            `json:"order_id"`
	ItemID        uuid.UUID            `json:"item_id"`
	KitchenStatus status.KitchenStatus `json:"kitchen_status"`
	IsCancelled   bool                 `json:"is_cancelled"`
	CancelledAt   *time.Time           `json:"cancelled_at,omitempty"`
	Version       int64                `json:"version"`
	Owner         identity.Identity    `json:"-"`
}

type PromotionQuotaReleased struct {
	Code      string `json:"code"`
	Remaining *int   `json:"remaining,omitempty"`
}

type PromotionQuotaExhausted struct {
	Code string `json:"code"`
}

func (OrderCreated) Kind() Kind            { return KindOrderCreated }
func (OrderStatusChanged) Kind() Kind      { return KindOrderStatusChanged }
func (OrderUpdated) Kind() Kind            { return KindOrderUpdated }
func (ItemStatusChanged) Kind() Kind       { return KindItemStatusChanged }
func (PromotionQuotaReleased) Kind() Kind  { return KindPromotionQuotaReleased }
func (PromotionQuotaExhausted) Kind() Kind { return KindPromotionQuotaExhausted }

func (e OrderCreated) Key() string            { return orderKey(e.Order.ID) }
func (e OrderStatusChanged) Key() string      { return orderKey(e.Order.ID) }
func (e OrderUpdated) Key() string            { return orderKey(e.Order.ID) }
func (e ItemStatusChanged) Key() string       { return orderKey(e.OrderID) }
func (e PromotionQuotaReleased) Key() string  { return "promo:" + e.Code }
func (e PromotionQuotaExhausted) Key() string { return "promo:" + e.Code }

func (OrderCreated) isEvent()            {}
func (OrderStatusChanged) isEvent()      {}
func (OrderUpdated) isEvent()            {}
func (ItemStatusChanged) isEvent()       {}
func (PromotionQuotaReleased) isEvent()  {}
func (PromotionQuotaExhausted) isEvent() {}

func orderKey(id uuid.UUID) string { return "order:" + id.String() }

// ItemChanged builds the item event from the committed order.
func ItemChanged(order *models.OrderHeader, d *models.OrderDetail) ItemStatusChanged {
	return ItemStatusChanged{
		OrderID:       order.ID,
		ItemID:        d.ID,
		KitchenStatus: d.KitchenStatus,
		IsCancelled:   d.IsCancelled,
		CancelledAt:   d.CancelledAt,
		Version:       order.Version,
		Owner:         order.Owner(),
	}
}
