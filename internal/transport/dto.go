package transport

import "github.com/Skotchmaster/restaurant/internal/models"

type CheckoutOption struct {
	Name       string `json:"name"`
	Value      string `json:"value"`
	ExtraPrice int64  `json:"extra_price"`
}

// CheckoutItem is the frozen cart line handed over by the catalog.
type CheckoutItem struct {
	MenuItemID string           `json:"menu_item_id"`
	Name       string           `json:"name"`
	Image      string           `json:"image"`
	UnitPrice  int64            `json:"unit_price"`
	Quantity   int              `json:"quantity"`
	Options    []CheckoutOption `json:"options"`
}

type CheckoutRequest struct {
	Channel       models.Channel       `json:"channel"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	CustomerName  string               `json:"customer_name"`
	CustomerPhone string               `json:"customer_phone"`
	CustomerNote  string               `json:"customer_note"`
	PromotionCode string               `json:"promotion_code"`
	Items         []CheckoutItem       `json:"items"`
}

// CustomerInfoRequest changes only the fields that are set.
type CustomerInfoRequest struct {
	Name            *string `json:"customer_name"`
	Phone           *string `json:"customer_phone"`
	Note            *string `json:"customer_note"`
	ExpectedVersion int64   `json:"expected_version"`
}

type TransitionRequest struct {
	ExpectedVersion int64                `json:"expected_version"`
	PaymentMethod   models.PaymentMethod `json:"payment_method"`
}

type Quote struct {
	Code     string `json:"code"`
	Amount   int64  `json:"amount"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
}

type OrderList struct {
	Items  []models.OrderHeader `json:"items"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}
