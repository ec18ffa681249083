package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/status"
)

type Channel string

const (
	ChannelPickup   Channel = "pickup"
	ChannelDineIn   Channel = "dine_in"
	ChannelDelivery Channel = "delivery"
)

func (c Channel) Valid() bool {
	return c == ChannelPickup || c == ChannelDineIn || c == ChannelDelivery
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentQR       PaymentMethod = "qr"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCard     PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentQR, PaymentTransfer, PaymentCard:
		return true
	}
	return false
}

// Prepaid methods must be settled before staff see the order as payable work.
func (m PaymentMethod) Prepaid() bool {
	return m != PaymentCash
}

// OrderHeader is one customer transaction. Money fields are minor units.
type OrderHeader struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"          json:"id"`
	OrderCode  string    `gorm:"uniqueIndex;not null"          json:"order_code"`
	PickupCode string    `gorm:"not null"                      json:"pickup_code"`
	Channel    Channel   `gorm:"type:varchar(16);not null"     json:"channel"`

	OwnerUserID *string `gorm:"index"                         json:"owner_user_id,omitempty"`
	GuestToken  *string `gorm:"index"                         json:"-"`

	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	CustomerNote  string `json:"customer_note"`

	Status status.OrderStatus `gorm:"type:varchar(24);index;not null" json:"status"`

	SubTotal int64 `gorm:"not null;default:0" json:"sub_total"`
	Discount int64 `gorm:"not null;default:0" json:"discount"`
	Total    int64 `gorm:"not null;default:0" json:"total"`

	PromotionCode    *string       `gorm:"index"                 json:"promotion_code,omitempty"`
	PromotionUsageID *uuid.UUID    `gorm:"type:uuid"             json:"promotion_usage_id,omitempty"`
	PaymentMethod    PaymentMethod `gorm:"type:varchar(16);not null" json:"payment_method"`

	CreatedAt   time.Time  `gorm:"index"  json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	PreparingAt *time.Time `json:"preparing_at,omitempty"`
	ReadyAt     *time.Time `json:"ready_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`

	Version   int64          `gorm:"not null;default:1" json:"version"`
	DeletedAt gorm.DeletedAt `gorm:"index"              json:"-"`

	Details []OrderDetail `gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"details"`
}

func (OrderHeader) TableName() string {
	return "order_headers"
}

func (o *OrderHeader) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Version == 0 {
		o.Version = 1
	}
	return nil
}

func (o *OrderHeader) Owner() identity.Identity {
	var id identity.Identity
	if o.OwnerUserID != nil {
		id.UserID = *o.OwnerUserID
	}
	if o.GuestToken != nil {
		id.GuestToken = *o.GuestToken
	}
	return id
}

func (o *OrderHeader) SetOwner(id identity.Identity) {
	o.OwnerUserID, o.GuestToken = nil, nil
	if id.UserID != "" {
		v := id.UserID
		o.OwnerUserID = &v
		return
	}
	if id.GuestToken != "" {
		v := id.GuestToken
		o.GuestToken = &v
	}
}

func (o *OrderHeader) Detail(id uuid.UUID) *OrderDetail {
	for i := range o.Details {
		if o.Details[i].ID == id {
			return &o.Details[i]
		}
	}
	return nil
}

// Clone returns a deep copy so cached views never share slices with the
// writer.
func (o *OrderHeader) Clone() *OrderHeader {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Details = make([]OrderDetail, len(o.Details))
	for i := range o.Details {
		cp.Details[i] = o.Details[i]
		cp.Details[i].Options = append([]OrderDetailOption(nil), o.Details[i].Options...)
	}
	return &cp
}

// OrderDetail is one line item. Menu fields are a snapshot taken at checkout.
type OrderDetail struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"     json:"id"`
	OrderID uuid.UUID `gorm:"type:uuid;index;not null" json:"order_id"`

	// Position is the line's index in the cart; lines are always listed by it.
	Position int `gorm:"not null;default:0" json:"position"`

	MenuItemID    string `gorm:"not null" json:"menu_item_id"`
	MenuItemName  string `gorm:"not null" json:"menu_item_name"`
	MenuItemImage string `json:"menu_item_image"`
	UnitPrice     int64  `gorm:"not null" json:"unit_price"`
	Quantity      int    `gorm:"not null;check:quantity>0" json:"quantity"`

	Options    []OrderDetailOption `gorm:"foreignKey:OrderDetailID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"options"`
	TotalPrice int64               `gorm:"not null" json:"total_price"`

	KitchenStatus status.KitchenStatus `gorm:"type:varchar(16);not null" json:"kitchen_status"`
	IsCancelled   bool                 `gorm:"not null;default:false"    json:"is_cancelled"`
	CancelledAt   *time.Time           `json:"cancelled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OrderDetail) TableName() string {
	return "order_details"
}

func (d *OrderDetail) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// LinePrice is (unit price + option extras) * quantity. ok is false for
// negative inputs or a result that does not fit in int64.
func (d *OrderDetail) LinePrice() (price int64, ok bool) {
	if d.UnitPrice < 0 || d.Quantity < 0 {
		return 0, false
	}
	unit := d.UnitPrice
	for _, opt := range d.Options {
		if unit, ok = AddAmounts(unit, opt.ExtraPrice); !ok {
			return 0, false
		}
	}
	q := int64(d.Quantity)
	if q != 0 && unit > math.MaxInt64/q {
		return 0, false
	}
	return unit * q, true
}

// AddAmounts adds two non-negative amounts, reporting overflow.
func AddAmounts(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

type OrderDetailOption struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"     json:"id"`
	OrderDetailID uuid.UUID `gorm:"type:uuid;index;not null" json:"order_detail_id"`
	Name          string    `gorm:"not null"                 json:"name"`
	Value         string    `gorm:"not null"                 json:"value"`
	ExtraPrice    int64     `gorm:"not null;default:0"       json:"extra_price"`
}

func (OrderDetailOption) TableName() string {
	return "order_detail_options"
}

func (o *OrderDetailOption) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed_amount"
)

// Promotion is owned by the catalog; this service only reads it and moves
// CurrentUsageCount.
type Promotion struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"          json:"id"`
	Code            string          `gorm:"uniqueIndex;not null"          json:"code"`
	DiscountType    DiscountType    `gorm:"type:varchar(16);not null"     json:"discount_type"`
	DiscountValue   decimal.Decimal `gorm:"type:numeric(12,2);not null"   json:"discount_value"`
	MinOrderAmount  int64           `gorm:"not null;default:0"            json:"min_order_amount"`
	StartsAt        *time.Time      `json:"starts_at,omitempty"`
	EndsAt          *time.Time      `json:"ends_at,omitempty"`
	MaxUsageCount   *int            `json:"max_usage_count,omitempty"`
	MaxUsagePerUser *int            `json:"max_usage_per_user,omitempty"`

	CurrentUsageCount int `gorm:"not null;default:0;check:current_usage_count>=0" json:"current_usage_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Promotion) TableName() string {
	return "promotions"
}

func (p *Promotion) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PromotionUsage records one redemption by one identity. Released rows no
// longer count against the per-identity cap.
type PromotionUsage struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"               json:"id"`
	PromotionID    uuid.UUID  `gorm:"type:uuid;index:idx_usage_identity;not null" json:"promotion_id"`
	Code           string     `gorm:"not null"                           json:"code"`
	Identity       string     `gorm:"index:idx_usage_identity;not null"  json:"identity"`
	OrderID        *uuid.UUID `gorm:"type:uuid;index"                    json:"order_id,omitempty"`
	DiscountAmount int64      `gorm:"not null"                           json:"discount_amount"`
	CreatedAt      time.Time  `json:"created_at"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`
}

func (PromotionUsage) TableName() string {
	return "promotion_usages"
}

func (u *PromotionUsage) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// All is the migration set for this service.
func All() []any {
	return []any{&OrderHeader{}, &OrderDetail{}, &OrderDetailOption{}, &Promotion{}, &PromotionUsage{}}
}
