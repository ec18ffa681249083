package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Skotchmaster/restaurant/internal/status"
)

var (
	ErrValidation = errors.New("validation")
	ErrNotFound   = errors.New("not found")

	ErrInvalidTransition      = errors.New("invalid transition")
	ErrItemNotCancellable     = errors.New("item not cancellable")
	ErrConcurrentModification = errors.New("order was modified concurrently")
	ErrUnauthorized           = errors.New("not allowed for this actor")

	ErrPromotionNotFound    = errors.New("promotion not found")
	ErrPromotionExpired     = errors.New("promotion expired")
	ErrPromotionNotEligible = errors.New("order is below the promotion minimum")
	ErrQuotaExhausted       = errors.New("promotion quota is full")
	ErrPerUserLimitExceeded = errors.New("promotion already used the maximum number of times")

	// ErrPaymentRequired blocks hand-over of an unpaid order.
	ErrPaymentRequired = fmt.Errorf("%w: payment not received", ErrInvalidTransition)
)

// TransitionError describes a rejected header transition.
type TransitionError struct {
	OrderID uuid.UUID
	From    status.OrderStatus
	Event   status.OrderEvent
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: %s is not allowed from %s", e.OrderID, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ItemError describes a rejected kitchen transition. It unwraps to
// ErrItemNotCancellable or ErrInvalidTransition.
type ItemError struct {
	ItemID uuid.UUID
	Status status.KitchenStatus
	Event  status.ItemEvent
	Err    error
}

func (e *ItemError) Error() string {
	if errors.Is(e.Err, ErrItemNotCancellable) {
		switch e.Status {
		case status.KitchenCooking:
			return "this item is already being cooked"
		case status.KitchenDone:
			return "this item has already been prepared"
		}
	}
	return fmt.Sprintf("item %s: %s is not allowed from %s", e.ItemID, e.Event, e.Status)
}

func (e *ItemError) Unwrap() error { return e.Err }
