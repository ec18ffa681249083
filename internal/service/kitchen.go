package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/status"
	"github.com/Skotchmaster/restaurant/pkg/logging"
)

// ItemTracker drives the per-line kitchen state machine. Items move
// independently of the header, but not once the order is finished.
type ItemTracker struct {
	Engine *Engine
}

// Transition applies ev to one line. Cancelling recomputes the order totals
// and is also open to the owner while the order awaits acceptance.
func (t *ItemTracker) Transition(ctx context.Context, op Op, itemID uuid.UUID, ev status.ItemEvent) (*models.OrderHeader, error) {
	l := logging.FromContext(ctx).With("svc", "kitchen."+string(ev), "order_id", op.OrderID, "item_id", itemID, "actor", op.Actor.String())

	order, err := t.Engine.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if err := authorizeItem(op.Actor, o, ev); err != nil {
			return outcome{}, err
		}
		d := o.Detail(itemID)
		if d == nil {
			return outcome{}, fmt.Errorf("%w: item %s in order %s", ErrNotFound, itemID, o.ID)
		}
		if o.Status.Terminal() {
			return outcome{}, &ItemError{ItemID: itemID, Status: d.KitchenStatus, Event: ev,
				Err: fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)}
		}

		if ev == status.CancelItem {
			return t.cancel(o, d)
		}

		if d.IsCancelled {
			return outcome{}, &ItemError{ItemID: itemID, Status: d.KitchenStatus, Event: ev, Err: ErrInvalidTransition}
		}
		next, ok := d.KitchenStatus.Next(ev)
		if !ok {
			return outcome{}, &ItemError{ItemID: itemID, Status: d.KitchenStatus, Event: ev, Err: ErrInvalidTransition}
		}
		d.KitchenStatus = next
		return outcome{details: []uuid.UUID{d.ID}, items: []uuid.UUID{d.ID}}, nil
	})
	if err != nil {
		l.Info("item_transition_rejected", "error", err)
		return nil, err
	}
	l.Info("item_transition_ok", "version", order.Version)
	return order, nil
}

// CancelItem is Transition with the cancel event.
func (t *ItemTracker) CancelItem(ctx context.Context, op Op, itemID uuid.UUID) (*models.OrderHeader, error) {
	return t.Transition(ctx, op, itemID, status.CancelItem)
}

func (t *ItemTracker) cancel(o *models.OrderHeader, d *models.OrderDetail) (outcome, error) {
	if d.IsCancelled {
		return outcome{noop: true}, nil
	}
	next, ok := d.KitchenStatus.Next(status.CancelItem)
	if !ok {
		return outcome{}, &ItemError{ItemID: d.ID, Status: d.KitchenStatus, Event: status.CancelItem, Err: ErrItemNotCancellable}
	}

	now := t.Engine.now()
	d.KitchenStatus = next
	d.IsCancelled = true
	d.CancelledAt = &now
	recomputeTotals(o)

	return outcome{details: []uuid.UUID{d.ID}, items: []uuid.UUID{d.ID}, updated: true}, nil
}

func authorizeItem(a Actor, o *models.OrderHeader, ev status.ItemEvent) error {
	if a.IsStaff() {
		return nil
	}
	if ev == status.CancelItem && a.owns(o) {
		if o.Status.AwaitingAcceptance() {
			return nil
		}
		return fmt.Errorf("%w: order %s is already %s", ErrUnauthorized, o.ID, o.Status)
	}
	return fmt.Errorf("%w: kitchen actions are staff only", ErrUnauthorized)
}
