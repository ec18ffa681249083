package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/status"
	"github.com/Skotchmaster/restaurant/internal/transport"
	"github.com/Skotchmaster/restaurant/pkg/logging"
)

// step applies ev to o.Status or fails without touching o.
func step(o *models.OrderHeader, ev status.OrderEvent) error {
	next, ok := o.Status.Next(ev)
	if !ok {
		return &TransitionError{OrderID: o.ID, From: o.Status, Event: ev}
	}
	o.Status = next
	return nil
}

func requireStaff(a Actor) error {
	if !a.IsStaff() {
		return fmt.Errorf("%w: staff only", ErrUnauthorized)
	}
	return nil
}

func (e *Engine) logged(ctx context.Context, op Op, name string, order *models.OrderHeader, err error) (*models.OrderHeader, error) {
	l := logging.FromContext(ctx).With("svc", "order."+name, "order_id", op.OrderID, "actor", op.Actor.String())
	if err != nil {
		l.Info("order_transition_rejected", "error", err)
		return nil, err
	}
	l.Info("order_transition_ok", "status", order.Status, "version", order.Version)
	return order, nil
}

func (e *Engine) Accept(ctx context.Context, op Op) (*models.OrderHeader, error) {
	order, err := e.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if err := requireStaff(op.Actor); err != nil {
			return outcome{}, err
		}
		if err := step(o, status.Accept); err != nil {
			return outcome{}, err
		}
		now := e.now()
		o.ApprovedAt = &now
		return outcome{}, nil
	})
	return e.logged(ctx, op, "accept", order, err)
}

func (e *Engine) Reject(ctx context.Context, op Op) (*models.OrderHeader, error) {
	order, err := e.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if err := requireStaff(op.Actor); err != nil {
			return outcome{}, err
		}
		if err := step(o, status.Reject); err != nil {
			return outcome{}, err
		}
		return e.voidOrder(o), nil
	})
	return e.logged(ctx, op, "reject", order, err)
}

// Cancel voids the order. Staff and the system may cancel any non-terminal
// order; owners only while it awaits acceptance.
func (e *Engine) Cancel(ctx context.Context, op Op) (*models.OrderHeader, error) {
	order, err := e.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if op.Actor.Kind == ActorOwner && !o.Status.AwaitingAcceptance() {
			return outcome{}, fmt.Errorf("%w: order %s is already %s", ErrUnauthorized, o.ID, o.Status)
		}
		if err := step(o, status.Cancel); err != nil {
			return outcome{}, err
		}
		return e.voidOrder(o), nil
	})
	return e.logged(ctx, op, "cancel", order, err)
}

// voidOrder cancels every active line and zeroes the totals. An unpaid
// order gives its promotion slot back once the cancellation is committed.
func (e *Engine) voidOrder(o *models.OrderHeader) outcome {
	now := e.now()
	o.CancelledAt = &now

	var out outcome
	for i := range o.Details {
		d := &o.Details[i]
		if d.IsCancelled {
			continue
		}
		d.IsCancelled = true
		d.CancelledAt = &now
		if d.KitchenStatus.Cancellable() {
			d.KitchenStatus = status.KitchenCancelled
		}
		out.details = append(out.details, d.ID)
	}
	recomputeTotals(o)

	if o.PaidAt == nil && o.PromotionUsageID != nil && e.Ledger != nil {
		usage := *o.PromotionUsageID
		out.after = func(ctx context.Context, _ *models.OrderHeader) {
			if err := e.Ledger.Release(context.WithoutCancel(ctx), usage); err != nil {
				logging.FromContext(ctx).Error("promotion_release_failed", "usage_id", usage, "error", err)
			}
		}
	}
	return out
}

// ConfirmPayment records payment. On an order awaiting prepayment it moves
// it to Paid; on an accepted unpaid order it records the cash; on an order
// that is already paid it changes nothing.
func (e *Engine) ConfirmPayment(ctx context.Context, op Op, method models.PaymentMethod) (*models.OrderHeader, error) {
	order, err := e.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if !op.Actor.IsStaff() && !op.Actor.IsSystem() {
			return outcome{}, fmt.Errorf("%w: payment is confirmed by staff or the payment system", ErrUnauthorized)
		}
		if method != "" && !method.Valid() {
			return outcome{}, fmt.Errorf("%w: unknown payment method %q", ErrValidation, method)
		}
		// Voided orders take no payment, even if they were paid before.
		if o.Status == status.Cancelled || o.CancelledAt != nil {
			return outcome{}, &TransitionError{OrderID: o.ID, From: o.Status, Event: status.ConfirmPayment}
		}
		if o.PaidAt != nil {
			return outcome{noop: true}, nil
		}

		if o.Status == status.PendingPayment {
			if err := step(o, status.ConfirmPayment); err != nil {
				return outcome{}, err
			}
		} else if !receivable(o.Status) {
			return outcome{}, &TransitionError{OrderID: o.ID, From: o.Status, Event: status.ConfirmPayment}
		}

		now := e.now()
		o.PaidAt = &now
		if method != "" {
			o.PaymentMethod = method
		}
		return outcome{updated: true}, nil
	})
	return e.logged(ctx, op, "confirm_payment", order, err)
}

// ReceivePayment is the counter's "receive cash" step.
func (e *Engine) ReceivePayment(ctx context.Context, op Op) (*models.OrderHeader, error) {
	order, err := e.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if err := requireStaff(op.Actor); err != nil {
			return outcome{}, err
		}
		if o.PaidAt != nil {
			return outcome{noop: true}, nil
		}
		if !receivable(o.Status) {
			return outcome{}, &TransitionError{OrderID: o.ID, From: o.Status, Event: status.ConfirmPayment}
		}
		now := e.now()
		o.PaidAt = &now
		return outcome{updated: true}, nil
	})
	return e.logged(ctx, op, "receive_payment", order, err)
}

func receivable(s status.OrderStatus) bool {
	return s == status.Approved || s == status.Preparing || s == status.Ready
}

// BeginPreparation starts the kitchen and queues every line not yet queued.
func (e *Engine) BeginPreparation(ctx context.Context, op Op) (*models.OrderHeader, error) {
	order, err := e.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if err := requireStaff(op.Actor); err != nil {
			return outcome{}, err
		}
		if err := step(o, status.BeginPreparation); err != nil {
			return outcome{}, err
		}
		now := e.now()
		o.PreparingAt = &now

		var out outcome
		for i := range o.Details {
			d := &o.Details[i]
			if d.IsCancelled {
				continue
			}
			if next, ok := d.KitchenStatus.Next(status.Queue); ok {
				d.KitchenStatus = next
				out.details = append(out.details, d.ID)
				out.items = append(out.items, d.ID)
			}
		}
		return out, nil
	})
	return e.logged(ctx, op, "begin_preparation", order, err)
}

func (e *Engine) KitchenDone(ctx context.Context, op Op) (*models.OrderHeader, error) {
	order, err := e.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if err := requireStaff(op.Actor); err != nil {
			return outcome{}, err
		}
		if err := step(o, status.FinishKitchen); err != nil {
			return outcome{}, err
		}
		now := e.now()
		o.ReadyAt = &now
		return outcome{}, nil
	})
	return e.logged(ctx, op, "kitchen_done", order, err)
}

// HandOver completes a ready order. Payment must have been recorded first.
func (e *Engine) HandOver(ctx context.Context, op Op) (*models.OrderHeader, error) {
	order, err := e.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if err := requireStaff(op.Actor); err != nil {
			return outcome{}, err
		}
		if _, ok := o.Status.Next(status.HandOver); ok && o.PaidAt == nil {
			return outcome{}, fmt.Errorf("order %s: %w", o.ID, ErrPaymentRequired)
		}
		if err := step(o, status.HandOver); err != nil {
			return outcome{}, err
		}
		now := e.now()
		o.CompletedAt = &now
		return outcome{}, nil
	})
	return e.logged(ctx, op, "hand_over", order, err)
}

// Close archives a finished order administratively.
func (e *Engine) Close(ctx context.Context, op Op) (*models.OrderHeader, error) {
	order, err := e.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if !op.Actor.IsAdmin() {
			return outcome{}, fmt.Errorf("%w: admin only", ErrUnauthorized)
		}
		if err := step(o, status.Close); err != nil {
			return outcome{}, err
		}
		now := e.now()
		o.ClosedAt = &now
		return outcome{}, nil
	})
	return e.logged(ctx, op, "close", order, err)
}

// Archive soft-deletes a closed order.
func (e *Engine) Archive(ctx context.Context, op Op) error {
	l := logging.FromContext(ctx).With("svc", "order.archive", "order_id", op.OrderID)

	if !op.Actor.IsAdmin() {
		return fmt.Errorf("%w: admin only", ErrUnauthorized)
	}
	order, err := e.load(ctx, op.OrderID)
	if err != nil {
		return err
	}
	if order.Status != status.Closed {
		return fmt.Errorf("%w: order %s is %s, only closed orders are archived", ErrInvalidTransition, order.ID, order.Status)
	}
	expected := order.Version
	if op.ExpectedVersion != 0 {
		expected = op.ExpectedVersion
	}

	dctx, cancel := e.Timeouts.db(ctx)
	defer cancel()
	if err := e.Repo.ArchiveOrder(dctx, order.ID, expected); err != nil {
		return e.storageErr(err, order.ID)
	}
	l.Info("order_archived")
	return nil
}

// UpdateCustomerInfo edits name, phone and note. It is not a transition.
func (e *Engine) UpdateCustomerInfo(ctx context.Context, op Op, req transport.CustomerInfoRequest) (*models.OrderHeader, error) {
	order, err := e.mutate(ctx, op, func(o *models.OrderHeader) (outcome, error) {
		if !op.Actor.IsStaff() && !op.Actor.owns(o) {
			return outcome{}, fmt.Errorf("%w: owner or staff only", ErrUnauthorized)
		}
		if o.Status.Terminal() {
			return outcome{}, fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.Status)
		}

		changed := false
		set := func(dst *string, src *string, limit int, field string) error {
			if src == nil {
				return nil
			}
			v := strings.TrimSpace(*src)
			if len(v) > limit {
				return fmt.Errorf("%w: %s longer than %d", ErrValidation, field, limit)
			}
			if v != *dst {
				*dst = v
				changed = true
			}
			return nil
		}
		if err := set(&o.CustomerName, req.Name, 120, "customer_name"); err != nil {
			return outcome{}, err
		}
		if err := set(&o.CustomerPhone, req.Phone, 32, "customer_phone"); err != nil {
			return outcome{}, err
		}
		if err := set(&o.CustomerNote, req.Note, 500, "customer_note"); err != nil {
			return outcome{}, err
		}
		return outcome{noop: !changed, updated: true}, nil
	})
	return e.logged(ctx, op, "update_customer", order, err)
}

// ExpireUnpaid cancels orders still awaiting prepayment that were created
// before cutoff. Orders that moved on meanwhile are skipped.
func (e *Engine) ExpireUnpaid(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	l := logging.FromContext(ctx).With("svc", "order.expire_unpaid")

	dctx, cancel := e.Timeouts.db(ctx)
	stale, err := e.Repo.ListUnpaidBefore(dctx, cutoff, limit)
	cancel()
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, o := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		op := Op{OrderID: o.ID, Actor: System(), ExpectedVersion: o.Version}
		if _, err := e.Cancel(ctx, op); err != nil {
			l.Info("expire_skipped", "order_id", o.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}
