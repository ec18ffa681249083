package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/realtime"
	"github.com/Skotchmaster/restaurant/internal/repo"
	"github.com/Skotchmaster/restaurant/internal/status"
	"github.com/Skotchmaster/restaurant/internal/transport"
	"github.com/Skotchmaster/restaurant/pkg/logging"
)

// Timeouts bound every storage call and every publish. Zero values fall back
// to the defaults.
type Timeouts struct {
	DB      time.Duration
	Publish time.Duration
}

func (t Timeouts) db(ctx context.Context) (context.Context, context.CancelFunc) {
	d := t.DB
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

func (t Timeouts) publish(ctx context.Context) (context.Context, context.CancelFunc) {
	d := t.Publish
	if d <= 0 {
		d = 3 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

// publish is fire-and-forget: a committed change stays committed whatever
// the bus does.
func publish(ctx context.Context, p realtime.Publisher, t Timeouts, events ...realtime.Event) {
	if p == nil {
		return
	}
	l := logging.FromContext(ctx)
	for _, ev := range events {
		pctx, cancel := t.publish(ctx)
		err := p.Publish(pctx, ev)
		cancel()
		if err != nil {
			l.Warn("publish_failed", "kind", ev.Kind(), "key", ev.Key(), "error", err)
		}
	}
}

// Engine owns the order header state machine. It is safe for concurrent use;
// all its state is in the struct.
type Engine struct {
	Repo      *repo.GormRepo
	Ledger    *Ledger
	Publisher realtime.Publisher
	Timeouts  Timeouts
	Now       func() time.Time

	locks orderLocks
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Op addresses one order on behalf of an actor. A non-zero ExpectedVersion
// must match the stored version or the call fails with
// ErrConcurrentModification.
type Op struct {
	OrderID         uuid.UUID
	Actor           Actor
	ExpectedVersion int64
}

// outcome is what a mutation did to the order copy it was handed.
type outcome struct {
	noop bool
	// details lists line items whose kitchen fields must be written.
	details []uuid.UUID
	// items are announced one by one after the header event.
	items []uuid.UUID
	// updated announces a header whose status did not move.
	updated bool
	// after runs once the change is committed and announced.
	after func(ctx context.Context, o *models.OrderHeader)
}

func (e *Engine) storageErr(err error, id uuid.UUID) error {
	switch {
	case repo.IsNotFound(err):
		return fmt.Errorf("%w: order %s", ErrNotFound, id)
	case errors.Is(err, repo.ErrStaleVersion):
		return fmt.Errorf("%w: order %s", ErrConcurrentModification, id)
	}
	return err
}

func (e *Engine) load(ctx context.Context, id uuid.UUID) (*models.OrderHeader, error) {
	dctx, cancel := e.Timeouts.db(ctx)
	defer cancel()

	order, err := e.Repo.GetOrder(dctx, id)
	if err != nil {
		return nil, e.storageErr(err, id)
	}
	return order, nil
}

// mutate reads the order, lets fn change a copy, and writes the copy back
// only if no one committed in between. Events go out under the per-order
// lock so they leave in commit order.
func (e *Engine) mutate(ctx context.Context, op Op, fn func(o *models.OrderHeader) (outcome, error)) (*models.OrderHeader, error) {
	current, err := e.load(ctx, op.OrderID)
	if err != nil {
		return nil, err
	}
	if !op.Actor.canSee(current) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, op.OrderID)
	}
	if op.ExpectedVersion != 0 && op.ExpectedVersion != current.Version {
		return nil, fmt.Errorf("%w: order %s is at version %d, not %d",
			ErrConcurrentModification, op.OrderID, current.Version, op.ExpectedVersion)
	}

	next := current.Clone()
	out, err := fn(next)
	if err != nil {
		return nil, err
	}
	if out.noop {
		return current, nil
	}

	unlock := e.locks.lock(current.ID)
	defer unlock()

	dctx, cancel := e.Timeouts.db(ctx)
	err = e.Repo.SaveOrder(dctx, next, current.Version, out.details...)
	cancel()
	if err != nil {
		return nil, e.storageErr(err, current.ID)
	}

	var events []realtime.Event
	switch {
	case next.Status != current.Status:
		events = append(events, realtime.OrderStatusChanged{Order: next.Clone(), From: current.Status})
	case out.updated:
		events = append(events, realtime.OrderUpdated{Order: next.Clone()})
	}
	for _, id := range out.items {
		if d := next.Detail(id); d != nil {
			events = append(events, realtime.ItemChanged(next, d))
		}
	}
	publish(ctx, e.Publisher, e.Timeouts, events...)

	if out.after != nil {
		out.after(ctx, next)
	}
	return next, nil
}

// recomputeTotals sums active lines. The applied discount keeps its value
// but never exceeds the new subtotal.
func recomputeTotals(o *models.OrderHeader) {
	var sub int64
	for i := range o.Details {
		if !o.Details[i].IsCancelled {
			sub += o.Details[i].TotalPrice
		}
	}
	o.SubTotal = sub
	if o.Discount > sub {
		o.Discount = sub
	}
	if o.Discount < 0 {
		o.Discount = 0
	}
	o.Total = sub - o.Discount
}

// Checkout bounds; prices are in minor currency units.
const (
	MaxCheckoutLines = 200
	MaxItemQuantity  = 999
	MaxItemOptions   = 32
	MaxUnitPrice     = 10_000_000_000
	MaxOptionPrice   = 1_000_000_000
)

func validateCheckout(req transport.CheckoutRequest, owner identity.Identity) error {
	if err := owner.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !req.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrValidation, req.Channel)
	}
	if !req.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, req.PaymentMethod)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: items required", ErrValidation)
	}
	if len(req.Items) > MaxCheckoutLines {
		return fmt.Errorf("%w: at most %d lines per order", ErrValidation, MaxCheckoutLines)
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.MenuItemID) == "" || strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("%w: item %d: menu_item_id and name required", ErrValidation, i)
		}
		if it.Quantity <= 0 || it.Quantity > MaxItemQuantity {
			return fmt.Errorf("%w: item %d: quantity must be between 1 and %d", ErrValidation, i, MaxItemQuantity)
		}
		if it.UnitPrice < 0 || it.UnitPrice > MaxUnitPrice {
			return fmt.Errorf("%w: item %d: price must be between 0 and %d", ErrValidation, i, MaxUnitPrice)
		}
		if len(it.Options) > MaxItemOptions {
			return fmt.Errorf("%w: item %d: at most %d options", ErrValidation, i, MaxItemOptions)
		}
		for _, opt := range it.Options {
			if opt.ExtraPrice < 0 || opt.ExtraPrice > MaxOptionPrice {
				return fmt.Errorf("%w: item %d: option %q price must be between 0 and %d", ErrValidation, i, opt.Name, MaxOptionPrice)
			}
		}
	}
	return nil
}

// Checkout turns a frozen cart into an order. A promotion code is redeemed
// first; if the order is not stored afterwards, for any reason including the
// caller going away, the slot is released again.
func (e *Engine) Checkout(ctx context.Context, req transport.CheckoutRequest, owner identity.Identity) (*models.OrderHeader, error) {
	l := logging.FromContext(ctx).With("svc", "order.checkout")

	if err := validateCheckout(req, owner); err != nil {
		return nil, err
	}

	now := e.now()
	order := &models.OrderHeader{
		ID:            uuid.New(),
		Channel:       req.Channel,
		PaymentMethod: req.PaymentMethod,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		CustomerNote:  strings.TrimSpace(req.CustomerNote),
		Status:        status.Pending,
		CreatedAt:     now,
	}
	if req.PaymentMethod.Prepaid() {
		order.Status = status.PendingPayment
	}
	order.SetOwner(owner)

	var sub int64
	for i, it := range req.Items {
		d := models.OrderDetail{
			ID:            uuid.New(),
			Position:      i,
			MenuItemID:    it.MenuItemID,
			MenuItemName:  it.Name,
			MenuItemImage: it.Image,
			UnitPrice:     it.UnitPrice,
			Quantity:      it.Quantity,
			KitchenStatus: status.KitchenNone,
			CreatedAt:     now,
		}
		for _, opt := range it.Options {
			d.Options = append(d.Options, models.OrderDetailOption{Name: opt.Name, Value: opt.Value, ExtraPrice: opt.ExtraPrice})
		}
		line, ok := d.LinePrice()
		if ok {
			sub, ok = models.AddAmounts(sub, line)
		}
		if !ok {
			return nil, fmt.Errorf("%w: item %d: amount out of range", ErrValidation, i)
		}
		d.TotalPrice = line
		order.Details = append(order.Details, d)
	}
	recomputeTotals(order)

	var err error
	if order.OrderCode, err = newOrderCode(now); err != nil {
		return nil, err
	}
	if order.PickupCode, err = newPickupCode(); err != nil {
		return nil, err
	}

	if code := normalizeCode(req.PromotionCode); code != "" {
		if e.Ledger == nil {
			return nil, fmt.Errorf("%w: promotions are not available", ErrPromotionNotFound)
		}
		usage, err := e.Ledger.Redeem(ctx, code, order.SubTotal, owner)
		if err != nil {
			l.Info("promotion_rejected", "code", code, "error", err)
			return nil, err
		}
		order.PromotionCode = &code
		order.PromotionUsageID = &usage.ID
		order.Discount = usage.DiscountAmount
		recomputeTotals(order)
	}

	unlock := e.locks.lock(order.ID)
	defer unlock()

	dctx, cancel := e.Timeouts.db(ctx)
	err = e.Repo.CreateOrder(dctx, order)
	cancel()
	if err != nil {
		if order.PromotionUsageID != nil {
			if rerr := e.Ledger.Release(context.WithoutCancel(ctx), *order.PromotionUsageID); rerr != nil {
				l.Error("promotion_release_failed", "usage_id", *order.PromotionUsageID, "error", rerr)
			}
		}
		l.Warn("create_order_failed", "error", err)
		return nil, err
	}

	l.Info("order_created", "order_id", order.ID, "order_code", order.OrderCode, "status", order.Status, "total", order.Total)
	publish(ctx, e.Publisher, e.Timeouts, realtime.OrderCreated{Order: order.Clone()})
	return order, nil
}

// Get returns the order if the actor may see it.
func (e *Engine) Get(ctx context.Context, id uuid.UUID, actor Actor) (*models.OrderHeader, error) {
	order, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canSee(order) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return order, nil
}

// List returns staff any orders matching f and owners only their own.
func (e *Engine) List(ctx context.Context, actor Actor, f repo.OrderFilter) ([]models.OrderHeader, error) {
	switch {
	case actor.IsStaff(), actor.IsSystem():
	case actor.Kind == ActorOwner && !actor.Identity.IsZero():
		f.Owner = actor.Identity
	default:
		return nil, ErrUnauthorized
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}

	dctx, cancel := e.Timeouts.db(ctx)
	defer cancel()
	return e.Repo.ListOrders(dctx, f)
}
