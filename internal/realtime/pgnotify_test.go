package realtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/status"
	"github.com/Skotchmaster/restaurant/pkg/db"
)

func largeOrder(lines int) *models.OrderHeader {
	o := testOrder(identity.User("u1"), status.Approved, 4)
	o.Details = nil
	for i := 0; i < lines; i++ {
		o.Details = append(o.Details, models.OrderDetail{
			ID:            uuid.New(),
			OrderID:       o.ID,
			MenuItemName:  fmt.Sprintf("Green curry with jasmine rice %d", i),
			MenuItemImage: "https://cdn.example.test/menu/green-curry-with-jasmine-rice.jpg",
			UnitPrice:     120,
			Quantity:      1,
			TotalPrice:    120,
			KitchenStatus: status.KitchenWaiting,
		})
	}
	return o
}

func loaderOf(orders ...*models.OrderHeader) OrderLoader {
	return func(_ context.Context, id uuid.UUID) (*models.OrderHeader, error) {
		for _, o := range orders {
			if o.ID == id {
				return o.Clone(), nil
			}
		}
		return nil, errors.New("not found")
	}
}

func TestPGRelay_LargeOrderTravelsAsReference(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter)
	defer h.Close()

	o := largeOrder(40)
	p := &PGRelay{hub: h, load: loaderOf(o), log: h.log}

	ev := OrderStatusChanged{Order: o, From: status.Pending}
	full, err := Encode(ev, testRouter.Groups(ev))
	require.NoError(t, err)
	require.Greater(t, len(full), maxNotifyPayload)

	msg, err := p.message(ev)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(msg), maxNotifyPayload)
	assert.Contains(t, string(msg), o.ID.String())

	owner := h.Subscribe(UserGroup("u1"))
	staff := h.Subscribe(RoleGroup("kitchen"))
	stranger := h.Subscribe(UserGroup("u2"))

	p.handle(context.Background(), string(msg))

	for _, sub := range []*Subscription{owner, staff} {
		got := drain(sub)
		require.Len(t, got, 1)
		changed, ok := got[0].(OrderStatusChanged)
		require.True(t, ok)
		assert.Equal(t, status.Pending, changed.From)
		assert.Equal(t, status.Approved, changed.Order.Status)
		assert.Len(t, changed.Order.Details, 40)
	}
	assert.Empty(t, drain(stranger))
}

func TestPGRelay_SmallEventIsSentInFull(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter)
	defer h.Close()

	o := testOrder(identity.User("u1"), status.Preparing, 3)
	p := &PGRelay{hub: h, log: h.log, load: func(context.Context, uuid.UUID) (*models.OrderHeader, error) {
		t.Error("full notifications must not be reloaded")
		return nil, errors.New("unexpected load")
	}}

	ev := ItemChanged(o, &o.Details[0])
	msg, err := p.message(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(msg), `"ref"`)

	owner := h.Subscribe(UserGroup("u1"))
	p.handle(context.Background(), string(msg))
	got := drain(owner)
	require.Len(t, got, 1)
	assert.Equal(t, KindItemStatusChanged, got[0].Kind())
}

func TestPGRelay_UnresolvedReferenceResetsSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter)
	defer h.Close()

	o := largeOrder(40)
	sender := &PGRelay{hub: h, load: loaderOf(o), log: h.log}
	msg, err := sender.message(OrderUpdated{Order: o})
	require.NoError(t, err)

	receiver := &PGRelay{hub: h, load: loaderOf(), log: h.log}
	staff := h.Subscribe(RoleGroup("admin"))
	receiver.handle(context.Background(), string(msg))

	_, open := <-staff.Events()
	assert.False(t, open)
	assert.ErrorIs(t, staff.Err(), ErrLagged)
}

func TestPGRelay_PromotionEventTooLargeIsRejected(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter)
	defer h.Close()

	p := &PGRelay{hub: h, log: h.log}
	_, err := p.message(PromotionQuotaExhausted{Code: strings.Repeat("X", maxNotifyPayload)})
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPGRelay_RoundTrip(t *testing.T) {
	dsn := os.Getenv("ORDERS_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("ORDERS_TEST_POSTGRES not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gdb, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	h := NewHub(testRouter)
	defer h.Close()

	o := largeOrder(40)
	relay, err := NewPGRelay(dsn, "order_events_test", gdb, h, loaderOf(o), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })
	go func() { _ = relay.Run(ctx) }()

	owner := h.Subscribe(UserGroup("u1"))
	defer owner.Close()

	require.NoError(t, relay.Publish(ctx, OrderStatusChanged{Order: o, From: status.Pending}))

	select {
	case ev := <-owner.Events():
		got, ok := ev.(OrderStatusChanged)
		require.True(t, ok)
		assert.Equal(t, o.ID, got.Order.ID)
		assert.Len(t, got.Order.Details, 40)
	case <-ctx.Done():
		t.Fatal("notification not delivered")
	}
}
