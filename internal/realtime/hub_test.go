package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/status"
)

var testRouter = Router{StaffRoles: []string{"admin", "kitchen"}}

func testOrder(owner identity.Identity, st status.OrderStatus, version int64) *models.OrderHeader {
	o := &models.OrderHeader{
		ID:        uuid.New(),
		OrderCode: "ORD-260101-ABCDE",
		Status:    st,
		Version:   version,
		CreatedAt: time.Now().UTC(),
		Details: []models.OrderDetail{
			{ID: uuid.New(), MenuItemName: "Pad Thai", UnitPrice: 100, Quantity: 1, TotalPrice: 100, KitchenStatus: status.KitchenWaiting},
		},
	}
	o.SetOwner(owner)
	return o
}

func drain(s *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_StatusChangeReachesOwnerAndStaffOnce(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter)
	defer h.Close()

	admin := h.Subscribe(RoleGroup("admin"))
	kitchen := h.Subscribe(RoleGroup("kitchen"))
	both := h.Subscribe(RoleGroup("admin"), RoleGroup("kitchen"), UserGroup("u1"))
	owner := h.Subscribe(UserGroup("u1"))
	stranger := h.Subscribe(UserGroup("u2"))
	guest := h.Subscribe(GuestGroup("tok"))

	order := testOrder(identity.User("u1"), status.Approved, 2)
	require.NoError(t, h.Publish(context.Background(), OrderStatusChanged{Order: order, From: status.Pending}))

	for name, s := range map[string]*Subscription{"admin": admin, "kitchen": kitchen, "both": both, "owner": owner} {
		got := drain(s)
		require.Len(t, got, 1, name)
		ev, ok := got[0].(OrderStatusChanged)
		require.True(t, ok, name)
		assert.Equal(t, status.Approved, ev.Order.Status, name)
	}
	assert.Empty(t, drain(stranger))
	assert.Empty(t, drain(guest))
}

func TestHub_OrderCreatedOnlyReachesStaff(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter)
	defer h.Close()

	staff := h.Subscribe(RoleGroup("kitchen"))
	owner := h.Subscribe(GuestGroup("tok"))

	require.NoError(t, h.Publish(context.Background(), OrderCreated{Order: testOrder(identity.Guest("tok"), status.Pending, 1)}))

	assert.Len(t, drain(staff), 1)
	assert.Empty(t, drain(owner))
}

func TestHub_PreservesPublishOrderPerKey(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter, WithBuffer(128))
	defer h.Close()
	s := h.Subscribe(RoleGroup("admin"))

	order := testOrder(identity.User("u1"), status.Pending, 1)
	for v := int64(1); v <= 100; v++ {
		o := order.Clone()
		o.Version = v
		require.NoError(t, h.Publish(context.Background(), OrderUpdated{Order: o}))
	}

	got := drain(s)
	require.Len(t, got, 100)
	for i, ev := range got {
		assert.Equal(t, int64(i+1), ev.(OrderUpdated).Order.Version)
	}
}

func TestHub_DropsLaggingSubscriber(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter, WithBuffer(1))
	defer h.Close()

	slow := h.Subscribe(RoleGroup("admin"))
	order := testOrder(identity.User("u1"), status.Pending, 1)

	assert.Equal(t, 1, h.Deliver(OrderCreated{Order: order}, []Group{RoleGroup("admin")}))
	assert.Equal(t, 0, h.Deliver(OrderCreated{Order: order}, []Group{RoleGroup("admin")}))

	got := drain(slow)
	assert.Len(t, got, 1)
	_, open := <-slow.Events()
	assert.False(t, open)
	assert.ErrorIs(t, slow.Err(), ErrLagged)
	assert.Zero(t, h.Subscribers(RoleGroup("admin")))
}

func TestHub_JoinAndLeavePromotionGroup(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter)
	defer h.Close()

	s := h.Subscribe(GuestGroup("tok"))
	s.Join(PromotionGroup("save10"))
	assert.Equal(t, 1, h.Subscribers(PromotionGroup("SAVE10")))

	require.NoError(t, h.Publish(context.Background(), PromotionQuotaExhausted{Code: "SAVE10"}))
	assert.Len(t, drain(s), 1)

	s.Leave(PromotionGroup("SAVE10"))
	require.NoError(t, h.Publish(context.Background(), PromotionQuotaExhausted{Code: "SAVE10"}))
	assert.Empty(t, drain(s))
}

func TestHub_ResetAndClose(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter)

	first := h.Subscribe(RoleGroup("admin"))
	h.Reset()
	_, open := <-first.Events()
	assert.False(t, open)
	assert.ErrorIs(t, first.Err(), ErrLagged)

	second := h.Subscribe(RoleGroup("admin"))
	assert.Equal(t, 1, h.Subscribers(RoleGroup("admin")))

	h.Close()
	_, open = <-second.Events()
	assert.False(t, open)
	assert.ErrorIs(t, second.Err(), ErrHubClosed)

	late := h.Subscribe(RoleGroup("admin"))
	assert.ErrorIs(t, late.Err(), ErrHubClosed)
}

func TestHub_CloseBySubscriberHasNoError(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter)
	defer h.Close()

	s := h.Subscribe(RoleGroup("admin"), UserGroup("u1"))
	s.Close()
	assert.NoError(t, s.Err())
	assert.Zero(t, h.Subscribers(RoleGroup("admin")))
	assert.Zero(t, h.Subscribers(UserGroup("u1")))
}

func TestHub_DeliverSkipsEndedSubscription(t *testing.T) {
	t.Parallel()

	h := NewHub(testRouter)
	defer h.Close()

	ended := h.Subscribe(RoleGroup("admin"))
	live := h.Subscribe(RoleGroup("admin"))
	defer live.Close()

	// Ended but still registered, as between finish and remove.
	ended.finish(nil)

	o := testOrder(identity.User("u1"), status.Pending, 1)
	n := h.Deliver(OrderCreated{Order: o}, []Group{RoleGroup("admin")})

	assert.Equal(t, 1, n)
	assert.NoError(t, ended.Err())
	assert.Len(t, drain(live), 1)
}
