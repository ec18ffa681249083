package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/status"
	"github.com/Skotchmaster/restaurant/pkg/db"
)

func newTestRepo(t *testing.T) *GormRepo {
	t.Helper()

	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb, models.All()...))
	t.Cleanup(func() { _ = db.Close(gdb) })

	return New(gdb)
}

func seedOrder(t *testing.T, r *GormRepo) *models.OrderHeader {
	t.Helper()

	order := &models.OrderHeader{
		OrderCode:     "ORD-TEST-" + t.Name(),
		PickupCode:    "1234",
		Channel:       models.ChannelPickup,
		Status:        status.Pending,
		PaymentMethod: models.PaymentCash,
		SubTotal:      300,
		Total:         300,
		Details: []models.OrderDetail{
			{Position: 0, MenuItemID: "m1", MenuItemName: "Pad Thai", UnitPrice: 100, Quantity: 1, TotalPrice: 100, KitchenStatus: status.KitchenNone},
			{
				Position: 1, MenuItemID: "m2", MenuItemName: "Green Curry", UnitPrice: 80, Quantity: 2, TotalPrice: 200,
				KitchenStatus: status.KitchenNone,
				Options:       []models.OrderDetailOption{{Name: "spice", Value: "hot", ExtraPrice: 20}},
			},
		},
	}
	order.SetOwner(identity.User("u1"))
	require.NoError(t, r.CreateOrder(context.Background(), order))
	return order
}

func TestGormRepo_CreateAndGetOrder(t *testing.T) {
	r := newTestRepo(t)
	order := seedOrder(t, r)

	got, err := r.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderCode, got.OrderCode)
	assert.EqualValues(t, 1, got.Version)
	require.Len(t, got.Details, 2)
	assert.Equal(t, "Pad Thai", got.Details[0].MenuItemName)
	assert.Equal(t, "Green Curry", got.Details[1].MenuItemName)
	assert.Len(t, got.Details[1].Options, 1)
	assert.Equal(t, "u1", *got.OwnerUserID)
	assert.Nil(t, got.GuestToken)
}

func TestGormRepo_DetailsComeBackInCartOrder(t *testing.T) {
	r := newTestRepo(t)

	// Ids descend while positions ascend, so only position can explain the order.
	ids := []string{
		"ffffffff-0000-4000-8000-000000000000",
		"cccccccc-0000-4000-8000-000000000000",
		"99999999-0000-4000-8000-000000000000",
		"33333333-0000-4000-8000-000000000000",
	}
	order := &models.OrderHeader{
		OrderCode:     "ORD-TEST-POSITION",
		PickupCode:    "4321",
		Channel:       models.ChannelDineIn,
		Status:        status.Pending,
		PaymentMethod: models.PaymentCash,
	}
	var want []string
	for i, id := range ids {
		name := "line " + string(rune('A'+i))
		want = append(want, name)
		order.Details = append(order.Details, models.OrderDetail{
			ID: uuid.MustParse(id), Position: i, MenuItemID: name, MenuItemName: name,
			UnitPrice: 10, Quantity: 1, TotalPrice: 10, KitchenStatus: status.KitchenNone,
		})
	}
	order.SetOwner(identity.Guest("guest-position"))
	require.NoError(t, r.CreateOrder(context.Background(), order))

	got, err := r.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	var names []string
	for _, d := range got.Details {
		names = append(names, d.MenuItemName)
	}
	assert.Equal(t, want, names)
}

func TestGormRepo_SaveOrder_StaleVersion(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	order := seedOrder(t, r)

	first, err := r.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	second, err := r.GetOrder(ctx, order.ID)
	require.NoError(t, err)

	first.Status = status.Approved
	require.NoError(t, r.SaveOrder(ctx, first, first.Version))
	assert.EqualValues(t, 2, first.Version)

	second.Status = status.Cancelled
	err = r.SaveOrder(ctx, second, second.Version)
	require.ErrorIs(t, err, ErrStaleVersion)

	stored, err := r.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Approved, stored.Status)
}

func TestGormRepo_SaveOrder_UpdatesDetails(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	order := seedOrder(t, r)

	d := &order.Details[0]
	d.IsCancelled = true
	d.KitchenStatus = status.KitchenCancelled
	require.NoError(t, r.SaveOrder(ctx, order, order.Version, d.ID))

	stored, err := r.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	got := stored.Detail(d.ID)
	require.NotNil(t, got)
	assert.True(t, got.IsCancelled)
	assert.Equal(t, status.KitchenCancelled, got.KitchenStatus)
}

func TestGormRepo_SaveOrder_Missing(t *testing.T) {
	r := newTestRepo(t)

	order := &models.OrderHeader{}
	require.NoError(t, order.BeforeCreate(nil))
	err := r.SaveOrder(context.Background(), order, 1)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestGormRepo_RedeemAndRelease(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	limit := 1
	promo := models.Promotion{
		Code:          "ONE",
		DiscountType:  models.DiscountFixed,
		DiscountValue: decimal.NewFromInt(10),
		MaxUsageCount: &limit,
	}
	require.NoError(t, r.DB.Create(&promo).Error)

	ok := func(p *models.Promotion, prior int64) (int64, error) { return 10, nil }

	usage, p, err := r.Redeem(ctx, "ONE", "user:1", ok)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentUsageCount)
	assert.EqualValues(t, 10, usage.DiscountAmount)

	_, _, err = r.Redeem(ctx, "ONE", "user:2", ok)
	require.ErrorIs(t, err, ErrQuotaFull)

	p, err = r.Release(ctx, usage.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.CurrentUsageCount)

	_, err = r.Release(ctx, usage.ID)
	require.ErrorIs(t, err, ErrAlreadyReleased)

	stored, err := r.GetPromotionByCode(ctx, "ONE")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentUsageCount)
}

func TestGormRepo_Redeem_CheckFailureLeavesCounter(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	promo := models.Promotion{Code: "NOPE", DiscountType: models.DiscountFixed, DiscountValue: decimal.NewFromInt(5)}
	require.NoError(t, r.DB.Create(&promo).Error)

	boom := errors.New("not eligible")
	_, _, err := r.Redeem(ctx, "NOPE", "user:1", func(*models.Promotion, int64) (int64, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	stored, err := r.GetPromotionByCode(ctx, "NOPE")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentUsageCount)

	n, err := r.CountUsages(ctx, promo.ID, "user:1")
	require.NoError(t, err)
	assert.Zero(t, n)
}
