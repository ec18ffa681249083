package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/realtime"
	"github.com/Skotchmaster/restaurant/internal/repo"
	"github.com/Skotchmaster/restaurant/internal/transport"
	"github.com/Skotchmaster/restaurant/pkg/db"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, ev realtime.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *mockPublisher) events() []realtime.Event {
	var out []realtime.Event
	for _, c := range m.Calls {
		if c.Method == "Publish" {
			out = append(out, c.Arguments.Get(1).(realtime.Event))
		}
	}
	return out
}

func (m *mockPublisher) kinds() []realtime.Kind {
	var out []realtime.Kind
	for _, ev := range m.events() {
		out = append(out, ev.Kind())
	}
	return out
}

func (m *mockPublisher) reset() {
	m.Calls = nil
}

type fixture struct {
	repo    *repo.GormRepo
	pub     *mockPublisher
	engine  *Engine
	tracker *ItemTracker
	ledger  *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb, models.All()...))
	t.Cleanup(func() { _ = db.Close(gdb) })

	r := repo.New(gdb)
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	timeouts := Timeouts{DB: 5 * time.Second, Publish: time.Second}
	ledger := &Ledger{Repo: r, Publisher: pub, Timeouts: timeouts}
	engine := &Engine{Repo: r, Ledger: ledger, Publisher: pub, Timeouts: timeouts}

	return &fixture{repo: r, pub: pub, engine: engine, tracker: &ItemTracker{Engine: engine}, ledger: ledger}
}

func intPtr(v int) *int { return &v }

func (f *fixture) seedPromotion(t *testing.T, p models.Promotion) *models.Promotion {
	t.Helper()
	require.NoError(t, f.repo.DB.Create(&p).Error)
	return &p
}

func (f *fixture) promotion(t *testing.T, code string) *models.Promotion {
	t.Helper()
	p, err := f.repo.GetPromotionByCode(context.Background(), code)
	require.NoError(t, err)
	return p
}

// cart500 is 200 + 200 + 100.
func cart500(method models.PaymentMethod, code string) transport.CheckoutRequest {
	return transport.CheckoutRequest{
		Channel:       models.ChannelPickup,
		PaymentMethod: method,
		CustomerName:  "Somchai",
		PromotionCode: code,
		Items: []transport.CheckoutItem{
			{MenuItemID: "m-curry", Name: "Green Curry", UnitPrice: 200, Quantity: 1},
			{MenuItemID: "m-padthai", Name: "Pad Thai", UnitPrice: 80, Quantity: 2, Options: []transport.CheckoutOption{{Name: "egg", Value: "fried", ExtraPrice: 20}}},
			{MenuItemID: "m-tea", Name: "Thai Tea", UnitPrice: 100, Quantity: 1},
		},
	}
}

func itemByName(t *testing.T, o *models.OrderHeader, name string) *models.OrderDetail {
	t.Helper()
	for i := range o.Details {
		if o.Details[i].MenuItemName == name {
			return &o.Details[i]
		}
	}
	t.Fatalf("no item %q", name)
	return nil
}

func assertTotals(t *testing.T, o *models.OrderHeader) {
	t.Helper()
	var sub int64
	for _, d := range o.Details {
		if !d.IsCancelled {
			sub += d.TotalPrice
		}
	}
	assert.Equal(t, sub, o.SubTotal, "subtotal")
	assert.Equal(t, o.SubTotal-o.Discount, o.Total, "total")
	assert.GreaterOrEqual(t, o.Total, int64(0))
}

func (f *fixture) reload(t *testing.T, o *models.OrderHeader) *models.OrderHeader {
	t.Helper()
	got, err := f.repo.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	return got
}

var (
	alice = identity.User("alice")
	bob   = identity.User("bob")
	staff = Staff("staff", "s1")
	admin = Staff(RoleAdmin, "a1")
)

func op(o *models.OrderHeader, a Actor) Op {
	return Op{OrderID: o.ID, Actor: a}
}

func decimalValue(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
