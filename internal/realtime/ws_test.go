package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/status"
)

func TestWS_StreamsRoutedEventsAndSignalsLag(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := NewHub(testRouter)
	defer h.Close()

	srv := &WSServer{Hub: h, PingInterval: time.Second}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = srv.Serve(w, r, []Group{GuestGroup("tok")})
	}))
	defer ts.Close()

	stream, err := DialWS(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer stream.Close()

	require.Eventually(t, func() bool { return h.Subscribers(GuestGroup("tok")) == 1 }, 2*time.Second, 5*time.Millisecond)

	order := testOrder(identity.Guest("tok"), status.Approved, 2)
	require.NoError(t, h.Publish(ctx, OrderStatusChanged{Order: order, From: status.Pending}))

	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	changed, ok := ev.(OrderStatusChanged)
	require.True(t, ok)
	assert.Equal(t, order.ID, changed.Order.ID)

	require.NoError(t, stream.Watch("save10"))
	require.Eventually(t, func() bool { return h.Subscribers(PromotionGroup("SAVE10")) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.Publish(ctx, PromotionQuotaExhausted{Code: "SAVE10"}))

	ev, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindPromotionQuotaExhausted, ev.Kind())

	h.Reset()
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, ErrLagged)
}
