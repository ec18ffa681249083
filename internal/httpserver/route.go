package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/restaurant/internal/status"
	authmw "github.com/Skotchmaster/restaurant/pkg/middleware/auth"
)

type Deps struct {
	OrderHandler     *OrderHTTP
	PromotionHandler *PromotionHTTP
	SearchHandler    *SearchHTTP
	RealtimeHandler  *RealtimeHTTP
	Auth             *authmw.AuthMiddleware
	// Ready reports whether dependencies answer. Nil means always ready.
	Ready func(ctx context.Context) error
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := d.Ready(ctx); err != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})

	h := d.OrderHandler
	auth := d.Auth.RequireAuth
	staff := d.Auth.RequireRole(h.StaffRoles...)
	payer := d.Auth.RequireRole(append([]string{RoleSystem}, h.StaffRoles...)...)
	admin := d.Auth.RequireAdmin

	e.GET("/ws", d.RealtimeHandler.Connect, auth)
	e.GET("/promotions/:code/quote", d.PromotionHandler.Quote, auth)

	// Groups carry no middleware: access differs per route under one prefix.
	orders := e.Group("/orders")
	orders.POST("", h.Checkout, auth)
	orders.GET("", h.ListOrders, auth)
	orders.GET("/search", d.SearchHandler.Search, staff)
	orders.GET("/:id", h.GetOrder, auth)
	orders.PATCH("/:id/customer", h.UpdateCustomer, auth)
	orders.POST("/:id/cancel", h.Transition("cancel", h.Engine.Cancel), auth)

	orders.POST("/:id/accept", h.Transition("accept", h.Engine.Accept), staff)
	orders.POST("/:id/reject", h.Transition("reject", h.Engine.Reject), staff)
	orders.POST("/:id/prepare", h.Transition("prepare", h.Engine.BeginPreparation), staff)
	orders.POST("/:id/ready", h.Transition("ready", h.Engine.KitchenDone), staff)
	orders.POST("/:id/complete", h.Transition("complete", h.Engine.HandOver), staff)
	orders.POST("/:id/receive", h.Transition("receive_payment", h.Engine.ReceivePayment), staff)
	orders.POST("/:id/payment", h.ConfirmPayment, payer)
	orders.POST("/:id/close", h.Transition("close", h.Engine.Close), admin)
	orders.DELETE("/:id", h.Archive, admin)

	items := orders.Group("/:id/items/:itemID")
	items.POST("/cancel", h.ItemAction(status.CancelItem), auth)
	items.POST("/queue", h.ItemAction(status.Queue), staff)
	items.POST("/cook", h.ItemAction(status.StartCooking), staff)
	items.POST("/done", h.ItemAction(status.Finish), staff)
}
