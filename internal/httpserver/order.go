package httpserver

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/restaurant/internal/identity"
	"github.com/Skotchmaster/restaurant/internal/models"
	"github.com/Skotchmaster/restaurant/internal/repo"
	"github.com/Skotchmaster/restaurant/internal/service"
	"github.com/Skotchmaster/restaurant/internal/status"
	"github.com/Skotchmaster/restaurant/internal/transport"
	"github.com/Skotchmaster/restaurant/pkg/logging"
	authmw "github.com/Skotchmaster/restaurant/pkg/middleware/auth"
)

// RoleSystem marks tokens held by the payment subsystem and other services.
const RoleSystem = "system"

type OrderHTTP struct {
	Engine     *service.Engine
	Tracker    *service.ItemTracker
	StaffRoles []string
}

// caller identifies who sent the request from what the auth middleware set.
func (h *OrderHTTP) caller(c echo.Context) (service.Actor, error) {
	uid, _ := c.Get(authmw.CtxUserID).(string)
	role, _ := c.Get(authmw.CtxRole).(string)
	guest, _ := c.Get(authmw.CtxGuestToken).(string)

	switch {
	case uid != "" && role == RoleSystem:
		return service.System(), nil
	case uid != "" && slices.Contains(h.StaffRoles, role):
		return service.Staff(role, uid), nil
	case uid != "":
		return service.Owner(identity.User(uid)), nil
	case guest != "":
		return service.Owner(identity.Guest(guest)), nil
	}
	return service.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
}

// requester is the identity that will own what the request creates.
func requester(c echo.Context) identity.Identity {
	if uid, _ := c.Get(authmw.CtxUserID).(string); uid != "" {
		return identity.User(uid)
	}
	guest, _ := c.Get(authmw.CtxGuestToken).(string)
	return identity.Guest(guest)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *OrderHTTP) op(c echo.Context, expected int64) (service.Op, error) {
	actor, err := h.caller(c)
	if err != nil {
		return service.Op{}, err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return service.Op{}, err
	}
	return service.Op{OrderID: id, Actor: actor, ExpectedVersion: expected}, nil
}

func (h *OrderHTTP) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.checkout")

	var req transport.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("checkout_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	order, err := h.Engine.Checkout(ctx, req, requester(c))
	if err != nil {
		return fail(l, "checkout_error", err)
	}
	l.Info("checkout_success", "order_id", order.ID)
	return c.JSON(http.StatusCreated, order)
}

func (h *OrderHTTP) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.get")

	op, err := h.op(c, 0)
	if err != nil {
		return err
	}
	order, err := h.Engine.Get(ctx, op.OrderID, op.Actor)
	if err != nil {
		return fail(l, "get_order_error", err)
	}
	return c.JSON(http.StatusOK, order)
}

func parseStatuses(raw string) ([]status.OrderStatus, error) {
	var out []status.OrderStatus
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		st, err := status.ParseOrderStatus(s)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		out = append(out, st)
	}
	return out, nil
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

// ListOrders returns active orders to staff unless ?status= says otherwise,
// and the caller's own orders to everyone else.
func (h *OrderHTTP) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.list")

	actor, err := h.caller(c)
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(c.QueryParam("status"))
	if err != nil {
		return err
	}
	if len(statuses) == 0 && actor.IsStaff() {
		for _, st := range status.OrderStatuses() {
			if !st.Terminal() {
				statuses = append(statuses, st)
			}
		}
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	f := repo.OrderFilter{Statuses: statuses, Limit: limit, Offset: offset}
	orders, err := h.Engine.List(ctx, actor, f)
	if err != nil {
		return fail(l, "list_orders_error", err)
	}
	if orders == nil {
		orders = []models.OrderHeader{}
	}
	return c.JSON(http.StatusOK, transport.OrderList{Items: orders, Limit: limit, Offset: offset})
}

func (h *OrderHTTP) UpdateCustomer(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.update_customer")

	var req transport.CustomerInfoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	op, err := h.op(c, req.ExpectedVersion)
	if err != nil {
		return err
	}
	order, err := h.Engine.UpdateCustomerInfo(ctx, op, req)
	if err != nil {
		return fail(l, "update_customer_error", err)
	}
	return c.JSON(http.StatusOK, order)
}

type transitionFunc func(ctx context.Context, op service.Op) (*models.OrderHeader, error)

// Transition wraps one header operation. The body is optional and only
// carries expected_version.
func (h *OrderHTTP) Transition(name string, fn transitionFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		l := logging.FromContext(ctx).With("handler", "order."+name)

		var req transport.TransitionRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
		}
		op, err := h.op(c, req.ExpectedVersion)
		if err != nil {
			return err
		}
		order, err := fn(ctx, op)
		if err != nil {
			return fail(l, name+"_error", err)
		}
		l.Info(name+"_success", "order_id", order.ID, "status", order.Status, "version", order.Version)
		return c.JSON(http.StatusOK, order)
	}
}

func (h *OrderHTTP) ConfirmPayment(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.confirm_payment")

	var req transport.TransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	op, err := h.op(c, req.ExpectedVersion)
	if err != nil {
		return err
	}
	order, err := h.Engine.ConfirmPayment(ctx, op, req.PaymentMethod)
	if err != nil {
		return fail(l, "confirm_payment_error", err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *OrderHTTP) Archive(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.archive")

	expected, err := queryInt(c, "expected_version", 0)
	if err != nil {
		return err
	}
	op, err := h.op(c, int64(expected))
	if err != nil {
		return err
	}
	if err := h.Engine.Archive(ctx, op); err != nil {
		return fail(l, "archive_error", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ItemAction applies one kitchen event to a line item.
func (h *OrderHTTP) ItemAction(ev status.ItemEvent) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		l := logging.FromContext(ctx).With("handler", "item."+string(ev))

		var req transport.TransitionRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
		}
		op, err := h.op(c, req.ExpectedVersion)
		if err != nil {
			return err
		}
		itemID, err := pathID(c, "itemID")
		if err != nil {
			return err
		}
		order, err := h.Tracker.Transition(ctx, op, itemID, ev)
		if err != nil {
			return fail(l, "item_"+string(ev)+"_error", err)
		}
		return c.JSON(http.StatusOK, order)
	}
}
