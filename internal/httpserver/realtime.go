package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/restaurant/internal/realtime"
	"github.com/Skotchmaster/restaurant/internal/search"
	"github.com/Skotchmaster/restaurant/pkg/logging"
)

type OrderSearcher interface {
	Search(ctx context.Context, q string, statuses []string, from, size int) (search.Results, error)
}

type SearchHTTP struct {
	Index OrderSearcher
}

func (h *SearchHTTP) Search(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.search")

	if h.Index == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search is not configured")
	}
	statuses, err := parseStatuses(c.QueryParam("status"))
	if err != nil {
		return err
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	size, err := queryInt(c, "size", 20)
	if err != nil {
		return err
	}
	from, size := window(page, size, 100)

	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	res, err := h.Index.Search(ctx, strings.TrimSpace(c.QueryParam("q")), names, from, size)
	if err != nil {
		l.Error("search_error", "status", 502, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "search unavailable")
	}
	return c.JSON(http.StatusOK, res)
}

type RealtimeHTTP struct {
	WS     *realtime.WSServer
	Orders *OrderHTTP
}

// Connect upgrades to the viewer channel. A customer joins its own group;
// staff join their role group and see every order.
func (h *RealtimeHTTP) Connect(c echo.Context) error {
	l := logging.FromContext(c.Request().Context()).With("handler", "realtime.connect")

	actor, err := h.Orders.caller(c)
	if err != nil {
		return err
	}

	var groups []realtime.Group
	switch {
	case actor.IsStaff():
		groups = append(groups, realtime.RoleGroup(actor.Role))
	case actor.IsSystem():
		return echo.NewHTTPError(http.StatusForbidden, "not a viewer")
	default:
		g, ok := realtime.OwnerGroup(actor.Identity)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		groups = append(groups, g)
	}

	err = h.WS.Serve(c.Response(), c.Request(), groups)
	switch {
	case err == nil, errors.Is(err, realtime.ErrHubClosed):
	case errors.Is(err, realtime.ErrLagged):
		l.Info("viewer_lagged", "actor", actor.String())
	default:
		l.Info("viewer_disconnected", "actor", actor.String(), "error", err)
	}
	return nil
}
