package httpserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/restaurant/internal/service"
	"github.com/Skotchmaster/restaurant/pkg/logging"
)

type PromotionHTTP struct {
	Ledger *service.Ledger
}

// Quote shows the discount code would give on amount for the caller, or
// the specific reason it would be refused.
func (h *PromotionHTTP) Quote(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "promotion.quote")

	amount, err := strconv.ParseInt(c.QueryParam("amount"), 10, 64)
	if err != nil || amount < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid amount")
	}

	q, err := h.Ledger.Quote(ctx, c.Param("code"), amount, requester(c))
	if err != nil {
		return fail(l, "quote_error", err)
	}
	return c.JSON(http.StatusOK, q)
}
