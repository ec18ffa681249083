package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/restaurant/internal/service"
)

// statusFor maps a service error to a status code and the message shown to
// the caller.
func statusFor(err error) (int, string) {
	var itemErr *service.ItemError
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrPromotionNotFound):
		return http.StatusNotFound, "promotion not found"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, service.ErrConcurrentModification):
		return http.StatusConflict, "order was changed by someone else, reload and try again"
	case errors.Is(err, service.ErrItemNotCancellable) && errors.As(err, &itemErr):
		return http.StatusConflict, itemErr.Error()
	case errors.Is(err, service.ErrPaymentRequired):
		return http.StatusConflict, "payment not received"
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrPromotionExpired):
		return http.StatusGone, "promotion expired"
	case errors.Is(err, service.ErrQuotaExhausted):
		return http.StatusConflict, "promotion quota is full"
	case errors.Is(err, service.ErrPromotionNotEligible):
		return http.StatusUnprocessableEntity, "order is below the promotion minimum"
	case errors.Is(err, service.ErrPerUserLimitExceeded):
		return http.StatusUnprocessableEntity, "promotion already used the maximum number of times"
	}
	return http.StatusInternalServerError, "internal error"
}

func fail(l *slog.Logger, event string, err error) error {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		l.Error(event, "status", code, "error", err)
	} else {
		l.Warn(event, "status", code, "error", err)
	}
	return echo.NewHTTPError(code, msg)
}
