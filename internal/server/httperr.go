package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/intern-cubit/trackerApp-sub002/internal/auth"
	"github.com/intern-cubit/trackerApp-sub002/internal/domain"
)

// writeError maps domain errors onto HTTP statuses. Unknown errors are
// logged and surfaced as 500 without leaking internals.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound),
		errors.Is(err, domain.ErrCommandNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, errBody(err))
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrInvalidActivationKey):
		return c.JSON(http.StatusForbidden, errBody(err))
	case errors.Is(err, domain.ErrDeviceExists):
		return c.JSON(http.StatusConflict, errBody(err))
	case errors.Is(err, domain.ErrDeviceUnreachable):
		return c.JSON(http.StatusServiceUnavailable, errBody(err))
	case errors.Is(err, domain.ErrInvalidCommandType),
		errors.Is(err, domain.ErrInvalidAckStatus):
		return c.JSON(http.StatusBadRequest, errBody(err))
	case errors.Is(err, auth.ErrInvalidToken):
		return c.JSON(http.StatusUnauthorized, errBody(err))
	}

	slog.Error("Request failed", "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func errBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}
