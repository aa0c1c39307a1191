package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"iam-gateway/internal/infrastructure/metrics"

	"github.com/labstack/echo/v4"
)

// HeaderInternalAuth carries the shared secret of internal callers.
const HeaderInternalAuth = "X-Internal-Auth"

// InternalAuth guards /internal routes with a shared secret compared in
// constant time. An empty secret closes the routes entirely.
func InternalAuth(sharedSecret string) echo.MiddlewareFunc {
	secret := []byte(sharedSecret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(secret) == 0 {
				return echo.NewHTTPError(http.StatusNotFound)
			}
			provided := []byte(c.Request().Header.Get(HeaderInternalAuth))
			if len(provided) == 0 {
				metrics.RecordAuthDenied("internal_missing")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing internal auth header")
			}
			if subtle.ConstantTimeCompare(provided, secret) != 1 {
				metrics.RecordAuthDenied("internal_invalid")
				slog.WarnContext(c.Request().Context(), "invalid internal auth", "remote_addr", c.RealIP())
				return echo.NewHTTPError(http.StatusForbidden, "invalid internal auth")
			}
			return next(c)
		}
	}
}
