package middleware

import (
	"net/http"

	"iam-gateway/internal/domain"
	"iam-gateway/internal/infrastructure/metrics"

	"github.com/labstack/echo/v4"
)

// CSRF requires X-CSRF-Token on unsafe requests that ride an established
// session cookie. A request is exempt only when it authenticates by a bearer
// token in tokenHeader and the session holds no token, since the session
// token wins over the header.
func CSRF(gen domain.CSRFTokenGenerator, tokenHeader string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}

			s := SessionFrom(c)
			if s == nil || s.IsFresh() {
				return next(c)
			}
			if s.Token() == "" && presentsBearer(c, tokenHeader) {
				return next(c)
			}
			if !gen.Verify(s.ID(), req.Header.Get(HeaderCSRFToken)) {
				metrics.RecordAuthDenied("csrf_mismatch")
				return echo.NewHTTPError(http.StatusForbidden, "CSRF token mismatch").SetInternal(domain.ErrCSRFMismatch)
			}
			return next(c)
		}
	}
}

// presentsBearer reports whether the request carries a usable header token.
// Without a guard any value in tokenHeader counts.
func presentsBearer(c echo.Context, tokenHeader string) bool {
	if g := GuardFrom(c); g != nil {
		return !g.TokenFromSession() && g.Token() != ""
	}
	return c.Request().Header.Get(tokenHeader) != ""
}
