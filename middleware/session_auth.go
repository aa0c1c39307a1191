package middleware

import (
	"log/slog"
	"net/http"

	"iam-gateway/internal/domain"
	"iam-gateway/internal/infrastructure/metrics"
	"iam-gateway/internal/usecase"
	"iam-gateway/utils/logger"

	"github.com/labstack/echo/v4"
)

// Denial reasons recorded in iamgw_auth_denied_total.
const (
	DenyMissingToken = "missing_token"
	DenyInvalidToken = "invalid_token"
)

// AuthConfig configures SessionAuth.
type AuthConfig struct {
	Authenticator *usecase.Authenticator
	// LoginURL is where browser clients are sent when unauthenticated.
	LoginURL string
	Logger   *slog.Logger
}

// AttachGuard binds a request-scoped guard to every request. It must run
// after StartSession.
func AttachGuard(auth *usecase.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			attachGuard(c, auth)
			return next(c)
		}
	}
}

func attachGuard(c echo.Context, auth *usecase.Authenticator) *usecase.Guard {
	g := auth.Guard(SessionFrom(c), c.Request().Header.Get(auth.TokenHeader()))
	c.Set(guardContextKey, g)
	return g
}

// SessionAuth rejects unauthenticated requests. JSON clients get 401,
// browsers are redirected to the login entry point and their destination is
// remembered. On success the identity is published into the request context.
func SessionAuth(cfg AuthConfig) echo.MiddlewareFunc {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			g := GuardFrom(c)
			if g == nil {
				g = attachGuard(c, cfg.Authenticator)
			}
			ctx := c.Request().Context()

			if g.Token() == "" {
				return deny(c, cfg, DenyMissingToken)
			}

			identity := g.User(ctx)
			if identity == nil {
				g.Forget(ctx)
				return deny(c, cfg, DenyInvalidToken)
			}

			// Only cookie sessions slide; bearer clients never get a session written.
			if s := SessionFrom(c); s != nil && g.TokenFromSession() {
				s.Touch()
			}

			ctx = domain.WithIdentity(ctx, identity)
			ctx = logger.WithUserID(ctx, identity.PrimaryKey())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// GuestOnly sends already authenticated callers to home.
func GuestOnly(home string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if g := GuardFrom(c); g != nil && g.Check(c.Request().Context()) {
				return c.Redirect(http.StatusFound, home)
			}
			return next(c)
		}
	}
}

func deny(c echo.Context, cfg AuthConfig, reason string) error {
	ctx := c.Request().Context()
	metrics.RecordAuthDenied(reason)
	cfg.Logger.InfoContext(ctx, "request denied",
		"reason", reason,
		"method", c.Request().Method,
		"path", c.Request().URL.Path)

	if WantsJSON(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthenticated"})
	}
	if s := SessionFrom(c); s != nil && c.Request().Method == http.MethodGet {
		s.Put(domain.IntendedURLKey, c.Request().URL.RequestURI())
	}
	return c.Redirect(http.StatusFound, cfg.LoginURL)
}
