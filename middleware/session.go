package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"iam-gateway/internal/domain"

	"github.com/labstack/echo/v4"
)

// SessionConfig configures StartSession.
type SessionConfig struct {
	Store            domain.SessionStore
	CookieName       string
	Lifetime         time.Duration
	RememberLifetime time.Duration
	Secure           bool
	Domain           string
	Logger           *slog.Logger
}

// StartSession loads the session named by the session cookie and commits it
// right before the response header is written. Unknown or missing
// identifiers always get a fresh server-generated ID.
func StartSession(cfg SessionConfig) echo.MiddlewareFunc {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session, loadedID := loadSession(c, cfg)

			req := c.Request()
			c.Set(sessionContextKey, session)
			c.SetRequest(req.WithContext(domain.WithSession(req.Context(), session)))

			var once sync.Once
			c.Response().Before(func() {
				once.Do(func() { commitSession(c, cfg, session, loadedID) })
			})

			return next(c)
		}
	}
}

func loadSession(c echo.Context, cfg SessionConfig) (*domain.Session, string) {
	cookie, err := c.Cookie(cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return domain.NewSession(NewSessionID(), nil), ""
	}

	ctx := c.Request().Context()
	data, err := cfg.Store.Load(ctx, cookie.Value)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			cfg.Logger.WarnContext(ctx, "failed to load session", "error", err)
		}
		return domain.NewSession(NewSessionID(), nil), ""
	}
	return domain.NewSession(cookie.Value, data), cookie.Value
}

func commitSession(c echo.Context, cfg SessionConfig, s *domain.Session, loadedID string) {
	ctx := c.Request().Context()

	if s.NeedsRegeneration() {
		s.Rotate(NewSessionID())
	}
	if loadedID != "" && loadedID != s.ID() {
		if err := cfg.Store.Delete(ctx, loadedID); err != nil {
			cfg.Logger.WarnContext(ctx, "failed to delete rotated session", "error", err)
		}
	}
	if !s.IsDirty() {
		return
	}

	ttl := cfg.Lifetime
	if s.Remember() {
		ttl = cfg.RememberLifetime
	}
	if err := cfg.Store.Save(ctx, s.ID(), s.Data(), ttl); err != nil {
		cfg.Logger.ErrorContext(ctx, "failed to save session", "error", err)
		return
	}

	cookie := &http.Cookie{
		Name:     cfg.CookieName,
		Value:    s.ID(),
		Path:     "/",
		Domain:   cfg.Domain,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.Remember() {
		cookie.MaxAge = int(ttl.Seconds())
	}
	c.SetCookie(cookie)
	s.MarkClean()
}
