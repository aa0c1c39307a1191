// Package middleware holds the echo middleware chain of the gateway:
// session handling, authentication, CSRF, rate limits and telemetry.
package middleware

import (
	"strings"

	"iam-gateway/internal/domain"
	"iam-gateway/internal/usecase"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	sessionContextKey = "iam.session"
	guardContextKey   = "iam.guard"

	// HeaderCSRFToken carries the CSRF token on unsafe session-authenticated requests.
	HeaderCSRFToken = "X-CSRF-Token"
)

// SessionFrom returns the session started by StartSession, or nil.
func SessionFrom(c echo.Context) *domain.Session {
	s, _ := c.Get(sessionContextKey).(*domain.Session)
	return s
}

// GuardFrom returns the request guard attached by AttachGuard or SessionAuth, or nil.
func GuardFrom(c echo.Context) *usecase.Guard {
	g, _ := c.Get(guardContextKey).(*usecase.Guard)
	return g
}

// WantsJSON reports whether the client expects a JSON answer rather than a redirect.
func WantsJSON(c echo.Context) bool {
	h := c.Request().Header
	if strings.EqualFold(h.Get(echo.HeaderXRequestedWith), "XMLHttpRequest") {
		return true
	}
	accept := h.Get(echo.HeaderAccept)
	return strings.Contains(accept, "/json") || strings.Contains(accept, "+json")
}

// NewSessionID returns a random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// RotateSession applies a pending regeneration immediately so the new
// identifier is known before the response is committed.
func RotateSession(s *domain.Session) {
	if s != nil && s.NeedsRegeneration() {
		s.Rotate(NewSessionID())
	}
}
