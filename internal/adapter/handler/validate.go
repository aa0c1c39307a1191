package handler

import (
	"net/http"
	"strings"

	"iam-gateway/internal/domain"
	"iam-gateway/middleware"

	"github.com/labstack/echo/v4"
)

// Identity headers returned to the reverse proxy.
const (
	HeaderUserID       = "X-IAM-User-Id"
	HeaderUserEmail    = "X-IAM-User-Email"
	HeaderUserRoles    = "X-IAM-User-Roles"
	HeaderBackendToken = "X-IAM-Backend-Token"
)

// ValidateHandler answers reverse-proxy auth_request subrequests.
type ValidateHandler struct {
	issuer domain.TokenIssuer
}

// NewValidateHandler creates a new validate handler. issuer may be nil when
// no backend token is configured.
func NewValidateHandler(issuer domain.TokenIssuer) *ValidateHandler {
	return &ValidateHandler{issuer: issuer}
}

// Handle processes GET /validate. It runs behind SessionAuth.
func (h *ValidateHandler) Handle(c echo.Context) error {
	identity, ok := domain.IdentityFromContext(c.Request().Context())
	if !ok {
		return mapDomainError(domain.ErrUnauthenticated)
	}

	hdr := c.Response().Header()
	hdr.Set(HeaderUserID, identity.PrimaryKey())
	hdr.Set(HeaderUserEmail, identity.Email)
	hdr.Set(HeaderUserRoles, strings.Join(identity.Roles, ","))

	if h.issuer != nil {
		sid := ""
		if s := middleware.SessionFrom(c); s != nil && !s.IsFresh() {
			sid = s.ID()
		}
		token, err := h.issuer.IssueBackendToken(identity, sid)
		if err != nil {
			return mapDomainError(err)
		}
		hdr.Set(HeaderBackendToken, token)
	}
	return c.NoContent(http.StatusOK)
}
