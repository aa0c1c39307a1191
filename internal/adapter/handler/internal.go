package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"iam-gateway/internal/domain"

	"github.com/labstack/echo/v4"
)

// InternalHandler handles service-to-service requests from the IAM authority.
type InternalHandler struct {
	verifier domain.TokenVerifier
}

// NewInternalHandler creates a new internal handler.
func NewInternalHandler(verifier domain.TokenVerifier) *InternalHandler {
	return &InternalHandler{verifier: verifier}
}

type invalidateRequest struct {
	Token string `json:"token"`
}

// HandleInvalidate evicts a revoked token from the verification cache.
func (h *InternalHandler) HandleInvalidate(c echo.Context) error {
	var req invalidateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return mapDomainError(domain.NewValidationError("token", "The token field is required."))
	}

	ctx := c.Request().Context()
	h.verifier.Invalidate(ctx, token)

	fp := strings.TrimPrefix(domain.Fingerprint(token), "iam_token_")
	slog.InfoContext(ctx, "verification cache entry evicted", "fingerprint", fp[:8], "remote_addr", c.RealIP())
	return c.NoContent(http.StatusNoContent)
}
