package handler

import (
	"net/http"

	"iam-gateway/internal/domain"
	"iam-gateway/middleware"

	"github.com/labstack/echo/v4"
)

// CSRFHandler hands out the CSRF token of the caller's session.
type CSRFHandler struct {
	gen domain.CSRFTokenGenerator
}

// NewCSRFHandler creates a new CSRF handler.
func NewCSRFHandler(gen domain.CSRFTokenGenerator) *CSRFHandler {
	return &CSRFHandler{gen: gen}
}

type csrfResponse struct {
	Data struct {
		CSRFToken string `json:"csrf_token"`
	} `json:"data"`
}

// Handle processes GET /csrf. The session is persisted so the token stays
// bound to the identifier in the cookie.
func (h *CSRFHandler) Handle(c echo.Context) error {
	s := middleware.SessionFrom(c)
	if s == nil {
		return mapDomainError(domain.ErrSessionNotFound)
	}

	token, err := h.gen.Generate(s.ID())
	if err != nil {
		return mapDomainError(err)
	}
	s.Touch()

	resp := csrfResponse{}
	resp.Data.CSRFToken = token
	return c.JSON(http.StatusOK, resp)
}
