package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	for _, hsts := range []bool{true, false} {
		e := echo.New()
		e.Use(SecurityHeaders(hsts))
		e.POST("/login", func(c echo.Context) error {
			return c.String(http.StatusCreated, "created")
		})

		rec := serve(e, httptest.NewRequest(http.MethodPost, "/login", nil))

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "created", rec.Body.String())
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", rec.Header().Get("Content-Security-Policy"))
		assert.Equal(t, "no-store, private", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "Cookie", rec.Header().Get("Vary"))
		if hsts {
			assert.Equal(t, "max-age=63072000; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
		} else {
			assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
		}
	}
}
