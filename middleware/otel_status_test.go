package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"iam-gateway/utils/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func runTraced(t *testing.T, handler echo.HandlerFunc) (sdktrace.ReadOnlySpan, error) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	c := echo.New().NewContext(req, httptest.NewRecorder())
	ctx, span := tp.Tracer("test").Start(req.Context(), "request")
	c.SetRequest(req.WithContext(ctx))

	err := OTelStatus()(handler)(c)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	return spans[0], err
}

func statusAttr(span sdktrace.ReadOnlySpan) int64 {
	for _, attr := range span.Attributes() {
		if string(attr.Key) == "http.response.status_code" {
			return attr.Value.AsInt64()
		}
	}
	return 0
}

func TestOTelStatus(t *testing.T) {
	tests := []struct {
		name       string
		handler    echo.HandlerFunc
		wantStatus int64
		wantCode   codes.Code
		wantErr    bool
	}{
		{
			name:       "2xx",
			handler:    func(c echo.Context) error { return c.NoContent(http.StatusOK) },
			wantStatus: 200,
			wantCode:   codes.Unset,
		},
		{
			name:       "written 401",
			handler:    func(c echo.Context) error { return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthenticated"}) },
			wantStatus: 401,
			wantCode:   codes.Unset,
		},
		{
			name:       "returned 429",
			handler:    func(echo.Context) error { return echo.NewHTTPError(http.StatusTooManyRequests) },
			wantStatus: 429,
			wantCode:   codes.Unset,
			wantErr:    true,
		},
		{
			name:       "returned 502",
			handler:    func(echo.Context) error { return echo.NewHTTPError(http.StatusBadGateway) },
			wantStatus: 502,
			wantCode:   codes.Error,
			wantErr:    true,
		},
		{
			name:       "plain error",
			handler:    func(echo.Context) error { return errors.New("iam unreachable") },
			wantStatus: 500,
			wantCode:   codes.Error,
			wantErr:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, err := runTraced(t, tt.handler)

			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantStatus, statusAttr(span))
			assert.Equal(t, tt.wantCode, span.Status().Code)
		})
	}
}

func TestOTelStatus_NoSpan(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	err := OTelStatus()(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	var seen string
	e.GET("/", func(c echo.Context) error {
		seen = logger.RequestIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := serve(e, req)

	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "req-1", seen)

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(echo.HeaderXRequestID), 36)
}
