package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"iam-gateway/internal/domain"
	sessionstore "iam-gateway/internal/infrastructure/session"
	"iam-gateway/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const testCookie = "iam_gateway_session"

// stubVerifier answers every token listed in valid.
type stubVerifier struct {
	valid       map[string]*domain.Identity
	calls       int
	invalidated []string
}

func (v *stubVerifier) GetOrVerify(_ context.Context, token string, _ time.Duration) *domain.Identity {
	v.calls++
	if id, ok := v.valid[token]; ok {
		return id.WithToken(token)
	}
	return nil
}

func (v *stubVerifier) Invalidate(_ context.Context, token string) {
	v.invalidated = append(v.invalidated, token)
}

func newStubVerifier() *stubVerifier {
	return &stubVerifier{valid: map[string]*domain.Identity{
		"good": {ID: "42", Email: "jane@example.com", Roles: []string{"editor"}},
	}}
}

func newTestAuthenticator(v domain.TokenVerifier) *usecase.Authenticator {
	return usecase.NewAuthenticator(v, nil, nil, usecase.AuthenticatorConfig{
		TokenHeader: "Authorization",
		TokenPrefix: "Bearer",
		CacheTTL:    time.Minute,
	}, testLogger)
}

func newTestStore(t *testing.T) *sessionstore.MemoryStore {
	t.Helper()
	store := sessionstore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sessionConfig(store domain.SessionStore) SessionConfig {
	return SessionConfig{
		Store:            store,
		CookieName:       testCookie,
		Lifetime:         time.Hour,
		RememberLifetime: 24 * time.Hour,
		Logger:           testLogger,
	}
}

func seedSession(t *testing.T, store domain.SessionStore, id string, data domain.SessionData) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), id, data, time.Hour))
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == testCookie {
			return c
		}
	}
	return nil
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}
