package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"iam-gateway/internal/domain"
	"iam-gateway/internal/infrastructure/cache"
	sessionstore "iam-gateway/internal/infrastructure/session"
	"iam-gateway/internal/infrastructure/token"
	"iam-gateway/internal/usecase"
	"iam-gateway/middleware"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	testCookieName   = "iam_gateway_session"
	testCSRFSecret   = "this-is-a-valid-csrf-secret-that-is-at-least-32-chars"
	testBackendKey   = "this-is-a-valid-backend-token-secret-32-chars-long"
	testInternalAuth = "internal-shared-secret"
)

// mockIAM is a testify mock of domain.IdentityClient.
type mockIAM struct {
	mock.Mock
}

func authResultOrNil(v any) *domain.AuthResult {
	r, _ := v.(*domain.AuthResult)
	return r
}

func otpResultOrNil(v any) *domain.OTPResult {
	r, _ := v.(*domain.OTPResult)
	return r
}

func (m *mockIAM) Login(_ context.Context, email, password string) (*domain.AuthResult, error) {
	args := m.Called(email, password)
	return authResultOrNil(args.Get(0)), args.Error(1)
}

func (m *mockIAM) Verify(_ context.Context, tok string) (*domain.AuthResult, error) {
	args := m.Called(tok)
	return authResultOrNil(args.Get(0)), args.Error(1)
}

func (m *mockIAM) CheckPermission(_ context.Context, tok, permission string) (bool, error) {
	args := m.Called(tok, permission)
	return args.Bool(0), args.Error(1)
}

func (m *mockIAM) CheckRole(_ context.Context, tok, role string) (bool, error) {
	args := m.Called(tok, role)
	return args.Bool(0), args.Error(1)
}

func (m *mockIAM) Refresh(_ context.Context, tok string) (*domain.TokenGrant, error) {
	args := m.Called(tok)
	g, _ := args.Get(0).(*domain.TokenGrant)
	return g, args.Error(1)
}

func (m *mockIAM) Logout(_ context.Context, tok string) error {
	return m.Called(tok).Error(0)
}

func (m *mockIAM) LogoutAll(_ context.Context, tok string) error {
	return m.Called(tok).Error(0)
}

func (m *mockIAM) SendOTP(_ context.Context, phone, purpose string) (*domain.OTPResult, error) {
	args := m.Called(phone, purpose)
	return otpResultOrNil(args.Get(0)), args.Error(1)
}

func (m *mockIAM) LoginWithPhone(_ context.Context, phone, otp, deviceName string) (*domain.AuthResult, error) {
	args := m.Called(phone, otp, deviceName)
	return authResultOrNil(args.Get(0)), args.Error(1)
}

func (m *mockIAM) VerifyPhone(_ context.Context, phone string) (*domain.OTPResult, error) {
	args := m.Called(phone)
	return otpResultOrNil(args.Get(0)), args.Error(1)
}

func (m *mockIAM) ConfirmPhoneVerification(_ context.Context, phone, otp string) (*domain.OTPResult, error) {
	args := m.Called(phone, otp)
	return otpResultOrNil(args.Get(0)), args.Error(1)
}

func authResult(accessToken string) *domain.AuthResult {
	return &domain.AuthResult{
		User: &domain.RemoteUser{
			ID:     "42",
			Name:   "Jane",
			Email:  "jane@example.com",
			Status: "active",
			Roles:  []domain.RemoteRole{{Name: "editor", Permissions: []domain.NameRef{"posts.edit"}}},
		},
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Permissions: []domain.NameRef{"profile.view"},
	}
}

func rejected(op string) error {
	return &domain.RemoteError{Operation: op, StatusCode: http.StatusUnauthorized, Err: domain.ErrIAMRejected}
}

// harness runs the real middleware and usecase stack over a mocked IAM client
// and keeps the session cookie between calls like a browser would.
type harness struct {
	t        *testing.T
	e        *echo.Echo
	iam      *mockIAM
	sessions *sessionstore.MemoryStore
	issuer   *token.JWTIssuer
	csrf     *token.HMACCSRFGenerator
	authMW   echo.MiddlewareFunc
	cookie   *http.Cookie
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	iam := &mockIAM{}
	t.Cleanup(func() { iam.AssertExpectations(t) })

	resolver, err := usecase.NewResolver(iam, domain.StrategyEphemeral, nil, testLogger)
	require.NoError(t, err)
	identities, err := cache.NewMemoryStore(100)
	require.NoError(t, err)
	t.Cleanup(func() { _ = identities.Close() })
	verifier := usecase.NewVerificationCache(identities, resolver, time.Minute, true, testLogger)

	auth := usecase.NewAuthenticator(verifier, resolver, iam, usecase.AuthenticatorConfig{
		GuardName:   "iam",
		TokenHeader: "Authorization",
		TokenPrefix: "Bearer",
		CacheTTL:    time.Minute,
	}, testLogger)
	lc := usecase.NewLifecycle(resolver, iam, verifier, testLogger)

	sessions := sessionstore.NewMemoryStore()
	t.Cleanup(func() { _ = sessions.Close() })

	csrf := token.NewHMACCSRFGenerator(testCSRFSecret)
	issuer := token.NewJWTIssuer(token.JWTConfig{
		Secret: testBackendKey, Issuer: "iam-gateway", Audience: "backend", TTL: 5 * time.Minute,
	})

	e := echo.New()
	e.Use(middleware.StartSession(middleware.SessionConfig{
		Store:            sessions,
		CookieName:       testCookieName,
		Lifetime:         time.Hour,
		RememberLifetime: 24 * time.Hour,
		Logger:           testLogger,
	}))
	e.Use(middleware.AttachGuard(auth))
	e.Use(middleware.CSRF(csrf, auth.TokenHeader()))

	authMW := middleware.SessionAuth(middleware.AuthConfig{Authenticator: auth, LoginURL: "/login", Logger: testLogger})
	Register(e, Handlers{
		Auth:     NewAuthHandler(lc, csrf, AuthConfig{HomeURL: "/home", LoginURL: "/login"}, testLogger),
		Validate: NewValidateHandler(issuer),
		CSRF:     NewCSRFHandler(csrf),
		Health:   NewHealthHandler(nil),
		Internal: NewInternalHandler(verifier),
	}, RouteMiddleware{
		Authenticated: authMW,
		Guest:         middleware.GuestOnly("/home"),
		InternalAuth:  middleware.InternalAuth(testInternalAuth),
	})

	return &harness{t: t, e: e, iam: iam, sessions: sessions, issuer: issuer, csrf: csrf, authMW: authMW}
}

type call struct {
	method string
	path   string
	json   any
	form   url.Values
	bearer string
	csrf   string
	header map[string]string
	// browser drops the JSON Accept header.
	browser bool
}

func (h *harness) do(c call) *httptest.ResponseRecorder {
	h.t.Helper()

	var body io.Reader
	switch {
	case c.json != nil:
		b, err := json.Marshal(c.json)
		require.NoError(h.t, err)
		body = bytes.NewReader(b)
	case c.form != nil:
		body = strings.NewReader(c.form.Encode())
	}

	req := httptest.NewRequest(c.method, c.path, body)
	switch {
	case c.json != nil:
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	case c.form != nil:
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	}
	if !c.browser {
		req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.csrf != "" {
		req.Header.Set(middleware.HeaderCSRFToken, c.csrf)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}

	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.Name == testCookieName {
			h.cookie = ck
		}
	}
	return rec
}

func (h *harness) storedSession() *domain.SessionData {
	h.t.Helper()
	require.NotNil(h.t, h.cookie, "no session cookie")
	data, err := h.sessions.Load(context.Background(), h.cookie.Value)
	require.NoError(h.t, err)
	return data
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// login performs a JSON password login and returns the response body.
func (h *harness) login() loginResponse {
	h.t.Helper()
	h.iam.On("Login", "jane@example.com", "secret").Return(authResult("tok-1"), nil).Once()

	rec := h.do(call{method: http.MethodPost, path: "/login", json: map[string]any{
		"email": "jane@example.com", "password": "secret",
	}})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[loginResponse](h.t, rec)
}
