package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"iam-gateway/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeIAM is an in-memory domain.IdentityClient with real token state.
type fakeIAM struct {
	mu       sync.Mutex
	tokens   map[string]bool
	otps     map[string]string
	seq      int
	verifies atomic.Int32
	checks   atomic.Int32
	logouts  atomic.Int32

	// answer is returned by CheckPermission/CheckRole.
	answer bool
	// verifyErr forces Verify to fail.
	verifyErr error
	// logoutAllErr forces LogoutAll to fail without revoking anything.
	logoutAllErr error
	// gate, when set, blocks Verify until closed.
	gate chan struct{}
}

func newFakeIAM() *fakeIAM {
	return &fakeIAM{tokens: make(map[string]bool), otps: make(map[string]string)}
}

func (f *fakeIAM) issue() string {
	f.seq++
	tok := fmt.Sprintf("token-%d", f.seq)
	f.tokens[tok] = true
	return tok
}

func (f *fakeIAM) grant(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = true
}

func (f *fakeIAM) result(token string) *domain.AuthResult {
	return &domain.AuthResult{
		User: &domain.RemoteUser{
			ID:    "42",
			Name:  "Jane",
			Email: "jane@example.com",
			Roles: []domain.RemoteRole{{Name: "editor", Permissions: []domain.NameRef{"posts.edit", "posts.view"}}},
		},
		AccessToken: token,
		Permissions: []domain.NameRef{"profile.view", "posts.view"},
	}
}

var errRejected = &domain.RemoteError{Operation: "fake", StatusCode: 401, Err: domain.ErrIAMRejected}

func (f *fakeIAM) Login(_ context.Context, email, password string) (*domain.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if email != "jane@example.com" || password != "secret" {
		return nil, errRejected
	}
	return f.result(f.issue()), nil
}

func (f *fakeIAM) Verify(_ context.Context, token string) (*domain.AuthResult, error) {
	f.verifies.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.tokens[token] {
		return nil, errRejected
	}
	res := f.result(token)
	res.AccessToken = ""
	return res, nil
}

func (f *fakeIAM) CheckPermission(_ context.Context, token, _ string) (bool, error) {
	f.checks.Add(1)
	return f.answer, nil
}

func (f *fakeIAM) CheckRole(_ context.Context, token, _ string) (bool, error) {
	f.checks.Add(1)
	return f.answer, nil
}

func (f *fakeIAM) Refresh(_ context.Context, token string) (*domain.TokenGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.tokens[token] {
		return nil, errRejected
	}
	f.tokens[token] = false
	return &domain.TokenGrant{AccessToken: f.issue(), TokenType: "Bearer"}, nil
}

func (f *fakeIAM) Logout(_ context.Context, token string) error {
	f.logouts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = false
	return nil
}

func (f *fakeIAM) LogoutAll(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logoutAllErr != nil {
		return f.logoutAllErr
	}
	if !f.tokens[token] {
		return errRejected
	}
	for tok := range f.tokens {
		f.tokens[tok] = false
	}
	return nil
}

func (f *fakeIAM) SendOTP(_ context.Context, phone, _ string) (*domain.OTPResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otps[phone] = "123456"
	return &domain.OTPResult{Success: true, ExpiresIn: 300}, nil
}

func (f *fakeIAM) LoginWithPhone(_ context.Context, phone, otp, _ string) (*domain.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code, ok := f.otps[phone]; !ok || code != otp {
		return nil, errRejected
	}
	delete(f.otps, phone)
	return f.result(f.issue()), nil
}

func (f *fakeIAM) VerifyPhone(_ context.Context, phone string) (*domain.OTPResult, error) {
	return &domain.OTPResult{Success: true, Message: "sent to " + phone}, nil
}

func (f *fakeIAM) ConfirmPhoneVerification(_ context.Context, _, otp string) (*domain.OTPResult, error) {
	if otp != "123456" {
		return nil, errRejected
	}
	return &domain.OTPResult{Success: true, Verified: true}, nil
}

// fakeStore is a domain.IdentityCache with a controllable clock.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	now     time.Time
}

type fakeEntry struct {
	identity  *domain.Identity
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]fakeEntry), now: time.Unix(0, 0)}
}

func (s *fakeStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

func (s *fakeStore) Get(_ context.Context, key string) (*domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !s.now.Before(e.expiresAt) {
		return nil, false
	}
	return e.identity.Clone(), true
}

func (s *fakeStore) Set(_ context.Context, key string, identity *domain.Identity, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = fakeEntry{identity: identity.Clone(), expiresAt: s.now.Add(ttl)}
}

func (s *fakeStore) Delete(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// fakeVerifier counts GetOrVerify calls for guard tests.
type fakeVerifier struct {
	identity    *domain.Identity
	calls       int
	invalidated []string
}

func (v *fakeVerifier) GetOrVerify(_ context.Context, token string, _ time.Duration) *domain.Identity {
	v.calls++
	if v.identity == nil {
		return nil
	}
	return v.identity.WithToken(token)
}

func (v *fakeVerifier) Invalidate(_ context.Context, token string) {
	v.invalidated = append(v.invalidated, token)
}

// fakeMirror assigns sequential local IDs.
type fakeMirror struct {
	err   error
	calls int
}

func (m *fakeMirror) Upsert(_ context.Context, identity *domain.Identity) (*domain.Identity, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	c := identity.Clone()
	c.LocalID = fmt.Sprintf("%d", 1000+m.calls)
	return c, nil
}

// stack wires the real usecases over the fakes.
type stack struct {
	iam      *fakeIAM
	store    *fakeStore
	resolver *Resolver
	cache    *VerificationCache
	auth     *Authenticator
	life     *Lifecycle
}

func newStack(coalesce bool) *stack {
	iam := newFakeIAM()
	store := newFakeStore()
	resolver, _ := NewResolver(iam, domain.StrategyEphemeral, nil, testLogger)
	cache := NewVerificationCache(store, resolver, 60*time.Second, coalesce, testLogger)
	auth := NewAuthenticator(cache, resolver, iam, AuthenticatorConfig{
		GuardName:   "iam",
		TokenHeader: "Authorization",
		TokenPrefix: "Bearer",
		CacheTTL:    60 * time.Second,
	}, testLogger)
	return &stack{
		iam:      iam,
		store:    store,
		resolver: resolver,
		cache:    cache,
		auth:     auth,
		life:     NewLifecycle(resolver, iam, cache, testLogger),
	}
}
