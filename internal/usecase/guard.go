package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
	"slices"
	"strings"
	"time"

	"iam-gateway/internal/domain"
)

const guardType = "iam-gateway/usecase.Guard"

// AuthenticatorConfig configures token extraction and cache lifetime.
type AuthenticatorConfig struct {
	GuardName   string
	TokenHeader string
	TokenPrefix string
	CacheTTL    time.Duration
}

// Authenticator builds request-scoped guards that share the verifier,
// resolver and IAM client.
type Authenticator struct {
	verifier   domain.TokenVerifier
	resolver   domain.IdentityResolver
	client     domain.IdentityClient
	cfg        AuthenticatorConfig
	sessionKey string
	logger     *slog.Logger
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(verifier domain.TokenVerifier, resolver domain.IdentityResolver, client domain.IdentityClient, cfg AuthenticatorConfig, logger *slog.Logger) *Authenticator {
	if cfg.GuardName == "" {
		cfg.GuardName = "iam"
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "Authorization"
	}
	sum := sha1.Sum([]byte(guardType + ":" + cfg.GuardName))
	return &Authenticator{
		verifier:   verifier,
		resolver:   resolver,
		client:     client,
		cfg:        cfg,
		sessionKey: "login_" + cfg.GuardName + "_" + hex.EncodeToString(sum[:]),
		logger:     logger,
	}
}

// SessionKey is the session attribute holding the logged-in primary key.
func (a *Authenticator) SessionKey() string { return a.sessionKey }

// TokenHeader is the request header bearer tokens are read from.
func (a *Authenticator) TokenHeader() string { return a.cfg.TokenHeader }

// Guard returns a guard bound to one request. session may be nil for
// stateless callers; header is the raw value of the token header.
func (a *Authenticator) Guard(session *domain.Session, header string) *Guard {
	return &Guard{auth: a, session: session, header: header}
}

// Guard resolves the caller of a single request. It is not safe for
// concurrent use and must not outlive the request.
type Guard struct {
	auth    *Authenticator
	session *domain.Session
	header  string

	user     *domain.Identity
	resolved bool
	// pinned identities were set explicitly and survive token changes.
	pinned  bool
	memoKey string
}

// Token returns the session token, falling back to the header token.
func (g *Guard) Token() string {
	if g.session != nil {
		if tok := g.session.Token(); tok != "" {
			return tok
		}
	}
	return g.headerToken()
}

// TokenFromSession reports whether Token came from the session.
func (g *Guard) TokenFromSession() bool {
	return g.session != nil && g.session.Token() != ""
}

func (g *Guard) headerToken() string {
	raw := strings.TrimSpace(g.header)
	if raw == "" {
		return ""
	}
	prefix := g.auth.cfg.TokenPrefix
	if prefix == "" {
		return raw
	}
	if len(raw) > len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) && raw[len(prefix)] == ' ' {
		return strings.TrimSpace(raw[len(prefix)+1:])
	}
	return ""
}

// User returns the resolved identity, touching the verifier at most once per token.
func (g *Guard) User(ctx context.Context) *domain.Identity {
	token := g.Token()
	key := ""
	if token != "" {
		key = domain.Fingerprint(token)
	}
	if g.resolved && (g.pinned || g.memoKey == key) {
		return g.user
	}

	g.resolved = true
	g.memoKey = key
	g.user = nil
	if token == "" {
		return nil
	}
	g.user = g.auth.verifier.GetOrVerify(ctx, token, g.auth.cfg.CacheTTL)
	return g.user
}

// Check reports whether the request is authenticated.
func (g *Guard) Check(ctx context.Context) bool { return g.User(ctx) != nil }

// Guest reports whether the request is unauthenticated.
func (g *Guard) Guest(ctx context.Context) bool { return !g.Check(ctx) }

// ID returns the primary key of the current identity, or "".
func (g *Guard) ID(ctx context.Context) string {
	if u := g.User(ctx); u != nil {
		return u.PrimaryKey()
	}
	return ""
}

// HasUser reports whether an identity is already resolved, without resolving.
func (g *Guard) HasUser() bool { return g.resolved && g.user != nil }

// SetUser sets the request identity without touching the session.
func (g *Guard) SetUser(identity *domain.Identity) {
	g.user = identity
	g.resolved = true
	g.pinned = true
}

// Validate checks credentials upstream and sets the identity on success.
// It does not log the caller in.
func (g *Guard) Validate(ctx context.Context, email, password string) bool {
	identity := g.auth.resolver.ResolveByCredentials(ctx, email, password)
	if identity == nil {
		return false
	}
	g.SetUser(identity)
	return true
}

// Login records identity in the session and forces session regeneration.
func (g *Guard) Login(identity *domain.Identity, remember bool) error {
	if g.session == nil {
		return domain.ErrSessionNotFound
	}
	g.session.Put(g.auth.sessionKey, identity.PrimaryKey())
	g.session.SetRemember(remember)
	g.session.Regenerate()
	g.SetUser(identity)
	return nil
}

// Logout clears this guard's session key and the request identity, and
// evicts the token from the verification cache. The upstream token stays valid.
func (g *Guard) Logout(ctx context.Context) {
	if token := g.Token(); token != "" {
		g.auth.verifier.Invalidate(ctx, token)
	}
	if g.session != nil {
		g.session.Remove(g.auth.sessionKey)
		g.session.ForgetToken()
		g.session.Regenerate()
	}
	g.SetUser(nil)
}

// Forget evicts the current token from the verification cache and drops a
// session-held token. The session identifier is kept.
func (g *Guard) Forget(ctx context.Context) {
	if token := g.Token(); token != "" {
		g.auth.verifier.Invalidate(ctx, token)
	}
	if g.TokenFromSession() {
		g.session.ForgetToken()
	}
	g.resolved = false
	g.pinned = false
	g.user = nil
}

// HasPermission answers from the session snapshot when one exists, otherwise
// asks the IAM authority. Any failure answers false.
func (g *Guard) HasPermission(ctx context.Context, name string) bool {
	return g.authorize(ctx, name, (*domain.Session).Permissions, g.auth.client.CheckPermission)
}

// HasRole answers from the session snapshot when one exists, otherwise asks
// the IAM authority. Any failure answers false.
func (g *Guard) HasRole(ctx context.Context, name string) bool {
	return g.authorize(ctx, name, (*domain.Session).Roles, g.auth.client.CheckRole)
}

func (g *Guard) authorize(
	ctx context.Context,
	name string,
	snapshot func(*domain.Session) []string,
	remote func(context.Context, string, string) (bool, error),
) bool {
	if g.User(ctx) == nil {
		return false
	}
	if g.session != nil {
		if names := snapshot(g.session); len(names) > 0 {
			return slices.Contains(names, name)
		}
	}
	token := g.Token()
	if token == "" {
		return false
	}
	ok, err := remote(ctx, token, name)
	if err != nil {
		g.auth.logger.WarnContext(ctx, "upstream authorization check failed", "name", name, "error", err)
		return false
	}
	return ok
}
