package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"iam-gateway/internal/domain"
)

const (
	msgInvalidCredentials = "The provided credentials are incorrect."
	msgInvalidOTP         = "The provided OTP is invalid or has expired."
	defaultOTPPurpose     = "login"
)

// LoginResult is returned by successful password and phone logins.
type LoginResult struct {
	Identity    *domain.Identity
	AccessToken string
	TokenType   string
}

// Lifecycle orchestrates the token lifecycle endpoints on top of a
// request's Guard and Session.
type Lifecycle struct {
	resolver domain.IdentityResolver
	client   domain.IdentityClient
	verifier domain.TokenVerifier
	logger   *slog.Logger
}

// NewLifecycle creates a new Lifecycle usecase.
func NewLifecycle(r domain.IdentityResolver, c domain.IdentityClient, v domain.TokenVerifier, l *slog.Logger) *Lifecycle {
	return &Lifecycle{resolver: r, client: c, verifier: v, logger: l}
}

// Login authenticates with email and password and establishes a session.
func (uc *Lifecycle) Login(ctx context.Context, g *Guard, session *domain.Session, email, password string, remember bool) (*LoginResult, error) {
	verr := &domain.ValidationError{}
	email = strings.TrimSpace(email)
	if email == "" {
		verr.Add("email", "The email field is required.")
	} else if _, err := mail.ParseAddress(email); err != nil {
		verr.Add("email", "The email field must be a valid email address.")
	}
	if password == "" {
		verr.Add("password", "The password field is required.")
	}
	if verr.HasErrors() {
		return nil, verr
	}

	identity := uc.resolver.ResolveByCredentials(ctx, email, password)
	if identity == nil {
		uc.logger.InfoContext(ctx, "login rejected")
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCredentials, domain.NewValidationError("email", msgInvalidCredentials))
	}
	return uc.establish(g, session, identity, remember)
}

// SendOTP provisions a one-time code for phone.
func (uc *Lifecycle) SendOTP(ctx context.Context, phone, purpose string) (*domain.OTPResult, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, domain.NewValidationError("phone", "The phone field is required.")
	}
	if purpose == "" {
		purpose = defaultOTPPurpose
	}
	return uc.client.SendOTP(ctx, phone, purpose)
}

// LoginWithPhone exchanges a phone and one-time code for a session.
// Code reuse is rejected upstream.
func (uc *Lifecycle) LoginWithPhone(ctx context.Context, g *Guard, session *domain.Session, phone, otp, deviceName string, remember bool) (*LoginResult, error) {
	verr := &domain.ValidationError{}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		verr.Add("phone", "The phone field is required.")
	}
	if strings.TrimSpace(otp) == "" {
		verr.Add("otp", "The otp field is required.")
	}
	if verr.HasErrors() {
		return nil, verr
	}

	identity := uc.resolver.ResolveByPhone(ctx, phone, otp, deviceName)
	if identity == nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCredentials, domain.NewValidationError("otp", msgInvalidOTP))
	}
	return uc.establish(g, session, identity, remember)
}

func (uc *Lifecycle) establish(g *Guard, session *domain.Session, identity *domain.Identity, remember bool) (*LoginResult, error) {
	if g == nil || session == nil {
		return nil, domain.ErrSessionNotFound
	}
	session.SetToken(identity.Token)
	session.SetSnapshot(identity.Permissions, identity.Roles)
	if err := g.Login(identity, remember); err != nil {
		return nil, err
	}
	return &LoginResult{Identity: identity, AccessToken: identity.Token, TokenType: "Bearer"}, nil
}

// Me returns the authenticated identity.
func (uc *Lifecycle) Me(ctx context.Context, g *Guard) (*domain.Identity, error) {
	identity, _, err := uc.authenticated(ctx, g)
	return identity, err
}

// CheckPermission answers whether the caller holds permission.
func (uc *Lifecycle) CheckPermission(ctx context.Context, g *Guard, permission string) (bool, error) {
	if strings.TrimSpace(permission) == "" {
		return false, domain.NewValidationError("permission", "The permission field is required.")
	}
	if _, _, err := uc.authenticated(ctx, g); err != nil {
		return false, err
	}
	return g.HasPermission(ctx, permission), nil
}

// CheckRole answers whether the caller holds role.
func (uc *Lifecycle) CheckRole(ctx context.Context, g *Guard, role string) (bool, error) {
	if strings.TrimSpace(role) == "" {
		return false, domain.NewValidationError("role", "The role field is required.")
	}
	if _, _, err := uc.authenticated(ctx, g); err != nil {
		return false, err
	}
	return g.HasRole(ctx, role), nil
}

// Refresh rotates the caller's token. The old token's cache entry is
// evicted and a session-held token is replaced.
func (uc *Lifecycle) Refresh(ctx context.Context, g *Guard, session *domain.Session) (*domain.TokenGrant, error) {
	_, token, err := uc.authenticated(ctx, g)
	if err != nil {
		return nil, err
	}

	grant, err := uc.client.Refresh(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: token refresh failed: %w", domain.ErrUnauthenticated, err)
	}

	uc.verifier.Invalidate(ctx, token)
	if session != nil && g.TokenFromSession() {
		session.SetToken(grant.AccessToken)
	}
	return grant, nil
}

// Logout revokes the caller's token upstream, logs the guard out and
// invalidates the session. An upstream failure does not keep the session alive.
func (uc *Lifecycle) Logout(ctx context.Context, g *Guard, session *domain.Session) error {
	_, token, err := uc.authenticated(ctx, g)
	if err != nil {
		return err
	}
	if err := uc.client.Logout(ctx, token); err != nil {
		uc.logger.WarnContext(ctx, "upstream logout failed", "error", err)
	}
	g.Logout(ctx)
	if session != nil {
		session.Invalidate()
	}
	return nil
}

// LogoutAll revokes every token of the caller upstream, then logs out
// locally. The local logout completes even when the upstream call fails.
func (uc *Lifecycle) LogoutAll(ctx context.Context, g *Guard, session *domain.Session) error {
	_, token, err := uc.authenticated(ctx, g)
	if err != nil {
		return err
	}
	if err := uc.client.LogoutAll(ctx, token); err != nil {
		uc.logger.WarnContext(ctx, "upstream logout-all failed", "error", err)
	}
	g.Logout(ctx)
	if session != nil {
		session.Invalidate()
	}
	return nil
}

// VerifyPhone starts ownership verification of phone for the caller.
func (uc *Lifecycle) VerifyPhone(ctx context.Context, g *Guard, phone string) (*domain.OTPResult, error) {
	if _, _, err := uc.authenticated(ctx, g); err != nil {
		return nil, err
	}
	if strings.TrimSpace(phone) == "" {
		return nil, domain.NewValidationError("phone", "The phone field is required.")
	}
	return uc.client.VerifyPhone(ctx, strings.TrimSpace(phone))
}

// ConfirmPhoneVerification completes ownership verification of phone.
func (uc *Lifecycle) ConfirmPhoneVerification(ctx context.Context, g *Guard, phone, otp string) (*domain.OTPResult, error) {
	if _, _, err := uc.authenticated(ctx, g); err != nil {
		return nil, err
	}
	verr := &domain.ValidationError{}
	if strings.TrimSpace(phone) == "" {
		verr.Add("phone", "The phone field is required.")
	}
	if strings.TrimSpace(otp) == "" {
		verr.Add("otp", "The otp field is required.")
	}
	if verr.HasErrors() {
		return nil, verr
	}
	return uc.client.ConfirmPhoneVerification(ctx, strings.TrimSpace(phone), otp)
}

// authenticated requires a resolved identity with an attached token.
func (uc *Lifecycle) authenticated(ctx context.Context, g *Guard) (*domain.Identity, string, error) {
	if g == nil {
		return nil, "", domain.ErrUnauthenticated
	}
	identity := g.User(ctx)
	if identity == nil {
		return nil, "", domain.ErrUnauthenticated
	}
	token := identity.Token
	if token == "" {
		token = g.Token()
	}
	if token == "" {
		return nil, "", domain.ErrMissingToken
	}
	return identity, token, nil
}
