package domain

import (
	"context"
	"time"
)

// IdentityClient is the HTTP facade to the remote IAM authority.
// Every call is exactly one round trip; failures are returned as *RemoteError.
type IdentityClient interface {
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	Verify(ctx context.Context, token string) (*AuthResult, error)
	CheckPermission(ctx context.Context, token, permission string) (bool, error)
	CheckRole(ctx context.Context, token, role string) (bool, error)
	Refresh(ctx context.Context, token string) (*TokenGrant, error)
	Logout(ctx context.Context, token string) error
	LogoutAll(ctx context.Context, token string) error
	SendOTP(ctx context.Context, phone, purpose string) (*OTPResult, error)
	LoginWithPhone(ctx context.Context, phone, otp, deviceName string) (*AuthResult, error)
	VerifyPhone(ctx context.Context, phone string) (*OTPResult, error)
	ConfirmPhoneVerification(ctx context.Context, phone, otp string) (*OTPResult, error)
}

// IdentityResolver materializes identities. A nil result means "not authenticated".
type IdentityResolver interface {
	ResolveByCredentials(ctx context.Context, email, password string) *Identity
	ResolveByToken(ctx context.Context, token string) *Identity
	ResolveByPhone(ctx context.Context, phone, otp, deviceName string) *Identity
}

// IdentityCache stores resolved identities keyed by token fingerprint.
type IdentityCache interface {
	Get(ctx context.Context, key string) (*Identity, bool)
	Set(ctx context.Context, key string, identity *Identity, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// IdentityMirror persists identities locally for the mirrored strategy.
type IdentityMirror interface {
	Upsert(ctx context.Context, identity *Identity) (*Identity, error)
}

// SessionStore persists session state keyed by session ID.
type SessionStore interface {
	Load(ctx context.Context, id string) (*SessionData, error)
	Save(ctx context.Context, id string, data SessionData, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// TokenIssuer generates signed backend JWT tokens for downstream services.
type TokenIssuer interface {
	IssueBackendToken(identity *Identity, sessionID string) (string, error)
}

// CSRFTokenGenerator generates and checks CSRF tokens bound to a session ID.
type CSRFTokenGenerator interface {
	Generate(sessionID string) (string, error)
	Verify(sessionID, token string) bool
}

// TokenVerifier answers "is this token still good" within a TTL window.
type TokenVerifier interface {
	GetOrVerify(ctx context.Context, token string, ttl time.Duration) *Identity
	Invalidate(ctx context.Context, token string)
}
