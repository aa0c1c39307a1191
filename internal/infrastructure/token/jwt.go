// Package token signs the short-lived JWTs forwarded to downstream services
// and the CSRF tokens bound to gateway sessions.
package token

import (
	"fmt"
	"time"

	"iam-gateway/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTConfig holds JWT generation configuration.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// BackendClaims are the claims downstream services read from the gateway token.
type BackendClaims struct {
	Email       string   `json:"email"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Sid         string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// JWTIssuer implements domain.TokenIssuer with HS256.
type JWTIssuer struct {
	cfg JWTConfig
	now func() time.Time
}

// NewJWTIssuer creates a new JWT issuer.
func NewJWTIssuer(cfg JWTConfig) *JWTIssuer {
	return &JWTIssuer{cfg: cfg, now: time.Now}
}

// IssueBackendToken signs a token describing identity for sessionID.
// Subject is the identity's primary key so mirrored deployments hand out local ids.
func (j *JWTIssuer) IssueBackendToken(identity *domain.Identity, sessionID string) (string, error) {
	if identity == nil {
		return "", fmt.Errorf("%w: no identity", domain.ErrTokenGeneration)
	}
	if j.cfg.Secret == "" {
		return "", fmt.Errorf("%w: backend token secret not configured", domain.ErrTokenGeneration)
	}

	now := j.now()
	claims := BackendClaims{
		Email:       identity.Email,
		Roles:       identity.Roles,
		Permissions: identity.Permissions,
		Sid:         sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    j.cfg.Issuer,
			Audience:  jwt.ClaimStrings{j.cfg.Audience},
			Subject:   identity.PrimaryKey(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.cfg.TTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(j.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTokenGeneration, err)
	}
	return signed, nil
}

// Parse validates a token issued by this issuer and returns its claims.
func (j *JWTIssuer) Parse(tokenString string) (*BackendClaims, error) {
	claims := &BackendClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(j.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.cfg.Issuer),
		jwt.WithAudience(j.cfg.Audience),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	return claims, nil
}
