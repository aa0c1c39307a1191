package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Identity represents an authenticated caller as materialized from the IAM authority.
// An Identity is never mutated after construction; a re-resolution replaces it.
type Identity struct {
	ID           string   `json:"id"`
	LocalID      string   `json:"local_id,omitempty"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	PositionID   string   `json:"position_id,omitempty"`
	Status       string   `json:"status"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"permissions"`

	// Token is the bearer token the identity was resolved with. It is not
	// serialized; caches re-attach it from the lookup key.
	Token string `json:"-"`
}

// PrimaryKey returns the identifier stored in the session on login.
// Mirrored identities use the local record key.
func (i *Identity) PrimaryKey() string {
	if i.LocalID != "" {
		return i.LocalID
	}
	return i.ID
}

// HasPermission reports whether the identity carries the named permission.
func (i *Identity) HasPermission(name string) bool {
	return slices.Contains(i.Permissions, name)
}

// HasRole reports whether the identity carries the named role.
func (i *Identity) HasRole(name string) bool {
	return slices.Contains(i.Roles, name)
}

// Clone returns a deep copy so cache layers never share slices with callers.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Roles = slices.Clone(i.Roles)
	c.Permissions = slices.Clone(i.Permissions)
	return &c
}

// WithToken returns a copy of the identity bound to token.
func (i *Identity) WithToken(token string) *Identity {
	c := i.Clone()
	c.Token = token
	return c
}

// ResolutionStrategy selects how identities are materialized.
type ResolutionStrategy string

const (
	// StrategyEphemeral keeps identities in memory only.
	StrategyEphemeral ResolutionStrategy = "ephemeral"
	// StrategyMirrored writes identities into local storage and reads them back.
	StrategyMirrored ResolutionStrategy = "mirrored"
)

// ParseResolutionStrategy validates a configured strategy name.
func ParseResolutionStrategy(s string) (ResolutionStrategy, error) {
	switch ResolutionStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyEphemeral:
		return StrategyEphemeral, nil
	case StrategyMirrored:
		return StrategyMirrored, nil
	default:
		return "", fmt.Errorf("%w: unknown resolver strategy %q", ErrConfiguration, s)
	}
}

// Fingerprint derives the cache key for a token without storing the raw value.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "iam_token_" + hex.EncodeToString(sum[:])
}
