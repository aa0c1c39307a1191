package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"iam-gateway/internal/domain"
)

// HMACCSRFGenerator derives CSRF tokens from the session ID with HMAC-SHA256.
type HMACCSRFGenerator struct {
	secret []byte
}

// NewHMACCSRFGenerator creates a new CSRF token generator.
func NewHMACCSRFGenerator(secret string) *HMACCSRFGenerator {
	return &HMACCSRFGenerator{secret: []byte(secret)}
}

// Generate creates a deterministic CSRF token for sessionID.
func (g *HMACCSRFGenerator) Generate(sessionID string) (string, error) {
	if len(g.secret) == 0 {
		return "", domain.ErrCSRFSecretMissing
	}
	return base64.URLEncoding.EncodeToString(g.sum(sessionID)), nil
}

// Verify reports whether token was generated for sessionID.
func (g *HMACCSRFGenerator) Verify(sessionID, token string) bool {
	if len(g.secret) == 0 || sessionID == "" || token == "" {
		return false
	}
	got, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return hmac.Equal(got, g.sum(sessionID))
}

func (g *HMACCSRFGenerator) sum(sessionID string) []byte {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(sessionID))
	return mac.Sum(nil)
}
