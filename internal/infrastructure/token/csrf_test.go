package token

import (
	"errors"
	"testing"

	"iam-gateway/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const csrfSecret = "this-is-a-valid-csrf-secret-that-is-at-least-32-chars"

func TestHMACCSRFGenerator_Deterministic(t *testing.T) {
	gen := NewHMACCSRFGenerator(csrfSecret)

	token1, err := gen.Generate("session-123")
	require.NoError(t, err)
	token2, _ := gen.Generate("session-123")
	other, _ := gen.Generate("session-456")

	assert.NotEmpty(t, token1)
	assert.Equal(t, token1, token2)
	assert.NotEqual(t, token1, other)
}

func TestHMACCSRFGenerator_Verify(t *testing.T) {
	gen := NewHMACCSRFGenerator(csrfSecret)
	token, err := gen.Generate("session-123")
	require.NoError(t, err)

	assert.True(t, gen.Verify("session-123", token))
	assert.False(t, gen.Verify("session-456", token))
	assert.False(t, gen.Verify("session-123", "not base64 !!"))
	assert.False(t, gen.Verify("session-123", ""))
	assert.False(t, NewHMACCSRFGenerator("").Verify("session-123", token))
}

func TestHMACCSRFGenerator_EmptySecret(t *testing.T) {
	gen := NewHMACCSRFGenerator("")

	token, err := gen.Generate("session-123")
	assert.Empty(t, token)
	assert.True(t, errors.Is(err, domain.ErrCSRFSecretMissing))
}
