package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_StableAndOpaque(t *testing.T) {
	a := Fingerprint("abc123")
	b := Fingerprint("abc123")
	c := Fingerprint("abc124")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotContains(t, a, "abc123")
	assert.Len(t, a, len("iam_token_")+64)
}

func TestIdentity_PrimaryKey(t *testing.T) {
	assert.Equal(t, "42", (&Identity{ID: "42"}).PrimaryKey())
	assert.Equal(t, "7", (&Identity{ID: "42", LocalID: "7"}).PrimaryKey())
}

func TestIdentity_CloneIsDeep(t *testing.T) {
	orig := &Identity{ID: "1", Roles: []string{"admin"}, Permissions: []string{"users.view"}, Token: "t"}
	c := orig.Clone()
	c.Roles[0] = "guest"
	c.Permissions = append(c.Permissions, "users.edit")

	assert.Equal(t, []string{"admin"}, orig.Roles)
	assert.Equal(t, []string{"users.view"}, orig.Permissions)
	assert.Nil(t, (*Identity)(nil).Clone())
}

func TestIdentity_WithToken(t *testing.T) {
	orig := &Identity{ID: "1"}
	bound := orig.WithToken("tok")

	assert.Equal(t, "tok", bound.Token)
	assert.Empty(t, orig.Token)
}

func TestIdentity_HasPermissionAndRole(t *testing.T) {
	id := &Identity{Roles: []string{"editor"}, Permissions: []string{"posts.edit"}}

	assert.True(t, id.HasRole("editor"))
	assert.False(t, id.HasRole("admin"))
	assert.True(t, id.HasPermission("posts.edit"))
	assert.False(t, id.HasPermission("posts.delete"))
}

func TestParseResolutionStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    ResolutionStrategy
		wantErr bool
	}{
		{"", StrategyEphemeral, false},
		{"ephemeral", StrategyEphemeral, false},
		{" Mirrored ", StrategyMirrored, false},
		{"virtual", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResolutionStrategy(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrConfiguration))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
