package apikeys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateSecret_Format(t *testing.T) {
	gen := NewSecretGenerator(bcrypt.MinCost)

	secret, hash, prefix, err := gen.GenerateSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, SecretPrefix))
	assert.True(t, strings.HasPrefix(prefix, SecretPrefix))
	assert.Len(t, prefix, len(SecretPrefix)+8)
	assert.True(t, strings.HasPrefix(secret, prefix))

	// The hash must verify the plaintext and nothing else
	assert.True(t, gen.CompareSecret(hash, secret))
	assert.False(t, gen.CompareSecret(hash, secret+"x"))
	assert.NotContains(t, hash, secret)
}

func TestGenerateSecret_Unique(t *testing.T) {
	gen := NewSecretGenerator(bcrypt.MinCost)

	a, _, _, err := gen.GenerateSecret()
	require.NoError(t, err)
	b, _, _, err := gen.GenerateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestValidateSecretFormat(t *testing.T) {
	gen := NewSecretGenerator(bcrypt.MinCost)

	secret, _, _, err := gen.GenerateSecret()
	require.NoError(t, err)
	assert.NoError(t, gen.ValidateSecretFormat(secret))

	tests := []struct {
		name   string
		secret string
	}{
		{"missing prefix", "sk_abcdefgh"},
		{"prefix only", "rk_"},
		{"bad encoding", "rk_!!!not-base64!!!"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, gen.ValidateSecretFormat(tt.secret))
		})
	}
}
