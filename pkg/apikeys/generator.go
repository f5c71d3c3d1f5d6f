package apikeys

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SecretPrefix identifies relay API secrets
	SecretPrefix = "rk_"
	// SecretLength is the number of random bytes in a secret (256 bits)
	SecretLength = 32
	// displayPrefixChars is how many characters after the prefix are
	// kept for display purposes
	displayPrefixChars = 8
)

// SecretGenerator generates and hashes API key secrets
type SecretGenerator struct {
	bcryptCost int
}

// NewSecretGenerator creates a new secret generator. Cost 0 selects
// bcrypt.DefaultCost.
func NewSecretGenerator(bcryptCost int) *SecretGenerator {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &SecretGenerator{bcryptCost: bcryptCost}
}

// GenerateSecret creates a new secret.
// Format: rk_<base64url(32 random bytes)>
// Returns the plaintext secret, its bcrypt hash, and the display prefix.
func (g *SecretGenerator) GenerateSecret() (secret string, secretHash string, displayPrefix string, err error) {
	randomBytes := make([]byte, SecretLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	secret = SecretPrefix + encoded

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), g.bcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash secret: %w", err)
	}

	displayPrefix = SecretPrefix
	if len(encoded) >= displayPrefixChars {
		displayPrefix = SecretPrefix + encoded[:displayPrefixChars]
	}

	return secret, string(hash), displayPrefix, nil
}

// CompareSecret verifies a presented secret against a stored bcrypt
// hash. bcrypt performs a constant-time comparison internally.
func (g *SecretGenerator) CompareSecret(secretHash, presented string) bool {
	return bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(presented)) == nil
}

// ValidateSecretFormat checks if a presented secret has the correct shape
func (g *SecretGenerator) ValidateSecretFormat(secret string) error {
	if !strings.HasPrefix(secret, SecretPrefix) {
		return fmt.Errorf("secret must start with %q", SecretPrefix)
	}

	encodedPart := strings.TrimPrefix(secret, SecretPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("secret is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid secret encoding: %w", err)
	}

	return nil
}
