package apikeys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/ringline/relay/pkg/observability"
)

var (
	// ErrInvalidKey is returned for any validation failure. Callers get
	// no detail about why a secret was rejected; validation fails closed.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrMissingOwner is returned when a mint request names no owner
	ErrMissingOwner = errors.New("owner id is required")
	// ErrNoScopes is returned when a mint request selects no scopes
	ErrNoScopes = errors.New("at least one scope is required")
	// ErrUnknownScope is returned when a requested scope is outside the
	// closed vocabulary
	ErrUnknownScope = errors.New("unknown scope")
	// ErrUnknownTier is returned for an unrecognized tier
	ErrUnknownTier = errors.New("unknown tier")
	// ErrNotOwner is returned when an owner-scoped mutation targets a
	// key belonging to someone else
	ErrNotOwner = errors.New("key does not belong to owner")
)

// validationCacheSize bounds the LRU in front of the bcrypt scan
const validationCacheSize = 4096

// cachedMatch remembers which key a secret resolved to. The stored
// hash is re-checked against the current record on every hit, so a
// rotated key can never be admitted through a stale entry.
type cachedMatch struct {
	keyID      string
	secretHash string
}

// Registry owns the API key lifecycle
type Registry struct {
	store     Store
	generator *SecretGenerator
	blocklist *Blocklist
	cache     *lru.Cache[string, cachedMatch]
	logger    *observability.Logger
}

// NewRegistry creates a key registry backed by the given store
func NewRegistry(store Store, logger *observability.Logger) *Registry {
	cache, _ := lru.New[string, cachedMatch](validationCacheSize)
	return &Registry{
		store:     store,
		generator: NewSecretGenerator(0),
		blocklist: NewBlocklist(),
		cache:     cache,
		logger:    logger,
	}
}

// Blocklist exposes the registry's blocklist for administrative use
func (r *Registry) Blocklist() *Blocklist {
	return r.blocklist
}

// CreateKeyRequest describes a key to mint
type CreateKeyRequest struct {
	OwnerID     string        `json:"owner_id"`
	Scopes      []Scope       `json:"scopes"`
	Tier        Tier          `json:"tier"`
	ExpiresIn   time.Duration `json:"expires_in,omitempty"`
	IPAllowlist []string      `json:"ip_allowlist,omitempty"`
	Canary      bool          `json:"canary,omitempty"`
}

// Create mints a new API key and returns the record plus the plaintext
// secret. The secret is not recoverable afterwards.
func (r *Registry) Create(ctx context.Context, req CreateKeyRequest) (*Key, string, error) {
	if req.OwnerID == "" {
		return nil, "", ErrMissingOwner
	}
	if len(req.Scopes) == 0 {
		return nil, "", ErrNoScopes
	}
	for _, scope := range req.Scopes {
		if !scope.Valid() {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknownScope, scope)
		}
	}
	if !req.Tier.Valid() {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownTier, req.Tier)
	}

	secret, secretHash, displayPrefix, err := r.generator.GenerateSecret()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate secret: %w", err)
	}

	now := time.Now().UTC()
	key := &Key{
		KeyID:        uuid.NewString(),
		OwnerID:      req.OwnerID,
		SecretHash:   secretHash,
		SecretPrefix: displayPrefix,
		Scopes:       req.Scopes,
		Tier:         req.Tier,
		Canary:       req.Canary,
		IPAllowlist:  req.IPAllowlist,
		Active:       true,
		CreatedAt:    now,
	}
	if req.ExpiresIn > 0 {
		expiresAt := now.Add(req.ExpiresIn)
		key.ExpiresAt = &expiresAt
	}

	if err := r.store.CreateKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to store key: %w", err)
	}

	r.logger.WithField("key_id", key.KeyID).WithField("owner_id", key.OwnerID).Info("API key created")
	return key, secret, nil
}

// Validate resolves a presented secret to its key record. It returns
// ErrInvalidKey on any failure: blocked pattern or IP, bad format, no
// matching hash, inactive or expired key, or an allowlist miss.
func (r *Registry) Validate(ctx context.Context, secret, clientIP string) (*Key, error) {
	if r.blocklist.Blocked(secret, clientIP) {
		return nil, ErrInvalidKey
	}
	if err := r.generator.ValidateSecretFormat(secret); err != nil {
		return nil, ErrInvalidKey
	}

	fingerprint := secretFingerprint(secret)

	if match, ok := r.cache.Get(fingerprint); ok {
		key, err := r.store.GetKey(ctx, match.keyID)
		if err == nil && key.SecretHash == match.secretHash {
			return r.admit(ctx, key, clientIP)
		}
		// Stale entry: key rotated, revoked, or gone
		r.cache.Remove(fingerprint)
	}

	keys, err := r.store.ListActiveKeys(ctx)
	if err != nil {
		return nil, ErrInvalidKey
	}

	for _, key := range keys {
		if r.generator.CompareSecret(key.SecretHash, secret) {
			r.cache.Add(fingerprint, cachedMatch{keyID: key.KeyID, secretHash: key.SecretHash})
			return r.admit(ctx, key, clientIP)
		}
	}

	return nil, ErrInvalidKey
}

// admit applies the post-match checks and records the use
func (r *Registry) admit(ctx context.Context, key *Key, clientIP string) (*Key, error) {
	now := time.Now().UTC()
	if !key.Active || key.Expired(now) {
		return nil, ErrInvalidKey
	}
	if clientIP != "" && !key.AllowsIP(clientIP) {
		return nil, ErrInvalidKey
	}

	// last_used_at is advisory; a lost race between concurrent
	// validations is harmless
	if err := r.store.TouchKey(ctx, key.KeyID, now); err != nil {
		r.logger.WithError(err).WithField("key_id", key.KeyID).Warn("failed to update last_used_at")
	}
	key.LastUsedAt = &now

	return key, nil
}

// Rotate replaces a key's secret. With preserveID the hash is swapped
// under the same key_id and the old secret stops working immediately;
// otherwise the old key is deactivated and a fresh key_id is minted
// with the same owner, scopes, tier and allowlist.
func (r *Registry) Rotate(ctx context.Context, keyID string, preserveID bool) (*Key, string, error) {
	key, err := r.store.GetKey(ctx, keyID)
	if err != nil {
		return nil, "", err
	}

	secret, secretHash, displayPrefix, err := r.generator.GenerateSecret()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate secret: %w", err)
	}

	now := time.Now().UTC()

	if preserveID {
		key.SecretHash = secretHash
		key.SecretPrefix = displayPrefix
		key.RotatedAt = &now
		key.Active = true
		key.RevokedAt = nil
		if err := r.store.UpdateKey(ctx, key); err != nil {
			return nil, "", fmt.Errorf("failed to rotate key: %w", err)
		}
		r.logger.WithField("key_id", key.KeyID).Info("API key rotated in place")
		return key, secret, nil
	}

	key.Active = false
	key.RevokedAt = &now
	if err := r.store.UpdateKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to deactivate old key: %w", err)
	}

	replacement := &Key{
		KeyID:        uuid.NewString(),
		OwnerID:      key.OwnerID,
		SecretHash:   secretHash,
		SecretPrefix: displayPrefix,
		Scopes:       key.Scopes,
		Tier:         key.Tier,
		Canary:       key.Canary,
		IPAllowlist:  key.IPAllowlist,
		Active:       true,
		ExpiresAt:    key.ExpiresAt,
		RotatedAt:    &now,
		CreatedAt:    now,
	}
	if err := r.store.CreateKey(ctx, replacement); err != nil {
		return nil, "", fmt.Errorf("failed to store replacement key: %w", err)
	}

	r.logger.WithField("old_key_id", key.KeyID).WithField("key_id", replacement.KeyID).Info("API key rotated to new id")
	return replacement, secret, nil
}

// Revoke soft-deactivates a key. A non-empty ownerID restricts the
// revocation to keys belonging to that owner.
func (r *Registry) Revoke(ctx context.Context, keyID, ownerID string) error {
	key, err := r.store.GetKey(ctx, keyID)
	if err != nil {
		return err
	}
	if ownerID != "" && key.OwnerID != ownerID {
		return ErrNotOwner
	}

	now := time.Now().UTC()
	key.Active = false
	key.RevokedAt = &now
	if err := r.store.UpdateKey(ctx, key); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	r.logger.WithField("key_id", keyID).Info("API key revoked")
	return nil
}

// List returns the keys for an owner without exposing hashes
func (r *Registry) List(ctx context.Context, ownerID string) ([]*Key, error) {
	return r.store.ListKeys(ctx, ownerID)
}

// CheckScope is a pure membership test
func (r *Registry) CheckScope(key *Key, required Scope) bool {
	return key.HasScope(required)
}

// secretFingerprint computes the cache key for a secret. SHA-256 here
// is a lookup key, not the at-rest hash; bcrypt remains authoritative.
func secretFingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
