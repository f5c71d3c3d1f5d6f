package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ringline/relay/pkg/apikeys"
)

// KeyStore persists API keys in PostgreSQL
type KeyStore struct {
	db *sql.DB
}

// NewKeyStore creates a PostgreSQL API key store
func NewKeyStore(db *sql.DB) *KeyStore {
	return &KeyStore{db: db}
}

const keyColumns = `key_id, owner_id, secret_hash, secret_prefix, scopes, tier, canary,
	ip_allowlist, active, expires_at, last_used_at, rotated_at, revoked_at, created_at`

// CreateKey inserts a key record
func (s *KeyStore) CreateKey(ctx context.Context, key *apikeys.Key) error {
	query := `
		INSERT INTO api_keys (` + keyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		key.KeyID,
		key.OwnerID,
		key.SecretHash,
		key.SecretPrefix,
		pq.Array(scopesToStrings(key.Scopes)),
		string(key.Tier),
		key.Canary,
		pq.Array(key.IPAllowlist),
		key.Active,
		key.ExpiresAt,
		key.LastUsedAt,
		key.RotatedAt,
		key.RevokedAt,
		key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetKey resolves a key by id
func (s *KeyStore) GetKey(ctx context.Context, keyID string) (*apikeys.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE key_id = $1`
	key, err := scanKey(s.db.QueryRowContext(ctx, query, keyID))
	if err == sql.ErrNoRows {
		return nil, apikeys.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// ListKeys returns keys for an owner; empty owner returns all
func (s *KeyStore) ListKeys(ctx context.Context, ownerID string) ([]*apikeys.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

// ListActiveKeys returns all active keys, for validation scans
func (s *KeyStore) ListActiveKeys(ctx context.Context) ([]*apikeys.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE active ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active api keys: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

// UpdateKey persists a full key record
func (s *KeyStore) UpdateKey(ctx context.Context, key *apikeys.Key) error {
	query := `
		UPDATE api_keys SET
			owner_id = $2, secret_hash = $3, secret_prefix = $4, scopes = $5,
			tier = $6, canary = $7, ip_allowlist = $8, active = $9,
			expires_at = $10, last_used_at = $11, rotated_at = $12, revoked_at = $13
		WHERE key_id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		key.KeyID,
		key.OwnerID,
		key.SecretHash,
		key.SecretPrefix,
		pq.Array(scopesToStrings(key.Scopes)),
		string(key.Tier),
		key.Canary,
		pq.Array(key.IPAllowlist),
		key.Active,
		key.ExpiresAt,
		key.LastUsedAt,
		key.RotatedAt,
		key.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return apikeys.ErrKeyNotFound
	}
	return nil
}

// TouchKey refreshes last_used_at
func (s *KeyStore) TouchKey(ctx context.Context, keyID string, usedAt time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE key_id = $1`
	result, err := s.db.ExecContext(ctx, query, keyID, usedAt)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return apikeys.ErrKeyNotFound
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKey(row rowScanner) (*apikeys.Key, error) {
	var key apikeys.Key
	var scopes, allowlist pq.StringArray
	var tier string

	err := row.Scan(
		&key.KeyID,
		&key.OwnerID,
		&key.SecretHash,
		&key.SecretPrefix,
		&scopes,
		&tier,
		&key.Canary,
		&allowlist,
		&key.Active,
		&key.ExpiresAt,
		&key.LastUsedAt,
		&key.RotatedAt,
		&key.RevokedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	key.Scopes = stringsToScopes(scopes)
	key.Tier = apikeys.Tier(tier)
	key.IPAllowlist = allowlist
	return &key, nil
}

func scanKeys(rows *sql.Rows) ([]*apikeys.Key, error) {
	var keys []*apikeys.Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate api keys: %w", err)
	}
	return keys, nil
}

func scopesToStrings(scopes []apikeys.Scope) []string {
	result := make([]string, len(scopes))
	for i, s := range scopes {
		result[i] = string(s)
	}
	return result
}

func stringsToScopes(values []string) []apikeys.Scope {
	result := make([]apikeys.Scope, len(values))
	for i, v := range values {
		result[i] = apikeys.Scope(v)
	}
	return result
}
