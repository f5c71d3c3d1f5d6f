// Package apikeys manages the lifecycle of external API keys: creation,
// validation, rotation, revocation, and scope checks.
//
// Secrets are high-entropy random tokens with a recognizable "rk_"
// prefix. Only a bcrypt hash is stored; the plaintext is returned
// exactly once at creation or rotation. Validation scans the active
// keys and compares the presented secret against each stored hash,
// which is O(active keys) per request. A bounded LRU cache in front of
// the scan keeps the common case cheap (see Registry.Validate).
package apikeys
