package apikeys

import (
	"net"
	"time"
)

// Scope represents an API key scope
type Scope string

const (
	ScopeReadRings       Scope = "read:rings"
	ScopeReadDrafts      Scope = "read:drafts"
	ScopeReadLedger      Scope = "read:ledger"
	ScopeReadEnforcement Scope = "read:enforcement"
)

// AllScopes is the closed scope vocabulary
var AllScopes = []Scope{
	ScopeReadRings,
	ScopeReadDrafts,
	ScopeReadLedger,
	ScopeReadEnforcement,
}

// Valid reports whether the scope is part of the closed vocabulary
func (s Scope) Valid() bool {
	for _, known := range AllScopes {
		if s == known {
			return true
		}
	}
	return false
}

// Tier represents a rate-limit tier
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// tierQuotas maps each tier to its hourly request quota
var tierQuotas = map[Tier]int{
	TierFree:       100,
	TierPro:        1000,
	TierEnterprise: 10000,
}

// Valid reports whether the tier is known
func (t Tier) Valid() bool {
	_, ok := tierQuotas[t]
	return ok
}

// HourlyQuota returns the hourly request quota for the tier
func (t Tier) HourlyQuota() int {
	return tierQuotas[t]
}

// CanaryQuota is the stricter fixed ceiling applied to canary keys
// regardless of tier
const CanaryQuota = 10

// Key represents an API key record. The secret itself is never stored;
// SecretHash holds its bcrypt hash and SecretPrefix the first few
// characters of the secret for display.
type Key struct {
	KeyID        string     `json:"key_id"`
	OwnerID      string     `json:"owner_id"`
	SecretHash   string     `json:"-"`
	SecretPrefix string     `json:"secret_prefix"`
	Scopes       []Scope    `json:"scopes"`
	Tier         Tier       `json:"tier"`
	Canary       bool       `json:"canary,omitempty"`
	IPAllowlist  []string   `json:"ip_allowlist,omitempty"`
	Active       bool       `json:"active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	RotatedAt    *time.Time `json:"rotated_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// HasScope checks scope membership
func (k *Key) HasScope(scope Scope) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Expired reports whether the key is past its expiry at the given time
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// AllowsIP reports whether the client IP passes the key's allowlist.
// An empty allowlist admits every IP. Entries may be plain IPs or CIDR
// ranges.
func (k *Key) AllowsIP(clientIP string) bool {
	if len(k.IPAllowlist) == 0 {
		return true
	}

	ip := net.ParseIP(clientIP)
	for _, entry := range k.IPAllowlist {
		if entry == clientIP {
			return true
		}
		if ip == nil {
			continue
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// EffectiveQuota returns the hourly quota after applying the canary
// override
func (k *Key) EffectiveQuota() int {
	quota := k.Tier.HourlyQuota()
	if k.Canary && CanaryQuota < quota {
		return CanaryQuota
	}
	return quota
}
