package apikeys

import (
	"strings"
	"sync"
)

// Blocklist short-circuits validation for known-bad key patterns or
// client IPs before any hash comparison happens.
type Blocklist struct {
	mu       sync.RWMutex
	patterns []string
	ips      map[string]struct{}
}

// NewBlocklist creates an empty blocklist
func NewBlocklist() *Blocklist {
	return &Blocklist{
		ips: make(map[string]struct{}),
	}
}

// BlockPattern blocks any presented secret containing the substring
func (b *Blocklist) BlockPattern(pattern string) {
	if pattern == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patterns = append(b.patterns, pattern)
}

// BlockIP blocks a client IP
func (b *Blocklist) BlockIP(ip string) {
	if ip == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ips[ip] = struct{}{}
}

// UnblockIP removes a client IP from the blocklist
func (b *Blocklist) UnblockIP(ip string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ips, ip)
}

// Blocked reports whether the presented secret or client IP is blocked
func (b *Blocklist) Blocked(secret, clientIP string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if clientIP != "" {
		if _, ok := b.ips[clientIP]; ok {
			return true
		}
	}
	for _, pattern := range b.patterns {
		if strings.Contains(secret, pattern) {
			return true
		}
	}
	return false
}
