// Package audit records administrative actions on the relay control
// plane: key minting, rotation, revocation, subscription changes, and
// dead-letter requeues.
package audit

import "context"

// Logger appends audit entries
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
}

// NopLogger discards all entries, for database-less runs and tests
type NopLogger struct{}

// Log discards the entry
func (NopLogger) Log(ctx context.Context, entry *Entry) error {
	return nil
}
