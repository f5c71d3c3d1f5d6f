// Package middleware provides HTTP middleware for API key
// authentication, scope enforcement, rate limiting, and feature
// gating.
package middleware
