// Package observability provides structured logging, Prometheus
// metrics, health checks, and graceful shutdown coordination for the
// relay service.
package observability
