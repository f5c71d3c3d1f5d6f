// Package api assembles the relay HTTP surface: key administration,
// webhook subscription management, event publication, and the gated
// read endpoints.
//
// Three kill switches partition the surface. The read endpoints sit
// behind the API switch, subscription management behind the
// subscriptions switch, and both default to off. A gated route answers
// 503 rather than 404 so probes can tell "disabled" from "missing".
package api
