// Package webhooks implements durable event publication and signed
// at-least-once delivery.
//
// Publishing an event appends it to an idempotent event log and fans
// it out into one delivery row per matching active subscription. A
// polling worker claims due deliveries, signs the canonical payload
// with the subscription secret, and POSTs it to the subscriber URL.
// Failures retry on a fixed backoff schedule until the attempt ceiling
// is reached, after which the delivery is dead-lettered.
//
// The signature scheme binds the event timestamp, the event id, and
// the exact body bytes into a single HMAC-SHA256 digest, emitted as
// "t=<unix>,e=<event_id>,v1=<hex>". Receivers verify with
// VerifySignature using the same secret.
package webhooks
