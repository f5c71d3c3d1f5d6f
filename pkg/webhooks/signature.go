package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Outbound delivery headers
const (
	HeaderSignature = "X-Ringline-Signature"
	HeaderEventType = "X-Ringline-Event-Type"
	HeaderEventID   = "X-Ringline-Event-ID"
	HeaderTimestamp = "X-Ringline-Timestamp"
)

// DefaultReplayWindow is the default symmetric tolerance for signed
// timestamps
const DefaultReplayWindow = 300 * time.Second

var (
	// ErrSignatureMalformed indicates an unparseable signature header
	ErrSignatureMalformed = errors.New("malformed signature header")
	// ErrSignatureMismatch indicates the digest did not match
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrSignatureExpired indicates the timestamp fell outside the
	// replay-tolerance window
	ErrSignatureExpired = errors.New("signature timestamp outside replay window")
)

// deliveryPayload is the canonical wire body. Field order is fixed so
// json.Marshal always produces the exact byte sequence both signer and
// verifier hash.
type deliveryPayload struct {
	EventID   string          `json:"event_id"`
	EventType EventType       `json:"event_type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// BuildPayload serializes the canonical delivery body for an event at
// the given signed timestamp
func BuildPayload(event *Event, timestamp int64) ([]byte, error) {
	data := event.Payload
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	body, err := json.Marshal(deliveryPayload{
		EventID:   event.ID,
		EventType: event.Type,
		Timestamp: timestamp,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery payload: %w", err)
	}
	return body, nil
}

// SignPayload computes the signature header value for a body:
// t=<unix>,e=<event_id>,v1=<hex_hmac_sha256>. The digest binds the
// timestamp, the event id, and the exact body bytes.
func SignPayload(secret string, timestamp int64, eventID string, body []byte) string {
	digest := computeDigest(secret, timestamp, eventID, body)
	return fmt.Sprintf("t=%d,e=%s,v1=%s", timestamp, eventID, hex.EncodeToString(digest))
}

// VerifySignature checks a received signature header against the body
// and secret. The timestamp inside the header must fall within
// tolerance of now in either direction; modest clock skew is accepted,
// anything further is rejected as a replay risk.
func VerifySignature(header string, body []byte, secret string, now time.Time, tolerance time.Duration) error {
	if tolerance <= 0 {
		tolerance = DefaultReplayWindow
	}

	timestamp, eventID, provided, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	expected := computeDigest(secret, timestamp, eventID, body)
	if !hmac.Equal(expected, provided) {
		return ErrSignatureMismatch
	}

	signedAt := time.Unix(timestamp, 0)
	drift := now.Sub(signedAt)
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return ErrSignatureExpired
	}

	return nil
}

// computeDigest hashes "{timestamp}.{event_id}." followed by the raw
// body bytes
func computeDigest(secret string, timestamp int64, eventID string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s.", timestamp, eventID)
	mac.Write(body)
	return mac.Sum(nil)
}

// parseSignatureHeader splits "t=...,e=...,v1=..." into its components
func parseSignatureHeader(header string) (timestamp int64, eventID string, digest []byte, err error) {
	var sawTimestamp, sawDigest bool

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, "", nil, ErrSignatureMalformed
		}
		switch key {
		case "t":
			timestamp, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", nil, ErrSignatureMalformed
			}
			sawTimestamp = true
		case "e":
			eventID = value
		case "v1":
			digest, err = hex.DecodeString(value)
			if err != nil {
				return 0, "", nil, ErrSignatureMalformed
			}
			sawDigest = true
		}
	}

	if !sawTimestamp || !sawDigest || eventID == "" {
		return 0, "", nil, ErrSignatureMalformed
	}
	return timestamp, eventID, digest, nil
}
