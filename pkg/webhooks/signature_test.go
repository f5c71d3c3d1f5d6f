package webhooks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	event := &Event{
		ID:      "evt-1",
		Type:    EventRingEarned,
		Payload: json.RawMessage(`{"ring":"gold"}`),
	}
	now := time.Now().UTC()
	timestamp := now.Unix()

	body, err := BuildPayload(event, timestamp)
	require.NoError(t, err)

	header := SignPayload("whsec_test", timestamp, event.ID, body)
	assert.Contains(t, header, "t=")
	assert.Contains(t, header, "e=evt-1")
	assert.Contains(t, header, "v1=")

	err = VerifySignature(header, body, "whsec_test", now, DefaultReplayWindow)
	assert.NoError(t, err)
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	event := &Event{ID: "evt-1", Type: EventDraftCreated, Payload: json.RawMessage(`{"a":1}`)}
	now := time.Now().UTC()
	timestamp := now.Unix()

	body, err := BuildPayload(event, timestamp)
	require.NoError(t, err)
	header := SignPayload("secret", timestamp, event.ID, body)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = 'X'

	err = VerifySignature(header, tampered, "secret", now, DefaultReplayWindow)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	now := time.Now().UTC()
	body := []byte(`{"event_id":"evt-1"}`)
	header := SignPayload("secret-a", now.Unix(), "evt-1", body)

	err := VerifySignature(header, body, "secret-b", now, DefaultReplayWindow)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifySignature_ReplayWindow(t *testing.T) {
	secret := "whsec_window"
	body := []byte(`{}`)
	tolerance := 300 * time.Second

	tests := []struct {
		name    string
		skew    time.Duration
		wantErr error
	}{
		{"fresh", 0, nil},
		{"at past boundary", 300 * time.Second, nil},
		{"past boundary exceeded", 301 * time.Second, ErrSignatureExpired},
		{"future within tolerance", -300 * time.Second, nil},
		{"future boundary exceeded", -301 * time.Second, ErrSignatureExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Whole seconds: the signed timestamp is unix seconds, so a
			// fractional now would skew the boundary cases
			now := time.Now().UTC().Truncate(time.Second)
			signedAt := now.Add(-tt.skew)
			header := SignPayload(secret, signedAt.Unix(), "evt-1", body)

			err := VerifySignature(header, body, secret, now, tolerance)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifySignature_Malformed(t *testing.T) {
	now := time.Now().UTC()
	body := []byte(`{}`)

	malformed := []string{
		"",
		"garbage",
		"t=abc,e=evt-1,v1=00",
		"t=123,e=evt-1,v1=zz",
		"t=123,v1=00",
		"e=evt-1,v1=00",
		"t=123,e=evt-1",
	}
	for _, header := range malformed {
		err := VerifySignature(header, body, "secret", now, DefaultReplayWindow)
		assert.ErrorIs(t, err, ErrSignatureMalformed, "header %q", header)
	}
}

func TestBuildPayload_NullData(t *testing.T) {
	event := &Event{ID: "evt-1", Type: EventStreakBroken}

	body, err := BuildPayload(event, 1700000000)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "evt-1", decoded["event_id"])
	assert.Equal(t, "streak.broken", decoded["event_type"])
	assert.Nil(t, decoded["data"])
}
