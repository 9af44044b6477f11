package api

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	token := CreateSessionToken(now)
	assert.True(t, ValidateSessionToken(token, now))
	assert.True(t, ValidateSessionToken(token, now.Add(time.Hour)))
	assert.True(t, ValidateSessionToken(token, now.Add(sessionMaxAge)))
}

func TestSessionTokenExpires(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	token := CreateSessionToken(now)
	assert.False(t, ValidateSessionToken(token, now.Add(sessionMaxAge+time.Second)))
}

func TestSessionTokenFromTheFutureIsRejected(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	token := CreateSessionToken(now.Add(time.Hour))
	assert.False(t, ValidateSessionToken(token, now))
}

func TestSessionTokenRejectsTampering(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"missing marker", base64.StdEncoding.EncodeToString([]byte("1736510400000"))},
		{"wrong marker", base64.StdEncoding.EncodeToString([]byte("1736510400000:invalid"))},
		{"non-numeric timestamp", base64.StdEncoding.EncodeToString([]byte("soon:valid"))},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, ValidateSessionToken(tt.token, now))
		})
	}
}
