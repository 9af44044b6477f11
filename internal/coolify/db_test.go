package coolify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationMs(t *testing.T) {
	created := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	now := created.Add(5 * time.Minute)

	t.Run("finished deployment measures to finishedAt", func(t *testing.T) {
		finished := created.Add(90 * time.Second)
		got := durationMs(created, &finished, now)
		require.NotNil(t, got)
		assert.Equal(t, int64(90_000), *got)
	})

	t.Run("running deployment measures to now", func(t *testing.T) {
		got := durationMs(created, nil, now)
		require.NotNil(t, got)
		assert.Equal(t, int64(300_000), *got)
	})

	t.Run("clock skew never yields a negative duration", func(t *testing.T) {
		finished := created.Add(-10 * time.Second)
		got := durationMs(created, &finished, now)
		require.NotNil(t, got)
		assert.Equal(t, int64(0), *got)
	})
}

func TestCursorRoundTrip(t *testing.T) {
	original := time.Date(2026, 1, 10, 12, 30, 45, 123456000, time.UTC)

	cursor := EncodeCursor(original)
	decoded, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.True(t, original.Equal(decoded))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("not base64!!!")
	assert.Error(t, err)

	// Valid base64, invalid timestamp inside.
	_, err = DecodeCursor("bm90LWEtdGltZXN0YW1w")
	assert.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 50},
		{-5, 50},
		{1, 1},
		{50, 50},
		{100, 100},
		{101, 100},
		{5000, 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, clampLimit(tt.in))
	}
}

func TestPrimaryFQDN(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"single fqdn", "https://example.com", "https://example.com"},
		{"prefers https among several", "http://old.example.com, https://example.com", "https://example.com"},
		{"falls back to first entry", "http://a.example.com, http://b.example.com", "http://a.example.com"},
		{"trims whitespace", "  https://example.com  ", "https://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, primaryFQDN(tt.raw))
		})
	}
}
