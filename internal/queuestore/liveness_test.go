package queuestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string) error {
	f.data[key] = value
	return nil
}

func (f *fakeKV) SetEx(_ context.Context, key, value string, _ time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func (f *fakeKV) LRange(_ context.Context, _ string, _, _ int64) ([]string, error) {
	return nil, nil
}

func TestLivenessLedgerDebounce(t *testing.T) {
	ctx := context.Background()
	ledger := NewLivenessLedger(newFakeKV())

	// Four consecutive misses still count as active.
	for i := 0; i < 4; i++ {
		active, err := ledger.Observe(ctx, "emails", false)
		require.NoError(t, err)
		assert.True(t, active, "miss %d should not flip the worker inactive", i+1)
	}

	// The fifth consecutive miss flips it.
	active, err := ledger.Observe(ctx, "emails", false)
	require.NoError(t, err)
	assert.False(t, active)

	// Any presence resets the counter entirely.
	active, err = ledger.Observe(ctx, "emails", true)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = ledger.Observe(ctx, "emails", false)
	require.NoError(t, err)
	assert.True(t, active, "counter should restart from zero after a presence")
}

func TestLivenessLedgerQueuesAreIndependent(t *testing.T) {
	ctx := context.Background()
	ledger := NewLivenessLedger(newFakeKV())

	for i := 0; i < 5; i++ {
		_, err := ledger.Observe(ctx, "emails", false)
		require.NoError(t, err)
	}

	active, err := ledger.Observe(ctx, "reports", false)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRateTrackerFirstSampleYieldsNoRate(t *testing.T) {
	ctx := context.Background()
	tracker := NewRateTracker(newFakeKV())

	jobs, fails := tracker.Sample(ctx, "emails", 100, 5, time.Now())
	assert.Nil(t, jobs)
	assert.Nil(t, fails)
}

func TestRateTrackerComputesPerMinuteRates(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	tracker := NewRateTracker(kv)

	start := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	tracker.Sample(ctx, "emails", 100, 5, start)

	// 30 completed and 3 failed over 60s.
	jobs, fails := tracker.Sample(ctx, "emails", 130, 8, start.Add(60*time.Second))
	require.NotNil(t, jobs)
	require.NotNil(t, fails)
	assert.Equal(t, 30.0, *jobs)
	assert.Equal(t, 3.0, *fails)
}

func TestRateTrackerIgnoresShortSamples(t *testing.T) {
	ctx := context.Background()
	tracker := NewRateTracker(newFakeKV())

	start := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	tracker.Sample(ctx, "emails", 100, 5, start)

	jobs, fails := tracker.Sample(ctx, "emails", 200, 10, start.Add(5*time.Second))
	assert.Nil(t, jobs)
	assert.Nil(t, fails)
}

func TestRateTrackerClampsCounterResets(t *testing.T) {
	ctx := context.Background()
	tracker := NewRateTracker(newFakeKV())

	start := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	tracker.Sample(ctx, "emails", 500, 50, start)

	// Counters dropped, e.g. the queue was drained externally. Rates must
	// never go negative.
	jobs, fails := tracker.Sample(ctx, "emails", 10, 2, start.Add(60*time.Second))
	require.NotNil(t, jobs)
	require.NotNil(t, fails)
	assert.Equal(t, 0.0, *jobs)
	assert.Equal(t, 0.0, *fails)
}

func TestRateTrackerRoundsToTenth(t *testing.T) {
	ctx := context.Background()
	tracker := NewRateTracker(newFakeKV())

	start := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	tracker.Sample(ctx, "emails", 0, 0, start)

	// 10 jobs over 90s = 6.666.. per minute, rounded to 6.7.
	jobs, _ := tracker.Sample(ctx, "emails", 10, 0, start.Add(90*time.Second))
	require.NotNil(t, jobs)
	assert.Equal(t, 6.7, *jobs)
}

func TestParseHeartbeatTimestamp(t *testing.T) {
	ref := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	refMs := ref.UnixMilli()
	refSec := ref.Unix()

	tests := []struct {
		name   string
		value  string
		wantMs int64
		wantOK bool
	}{
		{"bare epoch millis", fmt.Sprintf("%d", refMs), refMs, true},
		{"bare epoch seconds", fmt.Sprintf("%d", refSec), refSec * 1000, true},
		{"rfc3339 string", ref.Format(time.RFC3339), refMs, true},
		{"json ts field", fmt.Sprintf(`{"ts":%d}`, refMs), refMs, true},
		{"json lastSeen seconds", fmt.Sprintf(`{"lastSeen":%d}`, refSec), refSec * 1000, true},
		{"json updatedAt string", fmt.Sprintf(`{"updatedAt":%q}`, ref.Format(time.RFC3339)), refMs, true},
		{"json without timestamp field", `{"pid":1234}`, 0, false},
		{"garbage", "not-a-timestamp", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseHeartbeatTimestamp(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantMs, got)
			}
		})
	}
}

func TestAgeSecondsNeverNegative(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(0), ageSeconds(now.Add(5*time.Second).UnixMilli(), now))
	assert.Equal(t, int64(30), ageSeconds(now.Add(-30*time.Second).UnixMilli(), now))
}
