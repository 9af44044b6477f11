package queuestore

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

func TestAggregateHeartbeatsGroupsByQueue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	keys := []string{
		workerHeartbeatPrefix + "emails:worker-1",
		workerHeartbeatPrefix + "emails:worker-2",
		workerHeartbeatPrefix + "reports:worker-1",
		workerHeartbeatPrefix,
		"unrelated:key",
	}
	values := []interface{}{
		strconv.FormatInt(now.Add(-10*time.Second).UnixMilli(), 10),
		strconv.FormatInt(now.Add(-45*time.Second).UnixMilli(), 10),
		"not a timestamp",
		"1",
		"2",
	}

	stats := aggregateHeartbeats(keys, values, now)

	require.Len(t, stats, 2)

	emails := stats["emails"]
	assert.Equal(t, 2, emails.count)
	require.NotNil(t, emails.maxAgeSec)
	assert.Equal(t, int64(45), *emails.maxAgeSec, "oldest reporter governs the age")

	reports := stats["reports"]
	assert.Equal(t, 1, reports.count)
	assert.Nil(t, reports.maxAgeSec, "unparseable payload still counts the entry")
}

func TestApplyHeartbeatsSupersedesStalledCheck(t *testing.T) {
	// One heartbeat entry for alpha; beta and gamma only have the
	// ledger-derived signal.
	stats := []models.QueueStats{
		{Name: "alpha", WorkerActive: false},
		{Name: "beta", WorkerActive: true},
		{Name: "gamma", WorkerActive: false},
	}
	age := int64(10)
	heartbeats := map[string]heartbeatStats{
		"alpha": {count: 1, maxAgeSec: &age},
	}

	merged := applyHeartbeats(stats, heartbeats)

	require.Len(t, merged, 3)

	alpha := merged[0]
	assert.True(t, alpha.WorkerActive)
	require.NotNil(t, alpha.WorkerCount)
	assert.Equal(t, 1, *alpha.WorkerCount)
	require.NotNil(t, alpha.WorkerHeartbeatMaxAgeSec)
	assert.Equal(t, int64(10), *alpha.WorkerHeartbeatMaxAgeSec)

	assert.True(t, merged[1].WorkerActive)
	assert.Nil(t, merged[1].WorkerCount)
	assert.False(t, merged[2].WorkerActive)
	assert.Nil(t, merged[2].WorkerCount)
}

func TestCollectStatsExcludesFailedQueues(t *testing.T) {
	names := []string{"alpha", "beta", "gamma"}

	stats := collectStats(names, func(name string) (models.QueueStats, error) {
		if name == "beta" {
			return models.QueueStats{}, errors.New("pipeline failed")
		}
		return models.QueueStats{Name: name, Waiting: 3}, nil
	})

	// beta is absent rather than present with zeroed gauges.
	require.Len(t, stats, 2)
	assert.Equal(t, "alpha", stats[0].Name)
	assert.Equal(t, "gamma", stats[1].Name)
	for _, s := range stats {
		assert.Equal(t, int64(3), s.Waiting)
		assert.False(t, s.WorkerActive)
	}
}

func TestCollectStatsWithHeartbeatOverlay(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	names := []string{"alpha", "beta", "gamma"}

	stats := collectStats(names, func(name string) (models.QueueStats, error) {
		return models.QueueStats{Name: name, WorkerActive: name != "alpha"}, nil
	})

	keys := []string{workerHeartbeatPrefix + "alpha:host-1"}
	values := []interface{}{strconv.FormatInt(now.Add(-10*time.Second).UnixMilli(), 10)}
	merged := applyHeartbeats(stats, aggregateHeartbeats(keys, values, now))

	require.Len(t, merged, 3)
	assert.True(t, merged[0].WorkerActive, "heartbeat supersedes the stalled-check miss")
	require.NotNil(t, merged[0].WorkerCount)
	assert.Equal(t, 1, *merged[0].WorkerCount)
	require.NotNil(t, merged[0].WorkerHeartbeatMaxAgeSec)
	assert.Equal(t, int64(10), *merged[0].WorkerHeartbeatMaxAgeSec)

	for _, other := range merged[1:] {
		assert.True(t, other.WorkerActive)
		assert.Nil(t, other.WorkerCount)
		assert.Nil(t, other.WorkerHeartbeatMaxAgeSec)
	}
}
