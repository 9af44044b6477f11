package queuestore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

const (
	workerFailCountPrefix = "infra:worker-fails:"
	workerFailCountTTL    = 5 * time.Minute

	// A worker is only considered down after this many consecutive missed
	// liveness checks, which absorbs normal jitter in the 30s TTL refresh
	// of the stalled-check marker.
	consecutiveFailuresRequired = 5

	queueRatePrefix      = "infra:queue-rate:"
	queueRateTTL         = 5 * time.Minute
	minRateSampleSeconds = 15

	workerHeartbeatPrefix = "infra:worker:heartbeat:"
)

// KV is the narrow key/value surface used for operational state (liveness
// counters, rate snapshots, autoheal config, agent run results). The Redis
// client satisfies it in production; tests use an in-memory fake.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// LivenessLedger tracks consecutive missed worker-liveness checks per queue.
// Counters live under their own key prefix with a bounded TTL so the state
// resets naturally if checks stop running.
type LivenessLedger struct {
	kv KV
}

func NewLivenessLedger(kv KV) *LivenessLedger {
	return &LivenessLedger{kv: kv}
}

// Observe records one liveness check result and reports whether the worker
// should be considered active. The counter resets to zero on any presence
// and the worker only flips inactive after consecutiveFailuresRequired
// misses in a row.
func (l *LivenessLedger) Observe(ctx context.Context, queueName string, responding bool) (active bool, err error) {
	key := workerFailCountPrefix + queueName

	if responding {
		if err := l.kv.Del(ctx, key); err != nil {
			return true, err
		}
		return true, nil
	}

	prev := 0
	if raw, ok, err := l.kv.Get(ctx, key); err == nil && ok {
		if n, parseErr := strconv.Atoi(raw); parseErr == nil {
			prev = n
		}
	}

	count := prev + 1
	if err := l.kv.SetEx(ctx, key, strconv.Itoa(count), workerFailCountTTL); err != nil {
		return count < consecutiveFailuresRequired, err
	}
	return count < consecutiveFailuresRequired, nil
}

type rateSnapshot struct {
	Ts        int64 `json:"ts"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// RateTracker derives per-minute throughput from completed/failed counter
// deltas between polls. Snapshots are short-lived KV entries per queue.
type RateTracker struct {
	kv KV
}

func NewRateTracker(kv KV) *RateTracker {
	return &RateTracker{kv: kv}
}

// Sample computes rates against the previous snapshot (when one exists and
// enough time has elapsed) and always writes a fresh snapshot to bootstrap
// the next reading. Rates are clamped non-negative because the counters can
// be reset externally.
func (r *RateTracker) Sample(ctx context.Context, queueName string, completed, failed int64, now time.Time) (jobsPerMin, failuresPerMin *float64) {
	key := queueRatePrefix + queueName

	if raw, ok, err := r.kv.Get(ctx, key); err == nil && ok {
		var prev rateSnapshot
		if json.Unmarshal([]byte(raw), &prev) == nil {
			jobsPerMin, failuresPerMin = computeRates(prev, completed, failed, now)
		}
	}

	next, _ := json.Marshal(rateSnapshot{Ts: now.UnixMilli(), Completed: completed, Failed: failed})
	if err := r.kv.SetEx(ctx, key, string(next), queueRateTTL); err != nil {
		return jobsPerMin, failuresPerMin
	}
	return jobsPerMin, failuresPerMin
}

func computeRates(prev rateSnapshot, completed, failed int64, now time.Time) (jobsPerMin, failuresPerMin *float64) {
	elapsedSec := float64(now.UnixMilli()-prev.Ts) / 1000
	if elapsedSec < minRateSampleSeconds {
		return nil, nil
	}

	completedDelta := completed - prev.Completed
	if completedDelta < 0 {
		completedDelta = 0
	}
	failedDelta := failed - prev.Failed
	if failedDelta < 0 {
		failedDelta = 0
	}

	jobs := roundTenth(float64(completedDelta) / elapsedSec * 60)
	fails := roundTenth(float64(failedDelta) / elapsedSec * 60)
	return &jobs, &fails
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

// heartbeatStats aggregates per-queue heartbeat entries.
type heartbeatStats struct {
	count     int
	maxAgeSec *int64
}

// parseHeartbeatTimestamp extracts a last-seen timestamp in milliseconds
// from a heartbeat payload. Accepted shapes: a JSON object carrying one of
// several timestamp field names, a bare epoch number, or an RFC3339 string.
// Numeric values below 1e12 are interpreted as epoch seconds.
func parseHeartbeatTimestamp(value string) (int64, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(value), &obj); err == nil {
		for _, field := range []string{"ts", "timestamp", "lastSeen", "last_seen", "updatedAt", "updated_at"} {
			raw, ok := obj[field]
			if !ok {
				continue
			}
			switch v := raw.(type) {
			case float64:
				return normalizeEpoch(int64(v)), true
			case string:
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					return t.UnixMilli(), true
				}
			}
		}
		return 0, false
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return normalizeEpoch(n), true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UnixMilli(), true
	}
	return 0, false
}

func normalizeEpoch(n int64) int64 {
	if n < 1e12 {
		return n * 1000
	}
	return n
}

func ageSeconds(timestampMs int64, now time.Time) int64 {
	age := (now.UnixMilli() - timestampMs) / 1000
	if age < 0 {
		age = 0
	}
	return age
}
