// Package queuestore inspects the BullMQ key layout in Redis: queue depths,
// worker liveness, throughput rates, and failed-job management. It also
// provides the generic KV primitive backing the liveness ledger, rate
// snapshots, and autoheal config persistence.
package queuestore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cvsloane/infra-dashboard/pkg/logger"
	"github.com/cvsloane/infra-dashboard/pkg/models"
)

var queueMetaPattern = regexp.MustCompile(`^bull:([^:]+):meta$`)
var queueKeyPattern = regexp.MustCompile(`^bull:([^:]+):`)

// Store is the typed read/write client over the queue store.
type Store struct {
	client *redis.Client

	ledger *LivenessLedger
	rates  *RateTracker
}

func NewStore(client *redis.Client) *Store {
	kv := &redisKV{client: client}
	return &Store{
		client: client,
		ledger: NewLivenessLedger(kv),
		rates:  NewRateTracker(kv),
	}
}

// redisKV adapts the Redis client to the KV surface used by the
// liveness ledger and rate tracker.
type redisKV struct {
	client *redis.Client
}

func (r *redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *redisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *redisKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.SetEx(ctx, key, value, ttl).Err()
}

func (r *redisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

// KV exposes the generic key/value primitive for other components
// (autoheal config, worker supervisor status).
func (s *Store) KV() KV {
	return &redisKV{client: s.client}
}

// DiscoverQueues finds queue names by scanning the BullMQ key namespace.
func (s *Store) DiscoverQueues(ctx context.Context) ([]string, error) {
	names := map[string]struct{}{}

	if err := s.scanInto(ctx, "bull:*:meta", queueMetaPattern, names); err != nil {
		return nil, err
	}
	// Queues created without a meta key still leave state lists behind.
	for _, suffix := range []string{"wait", "active", "completed", "failed"} {
		if err := s.scanInto(ctx, "bull:*:"+suffix, queueKeyPattern, names); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) scanInto(ctx context.Context, match string, pattern *regexp.Regexp, names map[string]struct{}) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("queue discovery scan failed: %w", err)
		}
		for _, key := range keys {
			if m := pattern.FindStringSubmatch(key); m != nil {
				names[m[1]] = struct{}{}
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Stats reads one queue's gauges and derives liveness, staleness, and
// throughput signals.
func (s *Store) Stats(ctx context.Context, queueName string) (models.QueueStats, error) {
	prefix := "bull:" + queueName

	var (
		waiting, active, paused    *redis.IntCmd
		completed, failed, delayed *redis.IntCmd
		pausedFlag                 *redis.BoolCmd
		workerTTL                  *redis.DurationCmd
		oldestWaitingJobID         *redis.StringCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, prefix+":wait")
		active = pipe.LLen(ctx, prefix+":active")
		completed = pipe.ZCard(ctx, prefix+":completed")
		failed = pipe.ZCard(ctx, prefix+":failed")
		delayed = pipe.ZCard(ctx, prefix+":delayed")
		paused = pipe.LLen(ctx, prefix+":paused")
		pausedFlag = pipe.HExists(ctx, prefix+":meta", "paused")
		workerTTL = pipe.TTL(ctx, prefix+":stalled-check")
		oldestWaitingJobID = pipe.LIndex(ctx, prefix+":wait", -1)
		return nil
	})
	if err != nil && err != redis.Nil {
		return models.QueueStats{}, fmt.Errorf("queue stats read failed for %s: %w", queueName, err)
	}

	stats := models.QueueStats{
		Name:      queueName,
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
		Paused:    paused.Val(),
		IsPaused:  pausedFlag.Val(),
	}

	// The stalled-check marker is a short-TTL key refreshed by the worker
	// itself; a positive TTL means the worker responded this tick.
	ttl := workerTTL.Val()
	responding := ttl > 0
	stats.WorkerActive, err = s.ledger.Observe(ctx, queueName, responding)
	if err != nil {
		logger.Warn("Failed to update liveness ledger", logger.String("queue", queueName), logger.Err(err))
	}
	if responding {
		secs := int64(ttl / time.Second)
		stats.WorkerLastSeen = &secs
	}

	if jobID := oldestWaitingJobID.Val(); jobID != "" {
		if age, ok := s.oldestWaitingAge(ctx, prefix, jobID); ok {
			stats.OldestWaitingAgeSec = &age
		}
	}

	stats.JobsPerMin, stats.FailuresPerMin = s.rates.Sample(ctx, queueName, stats.Completed, stats.Failed, time.Now())

	return stats, nil
}

// oldestWaitingAge reads the enqueue timestamp of the job at the tail of the
// wait list. This assumes strict FIFO ordering; a missing or unparseable
// timestamp is reported as unknown, not zero.
func (s *Store) oldestWaitingAge(ctx context.Context, prefix, jobID string) (int64, bool) {
	raw, err := s.client.HGet(ctx, prefix+":"+jobID, "timestamp").Result()
	if err != nil {
		return 0, false
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ts <= 0 {
		return 0, false
	}
	return ageSeconds(ts, time.Now()), true
}

// AllStats computes stats for every discovered queue in parallel, with
// per-queue isolation, then merges in the richer heartbeat-registry signal
// where one exists.
func (s *Store) AllStats(ctx context.Context) ([]models.QueueStats, error) {
	names, err := s.DiscoverQueues(ctx)
	if err != nil {
		return nil, err
	}

	heartbeats := s.workerHeartbeats(ctx, time.Now())

	stats := collectStats(names, func(name string) (models.QueueStats, error) {
		return s.Stats(ctx, name)
	})
	return applyHeartbeats(stats, heartbeats), nil
}

// collectStats reads every queue in parallel with per-queue isolation. A
// queue whose read fails is left out of the result entirely; zeroed gauges
// would read as an empty healthy queue, which is worse than absence.
func collectStats(names []string, read func(string) (models.QueueStats, error)) []models.QueueStats {
	results := make([]*models.QueueStats, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			stats, err := read(name)
			if err != nil {
				logger.Error("Failed to read queue stats", logger.String("queue", name), logger.Err(err))
				return
			}
			results[i] = &stats
		}(i, name)
	}
	wg.Wait()

	out := make([]models.QueueStats, 0, len(names))
	for _, stats := range results {
		if stats != nil {
			out = append(out, *stats)
		}
	}
	return out
}

// applyHeartbeats overlays the heartbeat-registry signal onto queue stats.
// Heartbeat data supersedes the stalled-check signal for queues that have
// it; the rest keep their ledger-derived liveness.
func applyHeartbeats(stats []models.QueueStats, heartbeats map[string]heartbeatStats) []models.QueueStats {
	for i := range stats {
		hb, ok := heartbeats[stats[i].Name]
		if !ok {
			continue
		}
		count := hb.count
		stats[i].WorkerActive = count > 0
		stats[i].WorkerCount = &count
		stats[i].WorkerHeartbeatMaxAgeSec = hb.maxAgeSec
	}
	return stats
}

// workerHeartbeats scans the per-instance heartbeat namespace and folds the
// raw entries into per-queue aggregates.
func (s *Store) workerHeartbeats(ctx context.Context, now time.Time) map[string]heartbeatStats {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, workerHeartbeatPrefix+"*", 200).Result()
		if err != nil {
			logger.Warn("Worker heartbeat scan failed", logger.Err(err))
			return map[string]heartbeatStats{}
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return map[string]heartbeatStats{}
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warn("Worker heartbeat read failed", logger.Err(err))
		return map[string]heartbeatStats{}
	}

	return aggregateHeartbeats(keys, values, now)
}

// aggregateHeartbeats counts heartbeat entries per queue and tracks the
// maximum age. Keys are laid out as infra:worker:heartbeat:<queue>:<id>;
// staleness is governed by the oldest reporter, not the newest.
func aggregateHeartbeats(keys []string, values []interface{}, now time.Time) map[string]heartbeatStats {
	stats := map[string]heartbeatStats{}

	for i, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) < 4 || parts[3] == "" {
			continue
		}
		queueName := parts[3]

		entry := stats[queueName]
		entry.count++

		if i < len(values) {
			if raw, ok := values[i].(string); ok && raw != "" {
				if ts, ok := parseHeartbeatTimestamp(raw); ok {
					age := ageSeconds(ts, now)
					if entry.maxAgeSec == nil || age > *entry.maxAgeSec {
						entry.maxAgeSec = &age
					}
				}
			}
		}
		stats[queueName] = entry
	}

	return stats
}

// FailedJobs lists the most recent failed jobs in a queue.
func (s *Store) FailedJobs(ctx context.Context, queueName string, limit int) ([]models.FailedJob, error) {
	if limit <= 0 {
		limit = 20
	}
	prefix := "bull:" + queueName

	jobIDs, err := s.client.ZRevRange(ctx, prefix+":failed", 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed job listing failed for %s: %w", queueName, err)
	}

	jobs := []models.FailedJob{}
	for _, jobID := range jobIDs {
		data, err := s.client.HGetAll(ctx, prefix+":"+jobID).Result()
		if err != nil || len(data) == 0 {
			continue
		}
		jobs = append(jobs, buildFailedJob(queueName, jobID, data))
	}
	return jobs, nil
}

func buildFailedJob(queueName, jobID string, data map[string]string) models.FailedJob {
	job := models.FailedJob{
		ID:           jobID,
		Queue:        queueName,
		Name:         data["name"],
		FailedReason: data["failedReason"],
		Data:         map[string]interface{}{},
		Stacktrace:   []string{},
	}
	if job.Name == "" {
		job.Name = "unknown"
	}
	if job.FailedReason == "" {
		job.FailedReason = "Unknown error"
	}
	if raw := data["data"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &job.Data)
	}
	if raw := data["stacktrace"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &job.Stacktrace)
	}
	job.AttemptsMade, _ = strconv.Atoi(data["attemptsMade"])
	job.Timestamp, _ = strconv.ParseInt(data["timestamp"], 10, 64)
	if raw := data["processedOn"]; raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			job.ProcessedOn = &n
		}
	}
	if raw := data["finishedOn"]; raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			job.FinishedOn = &n
		}
	}
	return job
}

// RetryJob moves one failed job back onto the wait list and clears its
// failure bookkeeping. Returns false when the job was not in the failed set.
func (s *Store) RetryJob(ctx context.Context, queueName, jobID string) (bool, error) {
	prefix := "bull:" + queueName

	removed, err := s.client.ZRem(ctx, prefix+":failed", jobID).Result()
	if err != nil {
		return false, fmt.Errorf("retry failed for %s/%s: %w", queueName, jobID, err)
	}
	if removed == 0 {
		return false, nil
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, prefix+":wait", jobID)
		pipe.HSet(ctx, prefix+":"+jobID, "attemptsMade", "0")
		pipe.HDel(ctx, prefix+":"+jobID, "failedReason", "stacktrace", "finishedOn")
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("retry failed for %s/%s: %w", queueName, jobID, err)
	}
	return true, nil
}

// DeleteJob removes a job from every state structure and deletes its hash.
func (s *Store) DeleteJob(ctx context.Context, queueName, jobID string) (bool, error) {
	prefix := "bull:" + queueName

	var deleted *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, prefix+":wait", 0, jobID)
		pipe.LRem(ctx, prefix+":active", 0, jobID)
		pipe.LRem(ctx, prefix+":paused", 0, jobID)
		pipe.ZRem(ctx, prefix+":completed", jobID)
		pipe.ZRem(ctx, prefix+":failed", jobID)
		pipe.ZRem(ctx, prefix+":delayed", jobID)
		deleted = pipe.Del(ctx, prefix+":"+jobID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete failed for %s/%s: %w", queueName, jobID, err)
	}
	return deleted.Val() > 0, nil
}

// RetryAllFailed retries up to limit failed jobs in a queue (all when
// limit <= 0) and returns the number processed.
func (s *Store) RetryAllFailed(ctx context.Context, queueName string, limit int) (int, error) {
	prefix := "bull:" + queueName

	end := int64(-1)
	if limit > 0 {
		end = int64(limit - 1)
	}
	jobIDs, err := s.client.ZRevRange(ctx, prefix+":failed", 0, end).Result()
	if err != nil {
		return 0, fmt.Errorf("bulk retry listing failed for %s: %w", queueName, err)
	}
	if len(jobIDs) == 0 {
		return 0, nil
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, jobID := range jobIDs {
			pipe.ZRem(ctx, prefix+":failed", jobID)
			pipe.LPush(ctx, prefix+":wait", jobID)
			pipe.HSet(ctx, prefix+":"+jobID, "attemptsMade", "0")
			pipe.HDel(ctx, prefix+":"+jobID, "failedReason", "stacktrace", "finishedOn")
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk retry failed for %s: %w", queueName, err)
	}
	return len(jobIDs), nil
}

// DeleteAllFailed deletes up to limit failed jobs in a queue (all when
// limit <= 0) and returns the number processed.
func (s *Store) DeleteAllFailed(ctx context.Context, queueName string, limit int) (int, error) {
	prefix := "bull:" + queueName

	end := int64(-1)
	if limit > 0 {
		end = int64(limit - 1)
	}
	jobIDs, err := s.client.ZRevRange(ctx, prefix+":failed", 0, end).Result()
	if err != nil {
		return 0, fmt.Errorf("bulk delete listing failed for %s: %w", queueName, err)
	}
	if len(jobIDs) == 0 {
		return 0, nil
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, jobID := range jobIDs {
			pipe.LRem(ctx, prefix+":wait", 0, jobID)
			pipe.LRem(ctx, prefix+":active", 0, jobID)
			pipe.LRem(ctx, prefix+":paused", 0, jobID)
			pipe.ZRem(ctx, prefix+":completed", jobID)
			pipe.ZRem(ctx, prefix+":failed", jobID)
			pipe.ZRem(ctx, prefix+":delayed", jobID)
			pipe.Del(ctx, prefix+":"+jobID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk delete failed for %s: %w", queueName, err)
	}
	return len(jobIDs), nil
}

// PauseQueue marks a queue paused the way BullMQ does: flag the meta hash
// and move the wait list aside so workers stop picking up jobs.
func (s *Store) PauseQueue(ctx context.Context, queueName string) error {
	prefix := "bull:" + queueName

	if err := s.client.HSet(ctx, prefix+":meta", "paused", "1").Err(); err != nil {
		return fmt.Errorf("pause failed for %s: %w", queueName, err)
	}
	err := s.client.Rename(ctx, prefix+":wait", prefix+":paused").Err()
	if err != nil && !isMissingKeyErr(err) {
		return fmt.Errorf("pause failed for %s: %w", queueName, err)
	}
	return nil
}

// ResumeQueue reverses PauseQueue.
func (s *Store) ResumeQueue(ctx context.Context, queueName string) error {
	prefix := "bull:" + queueName

	if err := s.client.HDel(ctx, prefix+":meta", "paused").Err(); err != nil {
		return fmt.Errorf("resume failed for %s: %w", queueName, err)
	}
	err := s.client.Rename(ctx, prefix+":paused", prefix+":wait").Err()
	if err != nil && !isMissingKeyErr(err) {
		return fmt.Errorf("resume failed for %s: %w", queueName, err)
	}
	return nil
}

func isMissingKeyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such key")
}

// HealthCheck pings Redis and reports latency.
func (s *Store) HealthCheck(ctx context.Context) models.ServiceStatus {
	start := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return models.ServiceStatus{OK: false, Message: err.Error()}
	}
	latency := time.Since(start).Milliseconds()
	return models.ServiceStatus{OK: true, Message: "Connected to Redis", LatencyMs: &latency}
}
