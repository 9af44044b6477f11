// Package agents surfaces run results that scheduled maintenance agents
// publish to Redis. The dashboard is a read-only consumer; the agents own
// the key layout and write path.
package agents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cvsloane/infra-dashboard/internal/queuestore"
	"github.com/cvsloane/infra-dashboard/pkg/logger"
	"github.com/cvsloane/infra-dashboard/pkg/models"
)

const (
	latestKeyPrefix  = "agent:latest:"
	historyKeyPrefix = "agent:history:"
	runKeyPrefix     = "agent:run:"

	defaultHistoryLimit = 10
)

type agentMeta struct {
	name        string
	displayName string
	description string
	schedule    string
}

// knownAgents is the fixed roster the dashboard lists, with the display
// metadata that run payloads do not carry.
var knownAgents = []agentMeta{
	{
		name:        "infra-health",
		displayName: "Infrastructure Health",
		description: "Monitors VPS servers, PM2, PostgreSQL, Tailscale",
		schedule:    "Every 15 minutes",
	},
	{
		name:        "db-backup",
		displayName: "Database Backup",
		description: "PostgreSQL backups, verification, restore drills",
		schedule:    "Daily at 3 AM",
	},
	{
		name:        "queue-health",
		displayName: "Queue Health",
		description: "BullMQ queue monitoring, auto-retry failed jobs",
		schedule:    "Every 5 minutes",
	},
}

// Reader reads agent run results from the shared key/value layer.
type Reader struct {
	kv queuestore.KV
}

func NewReader(kv queuestore.KV) *Reader {
	return &Reader{kv: kv}
}

// LatestRun returns the most recent run for one agent, or nil when the
// agent has never reported or its payload is unreadable.
func (r *Reader) LatestRun(ctx context.Context, agentName string) (*models.AgentRunResult, error) {
	runID, ok, err := r.kv.Get(ctx, latestKeyPrefix+agentName)
	if err != nil || !ok {
		return nil, err
	}

	raw, ok, err := r.kv.Get(ctx, runKey(agentName, runID))
	if err != nil || !ok {
		return nil, err
	}

	var run models.AgentRunResult
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		logger.Warn("Unreadable agent run payload", logger.String("agent", agentName), logger.Err(err))
		return nil, nil
	}
	return &run, nil
}

// RunHistory returns up to limit recent runs for an agent, newest first.
// Runs whose payload is missing or unreadable are skipped.
func (r *Reader) RunHistory(ctx context.Context, agentName string, limit int) ([]models.AgentRunResult, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	runIDs, err := r.kv.LRange(ctx, historyKeyPrefix+agentName, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}

	runs := []models.AgentRunResult{}
	for _, runID := range runIDs {
		raw, ok, err := r.kv.Get(ctx, runKey(agentName, runID))
		if err != nil || !ok {
			continue
		}
		var run models.AgentRunResult
		if json.Unmarshal([]byte(raw), &run) != nil {
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Summaries returns one entry per known agent in roster order. A failed
// read degrades that agent to no last run instead of failing the listing.
func (r *Reader) Summaries(ctx context.Context) []models.AgentSummary {
	summaries := make([]models.AgentSummary, 0, len(knownAgents))
	for _, meta := range knownAgents {
		lastRun, err := r.LatestRun(ctx, meta.name)
		if err != nil {
			logger.Warn("Failed to read latest agent run", logger.String("agent", meta.name), logger.Err(err))
			lastRun = nil
		}
		summaries = append(summaries, models.AgentSummary{
			Name:        meta.name,
			DisplayName: meta.displayName,
			Description: meta.description,
			Schedule:    meta.schedule,
			LastRun:     lastRun,
		})
	}
	return summaries
}

func runKey(agentName, runID string) string {
	return runKeyPrefix + agentName + ":" + runID
}

// ComputeStats derives roster-wide aggregates from summaries. Cost is
// summed over runs that started today in the server's local time; agents
// that never ran contribute to the total count only.
func ComputeStats(summaries []models.AgentSummary, now time.Time) models.AgentStats {
	stats := models.AgentStats{TotalAgents: len(summaries)}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for _, summary := range summaries {
		run := summary.LastRun
		if run == nil {
			continue
		}

		switch run.Status {
		case "success":
			stats.HealthyAgents++
		case "warning":
			stats.WarningAgents++
		case "error":
			stats.ErrorAgents++
		}

		// Timestamps are RFC3339 so string order is chronological order.
		if stats.LastRunTime == nil || run.Timestamp > *stats.LastRunTime {
			ts := run.Timestamp
			stats.LastRunTime = &ts
		}

		if ts, err := time.Parse(time.RFC3339, run.Timestamp); err == nil && !ts.Before(dayStart) {
			stats.TotalCostToday += run.CostUSD
		}
	}
	return stats
}
