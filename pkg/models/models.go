package models

import "time"

// Deployment status values owned by the Coolify deployment queue.
const (
	StatusQueued          = "queued"
	StatusInProgress      = "in_progress"
	StatusFinished        = "finished"
	StatusFailed          = "failed"
	StatusCancelled       = "cancelled"
	StatusCancelledByUser = "cancelled-by-user"
)

// ServiceStatus reports reachability of one external backend.
type ServiceStatus struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	LatencyMs *int64 `json:"latencyMs,omitempty"`
}

// DeploymentRecord is one row of the deployment queue. Logs are only
// populated on single-record reads, never in list queries.
type DeploymentRecord struct {
	UUID            string     `json:"uuid"`
	ApplicationName string     `json:"applicationName"`
	ApplicationUUID string     `json:"applicationUuid"`
	Status          string     `json:"status"`
	Commit          *string    `json:"commit"`
	CommitMessage   *string    `json:"commitMessage"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	FinishedAt      *time.Time `json:"finishedAt"`
	DurationMs      *int64     `json:"durationMs"`
	Logs            *string    `json:"logs,omitempty"`
}

// IsActive reports whether the record is still being worked on.
func (d *DeploymentRecord) IsActive() bool {
	return d.Status == StatusQueued || d.Status == StatusInProgress
}

// DeploymentStats are daily aggregate counters, recomputed each poll.
type DeploymentStats struct {
	Queued        int `json:"queued"`
	InProgress    int `json:"inProgress"`
	FinishedToday int `json:"finishedToday"`
	FailedToday   int `json:"failedToday"`
}

// LiveDeployments is the per-cycle deployment view.
type LiveDeployments struct {
	Active []DeploymentRecord `json:"active"`
	Recent []DeploymentRecord `json:"recent"`
	Stats  DeploymentStats    `json:"stats"`
}

// DeploymentPage is one page of historical deployments.
type DeploymentPage struct {
	Deployments []DeploymentRecord `json:"deployments"`
	NextCursor  *string            `json:"nextCursor"`
	TotalCount  int                `json:"totalCount"`
}

// DeploymentFilters narrow a historical page query. All fields are optional
// and combine with AND semantics; Statuses combines with OR internally.
type DeploymentFilters struct {
	Statuses        []string
	ApplicationName string
	StartDate       *time.Time
	EndDate         *time.Time
}

// QueueStats is one job queue's live state.
type QueueStats struct {
	Name                     string   `json:"name"`
	Waiting                  int64    `json:"waiting"`
	Active                   int64    `json:"active"`
	Completed                int64    `json:"completed"`
	Failed                   int64    `json:"failed"`
	Delayed                  int64    `json:"delayed"`
	Paused                   int64    `json:"paused"`
	IsPaused                 bool     `json:"isPaused"`
	WorkerActive             bool     `json:"workerActive"`
	WorkerLastSeen           *int64   `json:"workerLastSeen,omitempty"`
	WorkerCount              *int     `json:"workerCount,omitempty"`
	WorkerHeartbeatMaxAgeSec *int64   `json:"workerHeartbeatMaxAgeSec,omitempty"`
	OldestWaitingAgeSec      *int64   `json:"oldestWaitingAgeSec,omitempty"`
	JobsPerMin               *float64 `json:"jobsPerMin,omitempty"`
	FailuresPerMin           *float64 `json:"failuresPerMin,omitempty"`
}

// FailedJob is one failed job pulled from a queue's failed set.
type FailedJob struct {
	ID           string                 `json:"id"`
	Queue        string                 `json:"queue"`
	Name         string                 `json:"name"`
	Data         map[string]interface{} `json:"data"`
	FailedReason string                 `json:"failedReason"`
	Stacktrace   []string               `json:"stacktrace"`
	AttemptsMade int                    `json:"attemptsMade"`
	Timestamp    int64                  `json:"timestamp"`
	ProcessedOn  *int64                 `json:"processedOn,omitempty"`
	FinishedOn   *int64                 `json:"finishedOn,omitempty"`
}

// SiteProbe is the ephemeral result of one reachability check.
type SiteProbe struct {
	ApplicationUUID string  `json:"applicationUuid,omitempty"`
	Name            string  `json:"name"`
	FQDN            string  `json:"fqdn"`
	Status          string  `json:"status"` // healthy, degraded, down, unknown
	HTTPStatus      *int    `json:"httpStatus,omitempty"`
	ResponseTimeMs  *int64  `json:"responseTimeMs,omitempty"`
	SSLValid        *bool   `json:"sslValid,omitempty"`
	LastChecked     string  `json:"lastChecked"`
	Error           *string `json:"error,omitempty"`
}

// SiteTarget is one probeable application host.
type SiteTarget struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	FQDN string `json:"fqdn"`
}

// SiteHealthQuick is the bounded quick-check summary carried in snapshots.
type SiteHealthQuick struct {
	AllHealthy bool        `json:"allHealthy"`
	DownCount  int         `json:"downCount"`
	Sites      []SiteProbe `json:"sites"`
}

// SiteHealthSummary is the full-sweep result for the sites endpoint.
type SiteHealthSummary struct {
	Sites   []SiteProbe      `json:"sites"`
	Summary SiteHealthCounts `json:"summary"`
}

type SiteHealthCounts struct {
	Total    int `json:"total"`
	Healthy  int `json:"healthy"`
	Degraded int `json:"degraded"`
	Down     int `json:"down"`
}

// PostgresHealth aggregates connection and per-database stats from the
// metrics backend.
type PostgresHealth struct {
	Up          bool             `json:"up"`
	Connections ConnectionCounts `json:"connections"`
	Databases   []DatabaseHealth `json:"databases"`
}

type ConnectionCounts struct {
	Active int `json:"active"`
	Idle   int `json:"idle"`
	Max    int `json:"max"`
}

type DatabaseHealth struct {
	Name        string  `json:"name"`
	SizeBytes   float64 `json:"size_bytes"`
	Connections int     `json:"connections"`
}

// PgBouncerHealth reports pooler state when a PgBouncer exporter is present.
type PgBouncerHealth struct {
	Up           bool         `json:"up"`
	Pools        []PoolHealth `json:"pools"`
	TotalActive  int          `json:"total_active"`
	TotalWaiting int          `json:"total_waiting"`
}

type PoolHealth struct {
	Database     string `json:"database"`
	User         string `json:"user"`
	Active       int    `json:"active"`
	Waiting      int    `json:"waiting"`
	ServerActive int    `json:"server_active"`
	ServerIdle   int    `json:"server_idle"`
}

// HostMetrics is one host's resource snapshot from node_exporter.
type HostMetrics struct {
	Hostname  string      `json:"hostname"`
	CPU       CPUMetrics  `json:"cpu"`
	Memory    MemMetrics  `json:"memory"`
	Disk      DiskMetrics `json:"disk"`
	Load      LoadMetrics `json:"load"`
	UptimeSec float64     `json:"uptime"`
}

type CPUMetrics struct {
	UsagePercent float64 `json:"usagePercent"`
	Cores        int     `json:"cores"`
}

type MemMetrics struct {
	TotalBytes     float64 `json:"totalBytes"`
	AvailableBytes float64 `json:"availableBytes"`
	UsedPercent    float64 `json:"usedPercent"`
}

type DiskMetrics struct {
	TotalBytes     float64 `json:"totalBytes"`
	AvailableBytes float64 `json:"availableBytes"`
	UsedPercent    float64 `json:"usedPercent"`
	MountPoint     string  `json:"mountPoint"`
}

type LoadMetrics struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// WorkerSupervisorStatus is the externally published worker-process roster.
// It may be stale; staleness is marked rather than hidden.
type WorkerSupervisorStatus struct {
	Version   int                     `json:"version"`
	Host      string                  `json:"host,omitempty"`
	UpdatedAt string                  `json:"updatedAt"`
	Summary   WorkerSupervisorSummary `json:"summary"`
	Items     []WorkerSupervisorItem  `json:"items"`
	Stale     bool                    `json:"stale,omitempty"`
	AgeSec    *int64                  `json:"ageSec,omitempty"`
}

type WorkerSupervisorSummary struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Warning int `json:"warning"`
	Down    int `json:"down"`
}

type WorkerSupervisorItem struct {
	Name     string                 `json:"name"`
	Source   string                 `json:"source"` // systemd, pm2, docker
	Status   string                 `json:"status"` // ok, warning, down
	Detail   string                 `json:"detail,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AgentRunResult is the payload a scheduled maintenance agent publishes
// after each run. The dashboard only reads these; agents own the write path.
type AgentRunResult struct {
	AgentName  string             `json:"agentName"`
	RunID      string             `json:"runId"`
	Timestamp  string             `json:"timestamp"`
	Status     string             `json:"status"` // success, warning, error
	Summary    string             `json:"summary"`
	Metrics    map[string]float64 `json:"metrics"`
	Actions    []string           `json:"actions"`
	CostUSD    float64            `json:"costUsd"`
	DurationMs int64              `json:"durationMs"`
	Error      string             `json:"error,omitempty"`
}

// AgentSummary pairs an agent's roster metadata with its latest run, which
// is nil when the agent has never reported.
type AgentSummary struct {
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	Description string          `json:"description"`
	Schedule    string          `json:"schedule"`
	LastRun     *AgentRunResult `json:"lastRun"`
}

// AgentStats are roster-wide aggregates derived from the latest runs.
type AgentStats struct {
	TotalAgents    int     `json:"totalAgents"`
	HealthyAgents  int     `json:"healthyAgents"`
	WarningAgents  int     `json:"warningAgents"`
	ErrorAgents    int     `json:"errorAgents"`
	LastRunTime    *string `json:"lastRunTime"`
	TotalCostToday float64 `json:"totalCostToday"`
}

// AutohealConfig is the policy record read by external remediation
// automation. Mutated wholesale, persisted as a single JSON blob.
type AutohealConfig struct {
	Enabled              bool     `json:"enabled"`
	FailureThreshold     int      `json:"failureThreshold"`
	FailureWindowSec     int      `json:"failureWindowSec"`
	SkipWhenDeploying    bool     `json:"skipWhenDeploying"`
	CooldownSec          int      `json:"cooldownSec"`
	RedeployDelaySec     int      `json:"redeployDelaySec"`
	RedeployAfterRestart bool     `json:"redeployAfterRestart"`
	EnabledSites         []string `json:"enabledSites"`
	UpdatedAt            string   `json:"updatedAt,omitempty"`
}

// ServiceHealth covers the three polled backends.
type ServiceHealth struct {
	Coolify    ServiceStatus `json:"coolify"`
	Prometheus ServiceStatus `json:"prometheus"`
	Redis      ServiceStatus `json:"redis"`
}

// HostMetricsSet carries the configured host snapshots; either entry may be
// nil when the instance is not configured or the query failed.
type HostMetricsSet struct {
	AppsVPS *HostMetrics `json:"appsVps"`
	DBVPS   *HostMetrics `json:"dbVps"`
}

// Snapshot is the immutable aggregate produced once per polling cycle.
// Every field is populated; backends that failed or timed out contribute
// their documented fallback values instead of blocking the cycle.
type Snapshot struct {
	Type             string                  `json:"type"`
	Timestamp        time.Time               `json:"timestamp"`
	Health           ServiceHealth           `json:"health"`
	Deployments      LiveDeployments         `json:"deployments"`
	Postgres         PostgresHealth          `json:"postgres"`
	PgBouncer        PgBouncerHealth         `json:"pgbouncer"`
	Queues           []QueueStats            `json:"queues"`
	VPS              HostMetricsSet          `json:"vps"`
	Sites            SiteHealthQuick         `json:"sites"`
	WorkerSupervisor *WorkerSupervisorStatus `json:"workerSupervisor"`
}
