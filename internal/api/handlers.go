package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cvsloane/infra-dashboard/internal/agents"
	"github.com/cvsloane/infra-dashboard/pkg/logger"
	"github.com/cvsloane/infra-dashboard/pkg/models"
)

func (s *Server) handleListDeployments(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	filters := models.DeploymentFilters{
		ApplicationName: c.Query("application"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(status); trimmed != "" {
				filters.Statuses = append(filters.Statuses, trimmed)
			}
		}
	}
	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start date. Use RFC3339 format."})
			return
		}
		filters.StartDate = &t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end date. Use RFC3339 format."})
			return
		}
		filters.EndDate = &t
	}

	page, err := s.deployments.Page(c.Request.Context(), c.Query("cursor"), limit, filters)
	if err != nil {
		logger.Error("Failed to fetch deployments page", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch deployments"})
		return
	}

	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetDeployment(c *gin.Context) {
	uuid := c.Param("uuid")

	deployment, err := s.deployments.ByUUID(c.Request.Context(), uuid)
	if err != nil {
		logger.Error("Failed to fetch deployment", zap.String("uuid", uuid), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch deployment"})
		return
	}
	if deployment == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Deployment not found"})
		return
	}

	c.JSON(http.StatusOK, deployment)
}

func (s *Server) handleTriggerDeploy(c *gin.Context) {
	var body struct {
		ApplicationUUID string `json:"applicationUuid"`
		Force           bool   `json:"force"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ApplicationUUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "applicationUuid is required"})
		return
	}

	if !s.platform.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Deployment API is not configured"})
		return
	}

	deploymentUUID, err := s.platform.TriggerDeploy(c.Request.Context(), body.ApplicationUUID, body.Force)
	if err != nil {
		logger.Error("Failed to trigger deployment",
			zap.String("application_uuid", body.ApplicationUUID),
			logger.Err(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"deployment_uuid": deploymentUUID,
	})
}

func (s *Server) handleCancelDeployment(c *gin.Context) {
	uuid := c.Param("uuid")

	if !s.platform.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Deployment API is not configured"})
		return
	}

	if err := s.platform.CancelDeployment(c.Request.Context(), uuid); err != nil {
		logger.Error("Failed to cancel deployment", zap.String("uuid", uuid), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleListQueues(c *gin.Context) {
	if queueName := c.Query("name"); queueName != "" {
		stats, err := s.queues.Stats(c.Request.Context(), queueName)
		if err != nil {
			logger.Error("Failed to fetch queue stats", zap.String("queue", queueName), logger.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch queue stats"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"queue": stats})
		return
	}

	stats, err := s.queues.AllStats(c.Request.Context())
	if err != nil {
		logger.Error("Failed to fetch queue stats", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch queue stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"queues": stats})
}

func (s *Server) handleListFailedJobs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if queueName := c.Query("queue"); queueName != "" {
		jobs, err := s.queues.FailedJobs(c.Request.Context(), queueName, limit)
		if err != nil {
			logger.Error("Failed to fetch failed jobs", zap.String("queue", queueName), logger.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch failed jobs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
		return
	}

	queueNames, err := s.queues.DiscoverQueues(c.Request.Context())
	if err != nil {
		logger.Error("Failed to discover queues", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch failed jobs"})
		return
	}

	// Spread the limit across queues, then trim the flattened result.
	jobs := []models.FailedJob{}
	if len(queueNames) > 0 {
		perQueue := (limit + len(queueNames) - 1) / len(queueNames)
		for _, queueName := range queueNames {
			queueJobs, err := s.queues.FailedJobs(c.Request.Context(), queueName, perQueue)
			if err != nil {
				logger.Warn("Skipping queue with unreadable failed jobs",
					zap.String("queue", queueName),
					logger.Err(err),
				)
				continue
			}
			jobs = append(jobs, queueJobs...)
		}
		if len(jobs) > limit {
			jobs = jobs[:limit]
		}
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

type failedJobActionRequest struct {
	Action string `json:"action"`
	Queue  string `json:"queue"`
	JobID  string `json:"jobId"`
	Limit  *int   `json:"limit"`
}

func (s *Server) handleFailedJobAction(c *gin.Context) {
	var body failedJobActionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	switch body.Action {
	case "retry", "delete":
		if body.Queue == "" || body.JobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "queue and jobId are required"})
			return
		}

		var success bool
		var err error
		if body.Action == "retry" {
			success, err = s.queues.RetryJob(c.Request.Context(), body.Queue, body.JobID)
		} else {
			success, err = s.queues.DeleteJob(c.Request.Context(), body.Queue, body.JobID)
		}
		if err != nil {
			logger.Error("Failed job action failed",
				zap.String("action", body.Action),
				zap.String("queue", body.Queue),
				zap.String("job_id", body.JobID),
				logger.Err(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": success, "action": body.Action})

	case "retry_all", "delete_all":
		s.handleBulkFailedJobAction(c, body)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": `Invalid action. Use "retry", "delete", "retry_all", or "delete_all"`})
	}
}

func (s *Server) handleBulkFailedJobAction(c *gin.Context, body failedJobActionRequest) {
	ctx := c.Request.Context()

	var queueNames []string
	if body.Queue != "" && body.Queue != "all" {
		queueNames = []string{body.Queue}
	} else {
		discovered, err := s.queues.DiscoverQueues(ctx)
		if err != nil {
			logger.Error("Failed to discover queues", logger.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to discover queues"})
			return
		}
		queueNames = discovered
	}

	limit := 0
	if body.Limit != nil && *body.Limit > 0 {
		limit = *body.Limit
	}

	type queueResult struct {
		Queue     string `json:"queue"`
		Processed int    `json:"processed"`
	}

	// With a limit and multiple queues, drain queues in order so the
	// global cap holds across all of them.
	results := make([]queueResult, 0, len(queueNames))
	total := 0
	remaining := limit
	for _, queueName := range queueNames {
		if limit > 0 && remaining <= 0 {
			results = append(results, queueResult{Queue: queueName})
			continue
		}

		perQueue := 0
		if limit > 0 {
			perQueue = remaining
		}

		var processed int
		var err error
		if body.Action == "retry_all" {
			processed, err = s.queues.RetryAllFailed(ctx, queueName, perQueue)
		} else {
			processed, err = s.queues.DeleteAllFailed(ctx, queueName, perQueue)
		}
		if err != nil {
			logger.Error("Bulk failed job action failed",
				zap.String("action", body.Action),
				zap.String("queue", queueName),
				logger.Err(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		results = append(results, queueResult{Queue: queueName, Processed: processed})
		total += processed
		remaining -= processed
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"action":    body.Action,
		"queues":    results,
		"processed": total,
	})
}

func (s *Server) handlePauseQueue(c *gin.Context) {
	queueName := c.Param("queue")

	if err := s.queues.PauseQueue(c.Request.Context(), queueName); err != nil {
		logger.Error("Failed to pause queue", zap.String("queue", queueName), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "action": "pause", "queue": queueName})
}

func (s *Server) handleResumeQueue(c *gin.Context) {
	queueName := c.Param("queue")

	if err := s.queues.ResumeQueue(c.Request.Context(), queueName); err != nil {
		logger.Error("Failed to resume queue", zap.String("queue", queueName), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "action": "resume", "queue": queueName})
}

// handleSiteHealth runs the full probe sweep, unlike the bounded quick
// check carried in snapshots.
func (s *Server) handleSiteHealth(c *gin.Context) {
	targets, err := s.deployments.SiteTargets(c.Request.Context())
	if err != nil {
		logger.Error("Failed to load site targets", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load site targets"})
		return
	}

	summary := s.sites.ProbeAll(c.Request.Context(), s.sites.FilterTargets(targets))
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleWorkerStatus(c *gin.Context) {
	status, err := s.workers.SupervisorStatus(c.Request.Context())
	if err != nil {
		logger.Error("Failed to read worker supervisor status", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read worker status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleListAgentRuns(c *gin.Context) {
	summaries := s.agents.Summaries(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"agents": summaries,
		"stats":  agents.ComputeStats(summaries, time.Now()),
	})
}

func (s *Server) handleAgentRunHistory(c *gin.Context) {
	name := c.Param("name")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	runs, err := s.agents.RunHistory(c.Request.Context(), name, limit)
	if err != nil {
		logger.Error("Failed to fetch agent run history", zap.String("agent", name), logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch agent history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agent": name, "runs": runs})
}

func (s *Server) handleGetAutohealConfig(c *gin.Context) {
	cfg, err := s.autoheal.Get(c.Request.Context())
	if err != nil {
		logger.Error("Failed to fetch autoheal config", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch autoheal config"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

func (s *Server) handleSaveAutohealConfig(c *gin.Context) {
	var body struct {
		models.AutohealConfig
		Config *models.AutohealConfig `json:"config"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	input := body.AutohealConfig
	if body.Config != nil {
		input = *body.Config
	}

	saved, err := s.autoheal.Save(c.Request.Context(), input)
	if err != nil {
		logger.Error("Failed to save autoheal config", logger.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save autoheal config"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"config": saved})
}
