package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cvsloane/infra-dashboard/internal/agents"
	"github.com/cvsloane/infra-dashboard/internal/autoheal"
	"github.com/cvsloane/infra-dashboard/internal/coolify"
	"github.com/cvsloane/infra-dashboard/internal/hub"
	"github.com/cvsloane/infra-dashboard/internal/queuestore"
	"github.com/cvsloane/infra-dashboard/internal/sitehealth"
	"github.com/cvsloane/infra-dashboard/internal/workers"
	"github.com/cvsloane/infra-dashboard/pkg/config"
	"github.com/cvsloane/infra-dashboard/pkg/logger"
)

type Server struct {
	config      *config.Config
	hub         *hub.Hub
	deployments *coolify.Tracker
	platform    *coolify.Client
	queues      *queuestore.Store
	autoheal    *autoheal.Store
	sites       *sitehealth.Prober
	workers     *workers.Registry
	agents      *agents.Reader
	router      *gin.Engine
}

func NewServer(cfg *config.Config, h *hub.Hub, deployments *coolify.Tracker, platform *coolify.Client, queues *queuestore.Store, autohealStore *autoheal.Store, sites *sitehealth.Prober, registry *workers.Registry, agentReader *agents.Reader) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:      cfg,
		hub:         h,
		deployments: deployments,
		platform:    platform,
		queues:      queues,
		autoheal:    autohealStore,
		sites:       sites,
		workers:     registry,
		agents:      agentReader,
		router:      gin.New(),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())
	s.router.Use(s.timeoutMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	auth := s.router.Group("/api/auth")
	{
		auth.GET("/login", s.handleLoginStatus)
		auth.POST("/login", s.handleLogin)
		auth.POST("/logout", s.handleLogout)
	}

	api := s.router.Group("/api", s.authMiddleware())
	{
		api.GET("/sse/updates", s.handleSSE)
		api.GET("/snapshot", s.handleSnapshot)

		deployments := api.Group("/deployments")
		{
			deployments.GET("", s.handleListDeployments)
			deployments.GET("/:uuid", s.handleGetDeployment)
			deployments.POST("/:uuid/cancel", s.handleCancelDeployment)
		}
		api.POST("/deploy", s.handleTriggerDeploy)

		queues := api.Group("/queues")
		{
			queues.GET("", s.handleListQueues)
			queues.GET("/jobs/failed", s.handleListFailedJobs)
			queues.POST("/jobs/failed", s.handleFailedJobAction)
			queues.POST("/:queue/pause", s.handlePauseQueue)
			queues.POST("/:queue/resume", s.handleResumeQueue)
		}

		api.GET("/sites/health", s.handleSiteHealth)
		api.GET("/workers/status", s.handleWorkerStatus)

		agentRoutes := api.Group("/agents")
		{
			agentRoutes.GET("/runs", s.handleListAgentRuns)
			agentRoutes.GET("/:name/history", s.handleAgentRunHistory)
		}

		api.GET("/autoheal/config", s.handleGetAutohealConfig)
		api.PUT("/autoheal/config", s.handleSaveAutohealConfig)
	}

	ws := s.router.Group("/ws", s.authMiddleware())
	{
		ws.GET("/updates", s.handleWebSocket)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbStatus := s.deployments.HealthCheck(ctx)
	if dbStatus.OK {
		health["database"] = "connected"
	} else {
		health["status"] = "unhealthy"
		health["database"] = "disconnected"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	redisStatus := s.queues.HealthCheck(ctx)
	if redisStatus.OK {
		health["redis"] = "connected"
	} else {
		health["status"] = "degraded"
		health["redis"] = "disconnected"
	}

	c.JSON(http.StatusOK, health)
}

// Middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP Request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", statusCode),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Streaming endpoints manage their own lifetime.
		if c.Request.URL.Path == "/api/sse/updates" || c.Request.URL.Path == "/ws/updates" {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
