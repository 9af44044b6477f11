package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cvsloane/infra-dashboard/internal/agents"
	"github.com/cvsloane/infra-dashboard/internal/aggregator"
	"github.com/cvsloane/infra-dashboard/internal/api"
	"github.com/cvsloane/infra-dashboard/internal/autoheal"
	"github.com/cvsloane/infra-dashboard/internal/coolify"
	"github.com/cvsloane/infra-dashboard/internal/hub"
	"github.com/cvsloane/infra-dashboard/internal/poller"
	"github.com/cvsloane/infra-dashboard/internal/promql"
	"github.com/cvsloane/infra-dashboard/internal/queuestore"
	"github.com/cvsloane/infra-dashboard/internal/sitehealth"
	"github.com/cvsloane/infra-dashboard/internal/workers"
	"github.com/cvsloane/infra-dashboard/pkg/config"
	"github.com/cvsloane/infra-dashboard/pkg/db"
	"github.com/cvsloane/infra-dashboard/pkg/logger"
)

func main() {
	if err := logger.Init(os.Getenv("GO_ENV")); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", logger.Err(err))
	}

	logger.Info("Configuration loaded",
		logger.String("environment", cfg.Environment),
		logger.String("port", cfg.Port),
	)

	dbConn, err := db.NewPostgresConnection(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", logger.Err(err))
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("Error closing database connection", logger.Err(err))
		}
	}()
	logger.Info("Connected to Coolify PostgreSQL")

	redisClient, err := db.NewRedisConnection(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", logger.Err(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Error closing Redis connection", logger.Err(err))
		}
	}()
	logger.Info("Connected to Redis")

	promClient, err := promql.NewClient(cfg.PrometheusURL)
	if err != nil {
		logger.Fatal("Failed to create Prometheus client", logger.Err(err))
	}

	tracker := coolify.NewTracker(dbConn, cfg.RecentDeployWindow)
	platform := coolify.NewClient(cfg.CoolifyAPIURL, cfg.CoolifyAPIToken)
	if !platform.Configured() {
		logger.Warn("Coolify API credentials not set, deploy/cancel actions disabled")
	}

	queueStore := queuestore.NewStore(redisClient.Client)
	prober := sitehealth.NewProber(cfg.SiteProbeTimeout, cfg.SiteHealthExclusions)
	registry := workers.NewRegistry(queueStore.KV(), cfg.WorkerStatusMaxAge)
	autohealStore := autoheal.NewStore(queueStore.KV(), tracker)
	agentReader := agents.NewReader(queueStore.KV())

	broadcastHub := hub.New()

	agg := aggregator.New(tracker, platform, queueStore, promClient, prober, registry, aggregator.Options{
		SourceTimeout:    cfg.SourceTimeout,
		SiteCheckTimeout: cfg.SiteCheckTimeout,
		PrimaryInstance:  cfg.VPSPrimaryInstance,
		DatabaseInstance: cfg.VPSDatabaseInstance,
	})

	snapshotPoller := poller.New(agg, broadcastHub, cfg.PollInterval)
	snapshotPoller.Start()
	defer snapshotPoller.Stop()

	apiServer := api.NewServer(cfg, broadcastHub, tracker, platform, queueStore, autohealStore, prober, registry, agentReader)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Starting infra dashboard service",
			logger.String("port", cfg.Port),
			logger.String("address", fmt.Sprintf("http://localhost:%s", cfg.Port)),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.Err(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down infra dashboard service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", logger.Err(err))
	}

	logger.Info("Infra dashboard service stopped")
}
