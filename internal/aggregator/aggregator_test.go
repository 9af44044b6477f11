package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

type fakeDeployments struct {
	live    models.LiveDeployments
	targets []models.SiteTarget
	err     error
	hang    bool
}

func (f *fakeDeployments) LiveView(ctx context.Context) (models.LiveDeployments, error) {
	if f.hang {
		<-ctx.Done()
		return models.LiveDeployments{}, ctx.Err()
	}
	return f.live, f.err
}

func (f *fakeDeployments) SiteTargets(ctx context.Context) ([]models.SiteTarget, error) {
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.targets, f.err
}

type fakePlatform struct {
	status models.ServiceStatus
}

func (f *fakePlatform) HealthCheck(ctx context.Context) models.ServiceStatus {
	return f.status
}

type fakeQueues struct {
	stats  []models.QueueStats
	status models.ServiceStatus
	err    error
}

func (f *fakeQueues) AllStats(ctx context.Context) ([]models.QueueStats, error) {
	return f.stats, f.err
}

func (f *fakeQueues) HealthCheck(ctx context.Context) models.ServiceStatus {
	return f.status
}

type fakeMetrics struct {
	postgres  models.PostgresHealth
	pgbouncer models.PgBouncerHealth
	hosts     models.HostMetricsSet
	status    models.ServiceStatus
	err       error
}

func (f *fakeMetrics) PostgresHealth(ctx context.Context) (models.PostgresHealth, error) {
	return f.postgres, f.err
}

func (f *fakeMetrics) PgBouncerHealth(ctx context.Context) (models.PgBouncerHealth, error) {
	return f.pgbouncer, f.err
}

func (f *fakeMetrics) AllHostMetrics(ctx context.Context, primary, database string) models.HostMetricsSet {
	return f.hosts
}

func (f *fakeMetrics) HealthCheck(ctx context.Context) models.ServiceStatus {
	return f.status
}

type fakeSites struct {
	quick models.SiteHealthQuick
}

func (f *fakeSites) FilterTargets(targets []models.SiteTarget) []models.SiteTarget {
	return targets
}

func (f *fakeSites) ProbeQuick(ctx context.Context, targets []models.SiteTarget, limit int) models.SiteHealthQuick {
	return f.quick
}

type fakeWorkers struct {
	status *models.WorkerSupervisorStatus
	err    error
}

func (f *fakeWorkers) SupervisorStatus(ctx context.Context) (*models.WorkerSupervisorStatus, error) {
	return f.status, f.err
}

func healthySources() (*fakeDeployments, *fakePlatform, *fakeQueues, *fakeMetrics, *fakeSites, *fakeWorkers) {
	deployments := &fakeDeployments{
		live: models.LiveDeployments{
			Active: []models.DeploymentRecord{{UUID: "dep-1", Status: models.StatusInProgress}},
			Recent: []models.DeploymentRecord{},
			Stats:  models.DeploymentStats{InProgress: 1},
		},
		targets: []models.SiteTarget{{UUID: "app-1", Name: "site", FQDN: "https://example.com"}},
	}
	platform := &fakePlatform{status: models.ServiceStatus{OK: true, Message: "Connected to Coolify API"}}
	queues := &fakeQueues{
		stats:  []models.QueueStats{{Name: "emails", Waiting: 3, WorkerActive: true}},
		status: models.ServiceStatus{OK: true, Message: "Connected to Redis"},
	}
	metrics := &fakeMetrics{
		postgres:  models.PostgresHealth{Up: true, Connections: models.ConnectionCounts{Active: 4, Max: 100}},
		pgbouncer: models.PgBouncerHealth{Up: true},
		status:    models.ServiceStatus{OK: true, Message: "Connected to Prometheus"},
	}
	sites := &fakeSites{quick: models.SiteHealthQuick{AllHealthy: true, Sites: []models.SiteProbe{}}}
	workers := &fakeWorkers{status: &models.WorkerSupervisorStatus{Version: 1}}
	return deployments, platform, queues, metrics, sites, workers
}

func TestPollMergesAllSources(t *testing.T) {
	deployments, platform, queues, metrics, sites, workers := healthySources()
	agg := New(deployments, platform, queues, metrics, sites, workers, Options{})

	snapshot := agg.Poll(context.Background())
	require.NotNil(t, snapshot)

	assert.Equal(t, "update", snapshot.Type)
	assert.True(t, snapshot.Health.Coolify.OK)
	assert.True(t, snapshot.Health.Prometheus.OK)
	assert.True(t, snapshot.Health.Redis.OK)
	assert.Len(t, snapshot.Deployments.Active, 1)
	assert.True(t, snapshot.Postgres.Up)
	assert.Len(t, snapshot.Queues, 1)
	assert.True(t, snapshot.Sites.AllHealthy)
	require.NotNil(t, snapshot.WorkerSupervisor)
	assert.Equal(t, 1, snapshot.WorkerSupervisor.Version)
}

func TestPollSurvivesHangingSource(t *testing.T) {
	deployments, platform, queues, metrics, sites, workers := healthySources()
	deployments.hang = true

	agg := New(deployments, platform, queues, metrics, sites, workers, Options{
		SourceTimeout:    50 * time.Millisecond,
		SiteCheckTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	snapshot := agg.Poll(context.Background())
	elapsed := time.Since(start)

	require.NotNil(t, snapshot)
	assert.Less(t, elapsed, time.Second, "a hanging source must not block the cycle")

	// The hung source contributes its fallback, everything else is intact.
	assert.Empty(t, snapshot.Deployments.Active)
	assert.True(t, snapshot.Sites.AllHealthy)
	assert.Len(t, snapshot.Queues, 1)
	assert.True(t, snapshot.Health.Redis.OK)
}

func TestPollSurvivesErroringSources(t *testing.T) {
	deployments, platform, queues, metrics, sites, workers := healthySources()
	queues.err = errors.New("connection refused")
	queues.status = models.ServiceStatus{OK: false, Message: "connection refused"}
	metrics.err = errors.New("no route to host")
	metrics.status = models.ServiceStatus{OK: false, Message: "no route to host"}

	agg := New(deployments, platform, queues, metrics, sites, workers, Options{})
	snapshot := agg.Poll(context.Background())
	require.NotNil(t, snapshot)

	assert.False(t, snapshot.Health.Redis.OK)
	assert.False(t, snapshot.Health.Prometheus.OK)
	assert.Empty(t, snapshot.Queues)
	assert.False(t, snapshot.Postgres.Up)
	assert.Equal(t, 100, snapshot.Postgres.Connections.Max)
	assert.Len(t, snapshot.Deployments.Active, 1, "healthy sources still contribute")
}
