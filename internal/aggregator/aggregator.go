// Package aggregator fans out to every backend adapter once per polling
// cycle and merges the results into a single immutable snapshot.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/cvsloane/infra-dashboard/pkg/logger"
	"github.com/cvsloane/infra-dashboard/pkg/models"
)

const quickCheckLimit = 10

// DeploymentSource reads the deployment platform database.
type DeploymentSource interface {
	LiveView(ctx context.Context) (models.LiveDeployments, error)
	SiteTargets(ctx context.Context) ([]models.SiteTarget, error)
}

// PlatformAPI is the deployment platform's REST surface, used here only
// for its reachability check.
type PlatformAPI interface {
	HealthCheck(ctx context.Context) models.ServiceStatus
}

// QueueSource reads job-queue state.
type QueueSource interface {
	AllStats(ctx context.Context) ([]models.QueueStats, error)
	HealthCheck(ctx context.Context) models.ServiceStatus
}

// MetricsSource queries the metrics backend.
type MetricsSource interface {
	PostgresHealth(ctx context.Context) (models.PostgresHealth, error)
	PgBouncerHealth(ctx context.Context) (models.PgBouncerHealth, error)
	AllHostMetrics(ctx context.Context, primary, database string) models.HostMetricsSet
	HealthCheck(ctx context.Context) models.ServiceStatus
}

// SiteSource probes configured hosts.
type SiteSource interface {
	FilterTargets(targets []models.SiteTarget) []models.SiteTarget
	ProbeQuick(ctx context.Context, targets []models.SiteTarget, limit int) models.SiteHealthQuick
}

// WorkerSource reads the worker-process roster.
type WorkerSource interface {
	SupervisorStatus(ctx context.Context) (*models.WorkerSupervisorStatus, error)
}

// Options carry the tuning knobs shared by every cycle.
type Options struct {
	SourceTimeout    time.Duration
	SiteCheckTimeout time.Duration
	PrimaryInstance  string
	DatabaseInstance string
}

// Aggregator orchestrates one polling tick. It never mutates backend
// state and never returns an error: failed or timed-out sources
// contribute their documented fallback values instead.
type Aggregator struct {
	deployments DeploymentSource
	platform    PlatformAPI
	queues      QueueSource
	metrics     MetricsSource
	sites       SiteSource
	workers     WorkerSource
	opts        Options
}

func New(deployments DeploymentSource, platform PlatformAPI, queues QueueSource, metrics MetricsSource, sites SiteSource, workers WorkerSource, opts Options) *Aggregator {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 3 * time.Second
	}
	if opts.SiteCheckTimeout <= 0 {
		opts.SiteCheckTimeout = 8 * time.Second
	}
	return &Aggregator{
		deployments: deployments,
		platform:    platform,
		queues:      queues,
		metrics:     metrics,
		sites:       sites,
		workers:     workers,
		opts:        opts,
	}
}

// Poll runs every source in parallel, each under its own timeout, and
// assembles the snapshot once all of them have settled. Partial backend
// failure degrades the affected fields only.
func (a *Aggregator) Poll(ctx context.Context) *models.Snapshot {
	snapshot := &models.Snapshot{
		Type:      "update",
		Timestamp: time.Now().UTC(),
		Deployments: models.LiveDeployments{
			Active: []models.DeploymentRecord{},
			Recent: []models.DeploymentRecord{},
		},
		Postgres: models.PostgresHealth{
			Connections: models.ConnectionCounts{Max: 100},
			Databases:   []models.DatabaseHealth{},
		},
		PgBouncer: models.PgBouncerHealth{Pools: []models.PoolHealth{}},
		Queues:    []models.QueueStats{},
		Sites:     models.SiteHealthQuick{AllHealthy: true, Sites: []models.SiteProbe{}},
	}

	var wg sync.WaitGroup
	run := func(name string, timeout time.Duration, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := fn(tctx); err != nil {
				logger.Warn("Poll source degraded",
					logger.String("source", name),
					logger.Err(err),
				)
			}
		}()
	}

	run("coolify-health", a.opts.SourceTimeout, func(tctx context.Context) error {
		snapshot.Health.Coolify = a.platform.HealthCheck(tctx)
		return nil
	})
	run("prometheus-health", a.opts.SourceTimeout, func(tctx context.Context) error {
		snapshot.Health.Prometheus = a.metrics.HealthCheck(tctx)
		return nil
	})
	run("redis-health", a.opts.SourceTimeout, func(tctx context.Context) error {
		snapshot.Health.Redis = a.queues.HealthCheck(tctx)
		return nil
	})
	run("deployments", a.opts.SourceTimeout, func(tctx context.Context) error {
		live, err := a.deployments.LiveView(tctx)
		if err != nil {
			return err
		}
		snapshot.Deployments = live
		return nil
	})
	run("postgres", a.opts.SourceTimeout, func(tctx context.Context) error {
		pg, err := a.metrics.PostgresHealth(tctx)
		if err != nil {
			return err
		}
		snapshot.Postgres = pg
		return nil
	})
	run("pgbouncer", a.opts.SourceTimeout, func(tctx context.Context) error {
		pgb, err := a.metrics.PgBouncerHealth(tctx)
		if err != nil {
			return err
		}
		snapshot.PgBouncer = pgb
		return nil
	})
	run("queues", a.opts.SourceTimeout, func(tctx context.Context) error {
		stats, err := a.queues.AllStats(tctx)
		if err != nil {
			return err
		}
		snapshot.Queues = stats
		return nil
	})
	run("vps-metrics", a.opts.SourceTimeout, func(tctx context.Context) error {
		snapshot.VPS = a.metrics.AllHostMetrics(tctx, a.opts.PrimaryInstance, a.opts.DatabaseInstance)
		return nil
	})
	run("site-quick-check", a.opts.SiteCheckTimeout, func(tctx context.Context) error {
		targets, err := a.deployments.SiteTargets(tctx)
		if err != nil {
			return err
		}
		snapshot.Sites = a.sites.ProbeQuick(tctx, a.sites.FilterTargets(targets), quickCheckLimit)
		return nil
	})
	run("worker-supervisor", a.opts.SourceTimeout, func(tctx context.Context) error {
		status, err := a.workers.SupervisorStatus(tctx)
		if err != nil {
			return err
		}
		snapshot.WorkerSupervisor = status
		return nil
	})

	wg.Wait()
	return snapshot
}
