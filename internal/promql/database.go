package promql

import (
	"context"

	"github.com/prometheus/common/model"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

// PostgresHealth aggregates connection counts and per-database stats.
// Connection counts prefer the PgBouncer exporter (those are what
// applications actually consume) and fall back to direct pg_stat_activity
// metrics when the pooler has no data.
func (c *Client) PostgresHealth(ctx context.Context) (models.PostgresHealth, error) {
	fallback := models.PostgresHealth{
		Connections: models.ConnectionCounts{Max: 100},
		Databases:   []models.DatabaseHealth{},
	}

	up, err := c.QueryScalar(ctx, "pg_up", 0)
	if err != nil {
		return fallback, err
	}

	health := models.PostgresHealth{
		Up:        up == 1,
		Databases: []models.DatabaseHealth{},
	}

	active, errA := c.QueryScalar(ctx, "sum(pgbouncer_pools_client_active_connections)", 0)
	idle, errI := c.QueryScalar(ctx, "sum(pgbouncer_pools_server_idle_connections)", 0)
	if errA != nil || errI != nil || (active == 0 && idle == 0) {
		active, _ = c.QueryScalar(ctx, `pg_stat_activity_count{state="active"}`, 0)
		idle, _ = c.QueryScalar(ctx, `pg_stat_activity_count{state="idle"}`, 0)
	}
	health.Connections.Active = int(active)
	health.Connections.Idle = int(idle)

	max, _ := c.QueryScalar(ctx, "pg_settings_max_connections", 100)
	health.Connections.Max = int(max)

	sizes, err := c.QueryVector(ctx, "pg_database_size_bytes")
	if err != nil {
		return health, nil
	}
	conns, _ := c.QueryVector(ctx, "pg_stat_database_numbackends")

	connsByDB := map[string]float64{}
	for _, sample := range conns {
		connsByDB[string(sample.Metric["datname"])] = float64(sample.Value)
	}

	seen := map[string]bool{}
	for _, sample := range sizes {
		name := string(sample.Metric["datname"])
		if name == "" || seen[name] || name == "template0" || name == "template1" {
			continue
		}
		seen[name] = true
		health.Databases = append(health.Databases, models.DatabaseHealth{
			Name:        name,
			SizeBytes:   float64(sample.Value),
			Connections: int(connsByDB[name]),
		})
	}

	return health, nil
}

// PgBouncerHealth reads per-pool client/server connection gauges.
func (c *Client) PgBouncerHealth(ctx context.Context) (models.PgBouncerHealth, error) {
	health := models.PgBouncerHealth{Pools: []models.PoolHealth{}}

	up, err := c.QueryScalar(ctx, "pgbouncer_up", 0)
	if err != nil {
		return health, err
	}
	health.Up = up == 1

	active, err := c.QueryVector(ctx, "pgbouncer_pools_client_active_connections")
	if err != nil {
		return health, err
	}
	waiting, _ := c.QueryVector(ctx, "pgbouncer_pools_client_waiting_connections")
	serverActive, _ := c.QueryVector(ctx, "pgbouncer_pools_server_active_connections")
	serverIdle, _ := c.QueryVector(ctx, "pgbouncer_pools_server_idle_connections")

	for _, sample := range active {
		database := labelOr(sample.Metric, "database", "unknown")
		user := labelOr(sample.Metric, "user", "unknown")

		pool := models.PoolHealth{
			Database:     database,
			User:         user,
			Active:       int(sample.Value),
			Waiting:      int(matchValue(waiting, database, user)),
			ServerActive: int(matchValue(serverActive, database, user)),
			ServerIdle:   int(matchValue(serverIdle, database, user)),
		}
		health.TotalActive += pool.Active
		health.TotalWaiting += pool.Waiting
		health.Pools = append(health.Pools, pool)
	}

	return health, nil
}

func labelOr(metric model.Metric, name, def string) string {
	if v := string(metric[model.LabelName(name)]); v != "" {
		return v
	}
	return def
}

func matchValue(vector model.Vector, database, user string) float64 {
	for _, sample := range vector {
		if string(sample.Metric["database"]) == database && string(sample.Metric["user"]) == user {
			return float64(sample.Value)
		}
	}
	return 0
}
