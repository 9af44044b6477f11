package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cvsloane/infra-dashboard/pkg/config"

	_ "github.com/lib/pq"
)

// NewPostgresConnection opens a pooled read-only connection to the Coolify
// database. Pool sizing assumes the aggregation loop plus occasional ad hoc
// requests, not high parallelism.
func NewPostgresConnection(cfg *config.Config) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.CoolifyDBURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)
	conn.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return conn, nil
}
