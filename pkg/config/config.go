package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port              string
	Environment       string
	DashboardPassword string

	CoolifyDBURL    string
	CoolifyAPIURL   string
	CoolifyAPIToken string

	RedisURL string

	PrometheusURL       string
	VPSPrimaryInstance  string
	VPSDatabaseInstance string

	SiteHealthExclusions []string

	PollInterval         time.Duration
	SourceTimeout        time.Duration
	SiteCheckTimeout     time.Duration
	SiteProbeTimeout     time.Duration
	KeepaliveInterval    time.Duration
	WorkerStatusMaxAge   time.Duration
	RecentDeployWindow   time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "5130"),
		Environment:       getEnv("GO_ENV", "development"),
		DashboardPassword: getEnv("DASHBOARD_PASSWORD", ""),

		CoolifyDBURL:    getEnv("COOLIFY_DB_URL", ""),
		CoolifyAPIURL:   getEnv("COOLIFY_API_URL", ""),
		CoolifyAPIToken: getEnv("COOLIFY_API_TOKEN", ""),

		RedisURL: getEnv("REDIS_URL", "redis://127.0.0.1:6379"),

		PrometheusURL:       getEnv("PROMETHEUS_URL", ""),
		VPSPrimaryInstance:  getEnv("VPS_PRIMARY_INSTANCE", ""),
		VPSDatabaseInstance: getEnv("VPS_DATABASE_INSTANCE", ""),

		SiteHealthExclusions: splitList(getEnv("SITE_HEALTH_EXCLUSIONS", "")),

		PollInterval:       getEnvDuration("POLL_INTERVAL", 15*time.Second),
		SourceTimeout:      getEnvDuration("SOURCE_TIMEOUT", 3*time.Second),
		SiteCheckTimeout:   getEnvDuration("SITE_CHECK_TIMEOUT", 8*time.Second),
		SiteProbeTimeout:   getEnvDuration("SITE_PROBE_TIMEOUT", 10*time.Second),
		KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 5*time.Second),
		WorkerStatusMaxAge: getEnvDuration("WORKER_STATUS_MAX_AGE", 180*time.Second),
		RecentDeployWindow: getEnvDuration("RECENT_DEPLOY_WINDOW", 30*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var missingVars []string

	if c.Port == "" {
		missingVars = append(missingVars, "PORT")
	}
	if c.CoolifyDBURL == "" {
		missingVars = append(missingVars, "COOLIFY_DB_URL")
	}
	if c.RedisURL == "" {
		missingVars = append(missingVars, "REDIS_URL")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	if _, err := url.Parse(c.RedisURL); err != nil {
		return fmt.Errorf("invalid REDIS_URL format: %w", err)
	}
	if c.PrometheusURL != "" {
		if _, err := url.Parse(c.PrometheusURL); err != nil {
			return fmt.Errorf("invalid PROMETHEUS_URL format: %w", err)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	// Bare numbers are treated as seconds
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
