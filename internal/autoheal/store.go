// Package autoheal holds the policy record that external remediation
// automation reads to decide when to restart or redeploy a site.
package autoheal

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cvsloane/infra-dashboard/internal/queuestore"
	"github.com/cvsloane/infra-dashboard/pkg/logger"
	"github.com/cvsloane/infra-dashboard/pkg/models"
)

const configKey = "infra:autoheal:config"

var defaultConfig = models.AutohealConfig{
	Enabled:              true,
	FailureThreshold:     2,
	FailureWindowSec:     120,
	SkipWhenDeploying:    true,
	CooldownSec:          600,
	RedeployDelaySec:     90,
	RedeployAfterRestart: true,
	EnabledSites:         []string{},
}

// Sites matching these name patterns are opted in when seeding defaults.
var defaultSitePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)hg[-\s]?market\s?report`),
	regexp.MustCompile(`(?i)hg[-\s]?websites`),
	regexp.MustCompile(`(?i)hg[-\s]?seo\s?commander`),
	regexp.MustCompile(`(?i)agency\s?commander`),
}

// TargetSource lists probeable site targets, used to seed default
// enabledSites on first read.
type TargetSource interface {
	SiteTargets(ctx context.Context) ([]models.SiteTarget, error)
}

// Store persists the autoheal config as a single JSON blob in the queue
// store's key/value layer. Reads normalize, writes replace wholesale.
type Store struct {
	kv      queuestore.KV
	targets TargetSource
}

func NewStore(kv queuestore.KV, targets TargetSource) *Store {
	return &Store{kv: kv, targets: targets}
}

// Get returns the stored config, or seeds and persists defaults when none
// exists yet.
func (s *Store) Get(ctx context.Context) (models.AutohealConfig, error) {
	raw, ok, err := s.kv.Get(ctx, configKey)
	if err == nil && ok {
		var cfg models.AutohealConfig
		if jsonErr := json.Unmarshal([]byte(raw), &cfg); jsonErr == nil {
			return Normalize(cfg), nil
		}
	}
	if err != nil {
		logger.Warn("Failed to load autoheal config, seeding defaults", logger.Err(err))
	}

	defaults := s.buildDefaults(ctx)
	if payload, err := json.Marshal(defaults); err == nil {
		if err := s.kv.Set(ctx, configKey, string(payload)); err != nil {
			logger.Warn("Failed to persist autoheal defaults", logger.Err(err))
		}
	}
	return defaults, nil
}

// Save validates and replaces the stored config wholesale.
func (s *Store) Save(ctx context.Context, input models.AutohealConfig) (models.AutohealConfig, error) {
	normalized := Normalize(input)
	normalized.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(normalized)
	if err != nil {
		return models.AutohealConfig{}, fmt.Errorf("failed to encode autoheal config: %w", err)
	}
	if err := s.kv.Set(ctx, configKey, string(payload)); err != nil {
		return models.AutohealConfig{}, fmt.Errorf("failed to persist autoheal config: %w", err)
	}
	return normalized, nil
}

func (s *Store) buildDefaults(ctx context.Context) models.AutohealConfig {
	defaults := Normalize(defaultConfig)

	if s.targets != nil {
		targets, err := s.targets.SiteTargets(ctx)
		if err != nil {
			logger.Warn("Failed to seed autoheal defaults from site targets", logger.Err(err))
		} else {
			defaults.EnabledSites = SeedEnabledSites(targets)
		}
	}

	defaults.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return defaults
}

// SeedEnabledSites selects target UUIDs whose name or domain matches one of
// the default opt-in patterns.
func SeedEnabledSites(targets []models.SiteTarget) []string {
	var selected []string
	for _, target := range targets {
		haystack := strings.ToLower(target.Name + " " + target.FQDN)
		for _, pattern := range defaultSitePatterns {
			if pattern.MatchString(haystack) {
				selected = append(selected, target.UUID)
				break
			}
		}
	}
	return dedupe(selected)
}

// Normalize clamps numeric fields to sane floors and deduplicates the site
// list. Unknown or out-of-range values fall back rather than erroring: the
// config gates external automation and must always be readable.
func Normalize(cfg models.AutohealConfig) models.AutohealConfig {
	out := cfg
	switch {
	case out.FailureThreshold == 0:
		out.FailureThreshold = defaultConfig.FailureThreshold
	case out.FailureThreshold < 1:
		out.FailureThreshold = 1
	}
	switch {
	case out.FailureWindowSec == 0:
		out.FailureWindowSec = defaultConfig.FailureWindowSec
	case out.FailureWindowSec < 30:
		out.FailureWindowSec = 30
	}
	if out.CooldownSec < 0 {
		out.CooldownSec = 0
	}
	if out.RedeployDelaySec < 0 {
		out.RedeployDelaySec = 0
	}
	out.EnabledSites = dedupe(out.EnabledSites)
	return out
}

func dedupe(sites []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, site := range sites {
		if site == "" || seen[site] {
			continue
		}
		seen[site] = true
		out = append(out, site)
	}
	return out
}
