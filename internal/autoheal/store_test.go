package autoheal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

type fakeKV struct {
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string) error {
	f.data[key] = value
	return nil
}

func (f *fakeKV) SetEx(_ context.Context, key, value string, _ time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func (f *fakeKV) LRange(_ context.Context, _ string, _, _ int64) ([]string, error) {
	return nil, nil
}

type fakeTargets struct {
	targets []models.SiteTarget
	err     error
}

func (f *fakeTargets) SiteTargets(_ context.Context) ([]models.SiteTarget, error) {
	return f.targets, f.err
}

func TestGetSeedsAndPersistsDefaults(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	targets := &fakeTargets{targets: []models.SiteTarget{
		{UUID: "uuid-1", Name: "HG Market Report", FQDN: "https://report.example.com"},
		{UUID: "uuid-2", Name: "unrelated-app", FQDN: "https://other.example.com"},
		{UUID: "uuid-3", Name: "Agency Commander", FQDN: "https://agency.example.com"},
	}}

	store := NewStore(kv, targets)

	cfg, err := store.Get(ctx)
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 2, cfg.FailureThreshold)
	assert.Equal(t, 120, cfg.FailureWindowSec)
	assert.True(t, cfg.SkipWhenDeploying)
	assert.Equal(t, 600, cfg.CooldownSec)
	assert.Equal(t, 90, cfg.RedeployDelaySec)
	assert.True(t, cfg.RedeployAfterRestart)
	assert.Equal(t, []string{"uuid-1", "uuid-3"}, cfg.EnabledSites)
	assert.NotEmpty(t, cfg.UpdatedAt)

	// The seeded defaults were persisted for subsequent reads.
	raw, ok := kv.data[configKey]
	require.True(t, ok)

	var persisted models.AutohealConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, cfg.EnabledSites, persisted.EnabledSites)
}

func TestGetReturnsStoredConfig(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()

	stored := models.AutohealConfig{
		Enabled:          false,
		FailureThreshold: 7,
		FailureWindowSec: 300,
		CooldownSec:      60,
		EnabledSites:     []string{"uuid-9"},
	}
	payload, err := json.Marshal(stored)
	require.NoError(t, err)
	kv.data[configKey] = string(payload)

	store := NewStore(kv, &fakeTargets{err: errors.New("should not be called")})

	cfg, err := store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 7, cfg.FailureThreshold)
	assert.Equal(t, []string{"uuid-9"}, cfg.EnabledSites)
}

func TestSaveReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	store := NewStore(kv, &fakeTargets{})

	saved, err := store.Save(ctx, models.AutohealConfig{
		Enabled:          true,
		FailureThreshold: 3,
		FailureWindowSec: 60,
		EnabledSites:     []string{"a", "a", "b", ""},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, saved.FailureThreshold)
	assert.Equal(t, []string{"a", "b"}, saved.EnabledSites)
	assert.NotEmpty(t, saved.UpdatedAt)

	cfg, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.EnabledSites, cfg.EnabledSites)
}

func TestNormalizeClamps(t *testing.T) {
	tests := []struct {
		name string
		in   models.AutohealConfig
		want func(t *testing.T, out models.AutohealConfig)
	}{
		{
			"zero threshold falls back to default",
			models.AutohealConfig{FailureWindowSec: 120},
			func(t *testing.T, out models.AutohealConfig) {
				assert.Equal(t, 2, out.FailureThreshold)
			},
		},
		{
			"negative threshold clamps to floor",
			models.AutohealConfig{FailureThreshold: -3, FailureWindowSec: 120},
			func(t *testing.T, out models.AutohealConfig) {
				assert.Equal(t, 1, out.FailureThreshold)
			},
		},
		{
			"window below floor clamps to 30",
			models.AutohealConfig{FailureThreshold: 2, FailureWindowSec: 5},
			func(t *testing.T, out models.AutohealConfig) {
				assert.Equal(t, 30, out.FailureWindowSec)
			},
		},
		{
			"zero window falls back to default",
			models.AutohealConfig{FailureThreshold: 2},
			func(t *testing.T, out models.AutohealConfig) {
				assert.Equal(t, 120, out.FailureWindowSec)
			},
		},
		{
			"negative cooldown and delay clamp to zero",
			models.AutohealConfig{FailureThreshold: 2, FailureWindowSec: 120, CooldownSec: -1, RedeployDelaySec: -50},
			func(t *testing.T, out models.AutohealConfig) {
				assert.Equal(t, 0, out.CooldownSec)
				assert.Equal(t, 0, out.RedeployDelaySec)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want(t, Normalize(tt.in))
		})
	}
}

func TestSeedEnabledSitesMatchesPatterns(t *testing.T) {
	targets := []models.SiteTarget{
		{UUID: "a", Name: "hg-websites", FQDN: "https://sites.example.com"},
		{UUID: "b", Name: "HG SEO Commander", FQDN: "https://seo.example.com"},
		{UUID: "c", Name: "plain-blog", FQDN: "https://blog.example.com"},
		{UUID: "a", Name: "hg websites again", FQDN: "https://dup.example.com"},
	}

	assert.Equal(t, []string{"a", "b"}, SeedEnabledSites(targets))
}
