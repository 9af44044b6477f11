package sitehealth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

func testServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantStatus string
	}{
		{"2xx is healthy", http.StatusOK, StatusHealthy},
		{"204 is healthy", http.StatusNoContent, StatusHealthy},
		{"404 is degraded", http.StatusNotFound, StatusDegraded},
		{"401 is degraded", http.StatusUnauthorized, StatusDegraded},
		{"503 is down", http.StatusServiceUnavailable, StatusDown},
		{"500 is down", http.StatusInternalServerError, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, tt.status)
			prober := NewProber(2*time.Second, nil)

			probe := prober.probe(context.Background(), models.SiteTarget{
				UUID: "app-1",
				Name: "test-app",
				FQDN: srv.URL,
			})

			assert.Equal(t, tt.wantStatus, probe.Status)
			require.NotNil(t, probe.HTTPStatus)
			assert.Equal(t, tt.status, *probe.HTTPStatus)
			assert.NotNil(t, probe.ResponseTimeMs)
		})
	}
}

func TestProbeUnreachableHostIsDown(t *testing.T) {
	prober := NewProber(500*time.Millisecond, nil)

	probe := prober.probe(context.Background(), models.SiteTarget{
		Name: "gone",
		FQDN: "http://127.0.0.1:1",
	})

	assert.Equal(t, StatusDown, probe.Status)
	assert.Nil(t, probe.HTTPStatus)
	require.NotNil(t, probe.Error)
}

func TestFilterTargets(t *testing.T) {
	prober := NewProber(time.Second, []string{"staging", "internal.example.com"})

	targets := []models.SiteTarget{
		{Name: "keep-me", FQDN: "https://example.com"},
		{Name: "empty", FQDN: ""},
		{Name: "wildcard", FQDN: "https://*.example.com"},
		{Name: "scheme-only", FQDN: "://broken"},
		{Name: "staging", FQDN: "https://staging.example.com"},
		{Name: "other", FQDN: "https://internal.example.com/admin"},
		{Name: "also-keep", FQDN: "http://plain.example.com"},
	}

	filtered := prober.FilterTargets(targets)

	names := make([]string, 0, len(filtered))
	for _, target := range filtered {
		names = append(names, target.Name)
	}
	assert.Equal(t, []string{"keep-me", "also-keep"}, names)
}

func TestProbeQuickBoundsAndCounts(t *testing.T) {
	healthy := testServer(t, http.StatusOK)
	down := testServer(t, http.StatusServiceUnavailable)

	prober := NewProber(2*time.Second, nil)
	targets := []models.SiteTarget{
		{Name: "ok", FQDN: healthy.URL},
		{Name: "broken", FQDN: down.URL},
		{Name: "never-checked", FQDN: healthy.URL},
	}

	quick := prober.ProbeQuick(context.Background(), targets, 2)
	assert.Len(t, quick.Sites, 2)
	assert.False(t, quick.AllHealthy)
	assert.Equal(t, 1, quick.DownCount)
}

func TestProbeAllSummaryCounts(t *testing.T) {
	healthy := testServer(t, http.StatusOK)
	degraded := testServer(t, http.StatusNotFound)
	down := testServer(t, http.StatusBadGateway)

	prober := NewProber(2*time.Second, nil)
	targets := []models.SiteTarget{
		{Name: "a", FQDN: healthy.URL},
		{Name: "b", FQDN: degraded.URL},
		{Name: "c", FQDN: down.URL},
	}

	summary := prober.ProbeAll(context.Background(), targets)
	assert.Equal(t, 3, summary.Summary.Total)
	assert.Equal(t, 1, summary.Summary.Healthy)
	assert.Equal(t, 1, summary.Summary.Degraded)
	assert.Equal(t, 1, summary.Summary.Down)
}
