// Package sitehealth probes hosted sites for reachability with bounded
// concurrency. Probes are ephemeral; nothing here is persisted.
package sitehealth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusUnknown  = "unknown"
)

const probeConcurrency = 5

// Prober issues lightweight HEAD checks against site targets.
type Prober struct {
	httpClient *http.Client
	exclusions []string
}

func NewProber(timeout time.Duration, exclusions []string) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{
		httpClient: &http.Client{
			Timeout: timeout,
			// Redirects are followed; a site that answers with a redirect
			// chain ending in 2xx is healthy.
		},
		exclusions: exclusions,
	}
}

// FilterTargets drops excluded and malformed targets before probing.
// Wildcard domains and scheme-less fragments are configuration noise, not
// probeable hosts.
func (p *Prober) FilterTargets(targets []models.SiteTarget) []models.SiteTarget {
	out := []models.SiteTarget{}
	for _, t := range targets {
		if t.FQDN == "" {
			continue
		}
		domain := stripScheme(t.FQDN)
		if strings.HasPrefix(domain, "://") || strings.Contains(domain, "*") {
			continue
		}
		if p.excluded(t.Name, domain) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (p *Prober) excluded(name, domain string) bool {
	for _, excl := range p.exclusions {
		if excl == name || strings.Contains(domain, excl) {
			return true
		}
	}
	return false
}

func stripScheme(fqdn string) string {
	s := strings.TrimPrefix(fqdn, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimSpace(s)
}

// ProbeAll checks every target and returns the full summary. Targets are
// processed through a fixed-size pool rather than unbounded fan-out.
func (p *Prober) ProbeAll(ctx context.Context, targets []models.SiteTarget) models.SiteHealthSummary {
	filtered := p.FilterTargets(targets)
	probes := p.probeBatch(ctx, filtered)

	summary := models.SiteHealthSummary{Sites: probes}
	summary.Summary.Total = len(probes)
	for _, probe := range probes {
		switch probe.Status {
		case StatusHealthy:
			summary.Summary.Healthy++
		case StatusDegraded:
			summary.Summary.Degraded++
		case StatusDown:
			summary.Summary.Down++
		}
	}
	return summary
}

// ProbeQuick checks only the first limit targets, for use inside the
// snapshot cycle where the probe budget is tight.
func (p *Prober) ProbeQuick(ctx context.Context, targets []models.SiteTarget, limit int) models.SiteHealthQuick {
	filtered := p.FilterTargets(targets)
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	probes := p.probeBatch(ctx, filtered)

	down := 0
	for _, probe := range probes {
		if probe.Status == StatusDown {
			down++
		}
	}
	return models.SiteHealthQuick{
		AllHealthy: down == 0,
		DownCount:  down,
		Sites:      probes,
	}
}

func (p *Prober) probeBatch(ctx context.Context, targets []models.SiteTarget) []models.SiteProbe {
	results := make([]models.SiteProbe, len(targets))

	pool := workerpool.New(probeConcurrency)
	for i, target := range targets {
		i, target := i, target
		pool.Submit(func() {
			results[i] = p.probe(ctx, target)
		})
	}
	pool.StopWait()

	return results
}

func (p *Prober) probe(ctx context.Context, target models.SiteTarget) models.SiteProbe {
	result := models.SiteProbe{
		ApplicationUUID: target.UUID,
		Name:            target.Name,
		FQDN:            target.FQDN,
		Status:          StatusUnknown,
		LastChecked:     time.Now().UTC().Format(time.RFC3339),
	}

	url := target.FQDN
	if !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		msg := err.Error()
		result.Status = StatusDown
		result.Error = &msg
		return result
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		msg := err.Error()
		result.Status = StatusDown
		result.Error = &msg
		if isCertificateError(err) {
			sslValid := false
			result.SSLValid = &sslValid
		}
		return result
	}
	defer resp.Body.Close()

	elapsed := time.Since(start).Milliseconds()
	result.ResponseTimeMs = &elapsed
	result.HTTPStatus = &resp.StatusCode

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		result.Status = StatusHealthy
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		result.Status = StatusDegraded
	default:
		result.Status = StatusDown
	}

	// An HTTPS exchange that completed without a certificate error implies
	// a usable certificate. Expiry inspection is a documented limitation.
	if strings.HasPrefix(url, "https://") {
		sslValid := true
		result.SSLValid = &sslValid
	}

	return result
}

func isCertificateError(err error) bool {
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var expiredErr x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostnameErr) || errors.As(err, &expiredErr) {
		return true
	}
	return strings.Contains(err.Error(), "certificate")
}
