// Package coolify reads deployment state from the Coolify Postgres database
// and triggers actions through the Coolify REST API.
package coolify

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

const (
	activeLimit = 10
	recentLimit = 20

	defaultPageLimit = 50
	maxPageLimit     = 100
)

// Tracker classifies deployment records into active/recent/historical views.
type Tracker struct {
	db           *sql.DB
	recentWindow time.Duration
}

func NewTracker(db *sql.DB, recentWindow time.Duration) *Tracker {
	if recentWindow <= 0 {
		recentWindow = 30 * time.Minute
	}
	return &Tracker{db: db, recentWindow: recentWindow}
}

const recordColumns = `
	deployment_uuid,
	COALESCE(application_name, ''),
	COALESCE(application_id::text, ''),
	status,
	commit,
	commit_message,
	created_at,
	updated_at,
	finished_at
`

func scanRecord(rows interface{ Scan(...interface{}) error }, now time.Time) (models.DeploymentRecord, error) {
	var d models.DeploymentRecord
	err := rows.Scan(
		&d.UUID,
		&d.ApplicationName,
		&d.ApplicationUUID,
		&d.Status,
		&d.Commit,
		&d.CommitMessage,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.FinishedAt,
	)
	if err != nil {
		return d, err
	}
	d.DurationMs = durationMs(d.CreatedAt, d.FinishedAt, now)
	return d, nil
}

// durationMs derives the run time of a deployment at read time: finished
// deployments measure to finishedAt, running ones to now. Never negative,
// never persisted.
func durationMs(createdAt time.Time, finishedAt *time.Time, now time.Time) *int64 {
	end := now
	if finishedAt != nil {
		end = *finishedAt
	}
	ms := end.Sub(createdAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return &ms
}

// Active returns queued and in-progress deployments, most recent first.
func (t *Tracker) Active(ctx context.Context) ([]models.DeploymentRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM application_deployment_queues
		WHERE status IN ('queued', 'in_progress')
		ORDER BY created_at DESC
		LIMIT %d
	`, recordColumns, activeLimit)

	return t.queryRecords(ctx, query)
}

// Recent returns terminal-state deployments updated within the trailing
// window, most recent first.
func (t *Tracker) Recent(ctx context.Context) ([]models.DeploymentRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM application_deployment_queues
		WHERE updated_at > NOW() - $1::interval
		  AND status NOT IN ('queued', 'in_progress')
		ORDER BY updated_at DESC
		LIMIT %d
	`, recordColumns, recentLimit)

	return t.queryRecords(ctx, query, fmt.Sprintf("%d minutes", int(t.recentWindow.Minutes())))
}

func (t *Tracker) queryRecords(ctx context.Context, query string, args ...interface{}) ([]models.DeploymentRecord, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("deployment query failed: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	records := []models.DeploymentRecord{}
	for rows.Next() {
		d, err := scanRecord(rows, now)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment row: %w", err)
		}
		records = append(records, d)
	}
	return records, rows.Err()
}

// Stats computes daily counters from a 24h trailing window plus any
// still-active records regardless of age, so long-running jobs that started
// before the window are not undercounted.
func (t *Tracker) Stats(ctx context.Context) (models.DeploymentStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			COUNT(*) FILTER (WHERE status = 'finished' AND DATE(finished_at) = CURRENT_DATE),
			COUNT(*) FILTER (WHERE status = 'failed' AND DATE(updated_at) = CURRENT_DATE)
		FROM application_deployment_queues
		WHERE updated_at > NOW() - INTERVAL '24 hours'
		   OR status IN ('queued', 'in_progress')
	`

	var stats models.DeploymentStats
	err := t.db.QueryRowContext(ctx, query).Scan(
		&stats.Queued,
		&stats.InProgress,
		&stats.FinishedToday,
		&stats.FailedToday,
	)
	if err != nil {
		return models.DeploymentStats{}, fmt.Errorf("deployment stats query failed: %w", err)
	}
	return stats, nil
}

// LiveView returns active + recent + stats in one call. Each part degrades
// independently so a single failed query does not blank the whole view.
func (t *Tracker) LiveView(ctx context.Context) (models.LiveDeployments, error) {
	live := models.LiveDeployments{
		Active: []models.DeploymentRecord{},
		Recent: []models.DeploymentRecord{},
	}

	active, err := t.Active(ctx)
	if err != nil {
		return live, err
	}
	live.Active = active

	if recent, err := t.Recent(ctx); err == nil {
		live.Recent = recent
	}
	if stats, err := t.Stats(ctx); err == nil {
		live.Stats = stats
	}
	return live, nil
}

// Page returns one page of historical (terminal-state) deployments. The
// cursor encodes the createdAt of the last record on the previous page;
// the next page is strictly older than that, so rows inserted after the
// original request never shift already-seen records into later pages.
func (t *Tracker) Page(ctx context.Context, cursor string, limit int, filters models.DeploymentFilters) (models.DeploymentPage, error) {
	page := models.DeploymentPage{Deployments: []models.DeploymentRecord{}}
	clamped := clampLimit(limit)

	where := []string{"status NOT IN ('queued', 'in_progress')"}
	args := []interface{}{}
	idx := 1

	if cursor != "" {
		cursorTime, err := DecodeCursor(cursor)
		if err != nil {
			return page, fmt.Errorf("invalid cursor: %w", err)
		}
		where = append(where, fmt.Sprintf("created_at < $%d", idx))
		args = append(args, cursorTime)
		idx++
	}
	if len(filters.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status = ANY($%d)", idx))
		args = append(args, pq.Array(filters.Statuses))
		idx++
	}
	if filters.ApplicationName != "" {
		where = append(where, fmt.Sprintf("application_name = $%d", idx))
		args = append(args, filters.ApplicationName)
		idx++
	}
	if filters.StartDate != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, *filters.StartDate)
		idx++
	}
	if filters.EndDate != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, *filters.EndDate)
		idx++
	}

	whereClause := strings.Join(where, " AND ")

	countQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM application_deployment_queues WHERE %s
	`, whereClause)
	if err := t.db.QueryRowContext(ctx, countQuery, args...).Scan(&page.TotalCount); err != nil {
		return page, fmt.Errorf("deployment count query failed: %w", err)
	}

	// Fetch limit+1 to detect whether a next page exists.
	dataQuery := fmt.Sprintf(`
		SELECT %s
		FROM application_deployment_queues
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d
	`, recordColumns, whereClause, idx)
	args = append(args, clamped+1)

	records, err := t.queryRecords(ctx, dataQuery, args...)
	if err != nil {
		return page, err
	}

	if len(records) > clamped {
		records = records[:clamped]
		c := EncodeCursor(records[len(records)-1].CreatedAt)
		page.NextCursor = &c
	}
	page.Deployments = records
	return page, nil
}

// ByUUID returns one deployment record including its build logs.
func (t *Tracker) ByUUID(ctx context.Context, uuid string) (*models.DeploymentRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s, logs
		FROM application_deployment_queues
		WHERE deployment_uuid = $1
	`, recordColumns)

	var d models.DeploymentRecord
	err := t.db.QueryRowContext(ctx, query, uuid).Scan(
		&d.UUID,
		&d.ApplicationName,
		&d.ApplicationUUID,
		&d.Status,
		&d.Commit,
		&d.CommitMessage,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.FinishedAt,
		&d.Logs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deployment lookup failed: %w", err)
	}
	d.DurationMs = durationMs(d.CreatedAt, d.FinishedAt, time.Now())
	return &d, nil
}

// SiteTargets lists applications with an FQDN for the site prober. Multiple
// comma-separated FQDNs collapse to the first HTTPS one, or the first entry.
func (t *Tracker) SiteTargets(ctx context.Context) ([]models.SiteTarget, error) {
	query := `
		SELECT uuid, name, fqdn
		FROM applications
		WHERE fqdn IS NOT NULL AND fqdn != ''
		ORDER BY name
	`

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("site target query failed: %w", err)
	}
	defer rows.Close()

	targets := []models.SiteTarget{}
	for rows.Next() {
		var target models.SiteTarget
		var fqdn string
		if err := rows.Scan(&target.UUID, &target.Name, &fqdn); err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}
		if primary := primaryFQDN(fqdn); primary != "" {
			target.FQDN = primary
			targets = append(targets, target)
		}
	}
	return targets, rows.Err()
}

func primaryFQDN(raw string) string {
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if strings.HasPrefix(strings.TrimSpace(p), "https://") {
			return strings.TrimSpace(p)
		}
	}
	if len(parts) > 0 {
		return strings.TrimSpace(parts[0])
	}
	return ""
}

// HealthCheck verifies database connectivity.
func (t *Tracker) HealthCheck(ctx context.Context) models.ServiceStatus {
	var one int
	if err := t.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return models.ServiceStatus{OK: false, Message: err.Error()}
	}
	return models.ServiceStatus{OK: true, Message: "Connected to Coolify database"}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

// EncodeCursor packs a createdAt timestamp into an opaque page cursor.
func EncodeCursor(t time.Time) string {
	return base64.URLEncoding.EncodeToString([]byte(t.UTC().Format(time.RFC3339Nano)))
}

// DecodeCursor unpacks a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) (time.Time, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(raw))
}
