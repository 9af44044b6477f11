// Package workers reads the worker-process roster published to the queue
// store by an external supervisor (systemd/pm2/docker watcher).
package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cvsloane/infra-dashboard/internal/queuestore"
	"github.com/cvsloane/infra-dashboard/pkg/models"
)

const statusKey = "infra:workers:status"

// Registry reads the supervisor status blob and marks it stale when its
// updatedAt exceeds the configured max age. A missing or unparseable blob
// yields nil, not an error: the roster is best-effort by design.
type Registry struct {
	kv     queuestore.KV
	maxAge time.Duration
}

func NewRegistry(kv queuestore.KV, maxAge time.Duration) *Registry {
	if maxAge <= 0 {
		maxAge = 180 * time.Second
	}
	return &Registry{kv: kv, maxAge: maxAge}
}

// SupervisorStatus returns the current roster, or nil when none is
// published.
func (r *Registry) SupervisorStatus(ctx context.Context) (*models.WorkerSupervisorStatus, error) {
	raw, ok, err := r.kv.Get(ctx, statusKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var status models.WorkerSupervisorStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, nil
	}

	if status.UpdatedAt != "" {
		if updatedAt, err := time.Parse(time.RFC3339, status.UpdatedAt); err == nil {
			age := int64(time.Since(updatedAt) / time.Second)
			if age < 0 {
				age = 0
			}
			status.AgeSec = &age
			status.Stale = age > int64(r.maxAge/time.Second)
		}
	}

	return &status, nil
}
