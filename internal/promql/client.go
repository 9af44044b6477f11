// Package promql queries the Prometheus metrics backend. The expression
// language is opaque to the rest of the system; this package only hands
// back scalar and series shapes.
package promql

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

type Client struct {
	api v1.API
}

func NewClient(url string) (*Client, error) {
	apiClient, err := api.NewClient(api.Config{Address: url})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return &Client{api: v1.NewAPI(apiClient)}, nil
}

// QueryVector runs an instant query and returns its vector result.
func (c *Client) QueryVector(ctx context.Context, expr string) (model.Vector, error) {
	result, _, err := c.api.Query(ctx, expr, time.Now())
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type: %T", result)
	}
	return vector, nil
}

// QueryScalar runs an instant query and returns the first sample value, or
// the given default when the result is empty.
func (c *Client) QueryScalar(ctx context.Context, expr string, def float64) (float64, error) {
	vector, err := c.QueryVector(ctx, expr)
	if err != nil {
		return def, err
	}
	return firstValue(vector, def), nil
}

// QueryRange runs a range query and returns its matrix result.
func (c *Client) QueryRange(ctx context.Context, expr string, start, end time.Time, step time.Duration) (model.Matrix, error) {
	result, _, err := c.api.QueryRange(ctx, expr, v1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, fmt.Errorf("prometheus range query failed: %w", err)
	}
	matrix, ok := result.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("unexpected result type: %T", result)
	}
	return matrix, nil
}

// HealthCheck verifies connectivity with a trivial query.
func (c *Client) HealthCheck(ctx context.Context) models.ServiceStatus {
	if _, err := c.QueryVector(ctx, "up"); err != nil {
		return models.ServiceStatus{OK: false, Message: err.Error()}
	}
	return models.ServiceStatus{OK: true, Message: "Connected to Prometheus"}
}

func firstValue(vector model.Vector, def float64) float64 {
	if len(vector) == 0 {
		return def
	}
	return float64(vector[0].Value)
}
