package coolify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

// APIError carries the HTTP status of a failed Coolify API call.
type APIError struct {
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coolify api error: %s (status %d)", e.Message, e.Status)
}

// Client wraps the Coolify REST API for the action operations (trigger
// deploy, cancel deployment) and connectivity checks. Read paths go through
// Tracker instead; the API is only used where a mutation is required.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Configured reports whether the API side is usable at all.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	if !c.Configured() {
		return &APIError{Message: "COOLIFY_API_URL or COOLIFY_API_TOKEN is not configured", Status: http.StatusInternalServerError}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coolify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Message: string(text), Status: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// TriggerDeploy starts a deployment for an application and returns the new
// deployment UUID.
func (c *Client) TriggerDeploy(ctx context.Context, applicationUUID string, force bool) (string, error) {
	var resp struct {
		Deployments []struct {
			DeploymentUUID string `json:"deployment_uuid"`
		} `json:"deployments"`
	}

	err := c.do(ctx, http.MethodPost, "/deploy", map[string]interface{}{
		"uuid":  applicationUUID,
		"force": force,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Deployments) == 0 {
		return "", &APIError{Message: "no deployment UUID returned", Status: http.StatusInternalServerError}
	}
	return resp.Deployments[0].DeploymentUUID, nil
}

// CancelDeployment cancels a queued or running deployment.
func (c *Client) CancelDeployment(ctx context.Context, deploymentUUID string) error {
	return c.do(ctx, http.MethodPost, "/deployments/"+deploymentUUID+"/cancel", nil, nil)
}

// HealthCheck verifies API connectivity by listing projects.
func (c *Client) HealthCheck(ctx context.Context) models.ServiceStatus {
	var projects json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &projects); err != nil {
		return models.ServiceStatus{OK: false, Message: err.Error()}
	}
	return models.ServiceStatus{OK: true, Message: "Connected to Coolify API"}
}
