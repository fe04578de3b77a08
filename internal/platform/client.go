package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/easbase/backend/internal/config"
	"github.com/easbase/backend/internal/models"
)

// Client issues authenticated requests against the database platform's
// project-management API. It is stateless after construction and safe to
// share across concurrent provisioning workflows.
type Client struct {
	baseURL    string
	token      string
	orgID      string
	httpClient *http.Client
}

// NewClient builds a management API client from process-wide configuration.
// Every call carries the bearer token and a 30 second timeout.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.ManagementURL,
		token:   cfg.ManagementToken,
		orgID:   cfg.OrganizationID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ProjectHandle identifies a freshly created remote project
type ProjectHandle struct {
	Ref    string               `json:"id"`
	Status models.ProjectStatus `json:"status"`
}

// APIKeys are the anon (public) and service-role (secret) keys of a project
type APIKeys struct {
	AnonKey        string
	ServiceRoleKey string
}

// ProjectSettings holds connection settings fetched after provisioning
type ProjectSettings struct {
	JWTSecret    string `json:"jwt_secret"`
	DatabaseHost string `json:"db_host"`
}

type createProjectRequest struct {
	Name           string `json:"name"`
	OrganizationID string `json:"organization_id"`
	Plan           string `json:"plan"`
	Region         string `json:"region"`
	DBPass         string `json:"db_pass"`
}

// CreateProject asks the platform to provision a new project. The returned
// handle's status is typically COMING_UP; callers must poll before use.
func (c *Client) CreateProject(ctx context.Context, name, plan, region, dbPassword string) (*ProjectHandle, error) {
	payload := createProjectRequest{
		Name:           name,
		OrganizationID: c.orgID,
		Plan:           plan,
		Region:         region,
		DBPass:         dbPassword,
	}

	var handle ProjectHandle
	if err := c.do(ctx, "POST", "/v1/projects", payload, &handle, "create project"); err != nil {
		return nil, err
	}
	return &handle, nil
}

// GetProjectStatus fetches the current lifecycle status of a project
func (c *Client) GetProjectStatus(ctx context.Context, ref string) (models.ProjectStatus, error) {
	var resp struct {
		Status models.ProjectStatus `json:"status"`
	}
	if err := c.do(ctx, "GET", "/v1/projects/"+ref, nil, &resp, "get project status"); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// GetAPIKeys fetches the anon and service-role keys of a project
func (c *Client) GetAPIKeys(ctx context.Context, ref string) (*APIKeys, error) {
	var resp []struct {
		Name   string `json:"name"`
		APIKey string `json:"api_key"`
	}
	if err := c.do(ctx, "GET", "/v1/projects/"+ref+"/api-keys", nil, &resp, "get api keys"); err != nil {
		return nil, err
	}

	keys := &APIKeys{}
	for _, k := range resp {
		switch k.Name {
		case "anon":
			keys.AnonKey = k.APIKey
		case "service_role":
			keys.ServiceRoleKey = k.APIKey
		}
	}
	if keys.AnonKey == "" || keys.ServiceRoleKey == "" {
		return nil, &ProvisioningError{Op: "get api keys", StatusCode: 200, Body: "response missing anon or service_role key"}
	}
	return keys, nil
}

// GetSettings fetches the JWT secret and database host of a project
func (c *Client) GetSettings(ctx context.Context, ref string) (*ProjectSettings, error) {
	var settings ProjectSettings
	if err := c.do(ctx, "GET", "/v1/projects/"+ref+"/settings", nil, &settings, "get settings"); err != nil {
		return nil, err
	}
	return &settings, nil
}

// PauseProject suspends a project on the remote platform
func (c *Client) PauseProject(ctx context.Context, ref string) error {
	return c.do(ctx, "POST", "/v1/projects/"+ref+"/pause", nil, nil, "pause project")
}

// ResumeProject restores a paused project
func (c *Client) ResumeProject(ctx context.Context, ref string) error {
	return c.do(ctx, "POST", "/v1/projects/"+ref+"/restore", nil, nil, "resume project")
}

// DeleteProject destroys a project on the remote platform. The registry row
// is soft-deleted separately; this removal is permanent.
func (c *Client) DeleteProject(ctx context.Context, ref string) error {
	return c.do(ctx, "DELETE", "/v1/projects/"+ref, nil, nil, "delete project")
}

// do performs one management API call, mapping failure modes onto the
// operational error taxonomy: 404 -> ErrNotFound, 5xx and network faults ->
// TransientError, other non-2xx -> ProvisioningError.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}, op string) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %v", op, err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %v", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case resp.StatusCode >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("management API returned %d: %s", resp.StatusCode, string(respBody))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &ProvisioningError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: invalid response from management API: %v", op, err)
		}
	}
	return nil
}
