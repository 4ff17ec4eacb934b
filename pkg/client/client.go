package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/psantana5/manifold/pkg/api"
	"github.com/psantana5/manifold/pkg/models"
)

// Client manages control plane communication with the artifact server.
// It is used both by module hosts (register, heartbeat, report) and by
// the operator CLI (listing hosts, deployments and reports).
type Client struct {
	serverURL  string
	httpClient *http.Client
	apiKey     string
	hostID     string
	hostToken  string
}

// Option configures a Client
type Option func(*Client)

// WithAPIKey sets the bearer token sent on every request
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTLSConfig sets the TLS configuration for server connections
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{TLSClientConfig: cfg}
	}
}

// WithTimeout overrides the default request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a new control plane client
func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, wantStatus ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.hostToken != "" {
		req.Header.Set(api.HostTokenHeader, c.hostToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, status := range wantStatus {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Register registers this host with the artifact server and keeps the
// issued token for subsequent heartbeats and reports
func (c *Client) Register(ctx context.Context, reg *models.HostRegistration) (*models.Host, error) {
	var resp api.RegistrationResponse
	err := c.do(ctx, "POST", "/hosts/register", reg, &resp, http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}
	c.hostID = resp.Host.ID
	c.hostToken = resp.Token
	return resp.Host, nil
}

// Heartbeat sends a heartbeat, optionally carrying a status transition
func (c *Client) Heartbeat(ctx context.Context, status models.HostStatus) error {
	if c.hostID == "" {
		return fmt.Errorf("host not registered")
	}

	body := map[string]string{}
	if status != "" {
		body["status"] = string(status)
	}
	return c.do(ctx, "POST", fmt.Sprintf("/hosts/%s/heartbeat", c.hostID), body, nil, http.StatusOK)
}

// Report delivers a load report to the server
func (c *Client) Report(ctx context.Context, report *models.LoadReport) error {
	if report.HostID == "" {
		report.HostID = c.hostID
	}
	return c.do(ctx, "POST", "/reports", report, nil, http.StatusCreated)
}

// Deregister removes this host from the server registry
func (c *Client) Deregister(ctx context.Context) error {
	if c.hostID == "" {
		return fmt.Errorf("host not registered")
	}
	return c.do(ctx, "DELETE", "/hosts/"+c.hostID, nil, nil, http.StatusOK)
}

// RemoveHost removes an arbitrary host from the registry (operator use)
func (c *Client) RemoveHost(ctx context.Context, hostID string) error {
	return c.do(ctx, "DELETE", "/hosts/"+hostID, nil, nil, http.StatusOK)
}

// HostID returns the ID assigned at registration
func (c *Client) HostID() string {
	return c.hostID
}

// ListHosts returns all registered hosts
func (c *Client) ListHosts(ctx context.Context) ([]*models.Host, error) {
	var result struct {
		Hosts []*models.Host `json:"hosts"`
	}
	if err := c.do(ctx, "GET", "/hosts", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Hosts, nil
}

// ListDeployments returns the deployment history
func (c *Client) ListDeployments(ctx context.Context) ([]*models.Deployment, error) {
	var result struct {
		Deployments []*models.Deployment `json:"deployments"`
	}
	if err := c.do(ctx, "GET", "/deployments", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Deployments, nil
}

// CutDeployment asks the server to cut a new deployment from its staging directory
func (c *Client) CutDeployment(ctx context.Context, comment string) (*models.Manifest, error) {
	var m models.Manifest
	body := map[string]string{"comment": comment}
	if err := c.do(ctx, "POST", "/deployments", body, &m, http.StatusCreated); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListReports returns load reports, optionally filtered by host
func (c *Client) ListReports(ctx context.Context, hostID string) ([]*models.LoadReport, error) {
	path := "/reports"
	if hostID != "" {
		path += "?host_id=" + hostID
	}
	var result struct {
		Reports []*models.LoadReport `json:"reports"`
	}
	if err := c.do(ctx, "GET", path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Reports, nil
}

// FetchMetrics retrieves the raw Prometheus exposition from an endpoint
func (c *Client) FetchMetrics(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics fetch failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
