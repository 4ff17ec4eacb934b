// Package fetch implements the module provider: obtaining the current
// manifest and the module assets it references from the artifact server
// over HTTP. Transient network failures are retried with backoff here;
// a missing asset (the stale-build-reference shape) is surfaced
// immediately, because only a full reload can refresh the manifest the
// running process holds.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/psantana5/manifold/pkg/loader"
	"github.com/psantana5/manifold/pkg/manifest"
	"github.com/psantana5/manifold/pkg/models"
	"github.com/psantana5/manifold/pkg/retry"
)

// Fetcher obtains manifests and module assets from the artifact server
type Fetcher struct {
	serverURL  string
	httpClient *http.Client
	apiKey     string
	retryCfg   retry.Config
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithAPIKey sets the bearer token sent with every request
func WithAPIKey(key string) Option {
	return func(f *Fetcher) { f.apiKey = key }
}

// WithTLSConfig sets the client TLS configuration
func WithTLSConfig(cfg *tls.Config) Option {
	return func(f *Fetcher) {
		f.httpClient.Transport = &http.Transport{TLSClientConfig: cfg}
	}
}

// WithTimeout overrides the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.httpClient.Timeout = d }
}

// WithRetryConfig overrides the network-level retry policy
func WithRetryConfig(cfg retry.Config) Option {
	return func(f *Fetcher) { f.retryCfg = cfg }
}

// New creates a Fetcher for the given server URL
func New(serverURL string, opts ...Option) *Fetcher {
	f := &Fetcher{
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryCfg: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to read
	case http.StatusNotFound, http.StatusGone:
		// The referenced artifact does not exist (anymore). This is the
		// stale-reference shape, not a transient failure.
		return nil, fmt.Errorf("%s: %w", path, retry.ErrStaleAsset)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("server returned %d for %s: %s", resp.StatusCode, path, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s: %w", path, err)
	}
	return data, nil
}

// Manifest fetches and parses the current manifest
func (f *Fetcher) Manifest(ctx context.Context) (*models.Manifest, error) {
	var data []byte
	err := retry.Do(ctx, f.retryCfg, func() error {
		var ferr error
		data, ferr = f.get(ctx, "/manifest")
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}

// Asset fetches one asset file and verifies it against its manifest entry
func (f *Fetcher) Asset(ctx context.Context, asset models.Asset) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, f.retryCfg, func() error {
		var ferr error
		data, ferr = f.get(ctx, "/assets/"+asset.FileName)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	if err := manifest.Verify(asset, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Provider adapts the named module to a loader.Provider. Each invocation
// resolves the module through the manifest the process already holds (m)
// and fetches its asset. The manifest is never refreshed here: a running
// client keeps the manifest it started with, which is how it ends up
// referencing assets a newer deployment removed.
func (f *Fetcher) Provider(m *models.Manifest, name string) loader.Provider {
	return func(ctx context.Context) (*loader.Module, error) {
		asset, ok := m.Assets[name]
		if !ok {
			return nil, fmt.Errorf("module %s not in manifest %s: %w", name, m.DeploymentID, retry.ErrStaleAsset)
		}
		payload, err := f.Asset(ctx, asset)
		if err != nil {
			return nil, fmt.Errorf("failed to load module %s: %w", name, err)
		}
		return &loader.Module{
			Name:     name,
			Version:  asset.Version,
			SHA256:   asset.SHA256,
			Payload:  payload,
			LoadedAt: time.Now(),
		}, nil
	}
}
