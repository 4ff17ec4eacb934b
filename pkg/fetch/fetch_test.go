package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psantana5/manifold/pkg/manifest"
	"github.com/psantana5/manifold/pkg/models"
	"github.com/psantana5/manifold/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestManifestFetch(t *testing.T) {
	m := &models.Manifest{
		DeploymentID: "dep-1",
		CutAt:        time.Now().UTC(),
		Assets: map[string]models.Asset{
			"checkout": {Module: "checkout", FileName: "checkout.abcd1234.bundle", Version: "abcd1234", SHA256: digestOf([]byte("code"))},
		},
	}
	data, err := manifest.Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/manifest" {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	f := New(srv.URL, WithRetryConfig(fastRetry()))
	got, err := f.Manifest(context.Background())
	if err != nil {
		t.Fatalf("Manifest fetch failed: %v", err)
	}
	if got.DeploymentID != "dep-1" {
		t.Errorf("wrong deployment: %s", got.DeploymentID)
	}
}

func TestProviderFetchesAndVerifies(t *testing.T) {
	payload := []byte("module code")
	asset := models.Asset{
		Module:   "checkout",
		FileName: "checkout.abcd1234.bundle",
		Version:  "abcd1234",
		SHA256:   digestOf(payload),
	}
	m := &models.Manifest{DeploymentID: "dep-1", Assets: map[string]models.Asset{"checkout": asset}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/assets/checkout.abcd1234.bundle" {
			w.Write(payload)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(srv.URL, WithRetryConfig(fastRetry()))
	mod, err := f.Provider(m, "checkout")(context.Background())
	if err != nil {
		t.Fatalf("Provider failed: %v", err)
	}
	if mod.Version != "abcd1234" || string(mod.Payload) != "module code" {
		t.Errorf("module mangled: %+v", mod)
	}
}

func TestProviderMissingAssetIsStaleNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	asset := models.Asset{Module: "gone", FileName: "gone.00000000.bundle", SHA256: digestOf(nil)}
	m := &models.Manifest{DeploymentID: "dep-0", Assets: map[string]models.Asset{"gone": asset}}

	f := New(srv.URL, WithRetryConfig(fastRetry()))
	_, err := f.Provider(m, "gone")(context.Background())
	if !errors.Is(err, retry.ErrStaleAsset) {
		t.Fatalf("expected stale asset error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("404 must not be retried, got %d requests", hits.Load())
	}
}

func TestProviderRetriesTransientFailures(t *testing.T) {
	payload := []byte("code")
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "temporarily overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	asset := models.Asset{Module: "ui", FileName: "ui.11111111.bundle", SHA256: digestOf(payload)}
	m := &models.Manifest{DeploymentID: "dep-1", Assets: map[string]models.Asset{"ui": asset}}

	f := New(srv.URL, WithRetryConfig(fastRetry()))
	mod, err := f.Provider(m, "ui")(context.Background())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if string(mod.Payload) != "code" {
		t.Errorf("payload mangled")
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}
}

func TestProviderRejectsTamperedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not what the manifest promised"))
	}))
	defer srv.Close()

	asset := models.Asset{Module: "ui", FileName: "ui.11111111.bundle", SHA256: digestOf([]byte("original"))}
	m := &models.Manifest{DeploymentID: "dep-1", Assets: map[string]models.Asset{"ui": asset}}

	f := New(srv.URL, WithRetryConfig(fastRetry()))
	_, err := f.Provider(m, "ui")(context.Background())
	var mismatch *manifest.ErrDigestMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestModuleAbsentFromManifestIsStale(t *testing.T) {
	f := New("http://unused", WithRetryConfig(fastRetry()))
	m := &models.Manifest{DeploymentID: "dep-1", Assets: map[string]models.Asset{}}

	_, err := f.Provider(m, "renamed-module")(context.Background())
	if !errors.Is(err, retry.ErrStaleAsset) {
		t.Fatalf("expected stale asset error, got %v", err)
	}
}

func TestAPIKeySent(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("deployment_id: dep-1\n"))
	}))
	defer srv.Close()

	f := New(srv.URL, WithAPIKey("secret"), WithRetryConfig(fastRetry()))
	if _, err := f.Manifest(context.Background()); err != nil {
		t.Fatalf("Manifest fetch failed: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
}
