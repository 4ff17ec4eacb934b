package host_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/psantana5/manifold/pkg/api"
	"github.com/psantana5/manifold/pkg/host"
	"github.com/psantana5/manifold/pkg/logging"
	"github.com/psantana5/manifold/pkg/models"
	"github.com/psantana5/manifold/pkg/session"
	"github.com/psantana5/manifold/pkg/store"
	"github.com/psantana5/manifold/pkg/tracing"
)

func TestGatherFacts(t *testing.T) {
	facts := host.GatherFacts()

	if facts.Hostname == "" {
		t.Error("Expected a hostname")
	}
	if facts.CPUThreads <= 0 {
		t.Error("Expected at least one CPU thread")
	}
}

func TestRunnerLoadsModulesAndHeartbeats(t *testing.T) {
	t.Setenv(session.EnvVar, "")

	testStore := store.NewMemoryStore()
	stagingDir := t.TempDir()
	handler := api.NewServerHandler(testStore, stagingDir, t.TempDir())
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	if err := os.WriteFile(filepath.Join(stagingDir, "checkout.js"), []byte("checkout module"), 0644); err != nil {
		t.Fatalf("Failed to stage module: %v", err)
	}
	cutReq, _ := http.NewRequest("POST", srv.URL+"/deployments", bytes.NewBufferString("{}"))
	cutResp, err := http.DefaultClient.Do(cutReq)
	if err != nil || cutResp.StatusCode != http.StatusCreated {
		t.Fatalf("Failed to cut deployment: %v (status %v)", err, cutResp)
	}
	cutResp.Body.Close()

	logger := logging.NewLogger(logging.ERROR, false)
	tracer, err := tracing.InitTracer(tracing.Config{ServiceName: "test", Enabled: false})
	if err != nil {
		t.Fatalf("Failed to init tracer: %v", err)
	}

	runner := host.NewRunner(host.Config{
		ServerURL:         srv.URL,
		Address:           "http://localhost:9443",
		Modules:           []string{"checkout"},
		FlagDBPath:        filepath.Join(t.TempDir(), "flags.db"),
		HeartbeatInterval: 50 * time.Millisecond,
	}, logger, tracer)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	loaded := runner.LoadedModules()
	mod, ok := loaded["checkout"]
	if !ok {
		t.Fatal("Expected checkout module to be loaded")
	}
	if string(mod.Payload) != "checkout module" {
		t.Errorf("Unexpected module payload: %q", mod.Payload)
	}

	var sawLoaded bool
	for _, report := range testStore.GetAllReports() {
		if report.Module == "checkout" && report.Kind == models.ReportLoaded {
			sawLoaded = true
		}
	}
	if !sawLoaded {
		t.Error("Expected a loaded report for checkout")
	}

	// Clean shutdown deregisters the host
	if hosts := testStore.GetAllHosts(); len(hosts) != 0 {
		t.Errorf("Expected host to deregister on shutdown, found %d hosts", len(hosts))
	}
}
