package client_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/psantana5/manifold/pkg/api"
	"github.com/psantana5/manifold/pkg/client"
	"github.com/psantana5/manifold/pkg/models"
	"github.com/psantana5/manifold/pkg/store"
)

func startServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	testStore := store.NewMemoryStore()
	handler := api.NewServerHandler(testStore, t.TempDir(), t.TempDir())
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, testStore
}

func TestRegisterHeartbeatDeregister(t *testing.T) {
	srv, _ := startServer(t)
	c := client.NewClient(srv.URL)
	ctx := context.Background()

	host, err := c.Register(ctx, &models.HostRegistration{
		Name:      "edge-01",
		Address:   "https://edge-01:9443",
		SessionID: "session-1",
		Modules:   []string{"checkout"},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if host.ID == "" || c.HostID() != host.ID {
		t.Errorf("Client should remember assigned host ID, got %q", c.HostID())
	}

	if err := c.Heartbeat(ctx, models.HostStatusReloading); err != nil {
		t.Errorf("Heartbeat failed: %v", err)
	}

	if err := c.Deregister(ctx); err != nil {
		t.Errorf("Deregister failed: %v", err)
	}

	hosts, err := c.ListHosts(ctx)
	if err != nil {
		t.Fatalf("ListHosts failed: %v", err)
	}
	if len(hosts) != 0 {
		t.Errorf("Expected no hosts after deregister, got %d", len(hosts))
	}
}

func TestHeartbeatRequiresRegistration(t *testing.T) {
	srv, _ := startServer(t)
	c := client.NewClient(srv.URL)

	if err := c.Heartbeat(context.Background(), ""); err == nil {
		t.Error("Heartbeat before registration should fail")
	}
}

func TestReportDelivery(t *testing.T) {
	srv, testStore := startServer(t)
	c := client.NewClient(srv.URL)
	ctx := context.Background()

	err := c.Report(ctx, &models.LoadReport{
		HostID:    "host-7",
		SessionID: "session-7",
		Module:    "dashboard",
		Kind:      models.ReportTerminal,
		Error:     "fetch dashboard: 404",
	})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	reports := testStore.GetReportsByHost("host-7")
	if len(reports) != 1 {
		t.Fatalf("Expected 1 stored report, got %d", len(reports))
	}
	if reports[0].Kind != models.ReportTerminal {
		t.Errorf("Expected terminal report, got %s", reports[0].Kind)
	}
}
