package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/psantana5/manifold/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testHost(id string) *models.Host {
	return &models.Host{
		ID:            id,
		Name:          "web-" + id,
		Address:       "10.0.0.1:9000",
		SessionID:     "session-" + id,
		CPUThreads:    8,
		CPUModel:      "Test CPU",
		RAMTotalBytes: 16 << 30,
		Modules:       []string{"checkout", "search"},
		Status:        models.HostStatusOnline,
		LastHeartbeat: time.Now(),
		RegisteredAt:  time.Now(),
	}
}

func testManifest(id string, modules ...string) *models.Manifest {
	m := &models.Manifest{
		DeploymentID: id,
		CutAt:        time.Now().UTC(),
		Assets:       make(map[string]models.Asset),
	}
	for i, name := range modules {
		m.Assets[name] = models.Asset{
			Module:   name,
			FileName: fmt.Sprintf("%s.%08d.bundle", name, i),
			Version:  fmt.Sprintf("%08d", i),
			SHA256:   fmt.Sprintf("%064d", i),
			Size:     128,
		}
	}
	return m
}

func TestSQLiteHostLifecycle(t *testing.T) {
	s := newTestStore(t)

	host := testHost("h1")
	if err := s.RegisterHost(host); err != nil {
		t.Fatalf("Failed to register host: %v", err)
	}

	got, err := s.GetHost("h1")
	if err != nil {
		t.Fatalf("Failed to get host: %v", err)
	}
	if got.Name != host.Name || got.Status != models.HostStatusOnline {
		t.Errorf("host round-trip mangled: %+v", got)
	}
	if len(got.Modules) != 2 || got.Modules[0] != "checkout" {
		t.Errorf("modules mangled: %v", got.Modules)
	}

	if _, err := s.GetHostByAddress("10.0.0.1:9000"); err != nil {
		t.Errorf("Failed to get host by address: %v", err)
	}

	if err := s.UpdateHostStatus("h1", models.HostStatusReloading); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}
	got, _ = s.GetHost("h1")
	if got.Status != models.HostStatusReloading {
		t.Errorf("expected reloading, got %s", got.Status)
	}

	if err := s.UpdateHostHeartbeat("h1"); err != nil {
		t.Errorf("Failed to update heartbeat: %v", err)
	}

	if err := s.DeleteHost("h1"); err != nil {
		t.Fatalf("Failed to delete host: %v", err)
	}
	if _, err := s.GetHost("h1"); err != ErrHostNotFound {
		t.Errorf("expected ErrHostNotFound, got %v", err)
	}
	if err := s.UpdateHostHeartbeat("h1"); err != ErrHostNotFound {
		t.Errorf("expected ErrHostNotFound on heartbeat, got %v", err)
	}
}

func TestSQLiteDeploymentCutReplacesCurrent(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CurrentManifest(); err != ErrDeploymentNotFound {
		t.Fatalf("expected ErrDeploymentNotFound before first cut, got %v", err)
	}

	if err := s.PutDeployment(testManifest("dep-1", "checkout"), "first"); err != nil {
		t.Fatalf("Failed to put deployment: %v", err)
	}
	if err := s.PutDeployment(testManifest("dep-2", "checkout", "search"), "second"); err != nil {
		t.Fatalf("Failed to put deployment: %v", err)
	}

	m, err := s.CurrentManifest()
	if err != nil {
		t.Fatalf("Failed to get current manifest: %v", err)
	}
	if m.DeploymentID != "dep-2" {
		t.Errorf("expected dep-2 current, got %s", m.DeploymentID)
	}
	if len(m.Assets) != 2 {
		t.Errorf("manifest assets mangled: %d", len(m.Assets))
	}

	deps, err := s.ListDeployments()
	if err != nil {
		t.Fatalf("Failed to list deployments: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("expected 2 deployments, got %d", len(deps))
	}
	if deps[0].Current || !deps[1].Current {
		t.Error("exactly the newest deployment should be current")
	}
	if deps[1].Comment != "second" {
		t.Errorf("comment mangled: %s", deps[1].Comment)
	}
}

func TestSQLiteReports(t *testing.T) {
	s := newTestStore(t)

	kinds := []models.ReportKind{
		models.ReportLoaded, models.ReportLoaded,
		models.ReportRecovered, models.ReportTerminal,
	}
	for i, kind := range kinds {
		r := &models.LoadReport{
			ID:         fmt.Sprintf("r-%d", i),
			HostID:     "h1",
			SessionID:  "s1",
			Module:     "checkout",
			Kind:       kind,
			DurationMS: 42,
			ReportedAt: time.Now(),
		}
		if err := s.AppendReport(r); err != nil {
			t.Fatalf("Failed to append report: %v", err)
		}
	}

	all := s.GetAllReports()
	if len(all) != 4 {
		t.Fatalf("expected 4 reports, got %d", len(all))
	}
	byHost := s.GetReportsByHost("h1")
	if len(byHost) != 4 {
		t.Errorf("expected 4 reports for h1, got %d", len(byHost))
	}
	if len(s.GetReportsByHost("other")) != 0 {
		t.Error("expected no reports for unknown host")
	}

	counts := s.CountReportsByKind()
	if counts[models.ReportLoaded] != 2 || counts[models.ReportRecovered] != 1 || counts[models.ReportTerminal] != 1 {
		t.Errorf("wrong counts: %v", counts)
	}
}

// TestSQLiteConcurrentReports verifies concurrent writes don't trip over
// SQLite locking.
func TestSQLiteConcurrentReports(t *testing.T) {
	s := newTestStore(t)

	numReports := 20
	var wg sync.WaitGroup
	errs := make(chan error, numReports)

	for i := 0; i < numReports; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r := &models.LoadReport{
				ID:         fmt.Sprintf("r-%d", idx),
				HostID:     "h1",
				SessionID:  "s1",
				Module:     "checkout",
				Kind:       models.ReportLoaded,
				ReportedAt: time.Now(),
			}
			if err := s.AppendReport(r); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent append failed: %v", err)
	}
	if got := len(s.GetAllReports()); got != numReports {
		t.Errorf("expected %d reports, got %d", numReports, got)
	}
}
