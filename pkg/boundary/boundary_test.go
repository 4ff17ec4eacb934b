package boundary

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/psantana5/manifold/pkg/models"
	"github.com/psantana5/manifold/pkg/retry"
)

type capturingReporter struct {
	reports []*models.LoadReport
	err     error
}

func (r *capturingReporter) Report(ctx context.Context, report *models.LoadReport) error {
	r.reports = append(r.reports, report)
	return r.err
}

func TestHandleReportsTerminal(t *testing.T) {
	reporter := &capturingReporter{}
	var fallbackModule string
	var fallbackErr error

	b := New("host-1", "session-1", reporter, nil, func(module string, err error) {
		fallbackModule = module
		fallbackErr = err
	})

	loadErr := errors.New("fetch dashboard: connection refused")
	b.Handle(context.Background(), "dashboard", loadErr)

	if len(reporter.reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reporter.reports))
	}
	report := reporter.reports[0]
	if report.Kind != models.ReportTerminal {
		t.Errorf("expected terminal kind, got %s", report.Kind)
	}
	if report.HostID != "host-1" || report.SessionID != "session-1" {
		t.Errorf("unexpected identity on report: %+v", report)
	}
	if report.Error != loadErr.Error() {
		t.Errorf("report error = %q, want %q", report.Error, loadErr.Error())
	}

	if fallbackModule != "dashboard" {
		t.Errorf("fallback module = %q", fallbackModule)
	}
	if !errors.Is(fallbackErr, loadErr) {
		t.Error("fallback should receive the original error unmodified")
	}
}

func TestHandleFallbackRunsWhenReportFails(t *testing.T) {
	reporter := &capturingReporter{err: errors.New("server unreachable")}
	called := false

	b := New("host-1", "session-1", reporter, nil, func(module string, err error) {
		called = true
	})

	b.Handle(context.Background(), "dashboard", errors.New("boom"))

	if !called {
		t.Error("fallback should run even when reporting fails")
	}
}

func TestHandleNilCollaborators(t *testing.T) {
	b := New("host-1", "session-1", nil, nil, nil)

	// Must not panic without reporter, logger or fallback
	b.Handle(context.Background(), "dashboard", fmt.Errorf("wrapped: %w", retry.ErrStaleAsset))
}
