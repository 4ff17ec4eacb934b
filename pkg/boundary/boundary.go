package boundary

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/manifold/pkg/logging"
	"github.com/psantana5/manifold/pkg/models"
	"github.com/psantana5/manifold/pkg/retry"
)

// Reporter delivers terminal load reports to the artifact server
type Reporter interface {
	Report(ctx context.Context, report *models.LoadReport) error
}

// Fallback is invoked after a failure has been recorded, typically to
// render a degraded substitute for the module that failed to load
type Fallback func(module string, err error)

// Boundary is the last stop for load failures that recovery could not
// absorb. It classifies the failure, reports it and hands control to
// the fallback. The original error is never rewritten.
type Boundary struct {
	hostID    string
	sessionID string
	reporter  Reporter
	logger    *logging.Logger
	fallback  Fallback
}

// New creates a fault boundary for one host session
func New(hostID, sessionID string, reporter Reporter, logger *logging.Logger, fallback Fallback) *Boundary {
	return &Boundary{
		hostID:    hostID,
		sessionID: sessionID,
		reporter:  reporter,
		logger:    logger,
		fallback:  fallback,
	}
}

// Handle records a terminal load failure for a module and invokes the
// fallback. Reporting is best effort, a failed report never masks err.
func (b *Boundary) Handle(ctx context.Context, module string, err error) {
	kind := "failure"
	if errors.Is(err, retry.ErrStaleAsset) {
		kind = "stale_asset"
	}

	if b.logger != nil {
		b.logger.Error("Module load failed past recovery", map[string]interface{}{
			"module": module,
			"kind":   kind,
			"error":  err.Error(),
		})
	}

	if b.reporter != nil {
		report := &models.LoadReport{
			HostID:     b.hostID,
			SessionID:  b.sessionID,
			Module:     module,
			Kind:       models.ReportTerminal,
			Error:      err.Error(),
			ReportedAt: time.Now(),
		}
		if rerr := b.reporter.Report(ctx, report); rerr != nil && b.logger != nil {
			b.logger.Warn("Failed to deliver terminal report", map[string]interface{}{
				"module": module,
				"error":  rerr.Error(),
			})
		}
	}

	if b.fallback != nil {
		b.fallback(module, err)
	}
}
