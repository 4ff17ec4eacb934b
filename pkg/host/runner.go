// Package host runs the module host: a long-lived process that registers
// with the artifact server, loads its configured modules through the
// recovery-wrapped loader, and replaces itself with a fresh process when
// a load fails against a stale manifest.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/manifold/pkg/boundary"
	"github.com/psantana5/manifold/pkg/client"
	"github.com/psantana5/manifold/pkg/fetch"
	"github.com/psantana5/manifold/pkg/loader"
	"github.com/psantana5/manifold/pkg/logging"
	"github.com/psantana5/manifold/pkg/metrics"
	"github.com/psantana5/manifold/pkg/models"
	"github.com/psantana5/manifold/pkg/reload"
	"github.com/psantana5/manifold/pkg/session"
	"github.com/psantana5/manifold/pkg/tracing"
)

// Config holds module host configuration
type Config struct {
	ServerURL         string
	APIKey            string
	Address           string
	Modules           []string
	FlagDBPath        string
	Cooldown          time.Duration
	HeartbeatInterval time.Duration
	Labels            map[string]string
}

// Runner drives one module host process
type Runner struct {
	cfg      Config
	logger   *logging.Logger
	tracer   *tracing.Provider
	client   *client.Client
	fetcher  *fetch.Fetcher
	exporter *metrics.HostExporter

	sess   session.Session
	flags  *session.SQLiteFlagStore
	loaded map[string]*loader.Module
}

// NewRunner creates a module host runner
func NewRunner(cfg Config, logger *logging.Logger, tracer *tracing.Provider) *Runner {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = loader.DefaultCooldown
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.FlagDBPath == "" {
		cfg.FlagDBPath = "manifold-host.db"
	}

	return &Runner{
		cfg:    cfg,
		logger: logger,
		tracer: tracer,
		client: client.NewClient(cfg.ServerURL, client.WithAPIKey(cfg.APIKey)),
		fetcher: fetch.New(cfg.ServerURL,
			fetch.WithAPIKey(cfg.APIKey)),
		loaded: make(map[string]*loader.Module),
	}
}

// Exporter returns the metrics exporter, available after Run has
// registered the host
func (r *Runner) Exporter() *metrics.HostExporter {
	return r.exporter
}

// LoadedModules returns the modules loaded so far, keyed by name
func (r *Runner) LoadedModules() map[string]*loader.Module {
	return r.loaded
}

// Run registers the host, loads every configured module and then
// heartbeats until the context is cancelled. It returns early without
// error when a recovery reload has been triggered; in that case the
// process is already being replaced.
func (r *Runner) Run(ctx context.Context) error {
	sess, err := session.Resolve()
	if err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}
	r.sess = sess

	if sess.Resumed {
		r.logger.Info("Resuming session after reload", map[string]interface{}{"session_id": sess.ID})
	} else {
		r.logger.Info("Starting new session", map[string]interface{}{"session_id": sess.ID})
	}

	flags, err := session.NewSQLiteFlagStore(r.cfg.FlagDBPath, sess.ID, !sess.Resumed)
	if err != nil {
		return fmt.Errorf("failed to open flag store: %w", err)
	}
	r.flags = flags
	defer flags.Close()

	facts := GatherFacts()
	host, err := r.client.Register(ctx, &models.HostRegistration{
		Name:          facts.Hostname,
		Address:       r.cfg.Address,
		SessionID:     sess.ID,
		CPUThreads:    facts.CPUThreads,
		CPUModel:      facts.CPUModel,
		RAMTotalBytes: facts.RAMTotalBytes,
		Labels:        r.cfg.Labels,
		Modules:       r.cfg.Modules,
	})
	if err != nil {
		return fmt.Errorf("failed to register with server: %w", err)
	}
	r.exporter = metrics.NewHostExporter(host.ID)
	r.logger.Info("Registered with artifact server", map[string]interface{}{
		"host_id": host.ID,
		"server":  r.cfg.ServerURL,
	})

	// The manifest is fetched once and held for the life of the process.
	// A deployment cut after this point leaves us with stale asset
	// references, which is exactly what the loader recovers from.
	m, err := r.fetcher.Manifest(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch manifest: %w", err)
	}
	r.logger.Info("Fetched manifest", map[string]interface{}{
		"deployment_id": m.DeploymentID,
		"assets":        len(m.Assets),
	})

	b := boundary.New(host.ID, sess.ID, r.client, r.logger, func(module string, err error) {
		// Degraded placeholder: the module slot stays empty and the
		// host keeps serving whatever else it has.
		r.logger.Warn("Serving without module", map[string]interface{}{"module": module})
	})

	if err := r.loadModules(ctx, m, b); err != nil {
		if errors.Is(err, loader.ErrReloadPending) {
			// A replacement process is taking over.
			return nil
		}
		return err
	}

	return r.heartbeatLoop(ctx)
}

func (r *Runner) loadModules(ctx context.Context, m *models.Manifest, b *boundary.Boundary) error {
	reloader := &reload.ExecReloader{
		PreReload: func() error {
			hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Heartbeat(hbCtx, models.HostStatusReloading); err != nil {
				r.logger.Warn("Failed to report reloading status", map[string]interface{}{"error": err.Error()})
			}
			r.flags.Close()
			return r.logger.Close()
		},
	}

	for _, name := range r.cfg.Modules {
		moduleName := name
		asset := m.Assets[moduleName]

		observer := func(o loader.Outcome) {
			r.exporter.RecordLoadAttempt(string(o.Kind))
			switch o.Kind {
			case loader.OutcomeLoaded:
				r.exporter.RecordLoadDuration(o.Duration.Seconds())
				r.report(moduleName, models.ReportLoaded, m, asset, o.Duration, "")
			case loader.OutcomeRecovering:
				// Delivered before the exec replaces this process.
				r.report(moduleName, models.ReportRecovered, m, asset, o.Duration, o.Err.Error())
			}
		}

		l := loader.New(
			r.fetcher.Provider(m, moduleName),
			r.flags,
			reloader,
			loader.WithCooldown(r.cfg.Cooldown),
			loader.WithObserver(observer),
		)

		loadCtx, span := r.tracer.StartLoadSpan(ctx, moduleName, r.sess.ID)
		mod, err := l.Load(loadCtx)
		if err != nil {
			tracing.SetError(loadCtx, err)
			span.End()
			if errors.Is(err, loader.ErrReloadPending) {
				return err
			}
			// Failure inside the cooldown window: recovery already had
			// its one shot, hand the original error to the boundary.
			b.Handle(ctx, moduleName, err)
			continue
		}
		span.End()

		r.loaded[moduleName] = mod
		r.logger.Info("Module loaded", map[string]interface{}{
			"module":  mod.Name,
			"version": mod.Version,
			"bytes":   len(mod.Payload),
		})
	}

	return nil
}

func (r *Runner) report(module string, kind models.ReportKind, m *models.Manifest, asset models.Asset, took time.Duration, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report := &models.LoadReport{
		SessionID:    r.sess.ID,
		Module:       module,
		Kind:         kind,
		DeploymentID: m.DeploymentID,
		Version:      asset.Version,
		DurationMS:   took.Milliseconds(),
		Error:        errMsg,
		ReportedAt:   time.Now(),
	}
	if err := r.client.Report(ctx, report); err != nil {
		r.logger.Warn("Failed to deliver load report", map[string]interface{}{
			"module": module,
			"kind":   string(kind),
			"error":  err.Error(),
		})
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	status := models.HostStatusOnline
	if len(r.loaded) < len(r.cfg.Modules) {
		status = models.HostStatusDegraded
	}
	if err := r.client.Heartbeat(ctx, status); err != nil {
		r.logger.Warn("Heartbeat failed", map[string]interface{}{"error": err.Error()})
	}

	for {
		select {
		case <-ctx.Done():
			// Clean shutdown, leave the registry tidy
			deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Deregister(deregCtx); err != nil {
				r.logger.Warn("Failed to deregister", map[string]interface{}{"error": err.Error()})
			}
			return nil
		case <-ticker.C:
			if err := r.client.Heartbeat(ctx, ""); err != nil {
				r.logger.Warn("Heartbeat failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
