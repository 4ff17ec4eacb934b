package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/manifold/pkg/host"
	"github.com/psantana5/manifold/pkg/logging"
	"github.com/psantana5/manifold/pkg/shutdown"
	"github.com/psantana5/manifold/pkg/tracing"
)

var (
	hostModules      []string
	hostAddress      string
	hostFlagDB       string
	hostCooldown     time.Duration
	hostHeartbeat    time.Duration
	hostMetricsPort  string
	hostLabels       map[string]string
	hostOTLPEndpoint string
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run a module host",
	Long: `Starts a module host: registers with the artifact server, fetches the
current manifest, and loads the configured modules. When a load fails
because the held manifest went stale, the host restarts itself once per
cooldown window to pick up the current deployment.`,
	RunE: runHost,
}

func init() {
	rootCmd.AddCommand(hostCmd)

	hostCmd.Flags().StringSliceVar(&hostModules, "modules", nil, "module names to load (required)")
	hostCmd.Flags().StringVar(&hostAddress, "address", "http://localhost:9443", "address this host is reachable on")
	hostCmd.Flags().StringVar(&hostFlagDB, "flag-db", "manifold-host.db", "SQLite file for session-scoped recovery flags")
	hostCmd.Flags().DurationVar(&hostCooldown, "cooldown", 10*time.Second, "minimum interval between recovery reloads")
	hostCmd.Flags().DurationVar(&hostHeartbeat, "heartbeat-interval", 30*time.Second, "heartbeat interval")
	hostCmd.Flags().StringVar(&hostMetricsPort, "metrics-port", "9091", "Prometheus metrics port")
	hostCmd.Flags().StringToStringVar(&hostLabels, "labels", nil, "labels to register with, e.g. region=eu,tier=edge")
	hostCmd.Flags().StringVar(&hostOTLPEndpoint, "otlp-endpoint", "", "OTLP HTTP endpoint for traces (empty disables tracing)")
	hostCmd.MarkFlagRequired("modules")
}

func runHost(cmd *cobra.Command, args []string) error {
	logger, err := logging.NewFileLogger("host", "", logging.INFO, true)
	if err != nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	defer logger.Close()

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "manifold-host",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   hostOTLPEndpoint,
		Enabled:        hostOTLPEndpoint != "",
	})
	if err != nil {
		return err
	}

	key := GetAPIKey()
	if key == "" {
		key = viper.GetString("api_key")
	}

	runner := host.NewRunner(host.Config{
		ServerURL:         GetServerURL(),
		APIKey:            key,
		Address:           hostAddress,
		Modules:           hostModules,
		FlagDBPath:        hostFlagDB,
		Cooldown:          hostCooldown,
		HeartbeatInterval: hostHeartbeat,
		Labels:            hostLabels,
	}, logger, tracer)

	mgr := shutdown.New(15*time.Second, logger)
	mgr.Register(func(ctx context.Context) error {
		return tracer.Shutdown(ctx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Wait()
	go func() {
		<-mgr.Done()
		cancel()
	}()

	// The metrics exporter exists once the runner has registered, so the
	// endpoint lazily resolves it per scrape.
	metricsRouter := mux.NewRouter()
	metricsRouter.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		exporter := runner.Exporter()
		if exporter == nil {
			http.Error(w, "host not registered yet", http.StatusServiceUnavailable)
			return
		}
		exporter.ServeHTTP(w, r)
	}).Methods("GET")

	metricsSrv := &http.Server{
		Addr:         ":" + hostMetricsPort,
		Handler:      metricsRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	mgr.Register(shutdown.StopHTTPServer(metricsSrv, "metrics server"))

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- runner.Run(ctx)
	}()

	select {
	case err := <-runErr:
		mgr.Shutdown()
		return err
	case <-mgr.Done():
		// Signal received, give the runner a moment to deregister
		select {
		case <-runErr:
		case <-time.After(10 * time.Second):
		}
		mgr.Shutdown()
		return nil
	}
}
