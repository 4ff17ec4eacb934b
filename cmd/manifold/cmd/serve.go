package cmd

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/manifold/pkg/api"
	"github.com/psantana5/manifold/pkg/auth"
	"github.com/psantana5/manifold/pkg/logging"
	"github.com/psantana5/manifold/pkg/metrics"
	"github.com/psantana5/manifold/pkg/ratelimit"
	"github.com/psantana5/manifold/pkg/shutdown"
	"github.com/psantana5/manifold/pkg/store"
	tlsutil "github.com/psantana5/manifold/pkg/tls"
	"github.com/psantana5/manifold/pkg/tracing"
)

var (
	servePort        string
	serveDBPath      string
	servePostgresDSN string
	serveStagingDir  string
	serveAssetsDir   string
	serveUseTLS      bool
	serveCertFile    string
	serveKeyFile     string
	serveCAFile      string
	serveMTLS        bool
	serveGenCert     bool
	serveCertSANs    string
	serveAPIKey      string
	serveMetrics     bool
	serveMetricsPort string
	serveRateRPS     float64
	serveRateBurst   int
	serveTraceTo     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the artifact server",
	Long: `Starts the artifact server: publishes the current deployment manifest
and its content-hashed assets, tracks registered module hosts, and
collects load reports.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "8080", "API port")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "manifold.db", "SQLite database path (empty string for in-memory)")
	serveCmd.Flags().StringVar(&servePostgresDSN, "postgres", "", "PostgreSQL DSN (overrides --db)")
	serveCmd.Flags().StringVar(&serveStagingDir, "staging-dir", "staging", "directory operators stage raw module files in")
	serveCmd.Flags().StringVar(&serveAssetsDir, "assets-dir", "assets", "directory published assets are served from")
	serveCmd.Flags().BoolVar(&serveUseTLS, "tls", true, "enable TLS")
	serveCmd.Flags().StringVar(&serveCertFile, "cert", "certs/server.crt", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveKeyFile, "key", "certs/server.key", "TLS key file")
	serveCmd.Flags().StringVar(&serveCAFile, "ca", "", "CA certificate file for mTLS")
	serveCmd.Flags().BoolVar(&serveMTLS, "mtls", false, "require client certificates")
	serveCmd.Flags().BoolVar(&serveGenCert, "generate-cert", false, "generate a self-signed certificate and exit")
	serveCmd.Flags().StringVar(&serveCertSANs, "cert-sans", "", "comma-separated IPs or hostnames for certificate SANs")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "API key for authentication (or MANIFOLD_API_KEY env var)")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", true, "enable Prometheus metrics endpoint")
	serveCmd.Flags().StringVar(&serveMetricsPort, "metrics-port", "9090", "Prometheus metrics port")
	serveCmd.Flags().Float64Var(&serveRateRPS, "rate-limit", 50, "per-client requests per second (0 disables)")
	serveCmd.Flags().IntVar(&serveRateBurst, "rate-burst", 100, "per-client burst size")
	serveCmd.Flags().StringVar(&serveTraceTo, "otlp-endpoint", "", "OTLP HTTP endpoint for traces (empty disables tracing)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.NewFileLogger("server", "", logging.INFO, true)
	if err != nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	defer logger.Close()

	if serveGenCert {
		logger.Info("Generating self-signed certificate")
		if err := os.MkdirAll("certs", 0755); err != nil {
			return err
		}

		var sans []string
		for _, value := range strings.Split(serveCertSANs, ",") {
			value = strings.TrimSpace(value)
			if value != "" {
				sans = append(sans, value)
			}
		}

		if err := tlsutil.GenerateSelfSignedCert(serveCertFile, serveKeyFile, "manifold-server", sans...); err != nil {
			return err
		}
		logger.Info("Certificate generated", map[string]interface{}{
			"cert": serveCertFile,
			"key":  serveKeyFile,
		})
		return nil
	}

	key := serveAPIKey
	if key == "" {
		key = viper.GetString("api_key")
	}

	var dataStore store.Store
	switch {
	case servePostgresDSN != "":
		logger.Info("Using PostgreSQL store")
		pgStore, err := store.NewPostgreSQLStore(store.PostgresConfig{DSN: servePostgresDSN})
		if err != nil {
			return err
		}
		dataStore = pgStore
	case serveDBPath != "":
		logger.Info("Using SQLite store", map[string]interface{}{"path": serveDBPath})
		sqliteStore, err := store.NewSQLiteStore(serveDBPath)
		if err != nil {
			return err
		}
		dataStore = sqliteStore
	default:
		logger.Warn("Using in-memory store, deployments will not survive restarts")
		dataStore = store.NewMemoryStore()
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "manifold-server",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   serveTraceTo,
		Enabled:        serveTraceTo != "",
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(serveStagingDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(serveAssetsDir, 0755); err != nil {
		return err
	}

	handler := api.NewServerHandler(dataStore, serveStagingDir, serveAssetsDir)
	exporter := metrics.NewServerExporter(dataStore)
	handler.SetMetricsRecorder(exporter)

	go func() {
		for range time.Tick(time.Hour) {
			handler.TokenManager().CleanupExpiredTokens()
		}
	}()

	router := mux.NewRouter()
	router.Use(tracing.HTTPMiddleware(tracer, "manifold-server"))
	router.Use(countRequests)

	if serveRateRPS > 0 {
		limiter := ratelimit.NewLimiter(serveRateRPS, serveRateBurst)
		router.Use(limiter.Middleware(ratelimit.IPKeyFunc))
		go func() {
			for range time.Tick(10 * time.Minute) {
				limiter.CleanupOldLimiters(time.Hour)
			}
		}()
	}

	if key != "" {
		logger.Info("API authentication enabled")
		router.Use(authMiddleware(key))
	} else {
		logger.Warn("No API key configured, authentication disabled")
	}

	handler.RegisterRoutes(router)

	mgr := shutdown.New(30*time.Second, logger)

	if serveMetrics {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", exporter).Methods("GET")

		metricsSrv := &http.Server{
			Addr:         ":" + serveMetricsPort,
			Handler:      metricsRouter,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		mgr.Register(shutdown.StopHTTPServer(metricsSrv, "metrics server"))

		go func() {
			logger.Info("Metrics server listening", map[string]interface{}{"port": serveMetricsPort})
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	srv := &http.Server{
		Addr:         ":" + servePort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if serveUseTLS {
		if _, err := os.Stat(serveCertFile); os.IsNotExist(err) {
			logger.Info("Certificate not found, generating self-signed certificate")
			if err := os.MkdirAll("certs", 0755); err != nil {
				return err
			}
			if err := tlsutil.GenerateSelfSignedCert(serveCertFile, serveKeyFile, "manifold-server"); err != nil {
				return err
			}
		}

		tlsConfig, err := tlsutil.LoadTLSConfig(serveCertFile, serveKeyFile, serveCAFile, serveMTLS)
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsConfig
	} else {
		logger.Warn("TLS disabled")
	}

	mgr.Register(shutdown.StopHTTPServer(srv, "api server"))
	mgr.Register(shutdown.CloseResource(dataStore, "store"))
	mgr.Register(func(ctx context.Context) error {
		return tracer.Shutdown(ctx)
	})

	go func() {
		logger.Info("Artifact server listening", map[string]interface{}{
			"port": servePort,
			"tls":  serveUseTLS,
		})

		var err error
		if serveUseTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", map[string]interface{}{"error": err.Error()})
		}
	}()

	mgr.Wait()
	mgr.Shutdown()
	return nil
}

// authMiddleware enforces a bearer token on everything except /health
func authMiddleware(key string) func(http.Handler) http.Handler {
	expected := "Bearer " + key
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
				return
			}

			if !auth.SecureCompare(header, expected) {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// countRequests feeds the request counter on the default registry
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route).Inc()
		next.ServeHTTP(w, r)
	})
}
