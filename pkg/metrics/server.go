package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/psantana5/manifold/pkg/models"
	"github.com/psantana5/manifold/pkg/store"
)

// HTTPRequests counts control plane requests by method and path pattern.
// Registered on the default registry so the exporter picks it up on Gather.
var HTTPRequests = promclient.NewCounterVec(
	promclient.CounterOpts{
		Name: "manifold_http_requests_total",
		Help: "Total HTTP requests by method and route",
	},
	[]string{"method", "route"},
)

func init() {
	promclient.MustRegister(HTTPRequests)
}

// ServerExporter exports Prometheus metrics for the artifact server
type ServerExporter struct {
	store         store.Store
	startTime     time.Time
	mu            sync.RWMutex
	assetRequests map[string]int64 // result -> count
}

// NewServerExporter creates a new Prometheus exporter for the artifact server
func NewServerExporter(s store.Store) *ServerExporter {
	return &ServerExporter{
		store:         s,
		startTime:     time.Now(),
		assetRequests: make(map[string]int64),
	}
}

// RecordAssetRequest records an asset download attempt by result
// (served, stale, not_found)
func (e *ServerExporter) RecordAssetRequest(result string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assetRequests[result]++
}

// ServeHTTP serves Prometheus-compatible metrics at /metrics
func (e *ServerExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	hosts := e.store.GetAllHosts()

	fmt.Fprintf(w, "# HELP manifold_hosts_total Total number of registered module hosts\n")
	fmt.Fprintf(w, "# TYPE manifold_hosts_total gauge\n")
	fmt.Fprintf(w, "manifold_hosts_total %d\n", len(hosts))

	// Initialize all statuses so the series always exist
	hostsByStatus := map[string]int{
		"online":    0,
		"degraded":  0,
		"offline":   0,
		"reloading": 0,
	}
	for _, h := range hosts {
		hostsByStatus[string(h.Status)]++
	}
	fmt.Fprintf(w, "\n# HELP manifold_hosts_by_status Module hosts by status\n")
	fmt.Fprintf(w, "# TYPE manifold_hosts_by_status gauge\n")
	for _, status := range []string{"online", "degraded", "offline", "reloading"} {
		fmt.Fprintf(w, "manifold_hosts_by_status{status=\"%s\"} %d\n", status, hostsByStatus[status])
	}

	deployments, err := e.store.ListDeployments()
	if err == nil {
		fmt.Fprintf(w, "\n# HELP manifold_deployments_total Total number of deployments cut\n")
		fmt.Fprintf(w, "# TYPE manifold_deployments_total counter\n")
		fmt.Fprintf(w, "manifold_deployments_total %d\n", len(deployments))
	}

	reportCounts := e.store.CountReportsByKind()
	fmt.Fprintf(w, "\n# HELP manifold_load_reports_total Load reports received by kind\n")
	fmt.Fprintf(w, "# TYPE manifold_load_reports_total counter\n")
	for _, kind := range []models.ReportKind{models.ReportLoaded, models.ReportRecovered, models.ReportTerminal} {
		fmt.Fprintf(w, "manifold_load_reports_total{kind=\"%s\"} %d\n", kind, reportCounts[kind])
	}

	e.mu.RLock()
	fmt.Fprintf(w, "\n# HELP manifold_asset_requests_total Asset download attempts by result\n")
	fmt.Fprintf(w, "# TYPE manifold_asset_requests_total counter\n")
	for _, result := range []string{"served", "stale", "not_found"} {
		fmt.Fprintf(w, "manifold_asset_requests_total{result=\"%s\"} %d\n", result, e.assetRequests[result])
	}
	e.mu.RUnlock()

	fmt.Fprintf(w, "\n# HELP manifold_server_uptime_seconds Artifact server uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE manifold_server_uptime_seconds gauge\n")
	fmt.Fprintf(w, "manifold_server_uptime_seconds %.0f\n", time.Since(e.startTime).Seconds())

	// Append metrics from the Prometheus default registry
	fmt.Fprintf(w, "\n")

	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}

	w.Write(buf.Bytes())
}
