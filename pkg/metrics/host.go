package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HostExporter exports Prometheus metrics for a module host
type HostExporter struct {
	hostID        string
	startTime     time.Time
	mu            sync.RWMutex
	loadAttempts  map[string]int64 // outcome -> count
	reloads       int64
	suppressed    int64
	loadDurations []float64
}

// NewHostExporter creates a new Prometheus exporter for a module host
func NewHostExporter(hostID string) *HostExporter {
	return &HostExporter{
		hostID:       hostID,
		startTime:    time.Now(),
		loadAttempts: make(map[string]int64),
	}
}

// RecordLoadAttempt records a module load attempt by outcome
// (loaded, recovering, propagated)
func (e *HostExporter) RecordLoadAttempt(outcome string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadAttempts[outcome]++
	if outcome == "recovering" {
		e.reloads++
	}
	if outcome == "propagated" {
		e.suppressed++
	}
}

// RecordLoadDuration records how long a successful load took
func (e *HostExporter) RecordLoadDuration(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadDurations = append(e.loadDurations, seconds)
	if len(e.loadDurations) > 1000 {
		e.loadDurations = e.loadDurations[1:]
	}
}

// ServeHTTP serves Prometheus-compatible metrics at /metrics
func (e *HostExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	e.mu.RLock()
	defer e.mu.RUnlock()

	fmt.Fprintf(w, "# HELP manifold_host_load_attempts_total Module load attempts by outcome\n")
	fmt.Fprintf(w, "# TYPE manifold_host_load_attempts_total counter\n")
	for _, outcome := range []string{"loaded", "recovering", "propagated"} {
		fmt.Fprintf(w, "manifold_host_load_attempts_total{host=\"%s\",outcome=\"%s\"} %d\n",
			e.hostID, outcome, e.loadAttempts[outcome])
	}

	fmt.Fprintf(w, "\n# HELP manifold_host_reloads_total Environment reloads triggered by stale modules\n")
	fmt.Fprintf(w, "# TYPE manifold_host_reloads_total counter\n")
	fmt.Fprintf(w, "manifold_host_reloads_total{host=\"%s\"} %d\n", e.hostID, e.reloads)

	fmt.Fprintf(w, "\n# HELP manifold_host_reloads_suppressed_total Failures propagated because a reload already ran within the cooldown\n")
	fmt.Fprintf(w, "# TYPE manifold_host_reloads_suppressed_total counter\n")
	fmt.Fprintf(w, "manifold_host_reloads_suppressed_total{host=\"%s\"} %d\n", e.hostID, e.suppressed)

	var avg float64
	if len(e.loadDurations) > 0 {
		var sum float64
		for _, d := range e.loadDurations {
			sum += d
		}
		avg = sum / float64(len(e.loadDurations))
	}
	fmt.Fprintf(w, "\n# HELP manifold_host_load_duration_seconds Average successful load duration in seconds\n")
	fmt.Fprintf(w, "# TYPE manifold_host_load_duration_seconds gauge\n")
	fmt.Fprintf(w, "manifold_host_load_duration_seconds{host=\"%s\"} %.2f\n", e.hostID, avg)

	fmt.Fprintf(w, "\n# HELP manifold_host_uptime_seconds Host uptime since last start or reload\n")
	fmt.Fprintf(w, "# TYPE manifold_host_uptime_seconds gauge\n")
	fmt.Fprintf(w, "manifold_host_uptime_seconds{host=\"%s\"} %.0f\n", e.hostID, time.Since(e.startTime).Seconds())
}
