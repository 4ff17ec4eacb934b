package models

import (
	"time"
)

// ReportKind classifies a load report sent by a host
type ReportKind string

const (
	// ReportLoaded: a module loaded successfully.
	ReportLoaded ReportKind = "loaded"
	// ReportRecovered: a load failed and the host restarted itself to pick
	// up the current manifest.
	ReportRecovered ReportKind = "recovered"
	// ReportTerminal: a load failed again inside the recovery cooldown and
	// the failure was handed to the fault boundary.
	ReportTerminal ReportKind = "terminal"
)

// LoadReport records the outcome of one module load attempt on a host
type LoadReport struct {
	ID           string     `json:"id"`
	HostID       string     `json:"host_id"`
	SessionID    string     `json:"session_id"`
	Module       string     `json:"module"`
	Kind         ReportKind `json:"kind"`
	DeploymentID string     `json:"deployment_id,omitempty"`
	Version      string     `json:"version,omitempty"`
	DurationMS   int64      `json:"duration_ms,omitempty"`
	Error        string     `json:"error,omitempty"`
	ReportedAt   time.Time  `json:"reported_at"`
}
