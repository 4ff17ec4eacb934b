package models

import (
	"time"
)

// HostStatus represents the lifecycle state of a module host
type HostStatus string

const (
	HostStatusOnline     HostStatus = "online"
	HostStatusReloading  HostStatus = "reloading"
	HostStatusDegraded   HostStatus = "degraded"
	HostStatusOffline    HostStatus = "offline"
)

// Host represents a module host registered with the artifact server
type Host struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"` // hostname
	Address       string            `json:"address"`
	SessionID     string            `json:"session_id"`
	CPUThreads    int               `json:"cpu_threads"`
	CPUModel      string            `json:"cpu_model"`
	RAMTotalBytes uint64            `json:"ram_total_bytes"`
	Labels        map[string]string `json:"labels,omitempty"`
	Modules       []string          `json:"modules,omitempty"` // module names this host loads
	Status        HostStatus        `json:"status"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	RegisteredAt  time.Time         `json:"registered_at"`
}

// HostRegistration represents a host registration request
type HostRegistration struct {
	Name          string            `json:"name"`
	Address       string            `json:"address"`
	SessionID     string            `json:"session_id"`
	CPUThreads    int               `json:"cpu_threads"`
	CPUModel      string            `json:"cpu_model"`
	RAMTotalBytes uint64            `json:"ram_total_bytes"`
	Labels        map[string]string `json:"labels,omitempty"`
	Modules       []string          `json:"modules,omitempty"`
}

// HostFacts describes the hardware of the machine a host runs on
type HostFacts struct {
	Hostname      string            `json:"hostname"`
	CPUThreads    int               `json:"cpu_threads"`
	CPUModel      string            `json:"cpu_model"`
	RAMTotalBytes uint64            `json:"ram_total_bytes"`
	Labels        map[string]string `json:"labels,omitempty"`
}
