package store

import (
	"errors"

	"github.com/psantana5/manifold/pkg/models"
)

var (
	ErrHostNotFound       = errors.New("host not found")
	ErrDeploymentNotFound = errors.New("deployment not found")
)

// Store defines the interface for server-side persistence.
// Memory, SQLite, and PostgreSQL implement this interface.
type Store interface {
	// Host operations
	RegisterHost(host *models.Host) error
	GetHost(id string) (*models.Host, error)
	GetHostByAddress(address string) (*models.Host, error)
	GetAllHosts() []*models.Host
	UpdateHostStatus(id string, status models.HostStatus) error
	UpdateHostHeartbeat(id string) error
	DeleteHost(id string) error

	// Deployment operations. Cutting a deployment makes its manifest
	// current; every previous deployment's assets become unreachable.
	PutDeployment(manifest *models.Manifest, comment string) error
	CurrentManifest() (*models.Manifest, error)
	ListDeployments() ([]*models.Deployment, error)

	// Load report operations
	AppendReport(report *models.LoadReport) error
	GetAllReports() []*models.LoadReport
	GetReportsByHost(hostID string) []*models.LoadReport
	CountReportsByKind() map[models.ReportKind]int

	// Lifecycle
	Close() error
	HealthCheck() error
}
