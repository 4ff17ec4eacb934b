package store

import (
	"sync"
	"time"

	"github.com/psantana5/manifold/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store
type MemoryStore struct {
	hosts       map[string]*models.Host
	deployments []*models.Deployment
	manifests   map[string]*models.Manifest // deployment ID -> manifest
	currentID   string
	reports     []*models.LoadReport
	hostsMu     sync.RWMutex
	deployMu    sync.RWMutex
	reportsMu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hosts:     make(map[string]*models.Host),
		manifests: make(map[string]*models.Manifest),
	}
}

// Host operations

// RegisterHost adds or updates a host in the store
func (s *MemoryStore) RegisterHost(host *models.Host) error {
	s.hostsMu.Lock()
	defer s.hostsMu.Unlock()

	s.hosts[host.ID] = host
	return nil
}

// GetHost retrieves a host by ID
func (s *MemoryStore) GetHost(id string) (*models.Host, error) {
	s.hostsMu.RLock()
	defer s.hostsMu.RUnlock()

	host, ok := s.hosts[id]
	if !ok {
		return nil, ErrHostNotFound
	}
	return host, nil
}

// GetHostByAddress retrieves a host by its address
func (s *MemoryStore) GetHostByAddress(address string) (*models.Host, error) {
	s.hostsMu.RLock()
	defer s.hostsMu.RUnlock()

	for _, host := range s.hosts {
		if host.Address == address {
			return host, nil
		}
	}
	return nil, ErrHostNotFound
}

// GetAllHosts returns all registered hosts
func (s *MemoryStore) GetAllHosts() []*models.Host {
	s.hostsMu.RLock()
	defer s.hostsMu.RUnlock()

	hosts := make([]*models.Host, 0, len(s.hosts))
	for _, host := range s.hosts {
		hosts = append(hosts, host)
	}
	return hosts
}

// UpdateHostStatus updates the status of a host
func (s *MemoryStore) UpdateHostStatus(id string, status models.HostStatus) error {
	s.hostsMu.Lock()
	defer s.hostsMu.Unlock()

	host, ok := s.hosts[id]
	if !ok {
		return ErrHostNotFound
	}

	host.Status = status
	host.LastHeartbeat = time.Now()
	return nil
}

// UpdateHostHeartbeat updates the last heartbeat time for a host
func (s *MemoryStore) UpdateHostHeartbeat(id string) error {
	s.hostsMu.Lock()
	defer s.hostsMu.Unlock()

	host, ok := s.hosts[id]
	if !ok {
		return ErrHostNotFound
	}

	host.LastHeartbeat = time.Now()
	return nil
}

// DeleteHost removes a host from the store
func (s *MemoryStore) DeleteHost(id string) error {
	s.hostsMu.Lock()
	defer s.hostsMu.Unlock()

	if _, ok := s.hosts[id]; !ok {
		return ErrHostNotFound
	}
	delete(s.hosts, id)
	return nil
}

// Deployment operations

// PutDeployment records a manifest cut and makes it current
func (s *MemoryStore) PutDeployment(manifest *models.Manifest, comment string) error {
	s.deployMu.Lock()
	defer s.deployMu.Unlock()

	for _, d := range s.deployments {
		d.Current = false
	}
	s.deployments = append(s.deployments, &models.Deployment{
		ID:         manifest.DeploymentID,
		CutAt:      manifest.CutAt,
		AssetCount: len(manifest.Assets),
		Comment:    comment,
		Current:    true,
	})
	s.manifests[manifest.DeploymentID] = manifest
	s.currentID = manifest.DeploymentID
	return nil
}

// CurrentManifest returns the manifest of the current deployment
func (s *MemoryStore) CurrentManifest() (*models.Manifest, error) {
	s.deployMu.RLock()
	defer s.deployMu.RUnlock()

	m, ok := s.manifests[s.currentID]
	if !ok {
		return nil, ErrDeploymentNotFound
	}
	return m, nil
}

// ListDeployments returns the deployment history, newest last
func (s *MemoryStore) ListDeployments() ([]*models.Deployment, error) {
	s.deployMu.RLock()
	defer s.deployMu.RUnlock()

	out := make([]*models.Deployment, len(s.deployments))
	copy(out, s.deployments)
	return out, nil
}

// Report operations

// AppendReport stores a load report
func (s *MemoryStore) AppendReport(report *models.LoadReport) error {
	s.reportsMu.Lock()
	defer s.reportsMu.Unlock()

	s.reports = append(s.reports, report)
	return nil
}

// GetAllReports returns all load reports
func (s *MemoryStore) GetAllReports() []*models.LoadReport {
	s.reportsMu.RLock()
	defer s.reportsMu.RUnlock()

	out := make([]*models.LoadReport, len(s.reports))
	copy(out, s.reports)
	return out
}

// GetReportsByHost returns the reports a single host sent
func (s *MemoryStore) GetReportsByHost(hostID string) []*models.LoadReport {
	s.reportsMu.RLock()
	defer s.reportsMu.RUnlock()

	var out []*models.LoadReport
	for _, r := range s.reports {
		if r.HostID == hostID {
			out = append(out, r)
		}
	}
	return out
}

// CountReportsByKind aggregates reports for the metrics endpoint
func (s *MemoryStore) CountReportsByKind() map[models.ReportKind]int {
	s.reportsMu.RLock()
	defer s.reportsMu.RUnlock()

	counts := make(map[models.ReportKind]int)
	for _, r := range s.reports {
		counts[r.Kind]++
	}
	return counts
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error { return nil }

// HealthCheck is a no-op for the memory store
func (s *MemoryStore) HealthCheck() error { return nil }
