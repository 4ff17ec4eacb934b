package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/psantana5/manifold/pkg/auth"
	"github.com/psantana5/manifold/pkg/manifest"
	"github.com/psantana5/manifold/pkg/models"
	"github.com/psantana5/manifold/pkg/store"
)

// HostTokenHeader carries the per-host token issued at registration
const HostTokenHeader = "X-Manifold-Host-Token"

// hostTokenTTL bounds how long a host can heartbeat without re-registering
const hostTokenTTL = 24 * time.Hour

// MetricsRecorder is an interface for recording asset request metrics
type MetricsRecorder interface {
	RecordAssetRequest(result string)
}

// RegistrationResponse is returned from host registration. The token is
// only ever transmitted here; the server keeps a bcrypt hash of it.
type RegistrationResponse struct {
	Host  *models.Host `json:"host"`
	Token string       `json:"token"`
}

// ServerHandler handles artifact server API requests
type ServerHandler struct {
	store           store.Store
	tokens          *auth.TokenManager
	stagingDir      string // operators drop raw module files here
	servedDir       string // published content-hashed assets of the current deployment
	metricsRecorder MetricsRecorder
}

// NewServerHandler creates a new artifact server handler
func NewServerHandler(s store.Store, stagingDir, servedDir string) *ServerHandler {
	return &ServerHandler{
		store:      s,
		tokens:     auth.NewTokenManager(),
		stagingDir: stagingDir,
		servedDir:  servedDir,
	}
}

// TokenManager exposes the per-host token manager, e.g. for a periodic
// expired-token sweep
func (h *ServerHandler) TokenManager() *auth.TokenManager {
	return h.tokens
}

// hostTokenValid checks the per-host token on requests claiming a host
// identity. A host with no token on file is accepted: tokens live in
// memory, so after a server restart known hosts keep heartbeating and
// pick up a fresh token on their next re-registration.
func (h *ServerHandler) hostTokenValid(r *http.Request, hostID string) bool {
	if !h.tokens.HasToken(hostID) {
		return true
	}
	return h.tokens.ValidateToken(hostID, r.Header.Get(HostTokenHeader)) == nil
}

// SetMetricsRecorder sets the metrics recorder for the handler
func (h *ServerHandler) SetMetricsRecorder(recorder MetricsRecorder) {
	h.metricsRecorder = recorder
}

// RegisterRoutes registers all API routes
func (h *ServerHandler) RegisterRoutes(r *mux.Router) {
	// Host routes
	r.HandleFunc("/hosts/register", h.RegisterHost).Methods("POST")
	r.HandleFunc("/hosts/{id}/heartbeat", h.HostHeartbeat).Methods("POST")
	r.HandleFunc("/hosts/{id}", h.GetHostDetails).Methods("GET")
	r.HandleFunc("/hosts/{id}", h.RemoveHost).Methods("DELETE")
	r.HandleFunc("/hosts", h.ListHosts).Methods("GET")

	// Deployment routes
	r.HandleFunc("/deployments", h.CutDeployment).Methods("POST")
	r.HandleFunc("/deployments", h.ListDeployments).Methods("GET")

	// Artifact routes. Only the current deployment's assets are
	// reachable; everything older returns 404.
	r.HandleFunc("/manifest", h.GetManifest).Methods("GET")
	r.HandleFunc("/assets/{name}", h.GetAsset).Methods("GET")

	// Load report routes
	r.HandleFunc("/reports", h.ReceiveReport).Methods("POST")
	r.HandleFunc("/reports", h.ListReports).Methods("GET")

	// Other routes
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// RegisterHost handles host registration
func (h *ServerHandler) RegisterHost(w http.ResponseWriter, r *http.Request) {
	var reg models.HostRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// A host that reloaded itself comes back with the same address and
	// session; treat that as re-registration, not a new host.
	existingHost, err := h.store.GetHostByAddress(reg.Address)
	if err == nil && existingHost != nil {
		log.Printf("Host with address %s already exists (ID: %s), handling re-registration...", reg.Address, existingHost.ID)

		existingHost.Name = reg.Name
		existingHost.SessionID = reg.SessionID
		existingHost.CPUThreads = reg.CPUThreads
		existingHost.CPUModel = reg.CPUModel
		existingHost.RAMTotalBytes = reg.RAMTotalBytes
		existingHost.Labels = reg.Labels
		existingHost.Modules = reg.Modules
		existingHost.Status = models.HostStatusOnline
		existingHost.LastHeartbeat = time.Now()

		if err := h.store.RegisterHost(existingHost); err != nil {
			log.Printf("Error re-registering host: %v", err)
			http.Error(w, "Failed to register host", http.StatusInternalServerError)
			return
		}

		token, err := h.tokens.GenerateToken(existingHost.ID, hostTokenTTL)
		if err != nil {
			log.Printf("Error issuing token: %v", err)
			http.Error(w, "Failed to register host", http.StatusInternalServerError)
			return
		}

		log.Printf("Host re-registered: %s [%s] (session %s)", existingHost.Name, existingHost.ID, existingHost.SessionID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(RegistrationResponse{Host: existingHost, Token: token})
		return
	}

	host := &models.Host{
		ID:            uuid.New().String(),
		Name:          reg.Name,
		Address:       reg.Address,
		SessionID:     reg.SessionID,
		CPUThreads:    reg.CPUThreads,
		CPUModel:      reg.CPUModel,
		RAMTotalBytes: reg.RAMTotalBytes,
		Labels:        reg.Labels,
		Modules:       reg.Modules,
		Status:        models.HostStatusOnline,
		LastHeartbeat: time.Now(),
		RegisteredAt:  time.Now(),
	}

	if err := h.store.RegisterHost(host); err != nil {
		log.Printf("Error registering host: %v", err)
		http.Error(w, "Failed to register host", http.StatusInternalServerError)
		return
	}

	token, err := h.tokens.GenerateToken(host.ID, hostTokenTTL)
	if err != nil {
		log.Printf("Error issuing token: %v", err)
		http.Error(w, "Failed to register host", http.StatusInternalServerError)
		return
	}

	log.Printf("Host registered: %s [%s] (%d threads, %s)", host.Name, host.ID, host.CPUThreads, host.CPUModel)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(RegistrationResponse{Host: host, Token: token})
}

// ListHosts returns all registered hosts
func (h *ServerHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts := h.store.GetAllHosts()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"hosts": hosts,
		"count": len(hosts),
	})
}

// GetHostDetails retrieves detailed information about a specific host
func (h *ServerHandler) GetHostDetails(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hostID := vars["id"]

	host, err := h.store.GetHost(hostID)
	if err != nil {
		if err == store.ErrHostNotFound {
			http.Error(w, "Host not found", http.StatusNotFound)
			return
		}
		log.Printf("Error getting host: %v", err)
		http.Error(w, "Failed to get host", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(host)
}

// HostHeartbeat updates host heartbeat and optionally its status
func (h *ServerHandler) HostHeartbeat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hostID := vars["id"]

	if !h.hostTokenValid(r, hostID) {
		http.Error(w, "Invalid host token", http.StatusUnauthorized)
		return
	}

	if err := h.store.UpdateHostHeartbeat(hostID); err != nil {
		if err == store.ErrHostNotFound {
			http.Error(w, "Host not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to update heartbeat", http.StatusInternalServerError)
		return
	}

	// Heartbeats may carry a status transition, e.g. online -> reloading
	var body struct {
		Status models.HostStatus `json:"status,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Status != "" {
		if err := h.store.UpdateHostStatus(hostID, body.Status); err != nil {
			log.Printf("Warning: failed to update status for host %s: %v", hostID, err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// RemoveHost removes a host from the registry
func (h *ServerHandler) RemoveHost(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hostID := vars["id"]

	host, err := h.store.GetHost(hostID)
	if err != nil {
		if err == store.ErrHostNotFound {
			http.Error(w, "Host not found", http.StatusNotFound)
			return
		}
		log.Printf("Error retrieving host: %v", err)
		http.Error(w, fmt.Sprintf("Failed to retrieve host: %v", err), http.StatusInternalServerError)
		return
	}

	if err := h.store.DeleteHost(hostID); err != nil {
		log.Printf("Error removing host: %v", err)
		http.Error(w, fmt.Sprintf("Failed to remove host: %v", err), http.StatusInternalServerError)
		return
	}
	h.tokens.RevokeToken(hostID)

	log.Printf("Host %s (%s) removed from registry", hostID, host.Name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "removed",
		"host_id": hostID,
	})
}

// CutDeployment builds a manifest from the staging directory, publishes
// its content-hashed assets and makes it the current deployment. The
// previous deployment's assets are removed, which is what makes clients
// still holding the old manifest go stale.
func (h *ServerHandler) CutDeployment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Comment string `json:"comment,omitempty"`
	}
	if r.Body != nil {
		// An empty body is fine, the comment is optional
		json.NewDecoder(r.Body).Decode(&req)
	}

	m, err := manifest.Cut(h.stagingDir)
	if err != nil {
		log.Printf("Error cutting deployment: %v", err)
		http.Error(w, fmt.Sprintf("Failed to cut deployment: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.publishAssets(m); err != nil {
		log.Printf("Error publishing assets: %v", err)
		http.Error(w, "Failed to publish assets", http.StatusInternalServerError)
		return
	}

	if err := h.store.PutDeployment(m, req.Comment); err != nil {
		log.Printf("Error storing deployment: %v", err)
		http.Error(w, "Failed to store deployment", http.StatusInternalServerError)
		return
	}

	log.Printf("Deployment cut: %s (%d assets)", m.DeploymentID, len(m.Assets))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

// publishAssets replaces the served directory contents with the assets
// of the given manifest
func (h *ServerHandler) publishAssets(m *models.Manifest) error {
	if err := os.MkdirAll(h.servedDir, 0755); err != nil {
		return err
	}

	entries, err := os.ReadDir(h.servedDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(h.servedDir, e.Name())); err != nil {
			return err
		}
	}

	for _, asset := range m.Assets {
		// The staged file keeps its original name, the published one
		// carries the version
		matches, err := filepath.Glob(filepath.Join(h.stagingDir, asset.Module+".*"))
		if err != nil || len(matches) == 0 {
			matches = []string{filepath.Join(h.stagingDir, asset.Module)}
		}
		src := matches[0]

		if err := copyFile(src, filepath.Join(h.servedDir, asset.FileName)); err != nil {
			return fmt.Errorf("failed to publish %s: %w", asset.Module, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// ListDeployments returns the deployment history
func (h *ServerHandler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := h.store.ListDeployments()
	if err != nil {
		log.Printf("Error listing deployments: %v", err)
		http.Error(w, "Failed to list deployments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"deployments": deployments,
		"count":       len(deployments),
	})
}

// GetManifest returns the current deployment manifest as yaml
func (h *ServerHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.CurrentManifest()
	if err != nil {
		if err == store.ErrDeploymentNotFound {
			http.Error(w, "No deployment has been cut", http.StatusNotFound)
			return
		}
		log.Printf("Error getting manifest: %v", err)
		http.Error(w, "Failed to get manifest", http.StatusInternalServerError)
		return
	}

	data, err := manifest.Encode(m)
	if err != nil {
		log.Printf("Error encoding manifest: %v", err)
		http.Error(w, "Failed to encode manifest", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// GetAsset serves one content-hashed asset file. Assets of any
// deployment other than the current one no longer exist and return 404.
func (h *ServerHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	m, err := h.store.CurrentManifest()
	if err != nil {
		h.recordAsset("not_found")
		http.Error(w, "No deployment has been cut", http.StatusNotFound)
		return
	}

	current := false
	staleModule := false
	for _, asset := range m.Assets {
		if asset.FileName == name {
			current = true
			break
		}
		// Same module, different version: a client holding an old manifest
		if len(name) > len(asset.Module) && name[:len(asset.Module)+1] == asset.Module+"." {
			staleModule = true
		}
	}

	if !current {
		if staleModule {
			h.recordAsset("stale")
		} else {
			h.recordAsset("not_found")
		}
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}

	path := filepath.Join(h.servedDir, filepath.Base(name))
	f, err := os.Open(path)
	if err != nil {
		log.Printf("Error opening asset %s: %v", name, err)
		h.recordAsset("not_found")
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	h.recordAsset("served")
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, f)
}

func (h *ServerHandler) recordAsset(result string) {
	if h.metricsRecorder != nil {
		h.metricsRecorder.RecordAssetRequest(result)
	}
}

// ReceiveReport receives a load report from a module host
func (h *ServerHandler) ReceiveReport(w http.ResponseWriter, r *http.Request) {
	var report models.LoadReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.ReportedAt.IsZero() {
		report.ReportedAt = time.Now()
	}

	switch report.Kind {
	case models.ReportLoaded, models.ReportRecovered, models.ReportTerminal:
	default:
		http.Error(w, fmt.Sprintf("Invalid report kind '%s'. Valid values: loaded, recovered, terminal", report.Kind), http.StatusBadRequest)
		return
	}

	if !h.hostTokenValid(r, report.HostID) {
		http.Error(w, "Invalid host token", http.StatusUnauthorized)
		return
	}

	if err := h.store.AppendReport(&report); err != nil {
		log.Printf("Error storing report: %v", err)
		http.Error(w, "Failed to store report", http.StatusInternalServerError)
		return
	}

	log.Printf("Report received from host %s: %s %s", report.HostID, report.Module, report.Kind)
	if report.Error != "" {
		log.Printf("  Error: %s", report.Error)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(report)
}

// ListReports returns load reports, optionally filtered by host
func (h *ServerHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	var reports []*models.LoadReport
	if hostID := r.URL.Query().Get("host_id"); hostID != "" {
		reports = h.store.GetReportsByHost(hostID)
	} else {
		reports = h.store.GetAllReports()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// Health returns the health status of the artifact server
func (h *ServerHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.HealthCheck(); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}
