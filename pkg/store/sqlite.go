package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/manifold/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL for concurrency, busy timeout for locked-database waits,
	// immediate txlock to reduce write conflicts.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_cache_size=-8000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hosts (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		address         TEXT NOT NULL,
		session_id      TEXT NOT NULL,
		cpu_threads     INTEGER NOT NULL,
		cpu_model       TEXT NOT NULL,
		ram_total_bytes INTEGER NOT NULL,
		labels          TEXT,
		modules         TEXT,
		status          TEXT NOT NULL,
		last_heartbeat  DATETIME NOT NULL,
		registered_at   DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deployments (
		id          TEXT PRIMARY KEY,
		cut_at      DATETIME NOT NULL,
		asset_count INTEGER NOT NULL,
		comment     TEXT,
		current     BOOLEAN NOT NULL DEFAULT 0,
		manifest    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS load_reports (
		id            TEXT PRIMARY KEY,
		host_id       TEXT NOT NULL,
		session_id    TEXT NOT NULL,
		module        TEXT NOT NULL,
		kind          TEXT NOT NULL,
		deployment_id TEXT,
		version       TEXT,
		duration_ms   INTEGER,
		error         TEXT,
		reported_at   DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hosts_status ON hosts(status);
	CREATE INDEX IF NOT EXISTS idx_reports_host ON load_reports(host_id);
	CREATE INDEX IF NOT EXISTS idx_reports_kind ON load_reports(kind);
	CREATE INDEX IF NOT EXISTS idx_deployments_current ON deployments(current);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RegisterHost adds or updates a host in the store
func (s *SQLiteStore) RegisterHost(host *models.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	labels, err := json.Marshal(host.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	modules, err := json.Marshal(host.Modules)
	if err != nil {
		return fmt.Errorf("failed to marshal modules: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO hosts (id, name, address, session_id, cpu_threads, cpu_model, ram_total_bytes, labels, modules, status, last_heartbeat, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			session_id = excluded.session_id,
			cpu_threads = excluded.cpu_threads,
			cpu_model = excluded.cpu_model,
			ram_total_bytes = excluded.ram_total_bytes,
			labels = excluded.labels,
			modules = excluded.modules,
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat`,
		host.ID, host.Name, host.Address, host.SessionID, host.CPUThreads, host.CPUModel,
		host.RAMTotalBytes, string(labels), string(modules), string(host.Status),
		host.LastHeartbeat, host.RegisteredAt,
	)
	return err
}

func (s *SQLiteStore) scanHost(row *sql.Row) (*models.Host, error) {
	var host models.Host
	var labels, modules, status string
	err := row.Scan(&host.ID, &host.Name, &host.Address, &host.SessionID, &host.CPUThreads,
		&host.CPUModel, &host.RAMTotalBytes, &labels, &modules, &status,
		&host.LastHeartbeat, &host.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, ErrHostNotFound
	}
	if err != nil {
		return nil, err
	}
	host.Status = models.HostStatus(status)
	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &host.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}
	if modules != "" {
		if err := json.Unmarshal([]byte(modules), &host.Modules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal modules: %w", err)
		}
	}
	return &host, nil
}

const hostColumns = `id, name, address, session_id, cpu_threads, cpu_model, ram_total_bytes, labels, modules, status, last_heartbeat, registered_at`

// GetHost retrieves a host by ID
func (s *SQLiteStore) GetHost(id string) (*models.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id)
	return s.scanHost(row)
}

// GetHostByAddress retrieves a host by its address
func (s *SQLiteStore) GetHostByAddress(address string) (*models.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE address = ?`, address)
	return s.scanHost(row)
}

// GetAllHosts returns all registered hosts
func (s *SQLiteStore) GetAllHosts() []*models.Host {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT ` + hostColumns + ` FROM hosts ORDER BY registered_at`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var hosts []*models.Host
	for rows.Next() {
		var host models.Host
		var labels, modules, status string
		if err := rows.Scan(&host.ID, &host.Name, &host.Address, &host.SessionID, &host.CPUThreads,
			&host.CPUModel, &host.RAMTotalBytes, &labels, &modules, &status,
			&host.LastHeartbeat, &host.RegisteredAt); err != nil {
			continue
		}
		host.Status = models.HostStatus(status)
		if labels != "" {
			_ = json.Unmarshal([]byte(labels), &host.Labels)
		}
		if modules != "" {
			_ = json.Unmarshal([]byte(modules), &host.Modules)
		}
		hosts = append(hosts, &host)
	}
	return hosts
}

// UpdateHostStatus updates the status of a host
func (s *SQLiteStore) UpdateHostStatus(id string, status models.HostStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE hosts SET status = ?, last_heartbeat = ? WHERE id = ?`,
		string(status), time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrHostNotFound
	}
	return nil
}

// UpdateHostHeartbeat updates the last heartbeat time for a host
func (s *SQLiteStore) UpdateHostHeartbeat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE hosts SET last_heartbeat = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrHostNotFound
	}
	return nil
}

// DeleteHost removes a host from the store
func (s *SQLiteStore) DeleteHost(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrHostNotFound
	}
	return nil
}

// PutDeployment records a manifest cut and makes it current
func (s *SQLiteStore) PutDeployment(manifest *models.Manifest, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE deployments SET current = 0`); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO deployments (id, cut_at, asset_count, comment, current, manifest)
		VALUES (?, ?, ?, ?, 1, ?)`,
		manifest.DeploymentID, manifest.CutAt, len(manifest.Assets), comment, string(blob),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// CurrentManifest returns the manifest of the current deployment
func (s *SQLiteStore) CurrentManifest() (*models.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blob string
	err := s.db.QueryRow(`SELECT manifest FROM deployments WHERE current = 1`).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrDeploymentNotFound
	}
	if err != nil {
		return nil, err
	}

	var m models.Manifest
	if err := json.Unmarshal([]byte(blob), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

// ListDeployments returns the deployment history, oldest first
func (s *SQLiteStore) ListDeployments() ([]*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, cut_at, asset_count, comment, current FROM deployments ORDER BY cut_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Deployment
	for rows.Next() {
		var d models.Deployment
		var comment sql.NullString
		if err := rows.Scan(&d.ID, &d.CutAt, &d.AssetCount, &comment, &d.Current); err != nil {
			return nil, err
		}
		d.Comment = comment.String
		out = append(out, &d)
	}
	return out, rows.Err()
}

// AppendReport stores a load report
func (s *SQLiteStore) AppendReport(report *models.LoadReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO load_reports (id, host_id, session_id, module, kind, deployment_id, version, duration_ms, error, reported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.HostID, report.SessionID, report.Module, string(report.Kind),
		report.DeploymentID, report.Version, report.DurationMS, report.Error, report.ReportedAt,
	)
	return err
}

func (s *SQLiteStore) queryReports(query string, args ...any) []*models.LoadReport {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []*models.LoadReport
	for rows.Next() {
		var r models.LoadReport
		var kind string
		if err := rows.Scan(&r.ID, &r.HostID, &r.SessionID, &r.Module, &kind,
			&r.DeploymentID, &r.Version, &r.DurationMS, &r.Error, &r.ReportedAt); err != nil {
			continue
		}
		r.Kind = models.ReportKind(kind)
		out = append(out, &r)
	}
	return out
}

const reportColumns = `id, host_id, session_id, module, kind, deployment_id, version, duration_ms, error, reported_at`

// GetAllReports returns all load reports
func (s *SQLiteStore) GetAllReports() []*models.LoadReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queryReports(`SELECT ` + reportColumns + ` FROM load_reports ORDER BY reported_at`)
}

// GetReportsByHost returns the reports a single host sent
func (s *SQLiteStore) GetReportsByHost(hostID string) []*models.LoadReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queryReports(`SELECT `+reportColumns+` FROM load_reports WHERE host_id = ? ORDER BY reported_at`, hostID)
}

// CountReportsByKind aggregates reports for the metrics endpoint
func (s *SQLiteStore) CountReportsByKind() map[models.ReportKind]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.ReportKind]int)
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM load_reports GROUP BY kind`)
	if err != nil {
		return counts
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			continue
		}
		counts[models.ReportKind(kind)] = n
	}
	return counts
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}
