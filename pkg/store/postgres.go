package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/psantana5/manifold/pkg/models"
)

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgreSQLStore implements Store using PostgreSQL, for servers where a
// single SQLite file is not enough (multiple server replicas sharing
// deployment state).
type PostgreSQLStore struct {
	db *sql.DB
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(config PostgresConfig) (*PostgreSQLStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgreSQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hosts (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		address         TEXT NOT NULL,
		session_id      TEXT NOT NULL,
		cpu_threads     INTEGER NOT NULL,
		cpu_model       TEXT NOT NULL,
		ram_total_bytes BIGINT NOT NULL,
		labels          JSONB,
		modules         JSONB,
		status          TEXT NOT NULL,
		last_heartbeat  TIMESTAMPTZ NOT NULL,
		registered_at   TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deployments (
		id          TEXT PRIMARY KEY,
		cut_at      TIMESTAMPTZ NOT NULL,
		asset_count INTEGER NOT NULL,
		comment     TEXT,
		current     BOOLEAN NOT NULL DEFAULT FALSE,
		manifest    JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS load_reports (
		id            TEXT PRIMARY KEY,
		host_id       TEXT NOT NULL,
		session_id    TEXT NOT NULL,
		module        TEXT NOT NULL,
		kind          TEXT NOT NULL,
		deployment_id TEXT,
		version       TEXT,
		duration_ms   BIGINT,
		error         TEXT,
		reported_at   TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hosts_status ON hosts(status);
	CREATE INDEX IF NOT EXISTS idx_reports_host ON load_reports(host_id);
	CREATE INDEX IF NOT EXISTS idx_deployments_current ON deployments(current);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RegisterHost adds or updates a host
func (s *PostgreSQLStore) RegisterHost(host *models.Host) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			session_id = EXCLUDED.session_id,
			cpu_threads = EXCLUDED.cpu_threads,
			cpu_model = EXCLUDED.cpu_model,
			ram_total_bytes = EXCLUDED.ram_total_bytes,
			labels = EXCLUDED.labels,
			modules = EXCLUDED.modules,
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat`,
		host.ID, host.Name, host.Address, host.SessionID, host.CPUThreads, host.CPUModel,
		host.RAMTotalBytes, labels, modules, string(host.Status), host.LastHeartbeat, host.RegisteredAt,
	)
	return err
}

func scanPGHost(scan func(dest ...any) error) (*models.Host, error) {
	var host models.Host
	var labels, modules []byte
	var status string
	err := scan(&host.ID, &host.Name, &host.Address, &host.SessionID, &host.CPUThreads,
		&host.CPUModel, &host.RAMTotalBytes, &labels, &modules, &status,
		&host.LastHeartbeat, &host.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, ErrHostNotFound
	}
	if err != nil {
		return nil, err
	}
	host.Status = models.HostStatus(status)
	if len(labels) > 0 {
		_ = json.Unmarshal(labels, &host.Labels)
	}
	if len(modules) > 0 {
		_ = json.Unmarshal(modules, &host.Modules)
	}
	return &host, nil
}

const pgHostColumns = `id, name, address, session_id, cpu_threads, cpu_model, ram_total_bytes, labels, modules, status, last_heartbeat, registered_at`

// GetHost retrieves a host by ID
func (s *PostgreSQLStore) GetHost(id string) (*models.Host, error) {
	row := s.db.QueryRow(`SELECT `+pgHostColumns+` FROM hosts WHERE id = $1`, id)
	return scanPGHost(row.Scan)
}

// GetHostByAddress retrieves a host by its address
func (s *PostgreSQLStore) GetHostByAddress(address string) (*models.Host, error) {
	row := s.db.QueryRow(`SELECT `+pgHostColumns+` FROM hosts WHERE address = $1`, address)
	return scanPGHost(row.Scan)
}

// GetAllHosts returns all registered hosts
func (s *PostgreSQLStore) GetAllHosts() []*models.Host {
	rows, err := s.db.Query(`SELECT ` + pgHostColumns + ` FROM hosts ORDER BY registered_at`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var hosts []*models.Host
	for rows.Next() {
		host, err := scanPGHost(rows.Scan)
		if err != nil {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}

// UpdateHostStatus updates the status of a host
func (s *PostgreSQLStore) UpdateHostStatus(id string, status models.HostStatus) error {
	res, err := s.db.Exec(`UPDATE hosts SET status = $1, last_heartbeat = $2 WHERE id = $3`,
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
func (s *PostgreSQLStore) UpdateHostHeartbeat(id string) error {
	res, err := s.db.Exec(`UPDATE hosts SET last_heartbeat = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrHostNotFound
	}
	return nil
}

// DeleteHost removes a host
func (s *PostgreSQLStore) DeleteHost(id string) error {
	res, err := s.db.Exec(`DELETE FROM hosts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrHostNotFound
	}
	return nil
}

// PutDeployment records a manifest cut and makes it current
func (s *PostgreSQLStore) PutDeployment(manifest *models.Manifest, comment string) error {
	blob, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE deployments SET current = FALSE`); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO deployments (id, cut_at, asset_count, comment, current, manifest)
		VALUES ($1, $2, $3, $4, TRUE, $5)`,
		manifest.DeploymentID, manifest.CutAt, len(manifest.Assets), comment, blob,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// CurrentManifest returns the manifest of the current deployment
func (s *PostgreSQLStore) CurrentManifest() (*models.Manifest, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT manifest FROM deployments WHERE current = TRUE`).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrDeploymentNotFound
	}
	if err != nil {
		return nil, err
	}

	var m models.Manifest
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

// ListDeployments returns the deployment history, oldest first
func (s *PostgreSQLStore) ListDeployments() ([]*models.Deployment, error) {
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
func (s *PostgreSQLStore) AppendReport(report *models.LoadReport) error {
	_, err := s.db.Exec(`
		INSERT INTO load_reports (id, host_id, session_id, module, kind, deployment_id, version, duration_ms, error, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		report.ID, report.HostID, report.SessionID, report.Module, string(report.Kind),
		report.DeploymentID, report.Version, report.DurationMS, report.Error, report.ReportedAt,
	)
	return err
}

func (s *PostgreSQLStore) queryReports(query string, args ...any) []*models.LoadReport {
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

const pgReportColumns = `id, host_id, session_id, module, kind, deployment_id, version, duration_ms, error, reported_at`

// GetAllReports returns all load reports
func (s *PostgreSQLStore) GetAllReports() []*models.LoadReport {
	return s.queryReports(`SELECT ` + pgReportColumns + ` FROM load_reports ORDER BY reported_at`)
}

// GetReportsByHost returns the reports a single host sent
func (s *PostgreSQLStore) GetReportsByHost(hostID string) []*models.LoadReport {
	return s.queryReports(`SELECT `+pgReportColumns+` FROM load_reports WHERE host_id = $1 ORDER BY reported_at`, hostID)
}

// CountReportsByKind aggregates reports for the metrics endpoint
func (s *PostgreSQLStore) CountReportsByKind() map[models.ReportKind]int {
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
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *PostgreSQLStore) HealthCheck() error {
	return s.db.Ping()
}
