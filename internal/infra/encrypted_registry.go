package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

const encryptedRegistryName = "registry.db"

const encryptedSchema = `
CREATE TABLE IF NOT EXISTS daemons (
	role TEXT PRIMARY KEY,
	pid INTEGER NOT NULL,
	name TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	heartbeat INTEGER NOT NULL,
	app_version TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS secrets (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// EncryptedRegistry implements domain.DaemonRegistry and domain.SecretStore
// on a SQLCipher database keyed by a KeyProvider.
type EncryptedRegistry struct {
	db             *sql.DB
	dbPath         string
	processManager domain.ProcessManager
}

// NewEncryptedRegistry opens (or creates) dataDir/registry.db with key.
func NewEncryptedRegistry(dataDir string, key []byte, pm domain.ProcessManager) (*EncryptedRegistry, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, encryptedRegistryName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// A wrong key surfaces on the first real query, not on open.
	if _, err := db.Exec(encryptedSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise encrypted registry: %w", err)
	}

	return &EncryptedRegistry{
		db:             db,
		dbPath:         dbPath,
		processManager: pm,
	}, nil
}

// Register records the daemon under its role.
func (r *EncryptedRegistry) Register(daemon domain.Daemon) error {
	if daemon.Role != domain.RoleEngine && daemon.Role != domain.RoleGuardian {
		return fmt.Errorf("unknown daemon role %q", daemon.Role)
	}
	now := time.Now()
	started := daemon.StartedAt
	if started.IsZero() {
		started = now
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO daemons (role, pid, name, started_at, heartbeat, app_version)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(daemon.Role), daemon.PID, daemon.Name, started.Unix(), now.Unix(), daemon.AppVersion,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('mode', ?)`,
		string(currentExecMode())); err != nil {
		return err
	}
	if daemon.AppVersion != "" {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES ('app_version', ?)`,
			daemon.AppVersion); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetPartner returns the partner daemon (engine<->guardian).
func (r *EncryptedRegistry) GetPartner(role domain.DaemonRole) (*domain.Daemon, error) {
	partnerRole := partnerOf(role)

	var (
		pid     int
		name    string
		started int64
		version string
	)
	err := r.db.QueryRow(`SELECT pid, name, started_at, app_version FROM daemons WHERE role = ?`,
		string(partnerRole)).Scan(&pid, &name, &started, &version)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && pid == 0) {
		return nil, fmt.Errorf("partner %s not registered", partnerRole)
	}
	if err != nil {
		return nil, err
	}

	return &domain.Daemon{
		PID:        pid,
		Role:       partnerRole,
		Name:       name,
		StartedAt:  time.Unix(started, 0),
		AppVersion: version,
	}, nil
}

// UpdateHeartbeat updates the liveness timestamp of role.
func (r *EncryptedRegistry) UpdateHeartbeat(role domain.DaemonRole) error {
	result, err := r.db.Exec(`UPDATE daemons SET heartbeat = ? WHERE role = ?`,
		time.Now().Unix(), string(role))
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("daemon %s not registered", role)
	}
	return nil
}

// IsPartnerAlive checks if the partner daemon's PID is running.
func (r *EncryptedRegistry) IsPartnerAlive(role domain.DaemonRole) (bool, error) {
	partner, err := r.GetPartner(role)
	if err != nil {
		return false, nil // Partner not registered = not alive
	}
	return r.processManager.IsRunning(partner.PID), nil
}

// GetAll maps the daemon rows onto a RegistryEntry. Nil when empty.
func (r *EncryptedRegistry) GetAll() (*domain.RegistryEntry, error) {
	rows, err := r.db.Query(`SELECT role, pid, name, heartbeat, app_version FROM daemons`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entry := &domain.RegistryEntry{Version: 1}
	found := false
	for rows.Next() {
		var (
			role, name, version string
			pid                 int
			heartbeat           int64
		)
		if err := rows.Scan(&role, &pid, &name, &heartbeat, &version); err != nil {
			return nil, err
		}
		found = true
		switch domain.DaemonRole(role) {
		case domain.RoleEngine:
			entry.EnginePID, entry.EngineName = pid, name
			entry.AppVersion = version
		case domain.RoleGuardian:
			entry.GuardianPID, entry.GuardianName = pid, name
		}
		if heartbeat > entry.LastHeartbeat {
			entry.LastHeartbeat = heartbeat
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var mode string
	if err := r.db.QueryRow(`SELECT value FROM meta WHERE key = 'mode'`).Scan(&mode); err == nil {
		entry.Mode = mode
	}
	return entry, nil
}

// Clear removes all daemon state. Secrets survive.
func (r *EncryptedRegistry) Clear() error {
	if _, err := r.db.Exec(`DELETE FROM daemons`); err != nil {
		return err
	}
	_, err := r.db.Exec(`DELETE FROM meta WHERE key IN ('mode', 'app_version')`)
	return err
}

// GetRegistryPath returns the database file path.
func (r *EncryptedRegistry) GetRegistryPath() string {
	return r.dbPath
}

// GetSecret retrieves a secret by key.
func (r *EncryptedRegistry) GetSecret(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return value, err
}

// SetSecret stores a secret.
func (r *EncryptedRegistry) SetSecret(key, value string) error {
	_, err := r.db.Exec(`INSERT OR REPLACE INTO secrets (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix())
	return err
}

// GetAllSecrets returns all stored secrets.
func (r *EncryptedRegistry) GetAllSecrets() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT key, value FROM secrets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	secrets := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		secrets[k] = v
	}
	return secrets, rows.Err()
}

// Close releases the database connection. Safe to call twice.
func (r *EncryptedRegistry) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

var (
	_ domain.DaemonRegistry = (*EncryptedRegistry)(nil)
	_ domain.SecretStore    = (*EncryptedRegistry)(nil)
)
