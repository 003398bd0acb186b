package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

const registryFileName = "daemons.json"

// FileRegistry implements domain.DaemonRegistry with a JSON file under the data dir.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRegistry creates a registry at dataDir/daemons.json.
func NewFileRegistry(dataDir string, pm domain.ProcessManager) domain.DaemonRegistry {
	return NewFileRegistryWithPath(filepath.Join(dataDir, registryFileName), pm)
}

// NewFileRegistryWithPath creates a registry at a specific path.
func NewFileRegistryWithPath(path string, pm domain.ProcessManager) domain.DaemonRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
	}
}

// GetRegistryPath returns the registry file path.
func (r *FileRegistry) GetRegistryPath() string {
	return r.path
}

// Register records the daemon's PID and name under its role.
func (r *FileRegistry) Register(daemon domain.Daemon) error {
	return withFileLock(r.path, func() error {
		entry, _ := r.GetAll() // May not exist yet
		if entry == nil {
			entry = &domain.RegistryEntry{Version: 1}
		}

		switch daemon.Role {
		case domain.RoleEngine:
			entry.EnginePID = daemon.PID
			entry.EngineName = daemon.Name
		case domain.RoleGuardian:
			entry.GuardianPID = daemon.PID
			entry.GuardianName = daemon.Name
		default:
			return fmt.Errorf("unknown daemon role %q", daemon.Role)
		}
		entry.LastHeartbeat = time.Now().Unix()
		if daemon.AppVersion != "" {
			entry.AppVersion = daemon.AppVersion
		}
		entry.Mode = string(currentExecMode())

		return r.write(entry)
	})
}

// GetPartner returns the partner daemon (engine<->guardian).
func (r *FileRegistry) GetPartner(role domain.DaemonRole) (*domain.Daemon, error) {
	entry, err := r.GetAll()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("partner of %s not registered", role)
	}

	partnerRole := partnerOf(role)
	pid, name := entry.GuardianPID, entry.GuardianName
	if partnerRole == domain.RoleEngine {
		pid, name = entry.EnginePID, entry.EngineName
	}
	if pid == 0 {
		return nil, fmt.Errorf("partner %s not registered", partnerRole)
	}

	return &domain.Daemon{
		PID:  pid,
		Role: partnerRole,
		Name: name,
	}, nil
}

// UpdateHeartbeat updates the liveness timestamp.
func (r *FileRegistry) UpdateHeartbeat(role domain.DaemonRole) error {
	return withFileLock(r.path, func() error {
		entry, err := r.GetAll()
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("daemon %s not registered", role)
		}
		entry.LastHeartbeat = time.Now().Unix()
		return r.write(entry)
	})
}

// IsPartnerAlive checks if the partner daemon's PID is running.
func (r *FileRegistry) IsPartnerAlive(role domain.DaemonRole) (bool, error) {
	partner, err := r.GetPartner(role)
	if err != nil {
		return false, nil // Partner not registered = not alive
	}
	return r.processManager.IsRunning(partner.PID), nil
}

// GetAll returns the full registry state, or nil if nothing is registered.
func (r *FileRegistry) GetAll() (*domain.RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.RegistryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Clear removes the registry file.
func (r *FileRegistry) Clear() error {
	err := os.Remove(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (r *FileRegistry) write(entry *domain.RegistryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return atomicWriteFile(r.path, data)
}

func partnerOf(role domain.DaemonRole) domain.DaemonRole {
	if role == domain.RoleEngine {
		return domain.RoleGuardian
	}
	return domain.RoleEngine
}

var _ domain.DaemonRegistry = (*FileRegistry)(nil)
