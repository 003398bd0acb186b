package domain

import (
	"context"
	"time"
)

// Commit is a single durable write of the policy collection plus markers.
type Commit struct {
	Policies      []AppPolicy          // nil leaves the stored collection untouched
	LastReset     *time.Time           // nil leaves the stored reset marker untouched
	LaunchMarkers map[string]time.Time // merged into the stored markers
}

// PolicyStore is the durable owner of monitored-app policies and engine bookkeeping.
// Every write is a full replace of the collection; callers load immediately
// before mutating. The management UI writes the same store (last writer wins).
type PolicyStore interface {
	// Load returns all policies. Malformed records are skipped individually.
	Load() ([]AppPolicy, error)

	// SaveAll atomically replaces the full collection.
	SaveAll(policies []AppPolicy) error

	// LastResetTime returns the last daily reset (zero if never reset).
	LastResetTime() (time.Time, error)

	// SetLastResetTime stores the last daily reset.
	SetLastResetTime(t time.Time) error

	// LastLaunchEvent returns the newest processed launch event for a package.
	LastLaunchEvent(packageID string) (time.Time, error)

	// SetLastLaunchEvent stores the newest processed launch event for a package.
	SetLastLaunchEvent(packageID string, t time.Time) error

	// Commit writes policies and markers in one durable write.
	Commit(c Commit) error

	// Close releases resources.
	Close() error
}

// ForegroundObserver reports which package owns the foreground.
// Implemented by the host platform adapter.
type ForegroundObserver interface {
	// CurrentForeground returns the foreground package; ok is false when unknown.
	CurrentForeground(ctx context.Context) (pkg string, ok bool, err error)

	// ForegroundEventsSince returns transitions to pkg in a later millisecond
	// than since, oldest first.
	ForegroundEventsSince(ctx context.Context, pkg string, since time.Time) ([]time.Time, error)
}

// InterventionPresenter renders the blocking overlay.
// At most one presentation is active; Present while active is a no-op.
type InterventionPresenter interface {
	Present(iv Intervention) error
	Dismiss() error
}

// InterventionHandler receives user actions reported by the presenter surface.
type InterventionHandler interface {
	// Active returns the presented intervention, or nil.
	Active() *Intervention

	// Dismiss removes a plain intervention. Not allowed in password mode.
	Dismiss() error

	// SubmitPassword checks a candidate; correct dismisses and resets counters.
	SubmitPassword(candidate string) (bool, error)

	// ForgotPassword dismisses without resetting and redirects to management.
	ForgotPassword() error
}

// ManagementOpener redirects the user to the policy management surface.
type ManagementOpener interface {
	OpenManagement(packageID string) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// NameOf returns the executable name of a PID.
	NameOf(pid int) (string, error)

	// Terminate sends SIGTERM to a process.
	Terminate(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry provides daemon discovery and registration.
// Engine and guardian find each other via PIDs stored in the registry.
type DaemonRegistry interface {
	// Register saves current daemon's PID and name.
	Register(daemon Daemon) error

	// GetPartner returns the partner daemon info (engine<->guardian).
	GetPartner(role DaemonRole) (*Daemon, error)

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat(role DaemonRole) error

	// IsPartnerAlive checks if partner daemon is running via PID.
	IsPartnerAlive(role DaemonRole) (bool, error)

	// GetAll returns full registry state (for status command).
	GetAll() (*RegistryEntry, error)

	// Clear removes registry state (for clean restart).
	Clear() error

	// GetRegistryPath returns the registry location (for tests).
	GetRegistryPath() string
}

// LaunchAgentManager handles macOS LaunchAgent plist operations.
type LaunchAgentManager interface {
	// Install creates and loads the LaunchAgent plist.
	Install(execPath string) error

	// Uninstall unloads and removes the LaunchAgent plist.
	Uninstall() error

	// IsInstalled checks if LaunchAgent is installed.
	IsInstalled() bool

	// GetPlistPath returns the plist file path.
	GetPlistPath() string

	// NeedsUpdate checks if plist exists but has different content than expected.
	NeedsUpdate(execPath string) bool

	// Update unloads, updates plist content, and reloads.
	Update(execPath string) error
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// SecretStore provides encrypted persistent storage for secrets.
type SecretStore interface {
	GetSecret(key string) (string, error)
	SetSecret(key, value string) error
	GetAllSecrets() (map[string]string, error)
	Close() error
}
