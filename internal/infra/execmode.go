package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode says whether applimit runs as a per-user agent or a system daemon.
type ExecMode string

const (
	// ExecModeUser runs as user with a LaunchAgent (no sudo required)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with a LaunchDaemon (sudo required)
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	BinaryPath string // Where the binary is installed
	PlistDir   string
	PlistPath  string
	DataDir    string // Policy store, key, and encrypted registry
	IsRoot     bool
}

// DefaultLaunchdLabel is used until a per-install label is loaded from the secret store.
const DefaultLaunchdLabel = "com.applimit.engine"

var launchdLabel = DefaultLaunchdLabel

// SetLaunchdLabel overrides the plist label.
func SetLaunchdLabel(label string) {
	launchdLabel = label
}

// GetLaunchdLabel returns the currently active plist label.
func GetLaunchdLabel() string {
	return launchdLabel
}

// DetectExecMode determines the execution mode from the effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return &ExecModeConfig{
			Mode:       ExecModeSystem,
			BinaryPath: "/usr/local/bin/applimit",
			PlistDir:   "/Library/LaunchDaemons",
			PlistPath:  filepath.Join("/Library/LaunchDaemons", launchdLabel+".plist"),
			DataDir:    "/var/lib/applimit",
			IsRoot:     true,
		}
	}
	return userModeConfig(GetRealUserHome())
}

// GetUserModeConfig returns user mode config regardless of current euid.
// Used when installing with sudo for the invoking user (--mode user).
func GetUserModeConfig() *ExecModeConfig {
	cfg := userModeConfig(GetRealUserHome())
	cfg.IsRoot = os.Geteuid() == 0
	return cfg
}

func userModeConfig(home string) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		BinaryPath: filepath.Join(home, ".local", "bin", "applimit"),
		PlistDir:   filepath.Join(home, "Library", "LaunchAgents"),
		PlistPath:  filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"),
		DataDir:    filepath.Join(home, ".applimit"),
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (LaunchDaemon, root)"
	case ExecModeUser:
		return "user (LaunchAgent, non-root)"
	default:
		return "unknown"
	}
}

func currentExecMode() ExecMode {
	if os.Geteuid() == 0 {
		return ExecModeSystem
	}
	return ExecModeUser
}

// GetRealUserHome returns the invoking user's home, even under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
