package daemon

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
)

// Spawner starts a detached daemon process for a role.
type Spawner func(role domain.DaemonRole) error

// NewSpawner returns a Spawner that re-executes binaryPath with the hidden
// daemon command. configPath is forwarded when set.
func NewSpawner(binaryPath, configPath string) Spawner {
	return func(role domain.DaemonRole) error {
		return StartDaemonWithPath(binaryPath, configPath, role)
	}
}

// ResolveBinaryPath returns the installed binary for the exec mode, falling
// back to the running executable when nothing is installed there yet.
func ResolveBinaryPath(mode *infra.ExecModeConfig) string {
	if mode != nil {
		if _, err := os.Stat(mode.BinaryPath); err == nil {
			return mode.BinaryPath
		}
	}
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	if mode != nil {
		return mode.BinaryPath
	}
	return ""
}

// StartDaemonWithPath spawns a daemon process from binaryPath.
// The daemon is detached from the parent process (runs independently).
func StartDaemonWithPath(binaryPath, configPath string, role domain.DaemonRole) error {
	cmd := exec.Command(binaryPath, daemonArgs(role, configPath)...)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // New session, detached from the terminal
	}

	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	return cmd.Start()
}

// daemonArgs builds the hidden command line: applimit daemon --role engine [--config path].
func daemonArgs(role domain.DaemonRole, configPath string) []string {
	args := []string{"daemon", "--role", string(role)}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

// StartBothDaemons starts the engine and then the guardian.
func StartBothDaemons(spawn Spawner) error {
	if err := spawn(domain.RoleEngine); err != nil {
		return err
	}
	return spawn(domain.RoleGuardian)
}
