package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_limit/internal/control"
	"github.com/eliteGoblin/focusd/app_limit/internal/daemon"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start enforcement (launches engine and guardian daemons)",
	Long: `Starts both the engine and guardian daemons.
The engine evaluates app policies about once a second and serves the local
control API used by the overlay. The guardian restarts the engine if it is
killed, and the engine does the same for the guardian.

On macOS this also installs a LaunchAgent to auto-start on login.`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop both daemons",
	Long: `Terminates the guardian and then the engine and clears the daemon registry.
Use --uninstall to also remove the launchd plist.`,
	RunE: runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check engine status",
	Long:  `Shows whether the daemons are running, the foreground app, and any active intervention.`,
	RunE:  runStatus,
}

var uninstallPlist bool

func init() {
	stopCmd.Flags().BoolVar(&uninstallPlist, "uninstall", false, "Also remove the launchd plist")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	pm := infra.NewProcessManager()
	registry, closeRegistry, err := openRegistry(cfg, pm)
	if err != nil {
		return err
	}
	defer closeRegistry()

	execMode := infra.DetectExecMode()

	fmt.Printf("Execution mode: %s\n", execMode.Mode)
	if execMode.IsRoot {
		fmt.Println("Running as root - will install as LaunchDaemon (system-wide)")
	} else {
		fmt.Println("Running as user - will install as LaunchAgent (user-space)")
	}

	entry, _ := registry.GetAll()
	if entry != nil && pm.IsRunning(entry.EnginePID) && pm.IsRunning(entry.GuardianPID) {
		fmt.Println("applimit is already running")
		return nil
	}

	currentExecPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	binaryPath := execMode.BinaryPath
	if currentExecPath != binaryPath {
		if err := os.MkdirAll(filepath.Dir(binaryPath), 0755); err != nil {
			fmt.Printf("Warning: Could not create binary directory: %v\n", err)
			binaryPath = currentExecPath
		} else if err := copyBinary(currentExecPath, binaryPath); err != nil {
			fmt.Printf("Warning: Could not copy binary to %s: %v\n", binaryPath, err)
			binaryPath = currentExecPath
		} else {
			fmt.Printf("Installed binary to %s\n", binaryPath)
		}
	}

	if runtime.GOOS == "darwin" {
		launchdManager := infra.NewLaunchdManager(execMode, infra.LaunchdOptions{
			ConfigPath:   configPath,
			LogPath:      cfg.Logging.File,
			ErrorLogPath: cfg.Logging.ErrorFile,
		})
		if !launchdManager.IsInstalled() {
			if err := launchdManager.Install(binaryPath); err != nil {
				fmt.Printf("Warning: Could not install %s: %v\n", execMode.Mode, err)
				fmt.Println("         (applimit will still run, but won't auto-start)")
			} else {
				fmt.Printf("Installed %s\n", launchdManager.GetPlistPath())
			}
		}
	}

	if err := daemon.StartBothDaemons(daemon.NewSpawner(binaryPath, configPath)); err != nil {
		return fmt.Errorf("failed to start daemons: %w", err)
	}

	// Wait a moment for daemons to register
	time.Sleep(500 * time.Millisecond)

	fmt.Println("\n=== applimit Started ===")
	fmt.Printf("Binary: %s\n", binaryPath)
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("Store: %s (%s)\n", cfg.StorePath(), cfg.Store.Backend)
	fmt.Printf("Control API: http://%s\n", cfg.Control.Address)
	fmt.Println("\nRun 'applimit overlay' in a terminal to show interventions.")
	fmt.Println("========================")
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	registry, closeRegistry, err := openRegistry(cfg, pm)
	if err != nil {
		return err
	}
	defer closeRegistry()

	entry, err := registry.GetAll()
	if err != nil || entry == nil {
		fmt.Println("applimit is not running")
		return nil
	}

	// The guardian goes first so it cannot respawn the engine.
	for _, target := range []struct {
		role domain.DaemonRole
		pid  int
	}{
		{domain.RoleGuardian, entry.GuardianPID},
		{domain.RoleEngine, entry.EnginePID},
	} {
		if target.pid == 0 || !pm.IsRunning(target.pid) {
			continue
		}
		if err := pm.Terminate(target.pid); err != nil {
			fmt.Printf("Warning: could not stop %s (pid %d): %v\n", target.role, target.pid, err)
			continue
		}
		fmt.Printf("Stopped %s (pid %d)\n", target.role, target.pid)
	}

	if err := registry.Clear(); err != nil {
		return fmt.Errorf("failed to clear registry: %w", err)
	}

	if uninstallPlist && runtime.GOOS == "darwin" {
		launchdManager := infra.NewLaunchdManager(infra.DetectExecMode(), infra.LaunchdOptions{})
		if err := launchdManager.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall plist: %w", err)
		}
		fmt.Println("Removed launchd plist")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	registry, closeRegistry, err := openRegistry(cfg, pm)
	if err != nil {
		return err
	}
	defer closeRegistry()

	fmt.Println("\n=== applimit Status ===")

	entry, err := registry.GetAll()
	if err != nil || entry == nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'applimit start' to enable enforcement.")
		return nil
	}

	engineAlive := pm.IsRunning(entry.EnginePID)
	guardianAlive := pm.IsRunning(entry.GuardianPID)

	switch {
	case engineAlive && guardianAlive:
		fmt.Println("Status: RUNNING")
	case engineAlive || guardianAlive:
		fmt.Println("Status: DEGRADED")
		if !engineAlive {
			fmt.Println("        Engine is down (will be restarted by guardian)")
		}
		if !guardianAlive {
			fmt.Println("        Guardian is down (will be restarted by engine)")
		}
	default:
		fmt.Println("Status: NOT RUNNING")
	}

	if entry.AppVersion != "" {
		fmt.Printf("Version: %s\n", entry.AppVersion)
	}
	if entry.LastHeartbeat > 0 {
		lastBeat := time.Unix(entry.LastHeartbeat, 0)
		fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	st, err := control.NewClient(cfg.Control.Address).Status(ctx)
	if err != nil {
		fmt.Printf("\nControl API: unreachable (%v)\n", err)
		fmt.Println("=======================")
		return nil
	}

	fmt.Printf("\nTicks: %d (last took %dms)\n", st.Ticks, st.LastTickMs)
	switch {
	case st.Foreground == "":
		fmt.Println("Foreground: unknown")
	case st.InBackground:
		fmt.Printf("Foreground: %s (system surface)\n", st.Foreground)
	default:
		fmt.Printf("Foreground: %s\n", st.Foreground)
	}
	if st.SessionStart != nil && !st.InBackground {
		fmt.Printf("Session: %s\n", time.Since(*st.SessionStart).Round(time.Second))
	}
	if st.LastReset != nil {
		fmt.Printf("Last reset: %s\n", st.LastReset.Local().Format(time.RFC1123))
	}
	if st.Active != nil {
		fmt.Printf("Active intervention: %s (%s)\n", st.Active.PackageID, st.Active.Mode)
	} else {
		fmt.Println("Active intervention: none")
	}

	fmt.Println("\nPolicies:")
	printPolicies(st.Policies)
	fmt.Println("=======================")
	return nil
}
