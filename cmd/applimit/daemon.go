package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/config"
	"github.com/eliteGoblin/focusd/app_limit/internal/control"
	"github.com/eliteGoblin/focusd/app_limit/internal/daemon"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
)

// Hidden daemon command - used for self-exec when spawning daemons
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var daemonRole string

func init() {
	daemonCmd.Flags().StringVar(&daemonRole, "role", "", "Daemon role (engine/guardian)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if daemonRole == "" {
		return fmt.Errorf("--role is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	role := domain.DaemonRole(daemonRole)
	d := domain.Daemon{
		PID:        os.Getpid(),
		Role:       role,
		Name:       "applimit-" + daemonRole,
		StartedAt:  time.Now(),
		AppVersion: Version,
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		logger.Error("failed to create data directory", zap.Error(err))
		return err
	}

	pm := infra.NewProcessManager()
	registry, closeRegistry, err := openRegistry(cfg, pm)
	if err != nil {
		logger.Error("failed to open daemon registry", zap.Error(err))
		return err
	}
	defer closeRegistry()

	// The registry may have loaded a per-install plist label, so exec mode
	// paths are resolved after it.
	execMode := infra.DetectExecMode()
	binaryPath := daemon.ResolveBinaryPath(execMode)
	spawn := daemon.NewSpawner(binaryPath, configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	switch role {
	case domain.RoleEngine:
		return runEngine(ctx, cfg, execMode, binaryPath, registry, spawn, d, logger)

	case domain.RoleGuardian:
		guardian := daemon.NewGuardian(
			daemon.GuardianConfig{
				EngineCheckInterval: cfg.Engine.PartnerCheckInterval.Std(),
				HeartbeatInterval:   cfg.Engine.HeartbeatInterval.Std(),
			},
			registry,
			spawn,
			d,
			logger,
		)
		return guardian.Run(ctx)

	default:
		return fmt.Errorf("unknown role: %s", role)
	}
}

// runEngine wires the evaluator, control API and store watcher around the
// engine loop and runs them until ctx is canceled.
func runEngine(
	ctx context.Context,
	cfg *config.Config,
	execMode *infra.ExecModeConfig,
	binaryPath string,
	registry domain.DaemonRegistry,
	spawn daemon.Spawner,
	d domain.Daemon,
	logger *zap.Logger,
) error {
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath()), 0700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	store, err := infra.OpenPolicyStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open policy store", zap.Error(err))
		return err
	}
	defer store.Close()

	runner := &infra.RealCommandRunner{}

	var source infra.ForegroundSource
	if len(cfg.Foreground.Command) > 0 {
		source = infra.NewCommandSource(cfg.Foreground.Command, runner, infra.NewProcessManager())
	}
	tracker := infra.NewForegroundTracker(source)

	evalCfg := usecase.DefaultEvaluatorConfig()
	evalCfg.ResetPeriod = cfg.Engine.ResetPeriod.Std()
	evalCfg.Surfaces = policy.DefaultSurfaces(cfg.Foreground.SystemSurfaces...)

	eval := usecase.NewEvaluator(
		store,
		tracker,
		infra.NewBoardPresenter(cfg.Intervention.NotifyCommand, runner, logger),
		infra.NewCommandManagementOpener(cfg.Intervention.ManagementCommand, runner, logger),
		evalCfg,
		logger,
	)

	// launchd only exists on macOS; elsewhere the host supervises the engine.
	var launchAgent domain.LaunchAgentManager
	if runtime.GOOS == "darwin" {
		launchAgent = infra.NewLaunchdManager(execMode, infra.LaunchdOptions{
			ConfigPath:   configPath,
			LogPath:      cfg.Logging.File,
			ErrorLogPath: cfg.Logging.ErrorFile,
		})
	}

	engine := daemon.NewEngine(
		daemon.EngineConfig{
			TickInterval:         cfg.Engine.TickInterval.Std(),
			HeartbeatInterval:    cfg.Engine.HeartbeatInterval.Std(),
			PartnerCheckInterval: cfg.Engine.PartnerCheckInterval.Std(),
			PlistCheckInterval:   cfg.Engine.PlistCheckInterval.Std(),
			ExecPath:             binaryPath,
		},
		eval,
		registry,
		launchAgent,
		spawn,
		d,
		logger,
	)

	server := control.NewServer(cfg.Control.Address, control.Deps{
		Engine:    engine,
		Evaluator: eval,
		Feed:      tracker,
		Store:     store,
		Registry:  registry,
	}, logger)

	watcher := infra.NewStoreWatcher(cfg.StorePath(), func() {
		if err := eval.PoliciesChanged(); err != nil {
			logger.Warn("failed to reload policies", zap.Error(err))
		}
	}, logger)

	logger.Info("engine starting",
		zap.String("version", Version),
		zap.String("store", cfg.StorePath()),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("control", cfg.Control.Address),
		zap.Bool("foreground_command", source != nil))

	return daemon.RunServices(ctx, logger,
		daemon.Service{Name: "engine", Run: engine.Run},
		daemon.Service{Name: "control", Run: server.Run},
		daemon.Service{Name: "store-watcher", Run: watcher.Run},
	)
}

// openRegistry opens the configured daemon registry. On macOS the
// per-install launchd label is also loaded from the encrypted secret store,
// which doubles as the registry when that backend is selected.
func openRegistry(cfg *config.Config, pm domain.ProcessManager) (domain.DaemonRegistry, func(), error) {
	encrypted := cfg.Registry.Backend == config.RegistryEncrypted
	if !encrypted && runtime.GOOS != "darwin" {
		return infra.NewFileRegistry(cfg.DataDir, pm), func() {}, nil
	}

	key, err := infra.EnsureKey(infra.NewFileKeyProvider(cfg.DataDir))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load registry key: %w", err)
	}
	secrets, err := infra.NewEncryptedRegistry(cfg.DataDir, key, pm)
	if err != nil {
		return nil, nil, err
	}
	if _, err := infra.EnsurePlistLabel(secrets); err != nil {
		secrets.Close()
		return nil, nil, err
	}

	if !encrypted {
		secrets.Close()
		return infra.NewFileRegistry(cfg.DataDir, pm), func() {}, nil
	}
	return secrets, func() { _ = secrets.Close() }, nil
}
