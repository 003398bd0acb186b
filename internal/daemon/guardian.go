package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// GuardianConfig holds guardian daemon configuration.
type GuardianConfig struct {
	EngineCheckInterval time.Duration // How often to check the engine
	HeartbeatInterval   time.Duration // How often to update heartbeat
}

// DefaultGuardianConfig returns default guardian configuration.
func DefaultGuardianConfig() GuardianConfig {
	return GuardianConfig{
		EngineCheckInterval: 30 * time.Second,
		HeartbeatInterval:   30 * time.Second,
	}
}

// Guardian monitors the engine daemon and restarts it if killed.
type Guardian struct {
	config   GuardianConfig
	registry domain.DaemonRegistry
	spawn    Spawner
	logger   *zap.Logger
	daemon   domain.Daemon
}

// NewGuardian creates a new guardian daemon.
func NewGuardian(
	config GuardianConfig,
	registry domain.DaemonRegistry,
	spawn Spawner,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Guardian {
	return &Guardian{
		config:   config,
		registry: registry,
		spawn:    spawn,
		daemon:   daemon,
		logger:   logger,
	}
}

// Run starts the guardian daemon loop.
// This blocks until context is canceled.
func (g *Guardian) Run(ctx context.Context) error {
	if err := g.registry.Register(g.daemon); err != nil {
		g.logger.Error("failed to register guardian", zap.Error(err))
		return err
	}

	g.logger.Info("guardian daemon started", zap.Int("pid", g.daemon.PID))

	engineCheckTicker := time.NewTicker(g.config.EngineCheckInterval)
	heartbeatTicker := time.NewTicker(g.config.HeartbeatInterval)

	defer func() {
		engineCheckTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("guardian daemon stopping")
			return ctx.Err()

		case <-engineCheckTicker.C:
			g.checkAndRestartEngine()

		case <-heartbeatTicker.C:
			if err := g.registry.UpdateHeartbeat(domain.RoleGuardian); err != nil {
				g.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// checkAndRestartEngine checks if the engine is alive and restarts it if needed.
func (g *Guardian) checkAndRestartEngine() {
	alive, err := g.registry.IsPartnerAlive(domain.RoleGuardian)
	if err != nil {
		g.logger.Debug("no engine registered yet")
		return
	}

	if !alive {
		g.logger.Info("engine not running, restarting...")
		if err := g.spawn(domain.RoleEngine); err != nil {
			g.logger.Error("failed to restart engine", zap.Error(err))
		} else {
			g.logger.Info("engine restarted successfully")
		}
	}
}
