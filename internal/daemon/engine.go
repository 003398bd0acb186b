// Package daemon implements the engine and guardian daemons.
package daemon

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
)

// Evaluator is the per-tick policy logic driven by the engine.
type Evaluator interface {
	DailyReset(ctx context.Context) (bool, error)
	Evaluate(ctx context.Context) domain.TickResult
	ResetCounters(packageID string) error
}

// EngineConfig holds engine daemon configuration.
type EngineConfig struct {
	TickInterval         time.Duration // Evaluation period (about 1 Hz)
	HeartbeatInterval    time.Duration // How often to update heartbeat
	PartnerCheckInterval time.Duration // How often to check guardian
	PlistCheckInterval   time.Duration // How often to check the launchd plist
	ExecPath             string        // Binary the plist points at; os.Executable() when empty
}

// DefaultEngineConfig returns default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:         policy.DefaultTickInterval,
		HeartbeatInterval:    30 * time.Second,
		PartnerCheckInterval: 60 * time.Second,
		PlistCheckInterval:   60 * time.Second,
	}
}

// Engine is the main enforcement daemon.
// It runs the daily reset sweep and one evaluation pass per tick.
// It also monitors the guardian daemon and restarts it if needed.
// It also protects the launchd plist, restoring it if deleted or modified.
type Engine struct {
	config      EngineConfig
	evaluator   Evaluator
	registry    domain.DaemonRegistry     // optional
	launchAgent domain.LaunchAgentManager // optional
	spawn       Spawner                   // optional
	logger      *zap.Logger
	daemon      domain.Daemon

	running atomic.Bool
	ticks   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// NewEngine creates a new engine daemon.
func NewEngine(
	config EngineConfig,
	evaluator Evaluator,
	registry domain.DaemonRegistry,
	launchAgent domain.LaunchAgentManager,
	spawn Spawner,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:      config,
		evaluator:   evaluator,
		registry:    registry,
		launchAgent: launchAgent,
		spawn:       spawn,
		daemon:      daemon,
		logger:      logger,
	}
}

// Run starts the engine loop.
// This blocks until context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return domain.ErrEngineRunning
	}
	defer e.running.Store(false)

	if e.registry != nil {
		if err := e.registry.Register(e.daemon); err != nil {
			e.logger.Error("failed to register engine", zap.Error(err))
			return err
		}
	}

	e.logger.Info("engine daemon started",
		zap.Int("pid", e.daemon.PID),
		zap.Duration("tick", e.config.TickInterval))

	// Policies are reloaded from the store on the first tick.
	e.tick(ctx)
	e.ensurePlistInstalled()

	// A time.Ticker drops ticks the loop is too slow to receive, so an
	// overrunning pass never queues a burst of catch-up evaluations.
	tickTicker := time.NewTicker(e.config.TickInterval)
	heartbeatTicker := time.NewTicker(e.config.HeartbeatInterval)
	partnerCheckTicker := time.NewTicker(e.config.PartnerCheckInterval)
	plistCheckTicker := time.NewTicker(e.config.PlistCheckInterval)

	defer func() {
		tickTicker.Stop()
		heartbeatTicker.Stop()
		partnerCheckTicker.Stop()
		plistCheckTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine daemon stopping", zap.Int64("ticks", e.ticks.Load()))
			return ctx.Err()

		case <-tickTicker.C:
			e.tick(ctx)

		case <-heartbeatTicker.C:
			if e.registry == nil {
				continue
			}
			if err := e.registry.UpdateHeartbeat(domain.RoleEngine); err != nil {
				e.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-partnerCheckTicker.C:
			e.checkAndRestartGuardian()

		case <-plistCheckTicker.C:
			e.ensurePlistInstalled()
		}
	}
}

// Start runs the engine loop in the background.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil || e.running.Load() {
		return domain.ErrEngineRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	e.cancel = cancel
	e.done = done

	go func() {
		done <- e.Run(runCtx)
	}()
	return nil
}

// Stop ends a loop started with Start and waits for it to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return domain.ErrEngineNotRunning
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ResetCounters clears the counters and timers of one package.
func (e *Engine) ResetCounters(packageID string) error {
	if !e.running.Load() {
		return domain.ErrEngineNotRunning
	}
	return e.evaluator.ResetCounters(packageID)
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Ticks returns the number of completed evaluation passes.
func (e *Engine) Ticks() int64 {
	return e.ticks.Load()
}

// tick runs the daily reset sweep and one evaluation pass.
func (e *Engine) tick(ctx context.Context) {
	if _, err := e.evaluator.DailyReset(ctx); err != nil {
		e.logger.Warn("daily reset failed", zap.Error(err))
	}

	res := e.evaluator.Evaluate(ctx)
	e.ticks.Add(1)

	if over := time.Duration(res.DurationMs) * time.Millisecond; over > e.config.TickInterval {
		e.logger.Warn("evaluation overran tick interval",
			zap.Duration("took", over),
			zap.Duration("interval", e.config.TickInterval))
	}
	if len(res.Errors) > 0 {
		e.logger.Debug("tick completed with errors", zap.Errors("errors", res.Errors))
	}
}

// checkAndRestartGuardian checks if guardian is alive and restarts if needed.
func (e *Engine) checkAndRestartGuardian() {
	if e.registry == nil || e.spawn == nil {
		return
	}
	alive, err := e.registry.IsPartnerAlive(domain.RoleEngine)
	if err != nil {
		e.logger.Debug("no guardian registered yet")
		return
	}

	if !alive {
		e.logger.Info("guardian not running, restarting...")
		if err := e.spawn(domain.RoleGuardian); err != nil {
			e.logger.Error("failed to restart guardian", zap.Error(err))
		} else {
			e.logger.Info("guardian restarted successfully")
		}
	}
}

// ensurePlistInstalled restores the launchd plist if deleted and rewrites it
// if its content drifted.
func (e *Engine) ensurePlistInstalled() {
	if e.launchAgent == nil {
		return
	}

	execPath := e.config.ExecPath
	if execPath == "" {
		var err error
		execPath, err = os.Executable()
		if err != nil {
			e.logger.Error("failed to get executable path", zap.Error(err))
			return
		}
	}

	if !e.launchAgent.IsInstalled() {
		e.logger.Info("launchd plist missing, restoring...")
		if err := e.launchAgent.Install(execPath); err != nil {
			e.logger.Error("failed to restore launchd plist", zap.Error(err))
		} else {
			e.logger.Info("launchd plist restored successfully")
		}
	} else if e.launchAgent.NeedsUpdate(execPath) {
		e.logger.Info("launchd plist outdated, updating...")
		if err := e.launchAgent.Update(execPath); err != nil {
			e.logger.Error("failed to update launchd plist", zap.Error(err))
		} else {
			e.logger.Info("launchd plist updated successfully")
		}
	}
}
