package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
)

// fakeEvaluator counts calls made by the engine.
type fakeEvaluator struct {
	resets    atomic.Int32
	evals     atomic.Int32
	resetErr  error
	mu        sync.Mutex
	resetPkgs []string
}

func (f *fakeEvaluator) DailyReset(ctx context.Context) (bool, error) {
	f.resets.Add(1)
	return false, f.resetErr
}

func (f *fakeEvaluator) Evaluate(ctx context.Context) domain.TickResult {
	f.evals.Add(1)
	return domain.TickResult{At: time.Now()}
}

func (f *fakeEvaluator) ResetCounters(packageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetPkgs = append(f.resetPkgs, packageID)
	return nil
}

// fakeRegistry implements domain.DaemonRegistry in memory.
type fakeRegistry struct {
	mu          sync.Mutex
	registered  []domain.Daemon
	heartbeats  int
	partnerLive bool
	partnerErr  error
	registerErr error
}

func (r *fakeRegistry) Register(d domain.Daemon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	r.registered = append(r.registered, d)
	return nil
}

func (r *fakeRegistry) GetPartner(role domain.DaemonRole) (*domain.Daemon, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRegistry) UpdateHeartbeat(role domain.DaemonRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	return nil
}

func (r *fakeRegistry) IsPartnerAlive(role domain.DaemonRole) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partnerLive, r.partnerErr
}

func (r *fakeRegistry) GetAll() (*domain.RegistryEntry, error) { return &domain.RegistryEntry{}, nil }
func (r *fakeRegistry) Clear() error                           { return nil }
func (r *fakeRegistry) GetRegistryPath() string                { return "" }

func (r *fakeRegistry) heartbeatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats
}

// fakeLaunchAgent implements domain.LaunchAgentManager.
type fakeLaunchAgent struct {
	mu        sync.Mutex
	installed bool
	stale     bool
	installs  []string
	updates   []string
}

func (f *fakeLaunchAgent) Install(execPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = true
	f.installs = append(f.installs, execPath)
	return nil
}

func (f *fakeLaunchAgent) Uninstall() error { return nil }

func (f *fakeLaunchAgent) IsInstalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed
}

func (f *fakeLaunchAgent) GetPlistPath() string { return "/tmp/test.plist" }

func (f *fakeLaunchAgent) NeedsUpdate(execPath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stale
}

func (f *fakeLaunchAgent) Update(execPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale = false
	f.updates = append(f.updates, execPath)
	return nil
}

// spawnRecorder records spawned roles.
type spawnRecorder struct {
	mu    sync.Mutex
	roles []domain.DaemonRole
}

func (s *spawnRecorder) spawn(role domain.DaemonRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = append(s.roles, role)
	return nil
}

func (s *spawnRecorder) spawned() []domain.DaemonRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DaemonRole(nil), s.roles...)
}

func fastEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:         5 * time.Millisecond,
		HeartbeatInterval:    5 * time.Millisecond,
		PartnerCheckInterval: 5 * time.Millisecond,
		PlistCheckInterval:   5 * time.Millisecond,
		ExecPath:             "/usr/local/bin/applimit",
	}
}

func TestDefaultEngineConfig(t *testing.T) {
	config := DefaultEngineConfig()

	assert.Equal(t, policy.DefaultTickInterval, config.TickInterval)
	assert.Equal(t, 30*time.Second, config.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, config.PartnerCheckInterval)
	assert.Equal(t, 60*time.Second, config.PlistCheckInterval)
}

func TestDefaultGuardianConfig(t *testing.T) {
	config := DefaultGuardianConfig()

	assert.Equal(t, 30*time.Second, config.EngineCheckInterval)
	assert.Equal(t, 30*time.Second, config.HeartbeatInterval)
}

func TestEngine_TicksResetThenEvaluate(t *testing.T) {
	eval := &fakeEvaluator{resetErr: errors.New("store busy")}
	engine := NewEngine(fastEngineConfig(), eval, nil, nil, nil, domain.Daemon{PID: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	assert.Eventually(t, func() bool { return engine.Ticks() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, engine.Running())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, engine.Running())
	assert.Equal(t, eval.resets.Load(), eval.evals.Load(), "every pass runs the reset sweep first")
}

func TestEngine_StartStop(t *testing.T) {
	eval := &fakeEvaluator{}
	engine := NewEngine(fastEngineConfig(), eval, nil, nil, nil, domain.Daemon{PID: 1}, zap.NewNop())

	assert.ErrorIs(t, engine.ResetCounters("com.app"), domain.ErrEngineNotRunning)
	assert.ErrorIs(t, engine.Stop(), domain.ErrEngineNotRunning)

	require.NoError(t, engine.Start(context.Background()))
	assert.ErrorIs(t, engine.Start(context.Background()), domain.ErrEngineRunning)
	assert.Eventually(t, engine.Running, time.Second, time.Millisecond)

	require.NoError(t, engine.ResetCounters("com.app"))
	assert.Equal(t, []string{"com.app"}, eval.resetPkgs)

	require.NoError(t, engine.Stop())
	assert.False(t, engine.Running())

	// Restartable after stop.
	require.NoError(t, engine.Start(context.Background()))
	require.NoError(t, engine.Stop())
}

func TestEngine_RegistersAndRestartsGuardian(t *testing.T) {
	registry := &fakeRegistry{partnerLive: false}
	spawner := &spawnRecorder{}
	engine := NewEngine(fastEngineConfig(), &fakeEvaluator{}, registry, nil, spawner.spawn,
		domain.Daemon{PID: 42, Role: domain.RoleEngine}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = engine.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(spawner.spawned()) > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, domain.RoleGuardian, spawner.spawned()[0])
	assert.Eventually(t, func() bool { return registry.heartbeatCount() > 0 }, time.Second, time.Millisecond)

	registry.mu.Lock()
	require.NotEmpty(t, registry.registered)
	assert.Equal(t, 42, registry.registered[0].PID)
	registry.mu.Unlock()
}

func TestEngine_NoRestartWhenGuardianUnregistered(t *testing.T) {
	registry := &fakeRegistry{partnerErr: errors.New("no guardian")}
	spawner := &spawnRecorder{}
	engine := NewEngine(fastEngineConfig(), &fakeEvaluator{}, registry, nil, spawner.spawn, domain.Daemon{}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = engine.Run(ctx)

	assert.Empty(t, spawner.spawned())
}

func TestEngine_RegisterFailureStops(t *testing.T) {
	registry := &fakeRegistry{registerErr: errors.New("registry locked")}
	engine := NewEngine(fastEngineConfig(), &fakeEvaluator{}, registry, nil, nil, domain.Daemon{}, zap.NewNop())

	err := engine.Run(context.Background())
	assert.Error(t, err)
	assert.False(t, engine.Running())
}

func TestEngine_RestoresPlist(t *testing.T) {
	agent := &fakeLaunchAgent{}
	engine := NewEngine(fastEngineConfig(), &fakeEvaluator{}, nil, agent, nil, domain.Daemon{}, zap.NewNop())

	engine.ensurePlistInstalled()
	assert.Equal(t, []string{"/usr/local/bin/applimit"}, agent.installs)

	agent.stale = true
	engine.ensurePlistInstalled()
	assert.Equal(t, []string{"/usr/local/bin/applimit"}, agent.updates)

	engine.ensurePlistInstalled()
	assert.Len(t, agent.installs, 1, "installed and current plist is left alone")
	assert.Len(t, agent.updates, 1)
}

func TestGuardian_RestartsEngine(t *testing.T) {
	registry := &fakeRegistry{partnerLive: false}
	spawner := &spawnRecorder{}
	guardian := NewGuardian(GuardianConfig{
		EngineCheckInterval: 5 * time.Millisecond,
		HeartbeatInterval:   5 * time.Millisecond,
	}, registry, spawner.spawn, domain.Daemon{PID: 7, Role: domain.RoleGuardian}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- guardian.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(spawner.spawned()) > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, domain.RoleEngine, spawner.spawned()[0])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestGuardian_LeavesLiveEngineAlone(t *testing.T) {
	registry := &fakeRegistry{partnerLive: true}
	spawner := &spawnRecorder{}
	guardian := NewGuardian(GuardianConfig{
		EngineCheckInterval: 5 * time.Millisecond,
		HeartbeatInterval:   5 * time.Millisecond,
	}, registry, spawner.spawn, domain.Daemon{}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = guardian.Run(ctx)

	assert.Empty(t, spawner.spawned())
	assert.Greater(t, registry.heartbeatCount(), 0)
}

func TestRunServices(t *testing.T) {
	t.Run("cancellation is a clean exit", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var started atomic.Int32
		svc := func(ctx context.Context) error {
			started.Add(1)
			<-ctx.Done()
			return ctx.Err()
		}

		done := make(chan error, 1)
		go func() {
			done <- RunServices(ctx, zap.NewNop(), Service{Name: "a", Run: svc}, Service{Name: "b", Run: svc})
		}()
		assert.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, time.Millisecond)
		cancel()
		assert.NoError(t, <-done)
	})

	t.Run("one failure stops the group", func(t *testing.T) {
		boom := errors.New("listen: address in use")
		err := RunServices(context.Background(), zap.NewNop(),
			Service{Name: "control", Run: func(ctx context.Context) error { return boom }},
			Service{Name: "engine", Run: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}},
		)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "control")
	})
}
