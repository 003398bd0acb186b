// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
)

// Epoch is where every Host clock starts.
var Epoch = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

// Clock is a manually advanced clock safe for concurrent readers.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Redirects records forgot-password redirects.
type Redirects struct {
	mu       sync.Mutex
	packages []string
}

// OpenManagement implements domain.ManagementOpener.
func (r *Redirects) OpenManagement(packageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages = append(r.packages, packageID)
	return nil
}

// Packages returns the redirected packages in order.
func (r *Redirects) Packages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.packages...)
}

// HomeScreen is the launcher every Host starts on.
const HomeScreen = "com.android.launcher3"

// Sampler is a scripted infra.ForegroundSource, standing in for a host
// foreground command such as xdotool.
type Sampler struct {
	mu  sync.Mutex
	pkg string
	ok  bool
}

// Show makes pkg the sampled foreground.
func (s *Sampler) Show(pkg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pkg, s.ok = pkg, true
}

// Unknown makes samples fail to tell the foreground.
func (s *Sampler) Unknown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ok = false
}

// Sample implements infra.ForegroundSource.
func (s *Sampler) Sample(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok {
		return "", false, nil
	}
	return s.pkg, true, nil
}

// Host simulates the device around an evaluator: a foreground feed the test
// drives, an in-memory presenter, and a fake clock. The feed is either pushed
// (Record, like the control API) or polled from a Sampler.
type Host struct {
	Store     domain.PolicyStore
	Clock     *Clock
	Feed      *infra.ForegroundTracker
	Sampler   *Sampler
	Presenter *infra.BoardPresenter
	Redirects *Redirects
	Evaluator *usecase.Evaluator

	config usecase.EvaluatorConfig
}

// NewHost wires an evaluator over store with a pushed foreground feed.
// cfg.Now is replaced by the host clock.
func NewHost(store domain.PolicyStore, cfg usecase.EvaluatorConfig) *Host {
	return newHost(store, cfg, nil)
}

// NewPolledHost is NewHost with a feed that samples h.Sampler on every tick.
func NewPolledHost(store domain.PolicyStore, cfg usecase.EvaluatorConfig) *Host {
	sampler := &Sampler{}
	sampler.Show(HomeScreen)
	return newHost(store, cfg, sampler)
}

func newHost(store domain.PolicyStore, cfg usecase.EvaluatorConfig, sampler *Sampler) *Host {
	h := &Host{
		Store:     store,
		Clock:     NewClock(Epoch),
		Sampler:   sampler,
		Redirects: &Redirects{},
	}
	cfg.Now = h.Clock.Now
	h.config = cfg
	h.Restart()
	return h
}

// Restart replaces the evaluator, presenter and foreground feed, as if the
// engine process was killed and respawned. Only the store survives. A pushed
// feed is re-reported the package that was in front, as the host would after
// reconnecting.
func (h *Host) Restart() {
	if h.Sampler != nil {
		h.Feed = infra.NewForegroundTrackerWithClock(h.Sampler, h.Clock.Now)
	} else {
		front := HomeScreen
		if h.Feed != nil {
			if pkg, ok, _ := h.Feed.CurrentForeground(context.Background()); ok {
				front = pkg
			}
		}
		h.Feed = infra.NewForegroundTrackerWithClock(nil, h.Clock.Now)
		h.Feed.Record(front, h.Clock.Now())
	}
	h.Presenter = infra.NewBoardPresenter(nil, nil, zap.NewNop())
	h.Evaluator = usecase.NewEvaluator(h.Store, h.Feed, h.Presenter, h.Redirects, h.config, zap.NewNop())
}

// Boot runs the first engine pass so later launches fall inside a reset
// window and the feed has seen the starting foreground.
func (h *Host) Boot(ctx context.Context) error {
	if res := h.Tick(ctx); len(res.Errors) > 0 {
		return res.Errors[0]
	}
	return nil
}

// Open brings pkg to the foreground at the current time.
func (h *Host) Open(pkg string) {
	if h.Sampler != nil {
		h.Sampler.Show(pkg)
		return
	}
	h.Feed.Record(pkg, h.Clock.Now())
}

// Tick runs one engine pass at the current time.
func (h *Host) Tick(ctx context.Context) domain.TickResult {
	if _, err := h.Evaluator.DailyReset(ctx); err != nil {
		return domain.TickResult{Errors: []error{err}}
	}
	return h.Evaluator.Evaluate(ctx)
}

// Run advances the clock one second at a time for d, ticking after each step.
// It returns the interventions presented along the way.
func (h *Host) Run(ctx context.Context, d time.Duration) []domain.Intervention {
	var presented []domain.Intervention
	for elapsed := time.Duration(0); elapsed < d; elapsed += time.Second {
		h.Clock.Advance(time.Second)
		if res := h.Tick(ctx); res.Presented != nil {
			presented = append(presented, *res.Presented)
		}
	}
	return presented
}

// Policy returns the stored policy for pkg.
func (h *Host) Policy(pkg string) (domain.AppPolicy, bool) {
	policies, err := h.Store.Load()
	if err != nil {
		return domain.AppPolicy{}, false
	}
	for _, p := range policies {
		if p.PackageID == pkg {
			return p, true
		}
	}
	return domain.AppPolicy{}, false
}
