// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
)

// EvaluatorConfig holds evaluator tunables.
type EvaluatorConfig struct {
	ResetPeriod time.Duration
	Surfaces    *policy.Surfaces
	Now         func() time.Time
}

// DefaultEvaluatorConfig returns the production configuration.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		ResetPeriod: policy.DefaultResetPeriod,
		Surfaces:    policy.DefaultSurfaces(),
		Now:         time.Now,
	}
}

// Snapshot is a point-in-time view of the evaluator for status reporting.
type Snapshot struct {
	Foreground   string
	SessionStart time.Time
	InBackground bool
	Active       *domain.Intervention
	LastTick     domain.TickResult
}

// Evaluator decides, once per tick, whether the foreground app has crossed
// its policy and presents an intervention when it has. Ticks and user
// callbacks share one mutex so they observe a single timeline.
type Evaluator struct {
	store     domain.PolicyStore
	observer  domain.ForegroundObserver
	presenter domain.InterventionPresenter
	opener    domain.ManagementOpener
	logger    *zap.Logger

	resetPeriod time.Duration
	surfaces    *policy.Surfaces
	now         func() time.Time

	mu       sync.Mutex
	session  *session
	active   *domain.Intervention
	lastTick domain.TickResult
}

var _ domain.InterventionHandler = (*Evaluator)(nil)

// NewEvaluator creates an evaluator. opener may be nil.
func NewEvaluator(
	store domain.PolicyStore,
	observer domain.ForegroundObserver,
	presenter domain.InterventionPresenter,
	opener domain.ManagementOpener,
	cfg EvaluatorConfig,
	logger *zap.Logger,
) *Evaluator {
	if cfg.ResetPeriod <= 0 {
		cfg.ResetPeriod = policy.DefaultResetPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		store:       store,
		observer:    observer,
		presenter:   presenter,
		opener:      opener,
		logger:      logger,
		resetPeriod: cfg.ResetPeriod,
		surfaces:    cfg.Surfaces,
		now:         cfg.Now,
		session:     newSession(),
	}
}

// Evaluate runs one evaluation pass. It never fails: errors are logged,
// recorded in the result, and the affected step is retried next tick.
func (e *Evaluator) Evaluate(ctx context.Context) (res domain.TickResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	begin := time.Now()
	now := e.now()
	res.At = now
	defer func() {
		res.DurationMs = time.Since(begin).Milliseconds()
		e.lastTick = res
	}()

	// Policies are reloaded every tick so external edits apply immediately.
	policies, err := e.store.Load()
	if err != nil {
		e.logger.Warn("failed to load policies, skipping tick", zap.Error(err))
		res.Errors = append(res.Errors, err)
		return res
	}
	set := policy.NewSet(policies)
	res.Policies = set.Len()
	e.pruneLocked(set)

	// Sampling first lets a launch seen by this sample count on this tick.
	pkg, ok, err := e.observer.CurrentForeground(ctx)
	e.countLaunches(ctx, set, &res)
	if err != nil {
		e.logger.Debug("foreground unavailable", zap.Error(err))
		res.Errors = append(res.Errors, err)
		res.Skipped = true
		return res
	}
	if !ok {
		res.Skipped = true
		return res
	}
	if e.surfaces.IsSystem(pkg) {
		e.session.background()
		return res
	}
	if e.session.observe(pkg, now) {
		e.logger.Debug("foreground changed", zap.String("package", pkg))
	}
	res.Foreground = pkg

	p, ok := set.Get(pkg)
	if !ok {
		return res
	}
	if e.active != nil && e.active.PackageID == pkg {
		res.Suppressed = true
		return res
	}
	e.evaluatePolicy(*p, now, &res)
	return res
}

// evaluatePolicy applies the mode rule of the foreground policy.
func (e *Evaluator) evaluatePolicy(p domain.AppPolicy, now time.Time, res *domain.TickResult) {
	switch p.Mode {
	case domain.ModeLaunchLimit:
		if policy.LaunchLimitReached(p) {
			e.present(p, now, res)
		}

	case domain.ModeConstantOverlay:
		start := e.session.overlayStart(p.PackageID, now)
		if policy.ElapsedReached(p, start, now) && e.present(p, now, res) {
			e.session.overlayTimers[p.PackageID] = now
		}

	case domain.ModePasswordProtected:
		if p.Password != "" && p.TimeLimitSeconds == 0 {
			// Locked on entry until unlocked for this foreground stretch.
			if !e.session.unlocked[p.PackageID] {
				e.present(p, now, res)
			}
			return
		}
		e.evaluateTimeLimit(p, now, res)

	default:
		e.evaluateTimeLimit(p, now, res)
	}
}

func (e *Evaluator) evaluateTimeLimit(p domain.AppPolicy, now time.Time, res *domain.TickResult) {
	if policy.ElapsedReached(p, e.session.start, now) && e.present(p, now, res) {
		e.session.start = now
	}
}

// countLaunches converts new foreground transitions into CurrentOpens
// increments for every LaunchLimit policy. Counters and markers are committed
// together so a failed write is simply recounted next tick.
func (e *Evaluator) countLaunches(ctx context.Context, set *policy.Set, res *domain.TickResult) {
	ids := set.ByMode(domain.ModeLaunchLimit)
	if len(ids) == 0 {
		return
	}

	lastReset, err := e.store.LastResetTime()
	if err != nil {
		e.logger.Warn("failed to read last reset", zap.Error(err))
		res.Errors = append(res.Errors, err)
		return
	}

	markers := make(map[string]time.Time)
	for _, id := range ids {
		marker, err := e.store.LastLaunchEvent(id)
		if err != nil {
			e.logger.Warn("failed to read launch marker", zap.String("package", id), zap.Error(err))
			res.Errors = append(res.Errors, err)
			continue
		}
		// Markers are stored in whole milliseconds, so events are compared
		// on that grid. A launch in the reset millisecond belongs to the new
		// period.
		since, floor := marker, marker.UnixMilli()
		if lastReset.After(marker) {
			since, floor = lastReset, lastReset.UnixMilli()-1
		}

		events, err := e.observer.ForegroundEventsSince(ctx, id, time.UnixMilli(floor))
		if err != nil {
			e.logger.Debug("launch events unavailable", zap.String("package", id), zap.Error(err))
			res.Errors = append(res.Errors, err)
			continue
		}

		n := 0
		newest := since
		for _, at := range events {
			if at.UnixMilli() <= floor {
				continue
			}
			n++
			if at.After(newest) {
				newest = at
			}
		}
		if n == 0 {
			continue
		}

		p, _ := set.Get(id)
		p.CurrentOpens += n
		markers[id] = newest
		res.LaunchesCounted += n

		e.logger.Info("launches counted",
			zap.String("package", id),
			zap.Int("new", n),
			zap.Int("current_opens", p.CurrentOpens),
			zap.Int("max_opens", p.MaxOpens))
	}

	if len(markers) == 0 {
		return
	}
	if err := e.store.Commit(domain.Commit{Policies: set.All(), LaunchMarkers: markers}); err != nil {
		e.logger.Warn("failed to persist launch counts", zap.Error(err))
		res.Errors = append(res.Errors, fmt.Errorf("failed to persist launch counts: %w", err))
	}
}

// PoliciesChanged reacts to an external edit of the store by dropping state
// of packages that are no longer monitored.
func (e *Evaluator) PoliciesChanged() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	policies, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	e.pruneLocked(policy.NewSet(policies))
	return nil
}

func (e *Evaluator) pruneLocked(set *policy.Set) {
	for _, id := range e.session.prune(set.Has) {
		e.logger.Debug("pruned timers of removed policy", zap.String("package", id))
	}
	if e.active != nil && !set.Has(e.active.PackageID) {
		if err := e.clearActive("policy removed"); err != nil {
			e.logger.Warn("failed to dismiss intervention of removed policy", zap.Error(err))
		}
	}
}

// Snapshot returns the current evaluator state.
func (e *Evaluator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Foreground:   e.session.current,
		SessionStart: e.session.start,
		InBackground: e.session.inBackground,
		LastTick:     e.lastTick,
	}
	if e.active != nil {
		cp := *e.active
		s.Active = &cp
	}
	return s
}
