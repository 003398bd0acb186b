package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
)

// DailyReset zeroes every policy's launch counter once per reset period. The
// counters and the reset marker are written in one commit, under the same lock
// as ticks, so no increment can interleave. It reports whether a reset ran.
func (e *Evaluator) DailyReset(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	last, err := e.store.LastResetTime()
	if err != nil {
		return false, fmt.Errorf("failed to read last reset: %w", err)
	}
	if !last.IsZero() && now.Sub(last) < e.resetPeriod {
		return false, nil
	}

	policies, err := e.store.Load()
	if err != nil {
		return false, fmt.Errorf("failed to load policies: %w", err)
	}
	for i := range policies {
		policies[i].CurrentOpens = 0
	}
	if err := e.store.Commit(domain.Commit{Policies: policies, LastReset: &now}); err != nil {
		return false, fmt.Errorf("failed to commit daily reset: %w", err)
	}

	e.logger.Info("daily reset",
		zap.Int("policies", len(policies)),
		zap.Time("previous", last))
	return true, nil
}

// ResetCounters clears the launch counter and timers of one package.
func (e *Evaluator) ResetCounters(packageID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetCountersLocked(packageID)
}

func (e *Evaluator) resetCountersLocked(packageID string) error {
	policies, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	set := policy.NewSet(policies)
	p, ok := set.Get(packageID)
	if !ok {
		return fmt.Errorf("%s: %w", packageID, domain.ErrPolicyNotFound)
	}

	now := e.now()
	e.session.restart(packageID, now)

	if p.CurrentOpens != 0 {
		p.CurrentOpens = 0
		if err := e.store.Commit(domain.Commit{Policies: set.All()}); err != nil {
			return fmt.Errorf("failed to persist reset: %w", err)
		}
	}

	e.logger.Info("counters reset", zap.String("package", packageID))
	return nil
}
