package usecase

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
)

// newIntervention builds the overlay request for p. The dismiss button lands
// in a random corner to add friction against reflexive dismissal.
func newIntervention(p domain.AppPolicy, now time.Time) domain.Intervention {
	return domain.Intervention{
		ID:               ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		PackageID:        p.PackageID,
		DisplayName:      p.DisplayName,
		Mode:             p.Mode,
		Message:          policy.Message(p),
		RequiresPassword: p.RequiresPassword(),
		DismissCorner:    domain.Corner(randomInt(4)),
		PresentedAt:      now,
	}
}

// randomInt returns a cryptographically random int in [0, max).
func randomInt(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}

// present hands p to the presenter unless an intervention is already showing.
// It reports whether p was actually presented. Caller holds e.mu.
func (e *Evaluator) present(p domain.AppPolicy, now time.Time, res *domain.TickResult) bool {
	if e.active != nil {
		return false
	}
	iv := newIntervention(p, now)
	if err := e.presenter.Present(iv); err != nil {
		e.logger.Warn("failed to present intervention",
			zap.String("package", p.PackageID),
			zap.Error(err))
		res.Errors = append(res.Errors, err)
		return false
	}
	e.active = &iv
	shown := iv
	res.Presented = &shown

	e.logger.Info("intervention fired",
		zap.String("package", p.PackageID),
		zap.String("mode", p.Mode.String()),
		zap.String("id", iv.ID))
	return true
}

// Active returns a copy of the presented intervention, or nil.
func (e *Evaluator) Active() *domain.Intervention {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return nil
	}
	cp := *e.active
	return &cp
}

// Dismiss handles a plain acknowledgment. Password interventions cannot be
// dismissed this way.
func (e *Evaluator) Dismiss() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return domain.ErrNoActiveIntervention
	}
	if e.active.RequiresPassword {
		return domain.ErrDismissNotAllowed
	}
	return e.clearActive("dismissed")
}

// SubmitPassword checks candidate against the stored password of the active
// intervention's package. A match dismisses and resets the package's counters;
// anything else leaves the intervention up.
func (e *Evaluator) SubmitPassword(candidate string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return false, domain.ErrNoActiveIntervention
	}
	if !e.active.RequiresPassword {
		return false, domain.ErrNotPasswordProtected
	}
	pkg := e.active.PackageID

	// Reload: the password may have been edited while the overlay was up.
	policies, err := e.store.Load()
	if err != nil {
		return false, fmt.Errorf("failed to load policies: %w", err)
	}
	p, ok := policy.NewSet(policies).Get(pkg)
	if !ok {
		// Policy removed meanwhile; nothing left to enforce.
		if err := e.clearActive("policy removed"); err != nil {
			return false, err
		}
		return false, domain.ErrPolicyNotFound
	}

	if p.Password != "" && !passwordMatches(p.Password, candidate) {
		e.logger.Info("wrong password", zap.String("package", pkg))
		return false, nil
	}

	if err := e.clearActive("password accepted"); err != nil {
		return false, err
	}
	if err := e.resetCountersLocked(pkg); err != nil {
		e.logger.Warn("failed to reset counters after password", zap.String("package", pkg), zap.Error(err))
	}
	e.session.unlocked[pkg] = true
	return true, nil
}

// ForgotPassword clears a password intervention without resetting anything and
// sends the user to the management surface.
func (e *Evaluator) ForgotPassword() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return domain.ErrNoActiveIntervention
	}
	if !e.active.RequiresPassword {
		return domain.ErrNotPasswordProtected
	}
	pkg := e.active.PackageID
	if err := e.clearActive("forgot password"); err != nil {
		return err
	}
	if e.opener == nil {
		return nil
	}
	if err := e.opener.OpenManagement(pkg); err != nil {
		return fmt.Errorf("failed to open management: %w", err)
	}
	return nil
}

// clearActive dismisses the presenter and forgets the active intervention.
// Caller holds e.mu.
func (e *Evaluator) clearActive(reason string) error {
	if err := e.presenter.Dismiss(); err != nil {
		return fmt.Errorf("failed to dismiss intervention: %w", err)
	}
	e.logger.Info("intervention cleared",
		zap.String("package", e.active.PackageID),
		zap.String("id", e.active.ID),
		zap.String("reason", reason))
	e.active = nil
	return nil
}
