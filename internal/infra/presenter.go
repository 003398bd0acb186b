package infra

import (
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// BoardPresenter implements domain.InterventionPresenter as a single in-memory
// slot. Overlay clients read the slot through the control API; an optional
// notify command is fired on every new presentation.
type BoardPresenter struct {
	mu     sync.Mutex
	active *domain.Intervention
	notify []string
	runner CommandRunner
	logger *zap.Logger
}

// NewBoardPresenter creates a presenter. notify may be empty.
func NewBoardPresenter(notify []string, runner CommandRunner, logger *zap.Logger) *BoardPresenter {
	if runner == nil {
		runner = &RealCommandRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoardPresenter{
		notify: append([]string(nil), notify...),
		runner: runner,
		logger: logger,
	}
}

// Present shows iv. A second Present while one is showing is a no-op.
func (p *BoardPresenter) Present(iv domain.Intervention) error {
	p.mu.Lock()
	if p.active != nil {
		p.mu.Unlock()
		return nil
	}
	cp := iv
	p.active = &cp
	p.mu.Unlock()

	p.logger.Info("intervention presented",
		zap.String("id", iv.ID),
		zap.String("package", iv.PackageID),
		zap.String("mode", iv.Mode.String()))

	if len(p.notify) > 0 {
		go func() {
			if err := runHook(p.runner, p.notify, iv.Message); err != nil {
				p.logger.Warn("notify command failed", zap.Error(err))
			}
		}()
	}
	return nil
}

// Dismiss clears the slot.
func (p *BoardPresenter) Dismiss() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.logger.Info("intervention dismissed", zap.String("id", p.active.ID))
	}
	p.active = nil
	return nil
}

// Current returns a copy of the shown intervention, or nil.
func (p *BoardPresenter) Current() *domain.Intervention {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil
	}
	cp := *p.active
	return &cp
}

var _ domain.InterventionPresenter = (*BoardPresenter)(nil)
