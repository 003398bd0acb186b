package infra

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// hookTimeout bounds host hook commands so they cannot stall a tick.
const hookTimeout = 5 * time.Second

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes real system commands.
type RealCommandRunner struct{}

// Run executes a command and waits for it.
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Output executes a command and returns its stdout.
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// runHook runs argv with extra arguments appended. An empty argv is a no-op.
func runHook(runner CommandRunner, argv []string, extra ...string) error {
	if len(argv) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	args := append(append([]string{}, argv[1:]...), extra...)
	if err := runner.Run(ctx, argv[0], args...); err != nil {
		return fmt.Errorf("hook %s failed: %w", argv[0], err)
	}
	return nil
}

// CommandManagementOpener opens the policy management surface by running a
// configured command with the package ID appended.
type CommandManagementOpener struct {
	argv   []string
	runner CommandRunner
	logger *zap.Logger
}

// NewCommandManagementOpener creates an opener. With no command configured the
// redirect is only logged.
func NewCommandManagementOpener(argv []string, runner CommandRunner, logger *zap.Logger) *CommandManagementOpener {
	if runner == nil {
		runner = &RealCommandRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandManagementOpener{
		argv:   append([]string(nil), argv...),
		runner: runner,
		logger: logger,
	}
}

// OpenManagement redirects the user to the management surface.
func (o *CommandManagementOpener) OpenManagement(packageID string) error {
	if len(o.argv) == 0 {
		o.logger.Info("management redirect requested, no command configured",
			zap.String("package", packageID))
		return nil
	}
	o.logger.Info("opening management surface", zap.String("package", packageID))
	return runHook(o.runner, o.argv, packageID)
}

var _ domain.ManagementOpener = (*CommandManagementOpener)(nil)
