package daemon

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is one long-running component of a daemon process.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunServices runs all services until ctx is canceled or one of them fails,
// then cancels the rest and waits for them. Cancellation is a clean exit.
func RunServices(ctx context.Context, logger *zap.Logger, services ...Service) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			logger.Debug("service starting", zap.String("service", svc.Name))
			err := svc.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("service failed", zap.String("service", svc.Name), zap.Error(err))
				return fmt.Errorf("%s: %w", svc.Name, err)
			}
			logger.Debug("service stopped", zap.String("service", svc.Name))
			return nil
		})
	}

	return g.Wait()
}
