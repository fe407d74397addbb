package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"wms/pkg/platform/queue"
)

// SubscriberFactory creates the subscriber for one worker. Transports with
// consumer groups give each worker its own member identity.
type SubscriberFactory func(worker int) (queue.Subscriber, error)

// Pool runs a fixed number of subscribers against one handler.
type Pool struct {
	workers int
	factory SubscriberFactory
	handler queue.Handler
	logger  *slog.Logger
}

// NewPool creates a pool of workers subscribers. workers below 1 means 1.
func NewPool(workers int, factory SubscriberFactory, handler queue.Handler, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{workers: workers, factory: factory, handler: handler, logger: logger}
}

// Run blocks until ctx is cancelled or a subscriber fails. A failing
// subscriber cancels the others.
func (p *Pool) Run(ctx context.Context) error {
	subs := make([]queue.Subscriber, p.workers)
	for i := range subs {
		sub, err := p.factory(i)
		if err != nil {
			return fmt.Errorf("create subscriber %d: %w", i, err)
		}
		subs[i] = sub
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		g.Go(func() error {
			p.logger.Info("audit consumer started", "worker", i)
			defer p.logger.Info("audit consumer stopped", "worker", i)
			if err := sub.Subscribe(ctx, p.handler); err != nil {
				return fmt.Errorf("audit consumer %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
