// Package jobs runs periodic maintenance work such as the audit retention
// sweep.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"wms/internal/platform/safego"
)

// DefaultInterval is used for jobs registered without an interval.
const DefaultInterval = 24 * time.Hour

var errPanicked = errors.New("job panicked")

// Job is a unit of periodic work. A failed run is retried at the next tick.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job        Job
	interval   time.Duration
	runOnStart bool
}

// Scheduler runs registered jobs on their own tickers. Runs of one job never
// overlap; different jobs run independently.
type Scheduler struct {
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	entries []entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates an idle scheduler. metrics may be nil.
func NewScheduler(logger *slog.Logger, metrics *Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger, metrics: metrics}
}

// Register adds job. It must be called before Start.
func (s *Scheduler) Register(job Job, interval time.Duration, runOnStart bool) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{job: job, interval: interval, runOnStart: runOnStart})
}

// Start launches every registered job. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.entries {
		s.wg.Add(1)
		safego.Go(s.logger, "job:"+e.job.Name(), func() {
			defer s.wg.Done()
			s.loop(ctx, e)
		})
	}
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	s.logger.Info("job scheduled", "job", e.job.Name(), "interval", e.interval, "run_on_start", e.runOnStart)
	if e.runOnStart {
		s.execute(ctx, e.job)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, e.job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	name := job.Name()
	start := time.Now()

	var err error
	if !safego.Run(s.logger, "job:"+name, func() { err = job.Run(ctx) }) {
		err = errPanicked
	}

	outcome := OutcomeSuccess
	switch {
	case errors.Is(err, errPanicked):
		outcome = OutcomePanic
	case err != nil:
		outcome = OutcomeFailure
	}
	if s.metrics != nil {
		s.metrics.Runs.WithLabelValues(name, outcome).Inc()
		s.metrics.Duration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err == nil {
			s.metrics.LastSuccess.WithLabelValues(name).SetToCurrentTime()
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduled job failed, retrying at next tick", "job", name, "error", err)
	}
}
