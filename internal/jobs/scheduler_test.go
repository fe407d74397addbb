package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	runs atomic.Int32
	fn   func(n int32) error
}

func (j *funcJob) Name() string { return j.name }

func (j *funcJob) Run(context.Context) error {
	n := j.runs.Add(1)
	if j.fn == nil {
		return nil
	}
	return j.fn(n)
}

func TestSchedulerRunsOnStartAndOnTicks(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	s := NewScheduler(slog.Default(), metrics)
	job := &funcJob{name: "tick"}
	s.Register(job, 20*time.Millisecond, true)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return job.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	runs := job.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, runs, job.runs.Load(), "no runs after Stop")
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.Runs.WithLabelValues("tick", OutcomeSuccess)), float64(3))
}

func TestSchedulerWithoutRunOnStartWaitsForTick(t *testing.T) {
	s := NewScheduler(nil, nil)
	job := &funcJob{name: "daily"}
	s.Register(job, time.Hour, false)

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	assert.Zero(t, job.runs.Load())
}

func TestSchedulerRetriesAfterFailureAndPanic(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	s := NewScheduler(slog.Default(), metrics)
	job := &funcJob{name: "flaky", fn: func(n int32) error {
		switch n {
		case 1:
			return errors.New("db down")
		case 2:
			panic("boom")
		}
		return nil
	}}
	s.Register(job, 10*time.Millisecond, true)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return job.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Runs.WithLabelValues("flaky", OutcomeFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Runs.WithLabelValues("flaky", OutcomePanic)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.Runs.WithLabelValues("flaky", OutcomeSuccess)), float64(1))
}

func TestSchedulerRunBlocksUntilCancelled(t *testing.T) {
	s := NewScheduler(nil, nil)
	job := &funcJob{name: "once"}
	s.Register(job, 0, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
