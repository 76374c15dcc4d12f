package collector

import (
	"context"
	"log"
	"time"

	"voltage-monitor/internal/observability/metrics"
	reading "voltage-monitor/internal/reading/domain"
)

// CycleRunner produces one batch of readings per invocation.
type CycleRunner interface {
	RunOnce(ctx context.Context, deviceIDs []string) ([]reading.Reading, int)
}

// BatchStore persists a batch of readings atomically.
type BatchStore interface {
	InsertBatch(ctx context.Context, readings []reading.Reading) error
}

// CycleObserver is notified with every completed batch. Used for threshold
// alerting; observer failures never affect the cycle.
type CycleObserver interface {
	ObserveBatch(ctx context.Context, batch []reading.Reading)
}

// Scheduler drives the collection loop: one cycle per interval until the
// context is cancelled. An in-flight cycle always finishes before shutdown.
type Scheduler struct {
	runner    CycleRunner
	store     BatchStore
	observer  CycleObserver
	deviceIDs []string
	logger    *log.Logger
}

// NewScheduler constructs a Scheduler. observer may be nil.
func NewScheduler(runner CycleRunner, store BatchStore, observer CycleObserver, deviceIDs []string, logger *log.Logger) *Scheduler {
	return &Scheduler{
		runner:    runner,
		store:     store,
		observer:  observer,
		deviceIDs: deviceIDs,
		logger:    logger,
	}
}

// Run blocks until ctx is done. A failed batch insert is logged and counted;
// the readings for that cycle are lost and the loop continues at the next
// tick (at-least-once, best-effort). Drift from slow cycles is tolerated.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if s == nil || s.runner == nil || s.store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// first cycle fires right away, not one interval in
	if ctx.Err() == nil {
		s.cycle(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	start := time.Now()
	batch, failures := s.runner.RunOnce(ctx, s.deviceIDs)

	metrics.AddDeviceFailures(failures)

	if err := s.store.InsertBatch(ctx, batch); err != nil {
		metrics.ObserveCycle(metrics.ResultError, len(batch), time.Since(start))
		if s.logger != nil {
			s.logger.Printf("batch insert error: readings=%d err=%v", len(batch), err)
		}
		return
	}

	metrics.ObserveCycle(metrics.ResultSuccess, len(batch), time.Since(start))
	if s.logger != nil {
		s.logger.Printf("cycle complete: readings=%d failures=%d", len(batch), failures)
	}

	if s.observer != nil {
		s.observer.ObserveBatch(ctx, batch)
	}
}
