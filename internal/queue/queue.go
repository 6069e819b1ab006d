// Package queue implements the Work-Order State Machine & Queue: admission,
// a bounded concurrency cap, FIFO ordering, lease-retry requeueing, and a
// periodic stale/dead-run detector (spec.md §4.7).
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fl-sean03/agentgate/internal/artifacts"
	"github.com/fl-sean03/agentgate/internal/coordinator"
	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/logging"
	"github.com/fl-sean03/agentgate/internal/service"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Config bounds the queue's admission and retry behavior (spec.md §4.7).
type Config struct {
	MaxConcurrentRuns int
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	JitterFactor      float64
	MaxRunningTime    time.Duration
	SweepInterval     time.Duration
}

// DefaultConfig mirrors spec.md §4.7's named defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentRuns: 1,
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		Multiplier:        2.0,
		JitterFactor:      0.25,
		MaxRunningTime:    4 * time.Hour,
		SweepInterval:     60 * time.Second,
	}
}

type entry struct {
	wo        *core.WorkOrder
	startedAt time.Time
	cancel    func(reason string)
}

// Queue admits work orders, dispatches them to an Execution Coordinator up
// to a concurrency cap, and requeues on retryable admission failure
// (spec.md §4.7: "FIFO among queued; a stable admission order is
// preserved").
type Queue struct {
	cfg   Config
	coord *coordinator.Coordinator
	store *artifacts.Store
	log   *logging.Logger

	mu      sync.Mutex
	pending []*core.WorkOrder
	running map[core.WorkOrderID]*entry
	group   *errgroup.Group
	groupCtx context.Context

	sweepGroup singleflight.Group
	wake       chan struct{}
}

// New creates a Queue wired to a Coordinator and the shared Artifact Store.
func New(cfg Config, coord *coordinator.Coordinator, store *artifacts.Store, log *logging.Logger) *Queue {
	if log == nil {
		log = logging.NewNop()
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	return &Queue{
		cfg:     cfg,
		coord:   coord,
		store:   store,
		log:     log,
		running: make(map[core.WorkOrderID]*entry),
		wake:    make(chan struct{}, 1),
	}
}

// Submit admits a work order at the tail of the FIFO queue.
func (q *Queue) Submit(wo *core.WorkOrder) error {
	if err := wo.Validate(); err != nil {
		return err
	}
	if err := q.store.SaveWorkOrder(wo); err != nil {
		return err
	}
	q.mu.Lock()
	q.pending = append(q.pending, wo)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Cancel requests cancellation of a running (or still-queued) work order.
func (q *Queue) Cancel(id core.WorkOrderID, reason string) error {
	q.mu.Lock()
	if e, ok := q.running[id]; ok {
		q.mu.Unlock()
		e.cancel(reason)
		return nil
	}
	for i, wo := range q.pending {
		if wo.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.mu.Unlock()
			_ = wo.Transition(core.WorkOrderCanceled)
			return q.store.SaveWorkOrder(wo)
		}
	}
	q.mu.Unlock()
	return core.ErrNotFound("work_order", string(id))
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drives admission until ctx is canceled: it pulls from the head of the
// FIFO queue whenever a concurrency slot is free, dispatches to the
// Coordinator, and blocks new work only on the concurrency cap (spec.md
// §4.7: "a bounded number of concurrently running work orders").
func (q *Queue) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(context.Background())
	q.group = group
	q.groupCtx = groupCtx

	ticker := time.NewTicker(q.sweepInterval())
	defer ticker.Stop()

	for {
		q.admitReady(ctx)
		select {
		case <-ctx.Done():
			_ = group.Wait()
			return ctx.Err()
		case <-q.wake:
		case <-ticker.C:
			q.sweepStale()
		}
	}
}

func (q *Queue) sweepInterval() time.Duration {
	if q.cfg.SweepInterval <= 0 {
		return 60 * time.Second
	}
	return q.cfg.SweepInterval
}

func (q *Queue) admitReady(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || len(q.running) >= q.cfg.MaxConcurrentRuns {
			q.mu.Unlock()
			return
		}
		wo := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		q.dispatch(ctx, wo)
	}
}

func (q *Queue) dispatch(parent context.Context, wo *core.WorkOrder) {
	runCtx, cancelFn := context.WithCancel(parent)
	var reasonMu sync.Mutex
	reason := ""
	cancel := func(r string) {
		reasonMu.Lock()
		reason = r
		reasonMu.Unlock()
		cancelFn()
	}

	if err := wo.Transition(core.WorkOrderRunning); err != nil {
		q.log.Warn("work order admission rejected", "work_order_id", wo.ID, "error", err)
		return
	}
	_ = q.store.SaveWorkOrder(wo)

	q.mu.Lock()
	q.running[wo.ID] = &entry{wo: wo, startedAt: time.Now(), cancel: cancel}
	q.mu.Unlock()

	q.group.Go(func() error {
		defer func() {
			q.mu.Lock()
			delete(q.running, wo.ID)
			q.mu.Unlock()
			q.signal()
			cancelFn()
		}()

		run, err := q.coord.Execute(runCtx, wo)
		if err != nil {
			q.handleFailure(wo, err)
			return nil
		}
		switch run.State {
		case core.RunSucceeded:
			_ = wo.Transition(core.WorkOrderSucceeded)
		case core.RunCanceled:
			_ = wo.Transition(core.WorkOrderCanceled)
		default:
			_ = wo.MarkFailed(fmt.Errorf("run did not converge: %s", run.Error))
		}
		_ = q.store.SaveWorkOrder(wo)
		return nil
	})
}

func (q *Queue) handleFailure(wo *core.WorkOrder, err error) {
	if core.IsRetryable(err) && wo.RetryCount < q.cfg.MaxRetries {
		wo.RetryCount++
		_ = wo.Transition(core.WorkOrderQueued)
		_ = q.store.SaveWorkOrder(wo)

		delay := q.backoff(wo.RetryCount)
		q.log.Info("requeueing work order after retryable admission failure",
			"work_order_id", wo.ID, "retry_count", wo.RetryCount, "delay", delay, "error", err)
		time.AfterFunc(delay, func() {
			q.mu.Lock()
			q.pending = append(q.pending, wo)
			q.mu.Unlock()
			q.signal()
		})
		return
	}
	_ = wo.MarkFailed(err)
	_ = q.store.SaveWorkOrder(wo)
}

// backoff delegates the exponential-backoff-with-jitter computation to
// service.RetryPolicy.CalculateDelay, the same curve the teacher's
// workflow/phase retries use, rather than recomputing it here.
func (q *Queue) backoff(attempt int) time.Duration {
	policy := &service.RetryPolicy{
		BaseDelay:    q.cfg.BaseDelay,
		MaxDelay:     q.cfg.MaxDelay,
		Multiplier:   q.cfg.Multiplier,
		JitterFactor: q.cfg.JitterFactor,
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2.0
	}
	return policy.CalculateDelay(attempt)
}
