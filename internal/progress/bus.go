// Package progress implements the Progress & Metrics Bus (component J):
// a pub/sub fan-out of core.ProgressEvent plus a Prometheus-text metrics
// collector, grounded on internal/events/bus.go's ring-buffer subscriber
// model and internal/service/ratelimit.go's token bucket.
package progress

import (
	"sync"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/service"
)

// Config tunes the bus's batching and rate limiting (spec.md §4.11).
type Config struct {
	// MaxEventsPerSecond sizes the token bucket non-critical events draw
	// from when a batch is flushed.
	MaxEventsPerSecond float64
	// BatchWindow groups events arriving within the window into one flush,
	// coalescing consecutive agent_output events by (workOrderId, runId).
	BatchWindow time.Duration
}

// DefaultConfig matches spec.md §4.11's defaults.
func DefaultConfig() Config {
	return Config{
		MaxEventsPerSecond: core.DefaultMaxEventsPerSecond,
		BatchWindow:        core.DefaultBatchWindow,
	}
}

type subscriber struct {
	ch    chan core.ProgressEvent
	woID  core.WorkOrderID // empty matches every work order
	runID core.RunID       // empty matches every run
	types map[core.ProgressEventType]bool
}

func (s *subscriber) matches(ev core.ProgressEvent) bool {
	if s.woID != "" && ev.WorkOrderID != s.woID {
		return false
	}
	if s.runID != "" && ev.RunID != s.runID {
		return false
	}
	if len(s.types) > 0 && !s.types[ev.Type] {
		return false
	}
	return true
}

// Bus fans core.ProgressEvent out to subscribers, rate-limiting and
// batching everything except the critical events spec.md §4.11 names
// (run_failed, run_canceled), which bypass both.
type Bus struct {
	cfg     Config
	limiter *service.RateLimiter
	metrics *Metrics

	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	pending     []core.ProgressEvent
	maxPending  int
	dropped     int64
	closed      bool

	stopCh  chan struct{}
	stopped chan struct{}
}

// New creates a Bus. metrics may be nil if the caller does not want
// Prometheus accounting wired in.
func New(cfg Config, metrics *Metrics) *Bus {
	if cfg.MaxEventsPerSecond <= 0 {
		cfg.MaxEventsPerSecond = 20
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 100 * time.Millisecond
	}
	b := &Bus{
		cfg: cfg,
		limiter: service.NewRateLimiter(service.RateLimiterConfig{
			MaxTokens:  cfg.MaxEventsPerSecond,
			RefillRate: cfg.MaxEventsPerSecond,
		}),
		metrics:     metrics,
		subscribers: make(map[int]*subscriber),
		maxPending:  int(cfg.MaxEventsPerSecond * 10),
		stopCh:      make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	if b.maxPending <= 0 {
		b.maxPending = 200
	}
	go b.flushLoop()
	return b
}

// Subscribe returns a channel of events matching the given work order,
// run, and event types (empty/zero values mean "match everything"). The
// channel is buffered and drops the oldest queued event rather than
// block the publisher, matching internal/events/bus.go's ring buffer.
func (b *Bus) Subscribe(woID core.WorkOrderID, runID core.RunID, types ...core.ProgressEventType) (<-chan core.ProgressEvent, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		ch:    make(chan core.ProgressEvent, b.maxPending),
		woID:  woID,
		runID: runID,
		types: make(map[core.ProgressEventType]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub
	return sub.ch, id
}

// Unsubscribe removes and closes a subscription created by Subscribe.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// Publish is the coordinator.EventPublisher implementation. Every event
// updates metrics unconditionally; critical events are delivered
// immediately, everything else is queued for the next batch flush.
func (b *Bus) Publish(ev core.ProgressEvent) {
	if b.metrics != nil {
		b.metrics.Observe(ev)
	}

	if ev.Type.IsCritical() {
		b.deliver([]core.ProgressEvent{ev})
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, ev)
	if len(b.pending) > b.maxPending {
		drop := len(b.pending) - b.maxPending
		b.pending = b.pending[drop:]
		b.dropped += int64(drop)
	}
	b.mu.Unlock()
}

// DroppedCount reports events dropped either by buffer overflow or by
// the token bucket running dry during a flush.
func (b *Bus) DroppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops the flush loop and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stopCh)
	<-b.stopped

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

func (b *Bus) flushLoop() {
	ticker := time.NewTicker(b.cfg.BatchWindow)
	defer ticker.Stop()
	defer close(b.stopped)

	for {
		select {
		case <-b.stopCh:
			b.flush()
			return
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *Bus) flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	coalesced := coalesceAgentOutput(batch)
	admitted := make([]core.ProgressEvent, 0, len(coalesced))
	var dropped int64
	for _, ev := range coalesced {
		if !b.limiter.TryAcquire() {
			dropped++
			continue
		}
		admitted = append(admitted, ev)
	}
	if dropped > 0 {
		b.mu.Lock()
		b.dropped += dropped
		b.mu.Unlock()
	}
	if len(admitted) > 0 {
		b.deliver(admitted)
	}
}

// coalesceAgentOutput merges consecutive agent_output events sharing a
// (workOrderId, runId) key by concatenating Content, per spec.md §4.11.
func coalesceAgentOutput(events []core.ProgressEvent) []core.ProgressEvent {
	out := make([]core.ProgressEvent, 0, len(events))
	for _, ev := range events {
		if ev.Type == core.EventAgentOutput && len(out) > 0 {
			last := &out[len(out)-1]
			if last.Type == core.EventAgentOutput && last.WorkOrderID == ev.WorkOrderID && last.RunID == ev.RunID {
				last.Content += ev.Content
				last.Timestamp = ev.Timestamp
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

func (b *Bus) deliver(events []core.ProgressEvent) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		for _, ev := range events {
			if !sub.matches(ev) {
				continue
			}
			deliverRingBuffer(sub.ch, ev)
		}
	}
}

// deliverRingBuffer sends ev on ch, dropping the oldest queued event and
// retrying once if ch is full, matching internal/events/bus.go's
// deliverWithRingBuffer.
func deliverRingBuffer(ch chan core.ProgressEvent, ev core.ProgressEvent) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}
