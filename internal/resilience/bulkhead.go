package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/exllm/exllm/pkg/errors"
)

// BulkheadConfig bounds concurrent calls to one provider and the queue
// of callers waiting behind them.
type BulkheadConfig struct {
	MaxConcurrent int
	MaxQueued     int
	QueueTimeout  time.Duration
}

// Bulkhead is a counting semaphore with a bounded, FIFO wait queue.
// Callers beyond MaxConcurrent wait in the queue up to QueueTimeout;
// callers beyond MaxConcurrent+MaxQueued fail immediately with
// KindBulkheadFull.
type Bulkhead struct {
	mu      sync.Mutex
	cfg     BulkheadConfig
	current int
	waiters []chan struct{}
}

// NewBulkhead creates a bulkhead. MaxConcurrent below 1 is coerced to 1.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = 10 * time.Second
	}
	return &Bulkhead{cfg: cfg}
}

// Acquire obtains a slot, queueing if the bulkhead is at capacity.
// It returns a KindBulkheadFull PipelineError when the queue is full or
// the queue wait times out, and ctx.Err() on cancellation.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	b.mu.Lock()
	if b.current < b.cfg.MaxConcurrent {
		b.current++
		b.mu.Unlock()
		return nil
	}
	if len(b.waiters) >= b.cfg.MaxQueued {
		b.mu.Unlock()
		return &errors.PipelineError{
			Kind:    errors.KindBulkheadFull,
			Message: "bulkhead queue is full",
		}
	}
	waiter := make(chan struct{})
	b.waiters = append(b.waiters, waiter)
	b.mu.Unlock()

	timer := time.NewTimer(b.cfg.QueueTimeout)
	defer timer.Stop()

	select {
	case <-waiter:
		return nil
	case <-timer.C:
		b.removeWaiter(waiter)
		return &errors.PipelineError{
			Kind:    errors.KindBulkheadFull,
			Message: "timed out waiting for a bulkhead slot",
		}
	case <-ctx.Done():
		b.removeWaiter(waiter)
		return ctx.Err()
	}
}

// removeWaiter drops a waiter that gave up. If the waiter was already
// signalled (slot handed over concurrently), the slot is passed on or
// released so it is not leaked.
func (b *Bulkhead) removeWaiter(waiter chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w == waiter {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
	// Not in the queue: Release already closed our channel and handed us
	// the slot. Pass it along.
	b.releaseLocked()
}

// Release frees a slot, handing it to the oldest waiter if any.
func (b *Bulkhead) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked()
}

func (b *Bulkhead) releaseLocked() {
	if len(b.waiters) > 0 {
		waiter := b.waiters[0]
		b.waiters = b.waiters[1:]
		close(waiter)
		// The slot transfers to the waiter; current stays unchanged.
		return
	}
	if b.current > 0 {
		b.current--
	}
}

// InFlight returns the number of held slots.
func (b *Bulkhead) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Queued returns the number of waiting callers.
func (b *Bulkhead) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}
