package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// OverflowStrategy selects what happens when the flow controller's
// bounded buffer is full (§4.7).
type OverflowStrategy string

const (
	// DropNewest discards the incoming chunk and counts it as dropped.
	DropNewest OverflowStrategy = "drop_newest"
	// OverwriteOldest evicts the oldest undelivered chunk to make room.
	OverwriteOldest OverflowStrategy = "overwrite_oldest"
	// BlockProducer makes the producer wait until the buffer drains.
	BlockProducer OverflowStrategy = "block_producer"
)

// FlowControlConfig configures a FlowController. Zero values are
// replaced by the documented defaults in NewFlowController.
type FlowControlConfig struct {
	Capacity               int // C, default 100
	Overflow               OverflowStrategy
	BackpressureThreshold  float64       // T, default 0.8
	RateLimit              time.Duration // R, default 5ms, min time between callback invocations
	BatchSize              int           // 0/1 disables batching
	BatchTimeout           time.Duration
}

// FlowMetrics are the continuously-updated counters §4.7 requires.
// All fields are safe for concurrent access via the atomic accessors
// below; the struct itself is a point-in-time snapshot.
type FlowMetrics struct {
	ChunksReceived     uint64
	ChunksDelivered    uint64
	ChunksDropped      uint64
	BytesReceived      uint64
	BackpressureEvents uint64
	MaxBufferFill      int64
	ConsumerErrors     uint64
	ThroughputCPS      float64
	ThroughputBPS      float64
}

type flowCounters struct {
	chunksReceived     atomic.Uint64
	chunksDelivered    atomic.Uint64
	chunksDropped      atomic.Uint64
	bytesReceived      atomic.Uint64
	backpressureEvents atomic.Uint64
	maxBufferFill      atomic.Int64
	consumerErrors     atomic.Uint64
	start              time.Time
}

func (c *flowCounters) snapshot() FlowMetrics {
	elapsed := time.Since(c.start).Seconds()
	m := FlowMetrics{
		ChunksReceived:     c.chunksReceived.Load(),
		ChunksDelivered:    c.chunksDelivered.Load(),
		ChunksDropped:      c.chunksDropped.Load(),
		BytesReceived:      c.bytesReceived.Load(),
		BackpressureEvents: c.backpressureEvents.Load(),
		MaxBufferFill:      c.maxBufferFill.Load(),
		ConsumerErrors:     c.consumerErrors.Load(),
	}
	if elapsed > 0 {
		m.ThroughputCPS = float64(m.ChunksDelivered) / elapsed
		m.ThroughputBPS = float64(m.BytesReceived) / elapsed
	}
	return m
}

// bufItem is one buffered chunk plus its wire size, used for the
// bytes_received metric and for batching.
type bufItem struct {
	chunk any
	size  int
}

// FlowController owns a bounded circular buffer and coordinates a
// producer (the SSE parser, via Push) and a consumer goroutine (started
// by Run) that invokes a user callback. It is the concrete
// implementation of §4.7 and the "two cooperating tasks per stream"
// design note: push/pop are mutex-serialized so they are atomic under
// concurrent access, and the consumer's callback invocations are
// strictly ordered and serialized per stream.
type FlowController struct {
	cfg FlowControlConfig

	mu      sync.Mutex
	notFull *sync.Cond
	ring    []bufItem
	head    int // next read position
	count   int

	cancelled atomic.Bool
	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once

	counters flowCounters
}

// NewFlowController builds a FlowController with defaults applied for
// any zero-valued config field.
func NewFlowController(cfg FlowControlConfig) *FlowController {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.Overflow == "" {
		cfg.Overflow = BlockProducer
	}
	if cfg.BackpressureThreshold <= 0 {
		cfg.BackpressureThreshold = 0.8
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5 * time.Millisecond
	}
	fc := &FlowController{
		cfg:     cfg,
		ring:    make([]bufItem, cfg.Capacity),
		closeCh: make(chan struct{}),
	}
	fc.notFull = sync.NewCond(&fc.mu)
	fc.counters.start = time.Now()
	return fc
}

func (fc *FlowController) fillRatio() float64 {
	return float64(fc.count) / float64(fc.cfg.Capacity)
}

// Push is called by the producer for every chunk parsed off the wire.
// It applies the configured overflow strategy once the buffer reaches
// capacity and records backpressure once fill_ratio >= T.
func (fc *FlowController) Push(ctx context.Context, chunk any, size int) {
	fc.counters.chunksReceived.Add(1)
	fc.counters.bytesReceived.Add(uint64(size))

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.cancelled.Load() {
		return
	}

	if fc.fillRatio() >= fc.cfg.BackpressureThreshold {
		fc.counters.backpressureEvents.Add(1)
	}

	if fc.count == fc.cfg.Capacity {
		switch fc.cfg.Overflow {
		case DropNewest:
			fc.counters.chunksDropped.Add(1)
			return
		case OverwriteOldest:
			// Evict the oldest undelivered chunk to make room.
			fc.head = (fc.head + 1) % fc.cfg.Capacity
			fc.count--
			fc.counters.chunksDropped.Add(1)
		case BlockProducer:
			// A blocked producer stays blocked until the buffer drains
			// below half the backpressure threshold, not merely until one
			// slot frees; resuming on every pop would thrash.
			resume := fc.cfg.BackpressureThreshold / 2
			for fc.fillRatio() >= resume && !fc.cancelled.Load() {
				// Wake ourselves on ctx cancellation without requiring
				// the consumer to signal for it.
				waitCh := make(chan struct{})
				go func() {
					select {
					case <-ctx.Done():
						fc.mu.Lock()
						fc.notFull.Broadcast()
						fc.mu.Unlock()
					case <-waitCh:
					}
				}()
				fc.notFull.Wait()
				close(waitCh)
				if ctx.Err() != nil {
					return
				}
			}
			if fc.cancelled.Load() {
				return
			}
		}
	}

	tail := (fc.head + fc.count) % fc.cfg.Capacity
	fc.ring[tail] = bufItem{chunk: chunk, size: size}
	fc.count++
	if int64(fc.count) > fc.counters.maxBufferFill.Load() {
		fc.counters.maxBufferFill.Store(int64(fc.count))
	}
}

// pop removes and returns the oldest buffered item, or ok=false if the
// buffer is empty.
func (fc *FlowController) pop() (bufItem, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.count == 0 {
		return bufItem{}, false
	}
	item := fc.ring[fc.head]
	fc.head = (fc.head + 1) % fc.cfg.Capacity
	fc.count--
	fc.notFull.Signal()
	return item, true
}

// Cancel halts both producer and consumer: buffered chunks are
// dropped and any blocked Push call returns immediately.
func (fc *FlowController) Cancel() {
	fc.cancelled.Store(true)
	fc.mu.Lock()
	fc.count = 0
	fc.head = 0
	fc.notFull.Broadcast()
	fc.mu.Unlock()
	fc.closeOnce.Do(func() { close(fc.closeCh) })
}

// Done closes the producer side: no more Push calls will occur, and
// Run's consumer loop should drain the remaining buffer and return.
func (fc *FlowController) Done() {
	fc.closed.Store(true)
	fc.closeOnce.Do(func() { close(fc.closeCh) })
}

// Run starts the consumer loop, invoking callback for each delivered
// chunk (or batch of chunks, if batching is configured), respecting
// the configured rate limit. It returns once the producer calls Done
// (after draining the buffer) or ctx is cancelled / Cancel is called.
// Run is the consumer half of the "two cooperating tasks" model; it is
// intended to be invoked with `go fc.Run(ctx, callback)`.
func (fc *FlowController) Run(ctx context.Context, callback func(chunk any)) {
	var batch []any
	var batchTimer *time.Timer
	flush := func() {
		if len(batch) == 0 {
			return
		}
		fc.invokeCallback(callback, batch)
		batch = nil
	}

	ticker := time.NewTicker(fc.pollInterval())
	defer ticker.Stop()

	var batchTimeoutCh <-chan time.Time
	if fc.cfg.BatchSize > 1 && fc.cfg.BatchTimeout > 0 {
		batchTimer = time.NewTimer(fc.cfg.BatchTimeout)
		batchTimeoutCh = batchTimer.C
		defer batchTimer.Stop()
	}

	lastInvoke := time.Time{}
	for {
		if fc.cancelled.Load() {
			return
		}
		item, ok := fc.pop()
		if !ok {
			if fc.closed.Load() {
				flush()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-fc.closeCh:
				// Either Cancel() or Done() fired; loop once more to
				// drain/return appropriately.
				continue
			case <-ticker.C:
				continue
			case <-batchTimeoutCh:
				flush()
				if batchTimer != nil {
					batchTimer.Reset(fc.cfg.BatchTimeout)
				}
				continue
			}
		}

		if wait := fc.cfg.RateLimit - time.Since(lastInvoke); wait > 0 && !lastInvoke.IsZero() {
			time.Sleep(wait)
		}

		if fc.cfg.BatchSize > 1 {
			batch = append(batch, item.chunk)
			if len(batch) >= fc.cfg.BatchSize {
				flush()
				lastInvoke = time.Now()
			}
			continue
		}
		fc.invokeCallback(callback, item.chunk)
		lastInvoke = time.Now()
	}
}

func (fc *FlowController) invokeCallback(callback func(chunk any), payload any) {
	defer func() {
		if r := recover(); r != nil {
			fc.counters.consumerErrors.Add(1)
		}
	}()
	callback(payload)
	switch v := payload.(type) {
	case []any:
		fc.counters.chunksDelivered.Add(uint64(len(v)))
	default:
		fc.counters.chunksDelivered.Add(1)
	}
}

func (fc *FlowController) pollInterval() time.Duration {
	if fc.cfg.RateLimit > 0 {
		return fc.cfg.RateLimit
	}
	return time.Millisecond
}

// Metrics returns a point-in-time snapshot of the flow controller's
// counters.
func (fc *FlowController) Metrics() FlowMetrics {
	return fc.counters.snapshot()
}
