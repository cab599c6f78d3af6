package streaming

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestFlowController_Backpressure_DropNewest exercises §8 scenario 4:
// capacity 4, producer feeds 100 chunks fast, consumer is slow,
// strategy drop_newest. chunks_dropped must equal received-delivered
// and the buffer must never have exceeded capacity (P4).
func TestFlowController_Backpressure_DropNewest(t *testing.T) {
	fc := NewFlowController(FlowControlConfig{
		Capacity:  4,
		Overflow:  DropNewest,
		RateLimit: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delivered atomic.Int64
	done := make(chan struct{})
	go func() {
		fc.Run(ctx, func(chunk any) {
			delivered.Add(1)
			time.Sleep(2 * time.Millisecond)
		})
		close(done)
	}()

	for i := 0; i < 100; i++ {
		fc.Push(ctx, i, 1)
		time.Sleep(100 * time.Microsecond)
	}
	fc.Done()
	<-done

	m := fc.Metrics()
	if m.MaxBufferFill > 4 {
		t.Fatalf("P4 violated: max buffer fill %d exceeds capacity 4", m.MaxBufferFill)
	}
	if m.ChunksReceived != 100 {
		t.Fatalf("expected 100 received, got %d", m.ChunksReceived)
	}
	if m.ChunksDropped != m.ChunksReceived-m.ChunksDelivered {
		t.Fatalf("dropped(%d) != received(%d)-delivered(%d)", m.ChunksDropped, m.ChunksReceived, m.ChunksDelivered)
	}
}

// TestFlowController_BlockProducer_NeverExceedsCapacity checks P4 under
// the blocking strategy with a fast producer and a slow consumer.
func TestFlowController_BlockProducer_NeverExceedsCapacity(t *testing.T) {
	fc := NewFlowController(FlowControlConfig{
		Capacity:  4,
		Overflow:  BlockProducer,
		RateLimit: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		fc.Run(ctx, func(chunk any) {
			time.Sleep(time.Millisecond)
		})
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fc.Push(ctx, i, 1)
		}(i)
	}
	wg.Wait()
	fc.Done()
	<-done

	m := fc.Metrics()
	if m.MaxBufferFill > 4 {
		t.Fatalf("P4 violated: max buffer fill %d exceeds capacity 4", m.MaxBufferFill)
	}
	if m.ChunksDelivered != 20 {
		t.Fatalf("block_producer must eventually deliver everything, got %d/20", m.ChunksDelivered)
	}
}

// TestFlowController_BlockProducer_ResumesBelowHalfThreshold pins the
// §4.7 resume rule: a blocked producer stays blocked until
// fill_ratio < T/2, not merely until one slot frees.
func TestFlowController_BlockProducer_ResumesBelowHalfThreshold(t *testing.T) {
	fc := NewFlowController(FlowControlConfig{
		Capacity:              10,
		Overflow:              BlockProducer,
		BackpressureThreshold: 0.8, // resume below 0.4, i.e. count < 4
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		fc.Push(ctx, i, 1)
	}

	var resumed atomic.Bool
	go func() {
		fc.Push(ctx, 10, 1)
		resumed.Store(true)
	}()

	// Give the producer time to block, then drain one item at a time.
	time.Sleep(20 * time.Millisecond)
	for drained := 1; drained <= 6; drained++ {
		if _, ok := fc.pop(); !ok {
			t.Fatalf("pop %d: buffer unexpectedly empty", drained)
		}
		time.Sleep(20 * time.Millisecond)
		// counts 9..4 all have fill_ratio >= 0.4; the producer must
		// still be blocked.
		if resumed.Load() {
			t.Fatalf("producer resumed after draining to %d items; resume requires fill_ratio < T/2", 10-drained)
		}
	}

	// One more pop takes the count to 3 (< 4): the producer may resume.
	if _, ok := fc.pop(); !ok {
		t.Fatal("buffer unexpectedly empty")
	}
	deadline := time.After(time.Second)
	for !resumed.Load() {
		select {
		case <-deadline:
			t.Fatal("producer never resumed after the buffer drained below T/2")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestFlowController_Cancel_StopsBothSides(t *testing.T) {
	fc := NewFlowController(FlowControlConfig{Capacity: 4, Overflow: BlockProducer})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		fc.Run(ctx, func(chunk any) {})
		close(done)
	}()

	fc.Push(ctx, 1, 1)
	fc.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after Cancel")
	}

	// A Push after Cancel must not block or panic.
	fc.Push(ctx, 2, 1)
}

func TestFlowController_Batching(t *testing.T) {
	fc := NewFlowController(FlowControlConfig{
		Capacity:     10,
		BatchSize:    3,
		BatchTimeout: 50 * time.Millisecond,
		RateLimit:    time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var batches [][]any
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		fc.Run(ctx, func(chunk any) {
			mu.Lock()
			defer mu.Unlock()
			batches = append(batches, chunk.([]any))
		})
		close(done)
	}()

	for i := 0; i < 7; i++ {
		fc.Push(ctx, i, 1)
	}
	time.Sleep(100 * time.Millisecond)
	fc.Done()
	<-done

	mu.Lock()
	defer mu.Unlock()
	var total int
	for _, b := range batches {
		total += len(b)
	}
	if total != 7 {
		t.Fatalf("expected 7 items delivered across batches, got %d in %v", total, batches)
	}
}
