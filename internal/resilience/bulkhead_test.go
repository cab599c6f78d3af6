package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exllm/exllm/pkg/errors"
)

func TestBulkhead_OverCapacityQueuesFIFO(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxQueued: 1, QueueTimeout: time.Second})

	require.NoError(t, b.Acquire(context.Background()))
	assert.Equal(t, 1, b.InFlight())

	acquired := make(chan error, 1)
	go func() {
		acquired <- b.Acquire(context.Background())
	}()

	assert.Eventually(t, func() bool { return b.Queued() == 1 },
		time.Second, time.Millisecond)

	b.Release()
	select {
	case err := <-acquired:
		require.NoError(t, err, "queued caller should receive the released slot")
	case <-time.After(time.Second):
		t.Fatal("queued caller never acquired")
	}
	assert.Equal(t, 1, b.InFlight())
	b.Release()
	assert.Equal(t, 0, b.InFlight())
}

func TestBulkhead_QueueFullFailsFast(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxQueued: 0, QueueTimeout: time.Second})
	require.NoError(t, b.Acquire(context.Background()))

	err := b.Acquire(context.Background())
	var perr *errors.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, errors.KindBulkheadFull, perr.Kind)
}

func TestBulkhead_QueueTimeout(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxQueued: 4, QueueTimeout: 30 * time.Millisecond})
	require.NoError(t, b.Acquire(context.Background()))

	start := time.Now()
	err := b.Acquire(context.Background())
	var perr *errors.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, errors.KindBulkheadFull, perr.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 0, b.Queued())
}

func TestBulkhead_ContextCancellationReleasesQueueSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxQueued: 4, QueueTimeout: time.Minute})
	require.NoError(t, b.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Acquire(ctx) }()

	assert.Eventually(t, func() bool { return b.Queued() == 1 },
		time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}
	assert.Equal(t, 0, b.Queued())
}
