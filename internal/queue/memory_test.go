package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
)

func newMemory(t *testing.T, limits Limits) *Memory {
	t.Helper()
	if limits.MaxDepth == 0 {
		limits.MaxDepth = 10
	}
	q := NewMemory(limits, time.Minute)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func enqueue(t *testing.T, q Queue, url string, depth, priority int) crawler.EnqueueOutcome {
	t.Helper()
	out, err := q.Enqueue(context.Background(), crawler.QueuedURL{
		URL: url, Depth: depth, Priority: priority,
	})
	require.NoError(t, err)
	return out
}

func TestMemory_EnqueueOutcomes(t *testing.T) {
	q := newMemory(t, Limits{MaxDepth: 2, MaxAccepted: 3})

	assert.Equal(t, crawler.EnqueueAccepted, enqueue(t, q, "http://h/a", 0, 0))
	assert.Equal(t, crawler.EnqueueDuplicate, enqueue(t, q, "http://h/a", 0, 0))
	assert.Equal(t, crawler.EnqueueDepthExceeded, enqueue(t, q, "http://h/deep", 3, 0))
	assert.Equal(t, crawler.EnqueueAccepted, enqueue(t, q, "http://h/b", 1, 0))
	assert.Equal(t, crawler.EnqueueAccepted, enqueue(t, q, "http://h/c", 1, 0))
	assert.Equal(t, crawler.EnqueueLimitReached, enqueue(t, q, "http://h/d", 1, 0))
}

func TestMemory_LeaseOrdering(t *testing.T) {
	q := newMemory(t, Limits{})
	ctx := context.Background()

	base := time.Now()
	items := []crawler.QueuedURL{
		{URL: "http://h/low-pri", Depth: 0, Priority: 0, DiscoveredAt: base},
		{URL: "http://h/deep", Depth: 2, Priority: 5, DiscoveredAt: base},
		{URL: "http://h/shallow-late", Depth: 1, Priority: 5, DiscoveredAt: base.Add(time.Second)},
		{URL: "http://h/shallow-early", Depth: 1, Priority: 5, DiscoveredAt: base},
	}
	for _, it := range items {
		out, err := q.Enqueue(ctx, it)
		require.NoError(t, err)
		require.Equal(t, crawler.EnqueueAccepted, out)
	}

	want := []string{
		"http://h/shallow-early", // priority 5, depth 1, earliest
		"http://h/shallow-late",  // priority 5, depth 1, later discovery
		"http://h/deep",          // priority 5, depth 2
		"http://h/low-pri",       // priority 0
	}
	for _, expected := range want {
		item, err := q.Lease(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, expected, item.URL)
		assert.Equal(t, crawler.StatusInFlight, item.Status)
		assert.False(t, item.LeasedUntil.IsZero())
	}
}

func TestMemory_LeaseTimeoutWhenEmpty(t *testing.T) {
	q := newMemory(t, Limits{})

	start := time.Now()
	item, err := q.Lease(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestMemory_LeaseUnblocksOnEnqueue(t *testing.T) {
	q := newMemory(t, Limits{})
	ctx := context.Background()

	got := make(chan *crawler.QueuedURL, 1)
	go func() {
		item, err := q.Lease(ctx, 2*time.Second)
		if err == nil {
			got <- item
		}
	}()

	time.Sleep(20 * time.Millisecond)
	enqueue(t, q, "http://h/late", 0, 0)

	select {
	case item := <-got:
		require.NotNil(t, item)
		assert.Equal(t, "http://h/late", item.URL)
	case <-time.After(time.Second):
		t.Fatal("lease did not unblock after enqueue")
	}
}

func TestMemory_CompleteAndSizes(t *testing.T) {
	q := newMemory(t, Limits{})
	ctx := context.Background()

	enqueue(t, q, "http://h/a", 0, 0)
	enqueue(t, q, "http://h/b", 0, 0)

	item, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)

	sizes, err := q.Sizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.QueueSizes{Pending: 1, InFlight: 1}, sizes)

	require.NoError(t, q.Complete(ctx, item.URL, crawler.OutcomeDone, ""))
	sizes, err = q.Sizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.QueueSizes{Pending: 1, Terminal: 1}, sizes)

	assert.Equal(t, crawler.StatusDone, q.Statuses()[item.URL])
}

func TestMemory_CompleteRequiresInFlight(t *testing.T) {
	q := newMemory(t, Limits{})
	ctx := context.Background()

	enqueue(t, q, "http://h/a", 0, 0)
	assert.Error(t, q.Complete(ctx, "http://h/a", crawler.OutcomeDone, ""))
	assert.Error(t, q.Complete(ctx, "http://h/unknown", crawler.OutcomeDone, ""))
}

func TestMemory_RetryBacksOffAndCounts(t *testing.T) {
	q := newMemory(t, Limits{})
	ctx := context.Background()

	enqueue(t, q, "http://h/flaky", 0, 5)
	item, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)

	notBefore := time.Now().Add(80 * time.Millisecond)
	require.NoError(t, q.Retry(ctx, item.URL, "503", notBefore))

	// Not eligible until the gate passes.
	early, err := q.Lease(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, early)

	later, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, later)
	assert.Equal(t, "http://h/flaky", later.URL)
	assert.Equal(t, 1, later.Attempts)
	// Retry defers through not_before only; priority is preserved.
	assert.Equal(t, 5, later.Priority)
	assert.Equal(t, "503", later.LastError)
}

func TestMemory_ReleaseReturnsToPending(t *testing.T) {
	q := newMemory(t, Limits{})
	ctx := context.Background()

	enqueue(t, q, "http://h/a", 0, 0)
	item, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Release(ctx, item.URL))

	again, err := q.Lease(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, item.URL, again.URL)
	assert.Equal(t, 1, again.Attempts)
}

func TestMemory_CloseUnblocksAndRejects(t *testing.T) {
	q := NewMemory(Limits{MaxDepth: 5}, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Lease(context.Background(), time.Minute)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock leaser")
	}

	_, err := q.Enqueue(context.Background(), crawler.QueuedURL{URL: "http://h/x"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemory_LeaseCancelled(t *testing.T) {
	q := newMemory(t, Limits{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Lease(ctx, time.Minute)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancel did not unblock leaser")
	}
}
