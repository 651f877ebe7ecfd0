package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
)

// Memory is the in-process queue backend. A single mutex guards the
// ordered heap; every operation is O(log n) and dwarfed by network I/O.
// Unfinished work is lost on shutdown.
type Memory struct {
	mu   sync.Mutex
	cond *sync.Cond

	limits   Limits
	leaseDur time.Duration

	heap     entryHeap
	byURL    map[string]*entry
	accepted int
	closed   bool
}

type entry struct {
	item  crawler.QueuedURL
	index int // heap position, -1 when not queued
}

// NewMemory builds an in-memory queue.
func NewMemory(limits Limits, leaseDuration time.Duration) *Memory {
	q := &Memory{
		limits:   limits,
		leaseDur: leaseDuration,
		byURL:    make(map[string]*entry),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue offers an item to the frontier.
func (q *Memory) Enqueue(_ context.Context, item crawler.QueuedURL) (crawler.EnqueueOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return crawler.EnqueueClosed, ErrClosed
	}
	if item.Depth > q.limits.MaxDepth {
		return crawler.EnqueueDepthExceeded, nil
	}
	if _, seen := q.byURL[item.URL]; seen {
		return crawler.EnqueueDuplicate, nil
	}
	if q.limits.MaxAccepted > 0 && q.accepted >= q.limits.MaxAccepted {
		return crawler.EnqueueLimitReached, nil
	}

	item.Status = crawler.StatusPending
	if item.DiscoveredAt.IsZero() {
		item.DiscoveredAt = time.Now()
	}
	e := &entry{item: item, index: -1}
	q.byURL[item.URL] = e
	heap.Push(&q.heap, e)
	q.accepted++
	q.cond.Broadcast()
	return crawler.EnqueueAccepted, nil
}

// Lease blocks until an eligible item exists, the wait elapses, the
// context is cancelled, or the queue closes.
func (q *Memory) Lease(ctx context.Context, wait time.Duration) (*crawler.QueuedURL, error) {
	deadline := time.Now().Add(wait)
	wake := time.AfterFunc(wait, q.cond.Broadcast)
	defer wake.Stop()
	stop := context.AfterFunc(ctx, q.cond.Broadcast)
	defer stop()

	var backoffWake *time.Timer
	defer func() {
		if backoffWake != nil {
			backoffWake.Stop()
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.closed {
			return nil, ErrClosed
		}
		if e, wakeAt := q.popEligible(); e != nil {
			e.item.Status = crawler.StatusInFlight
			e.item.LeasedUntil = time.Now().Add(q.leaseDur)
			leased := e.item
			return &leased, nil
		} else if !wakeAt.IsZero() && wakeAt.Before(deadline) {
			// Best item is backing off; wake when it becomes eligible.
			if backoffWake != nil {
				backoffWake.Stop()
			}
			backoffWake = time.AfterFunc(time.Until(wakeAt), q.cond.Broadcast)
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		q.cond.Wait()
	}
}

// popEligible removes and returns the best PENDING item whose backoff
// gate has passed. When nothing is eligible it reports the earliest
// not-before among skipped items.
func (q *Memory) popEligible() (*entry, time.Time) {
	var skipped []*entry
	var earliest time.Time
	now := time.Now()

	var found *entry
	for q.heap.Len() > 0 {
		e := heap.Pop(&q.heap).(*entry)
		if e.item.NotBefore.IsZero() || !e.item.NotBefore.After(now) {
			found = e
			break
		}
		if earliest.IsZero() || e.item.NotBefore.Before(earliest) {
			earliest = e.item.NotBefore
		}
		skipped = append(skipped, e)
	}
	for _, e := range skipped {
		heap.Push(&q.heap, e)
	}
	return found, earliest
}

// Complete transitions an IN_FLIGHT URL to its terminal status.
func (q *Memory) Complete(_ context.Context, url string, outcome crawler.Outcome, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byURL[url]
	if !ok {
		return fmt.Errorf("complete %s: unknown url", url)
	}
	if e.item.Status != crawler.StatusInFlight {
		return fmt.Errorf("complete %s: status is %s, not %s", url, e.item.Status, crawler.StatusInFlight)
	}
	e.item.Status = outcome.Status()
	e.item.LastError = lastError
	e.item.LeasedUntil = time.Time{}
	return nil
}

// Retry returns an IN_FLIGHT URL to PENDING with a backoff gate, counting
// the attempt. Priority is untouched; the not_before gate alone defers
// the item, matching the durable backend.
func (q *Memory) Retry(_ context.Context, url string, lastError string, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byURL[url]
	if !ok || e.item.Status != crawler.StatusInFlight {
		return fmt.Errorf("retry %s: not in flight", url)
	}
	e.item.Status = crawler.StatusPending
	e.item.Attempts++
	e.item.LastError = lastError
	e.item.NotBefore = notBefore
	e.item.LeasedUntil = time.Time{}
	heap.Push(&q.heap, e)
	q.cond.Broadcast()
	return nil
}

// Release returns an IN_FLIGHT URL to PENDING, counting the attempt.
func (q *Memory) Release(_ context.Context, url string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byURL[url]
	if !ok || e.item.Status != crawler.StatusInFlight {
		return fmt.Errorf("release %s: not in flight", url)
	}
	e.item.Status = crawler.StatusPending
	e.item.Attempts++
	e.item.LeasedUntil = time.Time{}
	heap.Push(&q.heap, e)
	q.cond.Broadcast()
	return nil
}

// Sizes reports the current census.
func (q *Memory) Sizes(_ context.Context) (crawler.QueueSizes, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s crawler.QueueSizes
	for _, e := range q.byURL {
		switch e.item.Status {
		case crawler.StatusPending:
			s.Pending++
		case crawler.StatusInFlight:
			s.InFlight++
		default:
			s.Terminal++
		}
	}
	return s, nil
}

// Statuses returns a snapshot of every known URL's terminal or live
// status, the memory backend's answer to url_queue inspection.
func (q *Memory) Statuses() map[string]crawler.URLStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]crawler.URLStatus, len(q.byURL))
	for url, e := range q.byURL {
		out[url] = e.item.Status
	}
	return out
}

// Close rejects further enqueues and unblocks waiting leasers.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}

// entryHeap orders entries by the frontier rule.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return Less(&h[i].item, &h[j].item) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
