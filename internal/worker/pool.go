package worker

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
)

// State is the pool lifecycle phase.
type State int32

// Pool states, in order.
const (
	StateInitialized State = iota
	StateRunning
	StateDraining
	StateStopped
)

// String returns a log-friendly state name.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrNotRunning is returned by Submit outside the RUNNING state.
var ErrNotRunning = errors.New("worker pool not running")

// Pool fans leased URLs out to a fixed set of goroutines and funnels
// their results back over one channel. Task and result channels are
// bounded, so a slow persister backpressures the leasing loop instead
// of growing memory.
type Pool struct {
	worker *Worker
	size   int
	logger *zap.Logger

	tasks   chan *crawler.QueuedURL
	results chan crawler.FetchResult
	state   atomic.Int32
	group   *errgroup.Group
}

// NewPool builds a pool of size goroutines around one worker.
func NewPool(size int, w *Worker, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		worker:  w,
		size:    size,
		logger:  logger,
		tasks:   make(chan *crawler.QueuedURL, size),
		results: make(chan crawler.FetchResult, 2*size),
	}
}

// Start launches the goroutines. Call once.
func (p *Pool) Start(ctx context.Context) {
	p.state.Store(int32(StateRunning))
	group, ctx := errgroup.WithContext(ctx)
	p.group = group
	for i := 0; i < p.size; i++ {
		id := i
		group.Go(func() error {
			return p.run(ctx, id)
		})
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.size))
}

func (p *Pool) run(ctx context.Context, id int) error {
	logger := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-p.tasks:
			if !ok {
				return nil
			}
			result := p.worker.Process(ctx, item)
			if result.Err != nil {
				logger.Debug("url failed",
					zap.String("url", item.URL),
					zap.String("kind", string(result.Err.Kind)),
				)
			}
			select {
			case p.results <- result:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Submit hands one leased URL to the pool, blocking while all workers
// are busy and the task buffer is full.
func (p *Pool) Submit(ctx context.Context, item *crawler.QueuedURL) error {
	if p.State() != StateRunning {
		return ErrNotRunning
	}
	select {
	case p.tasks <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results is the channel workers report on. It closes after Wait.
func (p *Pool) Results() <-chan crawler.FetchResult {
	return p.results
}

// Drain stops accepting tasks; in-flight URLs finish normally.
func (p *Pool) Drain() {
	if p.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		close(p.tasks)
	}
}

// Wait blocks until every worker exits, then closes the result channel.
// Drain (or context cancellation) must come first.
func (p *Pool) Wait() error {
	err := p.group.Wait()
	p.state.Store(int32(StateStopped))
	close(p.results)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// State reports the lifecycle phase.
func (p *Pool) State() State {
	return State(p.state.Load())
}
