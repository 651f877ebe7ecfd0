// Package queue implements the crawl frontier: a priority-ordered set of
// pending URLs with lease semantics, backed by memory or Postgres.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Limits bound what a queue will accept for one session.
type Limits struct {
	// MaxDepth rejects items deeper than this.
	MaxDepth int
	// MaxAccepted caps the number of URLs ever accepted. Zero means no cap.
	MaxAccepted int
}

// Queue is the frontier contract shared by both backends.
//
// Lease returns the best PENDING item under the ordering rule: highest
// priority, then lowest depth, then earliest discovery. A (nil, nil)
// return means the wait elapsed with nothing eligible.
type Queue interface {
	Enqueue(ctx context.Context, item crawler.QueuedURL) (crawler.EnqueueOutcome, error)
	Lease(ctx context.Context, wait time.Duration) (*crawler.QueuedURL, error)
	Complete(ctx context.Context, url string, outcome crawler.Outcome, lastError string) error
	Retry(ctx context.Context, url string, lastError string, notBefore time.Time) error
	Release(ctx context.Context, url string) error
	Sizes(ctx context.Context) (crawler.QueueSizes, error)
	Close() error
}

// Less is the frontier ordering rule shared by both backends.
func Less(a, b *crawler.QueuedURL) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.DiscoveredAt.Before(b.DiscoveredAt)
}
