// Package ratelimit provides a per-host minimum-interval gate built on
// golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wordcrawl/wordcrawl/internal/metrics"
)

// Limiter enforces a minimum interval between requests to the same host.
// Waiters for one host are served in arrival order; a cancelled waiter
// releases its slot without advancing the host's clock.
type Limiter struct {
	mu        sync.Mutex
	hosts     map[string]*rate.Limiter
	intervals map[string]time.Duration
	interval  time.Duration
}

// New builds a Limiter with the given global minimum interval. A
// non-positive interval disables rate limiting.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		hosts:     make(map[string]*rate.Limiter),
		intervals: make(map[string]time.Duration),
		interval:  interval,
	}
}

// Acquire blocks until the host's next slot is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, host string) error {
	lim := l.hostLimiter(host)

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitWait(host, waited)
	}
	return nil
}

// SetHostInterval raises the host's interval, typically from a robots
// crawl-delay directive. Intervals below the global floor are ignored.
func (l *Limiter) SetHostInterval(host string, interval time.Duration) {
	if interval <= l.interval {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intervals[host] = interval
	if lim, ok := l.hosts[host]; ok {
		lim.SetLimit(rate.Every(interval))
	}
}

// Interval returns the effective minimum interval for the host.
func (l *Limiter) Interval(host string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.intervals[host]; ok {
		return d
	}
	return l.interval
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.hosts[host]; ok {
		return lim
	}
	interval := l.interval
	if d, ok := l.intervals[host]; ok && d > interval {
		interval = d
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	lim := rate.NewLimiter(limit, 1)
	l.hosts[host] = lim
	return lim
}
