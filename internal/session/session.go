// Package session orchestrates one crawl: seeding, leasing, dispatch,
// result persistence, link discovery and termination.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
	"github.com/wordcrawl/wordcrawl/internal/dedup"
	"github.com/wordcrawl/wordcrawl/internal/metrics"
	"github.com/wordcrawl/wordcrawl/internal/queue"
	"github.com/wordcrawl/wordcrawl/internal/store"
	"github.com/wordcrawl/wordcrawl/internal/urlnorm"
	"github.com/wordcrawl/wordcrawl/internal/worker"
)

// Config fixes a session's limits and policies at start.
type Config struct {
	SeedURLs     []string
	SeedPriority int
	MaxDepth     int
	MaxPages     int64
	MaxRetries   int

	// BackoffBase seeds the retry schedule: base * 2^attempts, capped.
	BackoffBase    time.Duration
	LeaseWait      time.Duration
	MetricInterval time.Duration

	AllowedDomains []string
	BlockedDomains []string

	// Durable marks the Postgres queue backend, where the DONE
	// transition rides the page-persistence transaction.
	Durable bool
}

const (
	defaultLeaseWait      = 500 * time.Millisecond
	defaultMetricInterval = 10 * time.Second
	defaultBackoffBase    = time.Second
	maxBackoff            = 60 * time.Second
	persistAttempts       = 3
)

// Session drives one crawl run. All counters live on the session
// goroutine; workers report only through the pool's result channel.
type Session struct {
	id     uuid.UUID
	cfg    Config
	queue  queue.Queue
	pool   *worker.Pool
	store  store.Store
	filter *dedup.Filter
	norm   *urlnorm.Normalizer
	logger *zap.Logger

	pagesCrawled int64
	pagesFailed  int64
	pagesSkipped int64
	bytesTotal   int64
	errorCount   int64
	inFlight     int
	fatalErr     error

	startedAt  time.Time
	lastMetric time.Time
}

// New assembles a session around its collaborators.
func New(id uuid.UUID, cfg Config, q queue.Queue, pool *worker.Pool, st store.Store, filter *dedup.Filter, norm *urlnorm.Normalizer, logger *zap.Logger) *Session {
	if cfg.LeaseWait <= 0 {
		cfg.LeaseWait = defaultLeaseWait
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = defaultMetricInterval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	return &Session{
		id:     id,
		cfg:    cfg,
		queue:  q,
		pool:   pool,
		store:  st,
		filter: filter,
		norm:   norm,
		logger: logger.With(zap.String("session", id.String())),
	}
}

// Run executes the crawl to its terminal state. The returned status is
// also written to the session row; the error is non-nil only for fatal
// failures.
func (s *Session) Run(ctx context.Context) (crawler.SessionStatus, error) {
	s.startedAt = time.Now()
	s.lastMetric = s.startedAt

	seeded := s.enqueueSeeds(ctx)
	if seeded == 0 && !s.hasBacklog(ctx) {
		s.logger.Error("no usable seed urls")
		s.close(ctx, crawler.SessionFailed, "no usable seed urls")
		return crawler.SessionFailed, errors.New("no usable seed urls")
	}

	s.pool.Start(ctx)
	s.logger.Info("session started",
		zap.Int("seeds", seeded),
		zap.Int64("max_pages", s.cfg.MaxPages),
		zap.Int("max_depth", s.cfg.MaxDepth),
	)

	s.loop(ctx)
	return s.shutdown(ctx)
}

// hasBacklog reports whether a resumed durable frontier already holds
// work, in which case a run may proceed without fresh seeds.
func (s *Session) hasBacklog(ctx context.Context) bool {
	sizes, err := s.queue.Sizes(ctx)
	if err != nil {
		return false
	}
	return sizes.Pending > 0 || sizes.InFlight > 0
}

func (s *Session) loop(ctx context.Context) {
	for {
		s.drainReady(ctx)
		s.maybeEmitMetric(ctx)

		if s.shouldStop(ctx) {
			return
		}

		leaseStart := time.Now()
		item, err := s.queue.Lease(ctx, s.cfg.LeaseWait)
		metrics.ObserveLeaseWait(time.Since(leaseStart))
		switch {
		case errors.Is(err, queue.ErrClosed):
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		case err != nil:
			s.fatal(fmt.Errorf("lease: %w", err))
			return
		}

		if item == nil {
			// Nothing eligible. With no work in flight and nothing
			// pending the crawl is finished.
			if s.inFlight == 0 {
				sizes, err := s.queue.Sizes(ctx)
				if err == nil && sizes.Pending == 0 {
					return
				}
			}
			continue
		}

		if err := s.pool.Submit(ctx, item); err != nil {
			// Lease stands; put the item back so another run can take it.
			if relErr := s.queue.Release(ctx, item.URL); relErr != nil {
				s.logger.Warn("release after failed submit", zap.Error(relErr))
			}
			return
		}
		s.inFlight++
	}
}

// drainReady consumes every result currently sitting in the channel
// without blocking.
func (s *Session) drainReady(ctx context.Context) {
	for {
		select {
		case result, ok := <-s.pool.Results():
			if !ok {
				return
			}
			s.handleResult(ctx, result)
		default:
			return
		}
	}
}

func (s *Session) shouldStop(ctx context.Context) bool {
	if s.fatalErr != nil {
		return true
	}
	if ctx.Err() != nil {
		return true
	}
	if s.cfg.MaxPages > 0 && s.pagesCrawled >= s.cfg.MaxPages {
		return true
	}
	return false
}

// shutdown drains the pool, absorbs the remaining results, releases any
// leftover leases and writes the terminal session row.
func (s *Session) shutdown(ctx context.Context) (crawler.SessionStatus, error) {
	s.pool.Drain()

	// Results may still be in flight; persist them on a context that
	// survives cancellation of the crawl itself.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.pool.Wait() }()
	for result := range s.pool.Results() {
		s.handleResult(flushCtx, result)
	}
	if err := <-done; err != nil {
		s.logger.Warn("worker pool exited with error", zap.Error(err))
	}

	status := crawler.SessionCompleted
	fatalMsg := ""
	switch {
	case s.fatalErr != nil:
		status = crawler.SessionFailed
		fatalMsg = s.fatalErr.Error()
	case ctx.Err() != nil:
		status = crawler.SessionCancelled
	}

	if releaser, ok := s.queue.(interface {
		ReleaseAllInFlight(context.Context) (int64, error)
	}); ok && status != crawler.SessionCompleted {
		if n, err := releaser.ReleaseAllInFlight(flushCtx); err != nil {
			s.logger.Warn("release in-flight leases", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("released in-flight leases", zap.Int64("count", n))
		}
	}

	s.emitMetric(flushCtx)
	s.close(flushCtx, status, fatalMsg)
	s.logger.Info("session finished",
		zap.String("status", string(status)),
		zap.Int64("pages", s.pagesCrawled),
		zap.Int64("failed", s.pagesFailed),
		zap.Int64("skipped", s.pagesSkipped),
		zap.Int64("bytes", s.bytesTotal),
		zap.Duration("elapsed", time.Since(s.startedAt)),
	)
	return status, s.fatalErr
}

func (s *Session) close(ctx context.Context, status crawler.SessionStatus, fatalMsg string) {
	counters := store.SessionCounters{
		PagesCrawled: s.pagesCrawled,
		PagesFailed:  s.pagesFailed,
		PagesSkipped: s.pagesSkipped,
		BytesTotal:   s.bytesTotal,
		Errors:       s.errorCount,
	}
	if err := s.store.CloseSession(ctx, s.id, status, counters, fatalMsg); err != nil {
		s.logger.Error("close session row", zap.Error(err))
	}
	if err := s.queue.Close(); err != nil {
		s.logger.Warn("close queue", zap.Error(err))
	}
}

// enqueueSeeds normalizes and offers every seed at depth 0.
func (s *Session) enqueueSeeds(ctx context.Context) int {
	var accepted int
	for _, seed := range s.cfg.SeedURLs {
		normalized, err := s.norm.Normalize(seed)
		if err != nil {
			s.logger.Warn("rejecting seed", zap.String("url", seed), zap.Error(err))
			continue
		}
		if !s.domainAllowed(urlnorm.Host(normalized)) {
			s.logger.Warn("seed outside domain policy", zap.String("url", normalized))
			continue
		}
		if !s.filter.Add(normalized) {
			continue
		}
		outcome, err := s.queue.Enqueue(ctx, crawler.QueuedURL{
			SessionID: s.id,
			URL:       normalized,
			Priority:  s.cfg.SeedPriority,
		})
		if err != nil {
			s.logger.Warn("enqueue seed", zap.String("url", normalized), zap.Error(err))
			continue
		}
		metrics.ObserveEnqueue(outcome.String())
		if outcome == crawler.EnqueueAccepted {
			accepted++
		}
	}
	return accepted
}

func (s *Session) handleResult(ctx context.Context, result crawler.FetchResult) {
	s.inFlight--

	if result.Err == nil {
		s.handleSuccess(ctx, result)
		return
	}
	s.handleFailure(ctx, result)
}

func (s *Session) handleSuccess(ctx context.Context, result crawler.FetchResult) {
	// Results that arrive after the cap go back to PENDING unpersisted,
	// so the page bound holds exactly.
	if s.cfg.MaxPages > 0 && s.pagesCrawled >= s.cfg.MaxPages {
		if err := s.queue.Release(ctx, result.URL); err != nil {
			s.logger.Warn("release over-cap url", zap.String("url", result.URL), zap.Error(err))
		}
		return
	}

	persistStart := time.Now()
	page := pageFromResult(result)
	links := classifyLinks(s.id, result.URL, result.Links)
	err := s.persistWithRetry(ctx, store.PageResult{
		Page:     page,
		Words:    result.WordCounts,
		Links:    links,
		MarkDone: s.cfg.Durable,
	})
	if err != nil {
		s.fatal(fmt.Errorf("persist %s: %w", result.URL, err))
		return
	}
	if !s.cfg.Durable {
		if err := s.queue.Complete(ctx, result.URL, crawler.OutcomeDone, ""); err != nil {
			s.logger.Warn("complete url", zap.String("url", result.URL), zap.Error(err))
		}
	}

	s.pagesCrawled++
	s.bytesTotal += result.BodySize
	metrics.ObservePage("done", result.BodySize)
	s.logger.Debug("page crawled",
		zap.String("url", result.URL),
		zap.Int("depth", result.Depth),
		zap.Int("links", len(result.Links)),
		zap.Duration("persist", time.Since(persistStart)),
	)

	s.enqueueLinks(ctx, result)
}

func (s *Session) handleFailure(ctx context.Context, result crawler.FetchResult) {
	cerr := result.Err
	s.errorCount++
	metrics.ObserveError(string(cerr.Kind))

	if cerr.Kind != crawler.KindCancelled {
		if err := s.store.RecordError(ctx, crawler.ErrorEvent{
			SessionID:  s.id,
			URL:        result.URL,
			Depth:      result.Depth,
			Kind:       cerr.Kind,
			Message:    cerr.Message,
			StatusCode: cerr.StatusCode,
			Attempt:    result.Attempts,
			Retryable:  cerr.Retryable(),
		}); err != nil {
			s.logger.Warn("record error event", zap.Error(err))
		}
	}

	switch {
	case cerr.Kind == crawler.KindCancelled:
		// Not an error toward the user; hand the lease back.
		s.errorCount--
		if err := s.queue.Release(ctx, result.URL); err != nil {
			s.logger.Warn("release cancelled url", zap.Error(err))
		}

	case cerr.Skip():
		s.pagesSkipped++
		metrics.ObservePage("skipped", 0)
		if err := s.queue.Complete(ctx, result.URL, crawler.OutcomeSkipped, cerr.Error()); err != nil {
			s.logger.Warn("skip url", zap.Error(err))
		}

	case cerr.Retryable() && result.Attempts < s.cfg.MaxRetries:
		notBefore := time.Now().Add(backoff(s.cfg.BackoffBase, result.Attempts))
		if err := s.queue.Retry(ctx, result.URL, cerr.Error(), notBefore); err != nil {
			s.logger.Warn("retry url", zap.Error(err))
		}

	default:
		s.pagesFailed++
		metrics.ObservePage("failed", 0)
		if err := s.queue.Complete(ctx, result.URL, crawler.OutcomeFailed, cerr.Error()); err != nil {
			s.logger.Warn("fail url", zap.Error(err))
		}
	}
}

// enqueueLinks offers discovered links at depth+1, inheriting the
// parent's priority less one, floored at zero.
func (s *Session) enqueueLinks(ctx context.Context, result crawler.FetchResult) {
	if s.cfg.MaxPages > 0 && s.pagesCrawled >= s.cfg.MaxPages {
		return
	}
	priority := result.Priority - 1
	if priority < 0 {
		priority = 0
	}
	for _, link := range result.Links {
		if !s.domainAllowed(urlnorm.Host(link)) {
			continue
		}
		if !s.filter.Add(link) {
			metrics.ObserveEnqueue(crawler.EnqueueDuplicate.String())
			continue
		}
		outcome, err := s.queue.Enqueue(ctx, crawler.QueuedURL{
			SessionID: s.id,
			URL:       link,
			ParentURL: result.URL,
			Depth:     result.Depth + 1,
			Priority:  priority,
		})
		if err != nil && !errors.Is(err, queue.ErrClosed) {
			s.logger.Warn("enqueue link", zap.String("url", link), zap.Error(err))
			continue
		}
		metrics.ObserveEnqueue(outcome.String())
	}
}

func (s *Session) persistWithRetry(ctx context.Context, page store.PageResult) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if err = s.store.RecordPage(ctx, page); err == nil {
			return nil
		}
		s.logger.Warn("persist attempt failed",
			zap.String("url", page.Page.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
		}
	}
	return err
}

func (s *Session) maybeEmitMetric(ctx context.Context) {
	if time.Since(s.lastMetric) < s.cfg.MetricInterval {
		return
	}
	s.emitMetric(ctx)
}

func (s *Session) emitMetric(ctx context.Context) {
	s.lastMetric = time.Now()
	elapsed := time.Since(s.startedAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}

	sizes, err := s.queue.Sizes(ctx)
	if err != nil {
		s.logger.Warn("queue sizes", zap.Error(err))
	}
	metrics.SetQueueDepth(sizes.Pending, sizes.InFlight, sizes.Terminal)

	snap := crawler.MetricSnapshot{
		SessionID:    s.id,
		Timestamp:    s.lastMetric,
		PagesCrawled: s.pagesCrawled,
		PagesFailed:  s.pagesFailed,
		PagesSkipped: s.pagesSkipped,
		BytesTotal:   s.bytesTotal,
		Errors:       s.errorCount,
		PagesPerSec:  float64(s.pagesCrawled) / elapsed,
		BytesPerSec:  float64(s.bytesTotal) / elapsed,
		InFlight:     s.inFlight,
		QueueDepth:   sizes.Pending,
	}
	if err := s.store.RecordMetric(ctx, snap); err != nil {
		s.logger.Warn("record metric snapshot", zap.Error(err))
	}
}

func (s *Session) fatal(err error) {
	if s.fatalErr == nil {
		s.fatalErr = err
		s.logger.Error("fatal session error", zap.Error(err))
	}
}

// domainAllowed applies the allow/block lists to a host. Matching is
// suffix-based on label boundaries, so "example.com" covers
// "www.example.com" but not "notexample.com".
func (s *Session) domainAllowed(host string) bool {
	if host == "" {
		return false
	}
	for _, blocked := range s.cfg.BlockedDomains {
		if hostMatches(host, blocked) {
			return false
		}
	}
	if len(s.cfg.AllowedDomains) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedDomains {
		if hostMatches(host, allowed) {
			return true
		}
	}
	return false
}

func hostMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// backoff is base * 2^attempts, capped.
func backoff(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func pageFromResult(result crawler.FetchResult) crawler.Page {
	return crawler.Page{
		SessionID:     result.SessionID,
		URL:           result.URL,
		FinalURL:      result.FinalURL,
		ParentURL:     result.ParentURL,
		Depth:         result.Depth,
		StatusCode:    result.StatusCode,
		ContentType:   result.ContentType,
		Title:         result.Title,
		TextLength:    result.TextLength,
		TotalWords:    result.TotalWords,
		UniqueWords:   result.UniqueWords,
		RedirectCount: result.RedirectCount,
		Timing:        result.Timing,
		CrawledAt:     time.Now(),
	}
}

func classifyLinks(sessionID uuid.UUID, source string, dests []string) []crawler.Link {
	links := make([]crawler.Link, 0, len(dests))
	for _, dest := range dests {
		kind := crawler.LinkExternal
		if urlnorm.SameHost(source, dest) {
			kind = crawler.LinkInternal
		}
		links = append(links, crawler.Link{
			SessionID: sessionID,
			SourceURL: source,
			DestURL:   dest,
			Kind:      kind,
		})
	}
	return links
}
