// Package worker runs the per-URL pipeline: robots check, rate limit,
// fetch, parse, extract, analyze.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
	"github.com/wordcrawl/wordcrawl/internal/extract"
	"github.com/wordcrawl/wordcrawl/internal/fetch"
	"github.com/wordcrawl/wordcrawl/internal/metrics"
	"github.com/wordcrawl/wordcrawl/internal/ratelimit"
	"github.com/wordcrawl/wordcrawl/internal/robots"
	"github.com/wordcrawl/wordcrawl/internal/urlnorm"
	"github.com/wordcrawl/wordcrawl/internal/words"
)

// parsePage is swappable in tests; x/net/html fails only on reader
// errors, which a byte slice never produces.
var parsePage = extract.Parse

// Fetcher is the HTTP surface the worker needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

// RobotsPolicy answers allow/deny and crawl-delay questions per host.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(host string) time.Duration
}

// Config bounds content processing.
type Config struct {
	MinTextLength   int
	MaxWordsPerPage int
}

// Worker processes one leased URL at a time. Stateless across URLs, so
// a single instance serves any number of pool goroutines.
type Worker struct {
	cfg      Config
	fetcher  Fetcher
	robots   RobotsPolicy
	limiter  *ratelimit.Limiter
	norm     *urlnorm.Normalizer
	analyzer *words.Analyzer
	logger   *zap.Logger
}

// New assembles a worker.
func New(cfg Config, fetcher Fetcher, policy RobotsPolicy, limiter *ratelimit.Limiter, norm *urlnorm.Normalizer, analyzer *words.Analyzer, logger *zap.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		fetcher:  fetcher,
		robots:   policy,
		limiter:  limiter,
		norm:     norm,
		analyzer: analyzer,
		logger:   logger,
	}
}

// Process runs the pipeline for one URL and always returns a result
// value. A panic anywhere in the pipeline is converted into a failed
// result; it never crosses the pool boundary.
func (w *Worker) Process(ctx context.Context, item *crawler.QueuedURL) (result crawler.FetchResult) {
	result = crawler.FetchResult{
		SessionID: item.SessionID,
		URL:       item.URL,
		ParentURL: item.ParentURL,
		Depth:     item.Depth,
		Priority:  item.Priority,
		Attempts:  item.Attempts,
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panic",
				zap.String("url", item.URL),
				zap.Any("panic", r),
			)
			result.Err = crawler.NewCrawlError(crawler.KindParseError, "panic: %v", r)
		}
	}()

	host := urlnorm.Host(item.URL)

	if !w.robots.Allowed(ctx, item.URL) {
		result.Err = crawler.NewCrawlError(crawler.KindDisallowedByRobots,
			"robots.txt disallows %s", item.URL)
		return result
	}
	// Hosts may slow us below the configured floor, never below it.
	if delay := w.robots.CrawlDelay(host); delay > 0 {
		w.limiter.SetHostInterval(host, delay)
	}

	if err := w.limiter.Acquire(ctx, host); err != nil {
		result.Err = crawler.ClassifyNetworkError(err)
		return result
	}

	resp, err := w.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		result.Err = asCrawlError(err)
		if result.Err.StatusCode != 0 {
			result.StatusCode = result.Err.StatusCode
		}
		metrics.ObserveFetch(statusClass(result.StatusCode), 0)
		return result
	}

	result.FinalURL = resp.FinalURL
	result.StatusCode = resp.StatusCode
	result.ContentType = resp.ContentType
	result.BodySize = int64(len(resp.Body))
	result.Timing = resp.Timing
	if resp.FinalURL != item.URL {
		result.RedirectCount = 1
	}
	metrics.ObserveFetch(statusClass(resp.StatusCode), resp.Timing.Download)

	parseStart := time.Now()
	doc, err := parsePage(resp.Body)
	result.Timing.Parse = time.Since(parseStart)
	if err != nil {
		// Unparseable bodies downgrade to an empty page rather than
		// failing the URL.
		w.logger.Warn("html parse failed",
			zap.String("url", item.URL),
			zap.Error(err),
		)
		doc = &extract.Document{}
	}
	result.Title = doc.Title
	result.TextLength = len(doc.Text)

	extractStart := time.Now()
	result.Links = w.resolveLinks(resp.FinalURL, doc.Links)
	result.Timing.Extract = time.Since(extractStart)

	analyzeStart := time.Now()
	if result.TextLength >= w.cfg.MinTextLength {
		counts := w.analyzer.Frequencies(doc.Text)
		for _, c := range counts {
			result.TotalWords += c
		}
		result.UniqueWords = len(counts)
		result.WordCounts = capWords(counts, w.cfg.MaxWordsPerPage)
	}
	result.Timing.Analyze = time.Since(analyzeStart)

	return result
}

// resolveLinks normalizes hrefs against the final URL, dropping anything
// unparseable or pointing at binary assets. Duplicates within one page
// collapse to a single entry, preserving first-seen order.
func (w *Worker) resolveLinks(base string, hrefs []string) []string {
	seen := make(map[string]struct{}, len(hrefs))
	var out []string
	for _, href := range hrefs {
		resolved, err := w.norm.Resolve(base, href)
		if err != nil {
			continue
		}
		if urlnorm.HasBinaryExtension(resolved) {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	}
	return out
}

// capWords keeps only the top-n words when a page exceeds the cap.
func capWords(counts map[string]int, maxWords int) map[string]int {
	if maxWords <= 0 || len(counts) <= maxWords {
		return counts
	}
	top := words.Top(counts, maxWords)
	capped := make(map[string]int, maxWords)
	for _, wc := range top {
		capped[wc.Word] = wc.Count
	}
	return capped
}

func asCrawlError(err error) *crawler.CrawlError {
	if ce, ok := err.(*crawler.CrawlError); ok {
		return ce
	}
	return crawler.ClassifyNetworkError(err)
}

func statusClass(code int) string {
	if code == 0 {
		return "error"
	}
	return fmt.Sprintf("%dxx", code/100)
}

var _ RobotsPolicy = (*robots.Policy)(nil)
