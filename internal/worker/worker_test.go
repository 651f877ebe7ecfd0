package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
	"github.com/wordcrawl/wordcrawl/internal/extract"
	"github.com/wordcrawl/wordcrawl/internal/fetch"
	"github.com/wordcrawl/wordcrawl/internal/ratelimit"
	"github.com/wordcrawl/wordcrawl/internal/urlnorm"
	"github.com/wordcrawl/wordcrawl/internal/words"
)

type stubFetcher struct {
	calls atomic.Int32
	fn    func(url string) (*fetch.Response, error)
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (*fetch.Response, error) {
	s.calls.Add(1)
	return s.fn(url)
}

type stubRobots struct {
	allow bool
	delay time.Duration
}

func (s *stubRobots) Allowed(context.Context, string) bool { return s.allow }
func (s *stubRobots) CrawlDelay(string) time.Duration      { return s.delay }

func htmlResponse(url, body string) *fetch.Response {
	return &fetch.Response{
		StatusCode:  200,
		FinalURL:    url,
		ContentType: "text/html",
		Body:        []byte(body),
		Timing:      crawler.Timing{Download: 5 * time.Millisecond},
	}
}

func newTestWorker(t *testing.T, cfg Config, fetcher Fetcher, policy RobotsPolicy) (*Worker, *ratelimit.Limiter) {
	t.Helper()
	norm, err := urlnorm.New(urlnorm.Options{})
	require.NoError(t, err)
	limiter := ratelimit.New(0)
	return New(cfg, fetcher, policy, limiter, norm, words.New(false), zap.NewNop()), limiter
}

func TestProcess_Success(t *testing.T) {
	page := `<html><head><title>Greetings</title></head>
		<body><p>hello hello world</p>
		<a href="/next">next</a>
		<a href="https://other.example/away">away</a>
		<a href="/next">dup</a>
		<a href="/big.pdf">pdf</a>
		</body></html>`
	fetcher := &stubFetcher{fn: func(url string) (*fetch.Response, error) {
		return htmlResponse(url, page), nil
	}}
	w, _ := newTestWorker(t, Config{}, fetcher, &stubRobots{allow: true})

	item := &crawler.QueuedURL{SessionID: uuid.New(), URL: "http://h/a", Depth: 1}
	result := w.Process(context.Background(), item)

	require.Nil(t, result.Err)
	assert.Equal(t, "Greetings", result.Title)
	assert.Equal(t, 200, result.StatusCode)
	// Anchor text counts toward the page's words.
	assert.Equal(t, map[string]int{
		"hello": 2, "world": 1, "next": 1, "away": 1, "dup": 1, "pdf": 1,
	}, result.WordCounts)
	assert.Equal(t, 7, result.TotalWords)
	assert.Equal(t, 6, result.UniqueWords)
	assert.Equal(t, []string{"http://h/next", "https://other.example/away"}, result.Links)
	assert.Equal(t, item.Depth, result.Depth)
	assert.Positive(t, result.Timing.Parse+result.Timing.Extract+result.Timing.Analyze)
}

func TestProcess_RobotsDenied(t *testing.T) {
	fetcher := &stubFetcher{fn: func(url string) (*fetch.Response, error) {
		t.Fatal("fetch must not be called for a robots-denied url")
		return nil, nil
	}}
	w, _ := newTestWorker(t, Config{}, fetcher, &stubRobots{allow: false})

	result := w.Process(context.Background(), &crawler.QueuedURL{URL: "http://h/admin/x"})
	require.NotNil(t, result.Err)
	assert.Equal(t, crawler.KindDisallowedByRobots, result.Err.Kind)
	assert.True(t, result.Err.Skip())
	assert.Zero(t, fetcher.calls.Load())
}

func TestProcess_CrawlDelayRaisesHostInterval(t *testing.T) {
	fetcher := &stubFetcher{fn: func(url string) (*fetch.Response, error) {
		return htmlResponse(url, "<html></html>"), nil
	}}
	w, limiter := newTestWorker(t, Config{}, fetcher, &stubRobots{allow: true, delay: 2 * time.Second})

	w.Process(context.Background(), &crawler.QueuedURL{URL: "http://slow.example/"})
	assert.Equal(t, 2*time.Second, limiter.Interval("slow.example"))
}

func TestProcess_FetchError(t *testing.T) {
	fetcher := &stubFetcher{fn: func(url string) (*fetch.Response, error) {
		return nil, crawler.HTTPError(503)
	}}
	w, _ := newTestWorker(t, Config{}, fetcher, &stubRobots{allow: true})

	result := w.Process(context.Background(), &crawler.QueuedURL{URL: "http://h/flaky"})
	require.NotNil(t, result.Err)
	assert.Equal(t, crawler.KindHTTPServerError, result.Err.Kind)
	assert.Equal(t, 503, result.StatusCode)
	assert.True(t, result.Err.Retryable())
}

func TestProcess_ParseFailurePersistsEmptyPage(t *testing.T) {
	orig := parsePage
	parsePage = func([]byte) (*extract.Document, error) {
		return nil, errors.New("unreadable markup")
	}
	t.Cleanup(func() { parsePage = orig })

	fetcher := &stubFetcher{fn: func(url string) (*fetch.Response, error) {
		return htmlResponse(url, "<html>whatever</html>"), nil
	}}
	w, _ := newTestWorker(t, Config{}, fetcher, &stubRobots{allow: true})

	result := w.Process(context.Background(), &crawler.QueuedURL{URL: "http://h/a"})
	require.Nil(t, result.Err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Empty(t, result.Title)
	assert.Zero(t, result.TextLength)
	assert.Empty(t, result.WordCounts)
	assert.Empty(t, result.Links)
}

func TestProcess_PanicBecomesResult(t *testing.T) {
	fetcher := &stubFetcher{fn: func(url string) (*fetch.Response, error) {
		panic("boom")
	}}
	w, _ := newTestWorker(t, Config{}, fetcher, &stubRobots{allow: true})

	result := w.Process(context.Background(), &crawler.QueuedURL{URL: "http://h/a"})
	require.NotNil(t, result.Err)
	assert.Equal(t, crawler.KindParseError, result.Err.Kind)
	assert.Contains(t, result.Err.Message, "boom")
}

func TestProcess_MinTextLength(t *testing.T) {
	fetcher := &stubFetcher{fn: func(url string) (*fetch.Response, error) {
		return htmlResponse(url, "<html><body>tiny page</body></html>"), nil
	}}
	w, _ := newTestWorker(t, Config{MinTextLength: 1000}, fetcher, &stubRobots{allow: true})

	result := w.Process(context.Background(), &crawler.QueuedURL{URL: "http://h/a"})
	require.Nil(t, result.Err)
	// Below the floor the page persists, but analysis is skipped.
	assert.Empty(t, result.WordCounts)
	assert.Zero(t, result.TotalWords)
	assert.Equal(t, len("tiny page"), result.TextLength)
}

func TestProcess_MaxWordsPerPage(t *testing.T) {
	fetcher := &stubFetcher{fn: func(url string) (*fetch.Response, error) {
		return htmlResponse(url, "<html><body>aaa aaa aaa bbb bbb ccc</body></html>"), nil
	}}
	w, _ := newTestWorker(t, Config{MaxWordsPerPage: 2}, fetcher, &stubRobots{allow: true})

	result := w.Process(context.Background(), &crawler.QueuedURL{URL: "http://h/a"})
	require.Nil(t, result.Err)
	assert.Equal(t, map[string]int{"aaa": 3, "bbb": 2}, result.WordCounts)
	// Totals reflect the page, not the capped map.
	assert.Equal(t, 6, result.TotalWords)
	assert.Equal(t, 3, result.UniqueWords)
}

func TestProcess_Cancelled(t *testing.T) {
	fetcher := &stubFetcher{fn: func(url string) (*fetch.Response, error) {
		return htmlResponse(url, "<html></html>"), nil
	}}
	w, _ := newTestWorker(t, Config{}, fetcher, &stubRobots{allow: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := w.Process(ctx, &crawler.QueuedURL{URL: "http://h/a"})
	require.NotNil(t, result.Err)
	assert.Equal(t, crawler.KindCancelled, result.Err.Kind)
}
