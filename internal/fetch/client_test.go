package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
)

func TestFetch_Success(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	c := New(Config{UserAgent: "wordcrawl-test/1.0"})
	defer c.Close()

	resp, err := c.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html", resp.ContentType)
	assert.Contains(t, string(resp.Body), "hello")
	assert.Equal(t, "wordcrawl-test/1.0", gotUA)
	assert.Positive(t, resp.Timing.FirstByte)
	assert.Positive(t, resp.Timing.Download)
}

func TestFetch_AcceptsNon200Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("<html><body>partial</body></html>"))
	}))
	defer srv.Close()

	c := New(Config{})
	defer c.Close()

	resp, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "partial")
}

func TestFetch_ContentTypeGateCoversAll2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	c := New(Config{})
	defer c.Close()

	_, err := c.Fetch(context.Background(), srv.URL)
	var ce *crawler.CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, crawler.KindDisallowedContentType, ce.Kind)
}

func TestFetch_DisallowedContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	c := New(Config{})
	defer c.Close()

	_, err := c.Fetch(context.Background(), srv.URL)
	var ce *crawler.CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, crawler.KindDisallowedContentType, ce.Kind)
	assert.True(t, ce.Skip())
}

func TestFetch_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	c := New(Config{MaxBodySize: 1024})
	defer c.Close()

	_, err := c.Fetch(context.Background(), srv.URL)
	var ce *crawler.CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, crawler.KindBodyTooLarge, ce.Kind)
}

func TestFetch_HTTPStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		case "/throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	c := New(Config{})
	defer c.Close()

	tests := []struct {
		path      string
		kind      crawler.ErrorKind
		retryable bool
	}{
		{"/missing", crawler.KindHTTPClientError, false},
		{"/broken", crawler.KindHTTPServerError, true},
		{"/throttled", crawler.KindHTTPClientError, true},
	}
	for _, tt := range tests {
		_, err := c.Fetch(context.Background(), srv.URL+tt.path)
		var ce *crawler.CrawlError
		require.ErrorAs(t, err, &ce, tt.path)
		assert.Equal(t, tt.kind, ce.Kind, tt.path)
		assert.Equal(t, tt.retryable, ce.Retryable(), tt.path)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(Config{Timeout: 50 * time.Millisecond})
	defer c.Close()

	_, err := c.Fetch(context.Background(), srv.URL)
	var ce *crawler.CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, crawler.KindNetworkTimeout, ce.Kind)
	assert.True(t, ce.Retryable())
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{})
	defer c.Close()

	_, err := c.Fetch(context.Background(), url)
	var ce *crawler.CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, crawler.KindNetworkReset, ce.Kind)
}

func TestFetch_RedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	c := New(Config{MaxRedirects: 3})
	defer c.Close()

	_, err := c.Fetch(context.Background(), srv.URL+"/loop")
	require.Error(t, err)
}

func TestFetch_FollowsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>moved</html>"))
	}))
	defer srv.Close()

	c := New(Config{})
	defer c.Close()

	resp, err := c.Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/new", resp.FinalURL)
}
