package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPolicy(t *testing.T, handler http.Handler) (*Policy, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := New(Config{UserAgent: "wordcrawl-test", TTL: time.Minute}, srv.Client(), zap.NewNop())
	return p, srv
}

func TestAllowed_DisallowedSubtree(t *testing.T) {
	var robotsFetches atomic.Int64
	p, srv := newTestPolicy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsFetches.Add(1)
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /admin/\nCrawl-delay: 2\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	ctx := context.Background()
	assert.True(t, p.Allowed(ctx, srv.URL+"/public/page"))
	assert.False(t, p.Allowed(ctx, srv.URL+"/admin/settings"))
	assert.False(t, p.Allowed(ctx, srv.URL+"/admin/"))

	// Second host access must come from the cache.
	assert.True(t, p.Allowed(ctx, srv.URL+"/other"))
	assert.Equal(t, int64(1), robotsFetches.Load())
}

func TestAllowed_404MeansAllowAll(t *testing.T) {
	p, srv := newTestPolicy(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	assert.True(t, p.Allowed(context.Background(), srv.URL+"/anything"))
}

func TestAllowed_ServerErrorMeansDenyAll(t *testing.T) {
	p, srv := newTestPolicy(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	assert.False(t, p.Allowed(context.Background(), srv.URL+"/anything"))
}

func TestAllowed_NetworkFailureDeniesUntilTTL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	url := srv.URL
	srv.Close()

	p := New(Config{UserAgent: "wordcrawl-test", TTL: time.Minute, FetchTimeout: time.Second}, nil, zap.NewNop())
	assert.False(t, p.Allowed(context.Background(), url+"/page"))
}

func TestCrawlDelay(t *testing.T) {
	p, srv := newTestPolicy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		_, _ = w.Write([]byte("User-agent: *\nCrawl-delay: 3\n"))
	}))

	require.True(t, p.Allowed(context.Background(), srv.URL+"/x"))

	host := srv.Listener.Addr().String()
	assert.Equal(t, 3*time.Second, p.CrawlDelay(host))
	assert.Equal(t, time.Duration(0), p.CrawlDelay("unknown.example"))
}

func TestAllowed_BadURL(t *testing.T) {
	p := New(Config{UserAgent: "wordcrawl-test"}, nil, zap.NewNop())
	assert.False(t, p.Allowed(context.Background(), "::not-a-url"))
}
