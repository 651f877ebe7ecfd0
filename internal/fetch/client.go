// Package fetch performs polite HTTP GETs with per-phase timing.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
)

// Config controls client behavior.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	MaxBodySize     int64
	MaxRedirects    int
	MaxConns        int
	MaxConnsPerHost int
	// DNSCacheTTL caches host lookups for this long. Zero disables
	// caching.
	DNSCacheTTL time.Duration
	// AllowedContentTypes is the media-type allowlist. Empty means the
	// default HTML-ish set.
	AllowedContentTypes []string
}

// defaults applied by New for zero fields.
const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodySize  = 10 << 20
	defaultMaxRedirects = 10
	defaultMaxConns     = 100
	defaultMaxPerHost   = 20
)

var defaultContentTypes = []string{"text/html", "application/xhtml+xml", "text/plain"}

// Response is a completed fetch. Body is fully read and capped.
type Response struct {
	StatusCode  int
	FinalURL    string
	ContentType string
	Body        []byte
	Timing      crawler.Timing
}

// Client fetches pages over HTTP. Safe for concurrent use.
type Client struct {
	http      *http.Client
	userAgent string
	maxBody   int64
	allowed   map[string]struct{}
}

// New builds a Client with pooled connections.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = defaultMaxPerHost
	}
	types := cfg.AllowedContentTypes
	if len(types) == 0 {
		types = defaultContentTypes
	}
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[strings.ToLower(t)] = struct{}{}
	}

	dial := dialFunc((&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext)
	if cfg.DNSCacheTTL > 0 {
		dial = cachingDial(newDNSCache(cfg.DNSCacheTTL), dial)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dial,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        cfg.MaxConns,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	maxRedirects := cfg.MaxRedirects
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodySize,
		allowed:   allowed,
	}
}

// Fetch GETs the URL and returns the capped body with timing for each
// connection phase. Policy violations and transport failures come back
// as *crawler.CrawlError.
func (c *Client) Fetch(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, crawler.NewCrawlError(crawler.KindInvalidURL, "%s", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	var timing crawler.Timing
	var dnsStart, connectStart, tlsStart time.Time
	start := time.Now()
	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone: func(httptrace.DNSDoneInfo) {
			timing.DNS = time.Since(dnsStart)
		},
		ConnectStart: func(string, string) { connectStart = time.Now() },
		ConnectDone: func(string, string, error) {
			timing.Connect = time.Since(connectStart)
		},
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			timing.TLS = time.Since(tlsStart)
		},
		GotFirstResponseByte: func() {
			timing.FirstByte = time.Since(start)
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, crawler.ClassifyNetworkError(err)
	}
	defer resp.Body.Close()

	contentType := mediaType(resp.Header.Get("Content-Type"))
	success := resp.StatusCode/100 == 2
	if success {
		if _, ok := c.allowed[contentType]; !ok {
			return nil, crawler.NewCrawlError(crawler.KindDisallowedContentType,
				"content type %q not allowed", contentType)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, crawler.ClassifyNetworkError(err)
	}
	timing.Download = time.Since(start)
	if int64(len(body)) > c.maxBody {
		return nil, crawler.NewCrawlError(crawler.KindBodyTooLarge,
			"body exceeds %d bytes", c.maxBody)
	}

	if !success {
		return nil, crawler.HTTPError(resp.StatusCode)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
		ContentType: contentType,
		Body:        body,
		Timing:      timing,
	}, nil
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}
