// Package robots enforces robots.txt directives with a per-host TTL cache.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const maxRobotsBody = 1 << 20

// Config configures a Policy.
type Config struct {
	UserAgent    string
	TTL          time.Duration
	FetchTimeout time.Duration
}

// Policy fetches, caches and evaluates robots.txt per scheme+host.
//
// A 2xx response is parsed; 4xx means allow-all; network failures and 5xx
// mean deny-all until the cache entry expires.
type Policy struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*entry
}

type entry struct {
	group      *robotstxt.Group
	denyAll    bool
	crawlDelay time.Duration
	fetchedAt  time.Time
}

// New builds a Policy. A nil client uses a default with the fetch timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Policy {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Policy{
		client:    client,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		timeout:   timeout,
		logger:    logger,
		cache:     make(map[string]*entry),
	}
}

// Allowed reports whether the URL may be fetched under the host's robots
// rules. Unparseable URLs are denied.
func (p *Policy) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	e := p.lookup(ctx, parsed)
	if e.denyAll {
		return false
	}
	if e.group == nil {
		return true
	}
	p2 := parsed.EscapedPath()
	if p2 == "" {
		p2 = "/"
	}
	if parsed.RawQuery != "" {
		p2 += "?" + parsed.RawQuery
	}
	return e.group.Test(p2)
}

// CrawlDelay returns the cached robots crawl-delay for the host, or zero
// when no directive is known. It never triggers a fetch.
func (p *Policy) CrawlDelay(host string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.cache {
		if strings.HasSuffix(key, "://"+strings.ToLower(host)) && e.group != nil {
			return e.crawlDelay
		}
	}
	return 0
}

func (p *Policy) lookup(ctx context.Context, u *url.URL) *entry {
	key := strings.ToLower(u.Scheme + "://" + u.Host)

	p.mu.Lock()
	if e, ok := p.cache[key]; ok && time.Since(e.fetchedAt) < p.ttl {
		p.mu.Unlock()
		return e
	}
	p.mu.Unlock()

	e := p.fetch(ctx, u)

	p.mu.Lock()
	p.cache[key] = e
	p.mu.Unlock()
	return e
}

func (p *Policy) fetch(ctx context.Context, u *url.URL) *entry {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &entry{denyAll: true, fetchedAt: time.Now()}
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("robots fetch failed; denying host until ttl",
			zap.String("host", u.Host), zap.Error(err))
		return &entry{denyAll: true, fetchedAt: time.Now()}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return &entry{denyAll: true, fetchedAt: time.Now()}
	}

	if resp.StatusCode >= 500 {
		p.logger.Warn("robots returned server error; denying host until ttl",
			zap.String("host", u.Host), zap.Int("status", resp.StatusCode))
		return &entry{denyAll: true, fetchedAt: time.Now()}
	}

	// FromStatusAndBytes treats the remaining 4xx statuses as allow-all.
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		p.logger.Warn("robots parse failed; allowing host",
			zap.String("host", u.Host), zap.Error(err))
		return &entry{fetchedAt: time.Now()}
	}

	group := data.FindGroup(p.userAgent)
	e := &entry{group: group, fetchedAt: time.Now()}
	if group != nil {
		e.crawlDelay = group.CrawlDelay
	}
	return e
}
