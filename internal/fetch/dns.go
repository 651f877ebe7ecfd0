package fetch

import (
	"context"
	"net"
	"net/http/httptrace"
	"sync"
	"time"
)

// dnsCache memoizes host lookups for a fixed TTL so a crawl hammering
// one site does not re-resolve it on every connection.
type dnsCache struct {
	ttl    time.Duration
	lookup func(ctx context.Context, host string) ([]string, error)
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]dnsEntry
}

type dnsEntry struct {
	addrs   []string
	expires time.Time
}

func newDNSCache(ttl time.Duration) *dnsCache {
	return &dnsCache{
		ttl:     ttl,
		lookup:  net.DefaultResolver.LookupHost,
		now:     time.Now,
		entries: make(map[string]dnsEntry),
	}
}

// resolve returns the cached addresses for host, consulting the
// resolver only when the entry is missing or expired. Failures are not
// cached.
func (c *dnsCache) resolve(ctx context.Context, host string) ([]string, error) {
	c.mu.Lock()
	if e, ok := c.entries[host]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.addrs, nil
	}
	c.mu.Unlock()

	addrs, err := c.lookup(ctx, host)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[host] = dnsEntry{addrs: addrs, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return addrs, nil
}

// dialFunc matches net.Dialer.DialContext.
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// cachingDial wraps dial so host names resolve through the cache. IP
// literals dial straight through. The request's httptrace hooks still
// fire around the lookup, keeping the DNS phase timing intact.
func cachingDial(cache *dnsCache, dial dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil || net.ParseIP(host) != nil {
			return dial(ctx, network, addr)
		}

		trace := httptrace.ContextClientTrace(ctx)
		if trace != nil && trace.DNSStart != nil {
			trace.DNSStart(httptrace.DNSStartInfo{Host: host})
		}
		addrs, err := cache.resolve(ctx, host)
		if trace != nil && trace.DNSDone != nil {
			trace.DNSDone(httptrace.DNSDoneInfo{Err: err})
		}
		if err != nil {
			return nil, err
		}

		var firstErr error
		for _, ip := range addrs {
			conn, err := dial(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		return nil, firstErr
	}
}
