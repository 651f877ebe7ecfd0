package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorKind identifies a class of crawl failure with fixed retry semantics.
type ErrorKind string

// Crawl error taxonomy.
const (
	KindInvalidURL            ErrorKind = "INVALID_URL"
	KindDisallowedByRobots    ErrorKind = "DISALLOWED_BY_ROBOTS"
	KindDisallowedContentType ErrorKind = "DISALLOWED_CONTENT_TYPE"
	KindBodyTooLarge          ErrorKind = "BODY_TOO_LARGE"
	KindHTTPClientError       ErrorKind = "HTTP_CLIENT_ERROR"
	KindHTTPServerError       ErrorKind = "HTTP_SERVER_ERROR"
	KindNetworkTimeout        ErrorKind = "NETWORK_TIMEOUT"
	KindNetworkReset          ErrorKind = "NETWORK_RESET"
	KindDNSFailure            ErrorKind = "DNS_FAILURE"
	KindParseError            ErrorKind = "PARSE_ERROR"
	KindPersistenceError      ErrorKind = "PERSISTENCE_ERROR"
	KindCancelled             ErrorKind = "CANCELLED"
)

// CrawlError carries an error kind from the taxonomy plus request context.
// Workers report failures as values; errors never cross component
// boundaries as panics.
type CrawlError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
}

// Error implements the error interface.
func (e *CrawlError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether another attempt may succeed.
// 408 and 429 are the only retryable client statuses.
func (e *CrawlError) Retryable() bool {
	switch e.Kind {
	case KindHTTPServerError, KindNetworkTimeout, KindNetworkReset, KindDNSFailure, KindPersistenceError:
		return true
	case KindHTTPClientError:
		return e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// Skip reports whether the URL should terminate as SKIPPED rather than FAILED.
func (e *CrawlError) Skip() bool {
	switch e.Kind {
	case KindDisallowedByRobots, KindDisallowedContentType, KindBodyTooLarge, KindInvalidURL:
		return true
	default:
		return false
	}
}

// NewCrawlError builds a CrawlError for the given kind.
func NewCrawlError(kind ErrorKind, format string, args ...any) *CrawlError {
	return &CrawlError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// HTTPError builds a CrawlError for a non-2xx response status.
func HTTPError(status int) *CrawlError {
	kind := KindHTTPClientError
	if status >= 500 {
		kind = KindHTTPServerError
	}
	return &CrawlError{
		Kind:       kind,
		Message:    http.StatusText(status),
		StatusCode: status,
	}
}

// ClassifyNetworkError maps a transport-level error onto the taxonomy.
func ClassifyNetworkError(err error) *CrawlError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return &CrawlError{Kind: KindCancelled, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &CrawlError{Kind: KindNetworkTimeout, Message: err.Error()}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &CrawlError{Kind: KindDNSFailure, Message: dnsErr.Error()}
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return &CrawlError{Kind: KindNetworkReset, Message: err.Error()}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CrawlError{Kind: KindNetworkTimeout, Message: err.Error()}
	}
	if strings.Contains(err.Error(), "connection reset") {
		return &CrawlError{Kind: KindNetworkReset, Message: err.Error()}
	}
	return &CrawlError{Kind: KindNetworkReset, Message: err.Error()}
}
