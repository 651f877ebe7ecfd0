package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
)

// ErrSessionNotFound reports a lookup for a session id with no row.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is one row of crawl_sessions.
type SessionRecord struct {
	ID           uuid.UUID
	SeedURLs     []string
	Status       crawler.SessionStatus
	StartedAt    time.Time
	EndedAt      time.Time
	PagesCrawled int64
	PagesFailed  int64
	PagesSkipped int64
	BytesTotal   int64
	Errors       int64
	FatalError   string
}

// SessionCounters are the final totals written when a session closes.
type SessionCounters struct {
	PagesCrawled int64
	PagesFailed  int64
	PagesSkipped int64
	BytesTotal   int64
	Errors       int64
}

// PageResult bundles everything persisted for one successfully crawled
// page. MarkDone asks the store to flip the url_queue row to DONE inside
// the same transaction, so a crash cannot separate the page from its
// queue transition.
type PageResult struct {
	Page     crawler.Page
	Words    map[string]int
	Links    []crawler.Link
	MarkDone bool
}

// Store is the persistence contract for sessions, pages and telemetry.
type Store interface {
	CreateSession(ctx context.Context, id uuid.UUID, seeds []string) error
	GetSession(ctx context.Context, id uuid.UUID) (*SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	CloseSession(ctx context.Context, id uuid.UUID, status crawler.SessionStatus, counters SessionCounters, fatalError string) error

	RecordPage(ctx context.Context, result PageResult) error
	RecordError(ctx context.Context, ev crawler.ErrorEvent) error
	RecordMetric(ctx context.Context, snap crawler.MetricSnapshot) error
}
