// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a crawl session.
type SessionStatus string

// Session status values persisted in crawl_sessions.
const (
	SessionRunning   SessionStatus = "RUNNING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// URLStatus is the queue state of a single URL within a session.
type URLStatus string

// URL status values stored in url_queue.
const (
	StatusPending  URLStatus = "PENDING"
	StatusInFlight URLStatus = "IN_FLIGHT"
	StatusDone     URLStatus = "DONE"
	StatusFailed   URLStatus = "FAILED"
	StatusSkipped  URLStatus = "SKIPPED"
)

// Outcome is the terminal disposition reported for a leased URL.
type Outcome string

// Terminal outcomes accepted by Queue.Complete.
const (
	OutcomeDone    Outcome = "DONE"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeSkipped Outcome = "SKIPPED"
)

// Status maps an outcome to the queue status it produces.
func (o Outcome) Status() URLStatus {
	switch o {
	case OutcomeDone:
		return StatusDone
	case OutcomeSkipped:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// EnqueueOutcome reports what the queue did with an offered URL.
type EnqueueOutcome int

// Enqueue results.
const (
	EnqueueAccepted EnqueueOutcome = iota
	EnqueueDuplicate
	EnqueueDepthExceeded
	EnqueueLimitReached
	EnqueueClosed
)

// String returns a log-friendly name for the outcome.
func (o EnqueueOutcome) String() string {
	switch o {
	case EnqueueAccepted:
		return "accepted"
	case EnqueueDuplicate:
		return "duplicate"
	case EnqueueDepthExceeded:
		return "depth_exceeded"
	case EnqueueLimitReached:
		return "limit_reached"
	case EnqueueClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// QueuedURL is one pending work item in a session's frontier.
type QueuedURL struct {
	SessionID    uuid.UUID
	URL          string
	ParentURL    string
	Depth        int
	Priority     int
	Attempts     int
	LastError    string
	Status       URLStatus
	DiscoveredAt time.Time
	LeasedUntil  time.Time
	NotBefore    time.Time
}

// QueueSizes is a point-in-time census of queue states.
type QueueSizes struct {
	Pending  int
	InFlight int
	Terminal int
}

// Timing is the per-phase breakdown recorded for one URL.
type Timing struct {
	DNS       time.Duration
	Connect   time.Duration
	TLS       time.Duration
	FirstByte time.Duration
	Download  time.Duration
	Parse     time.Duration
	Extract   time.Duration
	Analyze   time.Duration
}

// Total sums every recorded phase.
func (t Timing) Total() time.Duration {
	return t.DNS + t.Connect + t.TLS + t.FirstByte + t.Download +
		t.Parse + t.Extract + t.Analyze
}

// FetchResult is everything a worker reports back for one URL.
// Err is nil exactly when the page was processed successfully.
type FetchResult struct {
	SessionID     uuid.UUID
	URL           string
	FinalURL      string
	ParentURL     string
	Depth         int
	Priority      int
	Attempts      int
	StatusCode    int
	ContentType   string
	BodySize      int64
	RedirectCount int
	Title         string
	TextLength    int
	WordCounts    map[string]int
	TotalWords    int
	UniqueWords   int
	Links         []string
	Timing        Timing
	Err           *CrawlError
}

// Page is the persisted record of a successfully fetched page.
type Page struct {
	SessionID     uuid.UUID
	URL           string
	FinalURL      string
	ParentURL     string
	Depth         int
	StatusCode    int
	ContentType   string
	Title         string
	TextLength    int
	TotalWords    int
	UniqueWords   int
	RedirectCount int
	Timing        Timing
	CrawledAt     time.Time
}

// LinkKind classifies a discovered link relative to its source host.
type LinkKind string

// Link classifications.
const (
	LinkInternal LinkKind = "INTERNAL"
	LinkExternal LinkKind = "EXTERNAL"
)

// Link is one edge discovered on a crawled page.
type Link struct {
	SessionID uuid.UUID
	SourceURL string
	DestURL   string
	Kind      LinkKind
}

// ErrorEvent is a persisted record of a failed or skipped URL.
type ErrorEvent struct {
	SessionID  uuid.UUID
	URL        string
	Depth      int
	Kind       ErrorKind
	Message    string
	StatusCode int
	Attempt    int
	Retryable  bool
	OccurredAt time.Time
}

// MetricSnapshot is a periodic view of session throughput.
type MetricSnapshot struct {
	SessionID    uuid.UUID
	Timestamp    time.Time
	PagesCrawled int64
	PagesFailed  int64
	PagesSkipped int64
	BytesTotal   int64
	Errors       int64
	PagesPerSec  float64
	BytesPerSec  float64
	InFlight     int
	QueueDepth   int
}
