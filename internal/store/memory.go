package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
)

// MemoryStore keeps everything in process. It backs the memory queue
// mode, where durability is explicitly not wanted, and the unit tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*SessionRecord
	pages    map[uuid.UUID]map[string]PageResult
	errors   []crawler.ErrorEvent
	metrics  []crawler.MetricSnapshot
}

// NewMemory builds an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*SessionRecord),
		pages:    make(map[uuid.UUID]map[string]PageResult),
	}
}

// CreateSession registers a RUNNING session.
func (s *MemoryStore) CreateSession(_ context.Context, id uuid.UUID, seeds []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return fmt.Errorf("create session %s: already exists", id)
	}
	s.sessions[id] = &SessionRecord{
		ID:        id,
		SeedURLs:  append([]string(nil), seeds...),
		Status:    crawler.SessionRunning,
		StartedAt: time.Now(),
	}
	s.pages[id] = make(map[string]PageResult)
	return nil
}

// GetSession returns a copy of the session row.
func (s *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", id, ErrSessionNotFound)
	}
	copied := *rec
	return &copied, nil
}

// ListSessions returns sessions newest first.
func (s *MemoryStore) ListSessions(_ context.Context, limit int) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CloseSession records the terminal state and counters.
func (s *MemoryStore) CloseSession(_ context.Context, id uuid.UUID, status crawler.SessionStatus, counters SessionCounters, fatalError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("close session %s: not found", id)
	}
	rec.Status = status
	rec.EndedAt = time.Now()
	rec.PagesCrawled = counters.PagesCrawled
	rec.PagesFailed = counters.PagesFailed
	rec.PagesSkipped = counters.PagesSkipped
	rec.BytesTotal = counters.BytesTotal
	rec.Errors = counters.Errors
	rec.FatalError = fatalError
	return nil
}

// RecordPage stores the page result, overwriting any earlier delivery.
// MarkDone is ignored: the memory queue tracks its own statuses.
func (s *MemoryStore) RecordPage(_ context.Context, result PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byURL, ok := s.pages[result.Page.SessionID]
	if !ok {
		return fmt.Errorf("record page %s: unknown session %s", result.Page.URL, result.Page.SessionID)
	}
	byURL[result.Page.URL] = result
	return nil
}

// RecordError appends an error event.
func (s *MemoryStore) RecordError(_ context.Context, ev crawler.ErrorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, ev)
	return nil
}

// RecordMetric appends a throughput snapshot.
func (s *MemoryStore) RecordMetric(_ context.Context, snap crawler.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, snap)
	return nil
}

// Page returns a stored page result, for inspection after a run.
func (s *MemoryStore) Page(sessionID uuid.UUID, url string) (PageResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byURL, ok := s.pages[sessionID]
	if !ok {
		return PageResult{}, false
	}
	result, ok := byURL[url]
	return result, ok
}

// PageCount reports how many pages a session persisted.
func (s *MemoryStore) PageCount(sessionID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages[sessionID])
}

// ErrorEvents returns a snapshot of recorded error events.
func (s *MemoryStore) ErrorEvents() []crawler.ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.ErrorEvent(nil), s.errors...)
}

// MetricSnapshots returns a snapshot of recorded metrics rows.
func (s *MemoryStore) MetricSnapshots() []crawler.MetricSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.MetricSnapshot(nil), s.metrics...)
}
