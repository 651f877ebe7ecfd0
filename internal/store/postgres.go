package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
)

// PostgresStore persists crawl results through a pgx pool.
type PostgresStore struct {
	db     DB
	logger *zap.Logger
}

// NewPostgres wraps an open pool.
func NewPostgres(db DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// CreateSession inserts a RUNNING session row.
func (s *PostgresStore) CreateSession(ctx context.Context, id uuid.UUID, seeds []string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO crawl_sessions (id, seed_urls, status)
		VALUES ($1, $2, 'RUNNING')`,
		id, seeds,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

// GetSession loads one session row.
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*SessionRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, seed_urls, status, started_at, coalesce(ended_at, 'epoch'::timestamptz),
			pages_crawled, pages_failed, pages_skipped, bytes_total, errors, coalesce(fatal_error, '')
		FROM crawl_sessions WHERE id = $1`,
		id,
	)
	rec, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get session %s: %w", id, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, seed_urls, status, started_at, coalesce(ended_at, 'epoch'::timestamptz),
			pages_crawled, pages_failed, pages_skipped, bytes_total, errors, coalesce(fatal_error, '')
		FROM crawl_sessions
		ORDER BY started_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// CloseSession writes the terminal state and final counters.
func (s *PostgresStore) CloseSession(ctx context.Context, id uuid.UUID, status crawler.SessionStatus, counters SessionCounters, fatalError string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE crawl_sessions
		SET status = $2, ended_at = now(),
			pages_crawled = $3, pages_failed = $4, pages_skipped = $5,
			bytes_total = $6, errors = $7, fatal_error = NULLIF($8, '')
		WHERE id = $1`,
		id, string(status),
		counters.PagesCrawled, counters.PagesFailed, counters.PagesSkipped,
		counters.BytesTotal, counters.Errors, fatalError,
	)
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("close session %s: no such session", id)
	}
	return nil
}

// RecordPage persists the page row, its word frequencies and links in
// one transaction. With MarkDone set, the url_queue transition to DONE
// rides the same transaction: the page and its queue state commit or
// roll back together. Redelivered pages overwrite their earlier rows.
func (s *PostgresStore) RecordPage(ctx context.Context, result PageResult) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("record page %s: begin: %w", result.Page.URL, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
			s.logger.Warn("rollback failed", zap.Error(err))
		}
	}()

	p := result.Page
	_, err = tx.Exec(ctx, `
		INSERT INTO pages (session_id, url, final_url, parent_url, depth, status_code,
			content_type, title, text_length, total_words, unique_words, redirect_count,
			dns_ms, connect_ms, tls_ms, first_byte_ms, download_ms, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (session_id, url) DO UPDATE SET
			final_url = EXCLUDED.final_url, status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type, title = EXCLUDED.title,
			text_length = EXCLUDED.text_length, total_words = EXCLUDED.total_words,
			unique_words = EXCLUDED.unique_words, redirect_count = EXCLUDED.redirect_count,
			crawled_at = EXCLUDED.crawled_at`,
		p.SessionID, p.URL, p.FinalURL, nullString(p.ParentURL), p.Depth, p.StatusCode,
		p.ContentType, p.Title, p.TextLength, p.TotalWords, p.UniqueWords, p.RedirectCount,
		millis(p.Timing.DNS), millis(p.Timing.Connect), millis(p.Timing.TLS),
		millis(p.Timing.FirstByte), millis(p.Timing.Download), p.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("record page %s: %w", p.URL, err)
	}

	if err := s.copyWords(ctx, tx, p.SessionID, p.URL, result.Words); err != nil {
		return err
	}
	if err := s.insertLinks(ctx, tx, p.SessionID, p.URL, result.Links); err != nil {
		return err
	}

	if result.MarkDone {
		tag, err := tx.Exec(ctx, `
			UPDATE url_queue
			SET status = 'DONE', last_error = NULL, leased_until = NULL
			WHERE session_id = $1 AND url = $2 AND status = 'IN_FLIGHT'`,
			p.SessionID, p.URL,
		)
		if err != nil {
			return fmt.Errorf("record page %s: mark done: %w", p.URL, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("record page %s: mark done: no in-flight row", p.URL)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("record page %s: commit: %w", p.URL, err)
	}
	return nil
}

func (s *PostgresStore) copyWords(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, url string, words map[string]int) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM word_frequencies WHERE session_id = $1 AND url = $2`,
		sessionID, url,
	); err != nil {
		return fmt.Errorf("clear word rows for %s: %w", url, err)
	}
	if len(words) == 0 {
		return nil
	}

	// Stable row order keeps the copy deterministic.
	sorted := make([]string, 0, len(words))
	for w := range words {
		sorted = append(sorted, w)
	}
	sort.Strings(sorted)

	rows := make([][]any, 0, len(sorted))
	for _, w := range sorted {
		rows = append(rows, []any{sessionID, url, w, words[w]})
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"word_frequencies"},
		[]string{"session_id", "url", "word", "count"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy word rows for %s: %w", url, err)
	}
	return nil
}

func (s *PostgresStore) insertLinks(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, url string, links []crawler.Link) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM links WHERE session_id = $1 AND source_url = $2`,
		sessionID, url,
	); err != nil {
		return fmt.Errorf("clear link rows for %s: %w", url, err)
	}
	for _, l := range links {
		if _, err := tx.Exec(ctx, `
			INSERT INTO links (session_id, source_url, dest_url, kind)
			VALUES ($1, $2, $3, $4)`,
			sessionID, l.SourceURL, l.DestURL, string(l.Kind),
		); err != nil {
			return fmt.Errorf("insert link %s -> %s: %w", l.SourceURL, l.DestURL, err)
		}
	}
	return nil
}

// RecordError appends one error event row.
func (s *PostgresStore) RecordError(ctx context.Context, ev crawler.ErrorEvent) error {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO error_events (session_id, url, depth, kind, message, status_code, attempt, retryable, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.SessionID, ev.URL, ev.Depth, string(ev.Kind), ev.Message,
		ev.StatusCode, ev.Attempt, ev.Retryable, occurred,
	)
	if err != nil {
		return fmt.Errorf("record error for %s: %w", ev.URL, err)
	}
	return nil
}

// RecordMetric appends one throughput snapshot row.
func (s *PostgresStore) RecordMetric(ctx context.Context, snap crawler.MetricSnapshot) error {
	recorded := snap.Timestamp
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_metrics_timeseries (session_id, recorded_at, pages_crawled,
			pages_failed, pages_skipped, bytes_total, errors, pages_per_sec, bytes_per_sec,
			in_flight, queue_depth)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		snap.SessionID, recorded, snap.PagesCrawled, snap.PagesFailed, snap.PagesSkipped,
		snap.BytesTotal, snap.Errors, snap.PagesPerSec, snap.BytesPerSec,
		snap.InFlight, snap.QueueDepth,
	)
	if err != nil {
		return fmt.Errorf("record metric snapshot: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var status string
	err := row.Scan(&rec.ID, &rec.SeedURLs, &status, &rec.StartedAt, &rec.EndedAt,
		&rec.PagesCrawled, &rec.PagesFailed, &rec.PagesSkipped, &rec.BytesTotal,
		&rec.Errors, &rec.FatalError)
	if err != nil {
		return nil, err
	}
	rec.Status = crawler.SessionStatus(status)
	if rec.EndedAt.Unix() == 0 {
		rec.EndedAt = time.Time{}
	}
	return &rec, nil
}

// millis renders a duration as fractional milliseconds for NUMERIC columns.
func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
