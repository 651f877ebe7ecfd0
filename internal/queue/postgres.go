package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wordcrawl/wordcrawl/internal/crawler"
	"github.com/wordcrawl/wordcrawl/internal/store"
)

const defaultPollInterval = 100 * time.Millisecond

// Postgres is the durable queue backend. Isolation comes from the
// database: the lease statement locks the chosen row and skips rows
// locked by concurrent leasers, so no item is handed out twice even
// across processes.
type Postgres struct {
	db        store.DB
	sessionID uuid.UUID
	limits    Limits
	leaseDur  time.Duration
	poll      time.Duration

	accepted atomic.Int64
	closed   atomic.Bool
}

// NewPostgres builds a durable queue for one session. Existing rows from
// a previous run of the same session count toward the accept limit.
func NewPostgres(ctx context.Context, db store.DB, sessionID uuid.UUID, limits Limits, leaseDuration time.Duration) (*Postgres, error) {
	q := &Postgres{
		db:        db,
		sessionID: sessionID,
		limits:    limits,
		leaseDur:  leaseDuration,
		poll:      defaultPollInterval,
	}

	var existing int64
	err := db.QueryRow(ctx,
		`SELECT count(*) FROM url_queue WHERE session_id = $1`,
		sessionID,
	).Scan(&existing)
	if err != nil {
		return nil, fmt.Errorf("count existing queue rows: %w", err)
	}
	q.accepted.Store(existing)
	return q, nil
}

// Enqueue upserts the item; an existing (session, url) row means DUPLICATE.
func (q *Postgres) Enqueue(ctx context.Context, item crawler.QueuedURL) (crawler.EnqueueOutcome, error) {
	if q.closed.Load() {
		return crawler.EnqueueClosed, ErrClosed
	}
	if item.Depth > q.limits.MaxDepth {
		return crawler.EnqueueDepthExceeded, nil
	}
	if q.limits.MaxAccepted > 0 && int(q.accepted.Load()) >= q.limits.MaxAccepted {
		return crawler.EnqueueLimitReached, nil
	}

	discovered := item.DiscoveredAt
	if discovered.IsZero() {
		discovered = time.Now()
	}
	tag, err := q.db.Exec(ctx, `
		INSERT INTO url_queue (session_id, url, parent_url, depth, priority, status, attempts, discovered_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', 0, $6)
		ON CONFLICT (session_id, url) DO NOTHING`,
		q.sessionID, item.URL, nullString(item.ParentURL), item.Depth, item.Priority, discovered,
	)
	if err != nil {
		return crawler.EnqueueClosed, fmt.Errorf("enqueue %s: %w", item.URL, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.EnqueueDuplicate, nil
	}
	q.accepted.Add(1)
	return crawler.EnqueueAccepted, nil
}

// Lease claims the best eligible PENDING row, polling until the wait
// elapses. The select skips rows locked by concurrent leasers.
func (q *Postgres) Lease(ctx context.Context, wait time.Duration) (*crawler.QueuedURL, error) {
	deadline := time.Now().Add(wait)
	for {
		if q.closed.Load() {
			return nil, ErrClosed
		}
		item, err := q.leaseOnce(ctx)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.poll):
		}
	}
}

func (q *Postgres) leaseOnce(ctx context.Context) (*crawler.QueuedURL, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE url_queue q
		SET status = 'IN_FLIGHT', leased_until = now() + make_interval(secs => $2)
		WHERE session_id = $1 AND url = (
			SELECT url FROM url_queue
			WHERE session_id = $1 AND status = 'PENDING'
				AND (not_before IS NULL OR not_before <= now())
			ORDER BY priority DESC, depth ASC, discovered_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING url, parent_url, depth, priority, attempts, discovered_at, leased_until`,
		q.sessionID, q.leaseDur.Seconds(),
	)

	var (
		item      crawler.QueuedURL
		parentURL *string
	)
	err := row.Scan(&item.URL, &parentURL, &item.Depth, &item.Priority,
		&item.Attempts, &item.DiscoveredAt, &item.LeasedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease: %w", err)
	}
	if parentURL != nil {
		item.ParentURL = *parentURL
	}
	item.SessionID = q.sessionID
	item.Status = crawler.StatusInFlight
	return &item, nil
}

// Complete transitions an IN_FLIGHT row to its terminal status.
func (q *Postgres) Complete(ctx context.Context, url string, outcome crawler.Outcome, lastError string) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE url_queue
		SET status = $3, last_error = NULLIF($4, ''), leased_until = NULL
		WHERE session_id = $1 AND url = $2 AND status = 'IN_FLIGHT'`,
		q.sessionID, url, string(outcome.Status()), lastError,
	)
	if err != nil {
		return fmt.Errorf("complete %s: %w", url, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete %s: no in-flight row", url)
	}
	return nil
}

// Retry returns an IN_FLIGHT row to PENDING with a backoff gate.
func (q *Postgres) Retry(ctx context.Context, url string, lastError string, notBefore time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE url_queue
		SET status = 'PENDING', attempts = attempts + 1,
			last_error = NULLIF($3, ''), not_before = $4, leased_until = NULL
		WHERE session_id = $1 AND url = $2 AND status = 'IN_FLIGHT'`,
		q.sessionID, url, lastError, notBefore,
	)
	if err != nil {
		return fmt.Errorf("retry %s: %w", url, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("retry %s: no in-flight row", url)
	}
	return nil
}

// Release returns an IN_FLIGHT row to PENDING, counting the attempt.
func (q *Postgres) Release(ctx context.Context, url string) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE url_queue
		SET status = 'PENDING', attempts = attempts + 1, leased_until = NULL
		WHERE session_id = $1 AND url = $2 AND status = 'IN_FLIGHT'`,
		q.sessionID, url,
	)
	if err != nil {
		return fmt.Errorf("release %s: %w", url, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release %s: no in-flight row", url)
	}
	return nil
}

// ReleaseAllInFlight returns every leased row to PENDING. Used during
// fatal shutdown so another run can pick the work up.
func (q *Postgres) ReleaseAllInFlight(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE url_queue
		SET status = 'PENDING', attempts = attempts + 1, leased_until = NULL
		WHERE session_id = $1 AND status = 'IN_FLIGHT'`,
		q.sessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("release all in-flight: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Sizes reports the current census.
func (q *Postgres) Sizes(ctx context.Context) (crawler.QueueSizes, error) {
	row := q.db.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'PENDING'),
			count(*) FILTER (WHERE status = 'IN_FLIGHT'),
			count(*) FILTER (WHERE status IN ('DONE', 'FAILED', 'SKIPPED'))
		FROM url_queue WHERE session_id = $1`,
		q.sessionID,
	)
	var s crawler.QueueSizes
	if err := row.Scan(&s.Pending, &s.InFlight, &s.Terminal); err != nil {
		return crawler.QueueSizes{}, fmt.Errorf("queue sizes: %w", err)
	}
	return s, nil
}

// Close rejects further enqueues and stops leasing. Rows stay in the
// database for recovery or a later resume.
func (q *Postgres) Close() error {
	q.closed.Store(true)
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
