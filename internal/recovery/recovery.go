// Package recovery reclaims expired leases and prunes old queue rows in
// the durable backend. It is the safety net for worker and process
// crashes: any IN_FLIGHT row whose lease lapsed goes back to PENDING,
// or to FAILED once its retry budget is spent.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wordcrawl/wordcrawl/internal/metrics"
	"github.com/wordcrawl/wordcrawl/internal/store"
)

// Config controls the recovery sweep.
type Config struct {
	Interval   time.Duration
	MaxRetries int
	// Retention bounds how long terminal rows stay in url_queue.
	// Zero disables cleanup.
	Retention time.Duration
}

// Health is one sweep's view of the queue.
type Health struct {
	Pending        int64
	InFlight       int64
	Done           int64
	Failed         int64
	Skipped        int64
	OldestPending  time.Duration
	OldestInFlight time.Duration
}

// Recoverer sweeps one session's queue rows.
type Recoverer struct {
	db        store.DB
	sessionID uuid.UUID
	cfg       Config
	logger    *zap.Logger
}

// New builds a Recoverer.
func New(db store.DB, sessionID uuid.UUID, cfg Config, logger *zap.Logger) *Recoverer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Recoverer{
		db:        db,
		sessionID: sessionID,
		cfg:       cfg,
		logger:    logger.With(zap.String("session", sessionID.String())),
	}
}

// Run sweeps on the configured interval until the context ends. One
// sweep runs immediately, absorbing orphans from a prior crash.
func (r *Recoverer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("recovery sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep: reclaim expired leases, fail
// exhausted rows, prune old terminal rows, and report queue health.
// Idempotent; a second run with no intervening leases is a no-op.
func (r *Recoverer) RunOnce(ctx context.Context) (Health, error) {
	failed, err := r.failExhausted(ctx)
	if err != nil {
		return Health{}, err
	}
	reclaimed, err := r.reclaimExpired(ctx)
	if err != nil {
		return Health{}, err
	}
	pruned, err := r.pruneTerminal(ctx)
	if err != nil {
		return Health{}, err
	}

	health, err := r.snapshot(ctx)
	if err != nil {
		return Health{}, err
	}

	if reclaimed > 0 || failed > 0 || pruned > 0 {
		r.logger.Info("recovery sweep",
			zap.Int64("reclaimed", reclaimed),
			zap.Int64("failed", failed),
			zap.Int64("pruned", pruned),
		)
	}
	metrics.ObserveRecoveryReclaims(reclaimed)
	return health, nil
}

// failExhausted moves expired leases that are out of retries straight
// to FAILED. It runs before reclamation so an exhausted row never
// bounces through PENDING again.
func (r *Recoverer) failExhausted(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE url_queue
		SET status = 'FAILED', last_error = 'lease expired, retries exhausted', leased_until = NULL
		WHERE session_id = $1 AND status = 'IN_FLIGHT'
			AND leased_until < now() AND attempts >= $2`,
		r.sessionID, r.cfg.MaxRetries,
	)
	if err != nil {
		return 0, fmt.Errorf("fail exhausted leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// reclaimExpired returns the remaining expired leases to PENDING,
// counting the lost attempt.
func (r *Recoverer) reclaimExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE url_queue
		SET status = 'PENDING', attempts = attempts + 1, leased_until = NULL
		WHERE session_id = $1 AND status = 'IN_FLIGHT' AND leased_until < now()`,
		r.sessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Recoverer) pruneTerminal(ctx context.Context) (int64, error) {
	if r.cfg.Retention <= 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM url_queue
		WHERE session_id = $1 AND status IN ('DONE', 'FAILED', 'SKIPPED')
			AND discovered_at < now() - make_interval(secs => $2)`,
		r.sessionID, r.cfg.Retention.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune terminal rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Recoverer) snapshot(ctx context.Context) (Health, error) {
	row := r.db.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'PENDING'),
			count(*) FILTER (WHERE status = 'IN_FLIGHT'),
			count(*) FILTER (WHERE status = 'DONE'),
			count(*) FILTER (WHERE status = 'FAILED'),
			count(*) FILTER (WHERE status = 'SKIPPED'),
			coalesce(extract(epoch FROM now() - min(discovered_at) FILTER (WHERE status = 'PENDING')), 0),
			coalesce(extract(epoch FROM now() - min(discovered_at) FILTER (WHERE status = 'IN_FLIGHT')), 0)
		FROM url_queue WHERE session_id = $1`,
		r.sessionID,
	)

	var h Health
	var oldestPending, oldestInFlight float64
	err := row.Scan(&h.Pending, &h.InFlight, &h.Done, &h.Failed, &h.Skipped,
		&oldestPending, &oldestInFlight)
	if err != nil {
		return Health{}, fmt.Errorf("queue health snapshot: %w", err)
	}
	h.OldestPending = time.Duration(oldestPending * float64(time.Second))
	h.OldestInFlight = time.Duration(oldestInFlight * float64(time.Second))
	return h, nil
}
