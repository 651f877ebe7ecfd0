package store

import (
	"context"
	"fmt"
)

// schemaStatements create every table and index the crawler touches.
// Statements are idempotent so Migrate can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS crawl_sessions (
		id            UUID PRIMARY KEY,
		seed_urls     TEXT[] NOT NULL,
		status        TEXT NOT NULL CHECK (status IN ('RUNNING','COMPLETED','FAILED','CANCELLED')),
		started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		ended_at      TIMESTAMPTZ NULL,
		pages_crawled BIGINT NOT NULL DEFAULT 0,
		pages_failed  BIGINT NOT NULL DEFAULT 0,
		pages_skipped BIGINT NOT NULL DEFAULT 0,
		bytes_total   BIGINT NOT NULL DEFAULT 0,
		errors        BIGINT NOT NULL DEFAULT 0,
		fatal_error   TEXT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS url_queue (
		session_id    UUID NOT NULL,
		url           TEXT NOT NULL,
		parent_url    TEXT NULL,
		depth         INT NOT NULL CHECK (depth >= 0),
		priority      INT NOT NULL DEFAULT 0,
		status        TEXT NOT NULL CHECK (status IN ('PENDING','IN_FLIGHT','DONE','FAILED','SKIPPED')),
		attempts      INT NOT NULL DEFAULT 0,
		last_error    TEXT NULL,
		discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		leased_until  TIMESTAMPTZ NULL,
		not_before    TIMESTAMPTZ NULL,
		PRIMARY KEY (session_id, url)
	)`,
	`CREATE INDEX IF NOT EXISTS url_queue_lease_order
		ON url_queue (session_id, status, priority DESC, depth, discovered_at)`,
	`CREATE INDEX IF NOT EXISTS url_queue_leased_until
		ON url_queue (session_id, status, leased_until)`,

	`CREATE TABLE IF NOT EXISTS pages (
		session_id     UUID NOT NULL,
		url            TEXT NOT NULL,
		final_url      TEXT NOT NULL,
		parent_url     TEXT NULL,
		depth          INT NOT NULL,
		status_code    INT NOT NULL,
		content_type   TEXT NOT NULL,
		title          TEXT NOT NULL DEFAULT '',
		text_length    INT NOT NULL DEFAULT 0,
		total_words    INT NOT NULL DEFAULT 0,
		unique_words   INT NOT NULL DEFAULT 0,
		redirect_count INT NOT NULL DEFAULT 0,
		dns_ms         NUMERIC(10,3) NULL,
		connect_ms     NUMERIC(10,3) NULL,
		tls_ms         NUMERIC(10,3) NULL,
		first_byte_ms  NUMERIC(10,3) NULL,
		download_ms    NUMERIC(10,3) NULL,
		crawled_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (session_id, url)
	)`,

	`CREATE TABLE IF NOT EXISTS word_frequencies (
		session_id UUID NOT NULL,
		url        TEXT NOT NULL,
		word       TEXT NOT NULL,
		count      INT NOT NULL,
		UNIQUE (session_id, url, word)
	)`,
	`CREATE INDEX IF NOT EXISTS word_frequencies_word
		ON word_frequencies (session_id, word)`,

	`CREATE TABLE IF NOT EXISTS links (
		session_id UUID NOT NULL,
		source_url TEXT NOT NULL,
		dest_url   TEXT NOT NULL,
		kind       TEXT NOT NULL CHECK (kind IN ('INTERNAL','EXTERNAL'))
	)`,
	`CREATE INDEX IF NOT EXISTS links_source
		ON links (session_id, source_url)`,

	`CREATE TABLE IF NOT EXISTS session_metrics_timeseries (
		session_id    UUID NOT NULL,
		recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		pages_crawled BIGINT NOT NULL,
		pages_failed  BIGINT NOT NULL,
		pages_skipped BIGINT NOT NULL,
		bytes_total   BIGINT NOT NULL,
		errors        BIGINT NOT NULL,
		pages_per_sec NUMERIC(10,3) NOT NULL,
		bytes_per_sec NUMERIC(14,3) NOT NULL,
		in_flight     INT NOT NULL,
		queue_depth   INT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS error_events (
		session_id  UUID NOT NULL,
		url         TEXT NOT NULL,
		depth       INT NOT NULL,
		kind        TEXT NOT NULL,
		message     TEXT NOT NULL,
		status_code INT NOT NULL DEFAULT 0,
		attempt     INT NOT NULL DEFAULT 0,
		retryable   BOOLEAN NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS error_events_session
		ON error_events (session_id, occurred_at)`,
}

// Migrate creates any missing tables and indexes.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
