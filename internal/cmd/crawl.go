package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wordcrawl/wordcrawl/internal/api"
	"github.com/wordcrawl/wordcrawl/internal/config"
	"github.com/wordcrawl/wordcrawl/internal/dedup"
	"github.com/wordcrawl/wordcrawl/internal/fetch"
	"github.com/wordcrawl/wordcrawl/internal/metrics"
	"github.com/wordcrawl/wordcrawl/internal/queue"
	"github.com/wordcrawl/wordcrawl/internal/ratelimit"
	"github.com/wordcrawl/wordcrawl/internal/recovery"
	"github.com/wordcrawl/wordcrawl/internal/robots"
	"github.com/wordcrawl/wordcrawl/internal/session"
	"github.com/wordcrawl/wordcrawl/internal/store"
	"github.com/wordcrawl/wordcrawl/internal/urlnorm"
	"github.com/wordcrawl/wordcrawl/internal/words"
	"github.com/wordcrawl/wordcrawl/internal/worker"
)

func newCrawlCmd() *cobra.Command {
	var (
		resumeID     string
		seedPriority int
	)

	cmd := &cobra.Command{
		Use:   "crawl [seed-url]...",
		Short: "Starts a crawl session from the given seed URLs",
		Long: `Runs one crawl session: seeds are enqueued at the given priority and
workers fetch breadth-first until the frontier drains, the page cap is
reached, or the process is interrupted. With the postgres queue backend,
--session resumes an interrupted session from its persisted frontier.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && resumeID == "" {
				return errors.New("at least one seed URL or --session required")
			}
			return runCrawl(cmd.Context(), args, seedPriority, resumeID)
		},
	}

	cmd.Flags().StringVar(&resumeID, "session", "", "session id to resume (postgres backend only)")
	cmd.Flags().IntVar(&seedPriority, "seed-priority", 10, "priority assigned to seed URLs")
	return cmd
}

func runCrawl(parent context.Context, seeds []string, seedPriority int, resumeID string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	norm, err := urlnorm.New(urlnorm.Options{StripParams: cfg.Crawler.StripQueryParams})
	if err != nil {
		return fmt.Errorf("init normalizer: %w", err)
	}

	client := fetch.New(fetch.Config{
		UserAgent:           cfg.Crawler.UserAgent,
		Timeout:             cfg.Crawler.RequestTimeout,
		MaxBodySize:         cfg.Crawler.MaxPageSize,
		MaxRedirects:        cfg.Crawler.MaxRedirects,
		MaxConns:            cfg.HTTP.MaxConnections,
		MaxConnsPerHost:     cfg.HTTP.MaxConnectionsPerHost,
		DNSCacheTTL:         cfg.HTTP.DNSCacheTTL,
		AllowedContentTypes: cfg.Crawler.AllowedContentTypes,
	})
	defer client.Close()

	policy := robots.New(robots.Config{UserAgent: cfg.Crawler.UserAgent}, nil, logger.Named("robots"))
	limiter := ratelimit.New(cfg.Crawler.RateLimitDelay)
	analyzer := words.New(cfg.Crawler.IncludeStopWords)

	w := worker.New(worker.Config{
		MinTextLength:   cfg.Crawler.MinTextLength,
		MaxWordsPerPage: cfg.Crawler.MaxWordsPerPage,
	}, client, policy, limiter, norm, analyzer, logger.Named("worker"))
	pool := worker.NewPool(cfg.Crawler.Workers, w, logger.Named("pool"))

	limits := queue.Limits{MaxDepth: cfg.Crawler.MaxDepth}
	filter := dedup.New(dedupCapacity(cfg.Crawler.MaxPages), 0.01)

	sessionCfg := session.Config{
		SeedURLs:       seeds,
		SeedPriority:   seedPriority,
		MaxDepth:       cfg.Crawler.MaxDepth,
		MaxPages:       cfg.Crawler.MaxPages,
		MaxRetries:     cfg.Crawler.MaxRetries,
		LeaseWait:      500 * time.Millisecond,
		AllowedDomains: cfg.Crawler.AllowedDomains,
		BlockedDomains: cfg.Crawler.BlockedDomains,
		Durable:        cfg.Queue.Backend == config.BackendPostgres,
	}

	var (
		st store.Store
		q  queue.Queue
		id uuid.UUID
	)

	switch cfg.Queue.Backend {
	case config.BackendPostgres:
		db, err := store.Connect(ctx, cfg.DB.DSN())
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		if err := store.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}

		pgStore := store.NewPostgres(db, logger.Named("store"))
		st = pgStore

		if resumeID != "" {
			id, err = uuid.Parse(resumeID)
			if err != nil {
				return fmt.Errorf("parse session id %q: %w", resumeID, err)
			}
			if _, err := pgStore.GetSession(ctx, id); err != nil {
				return fmt.Errorf("resume session: %w", err)
			}
		} else {
			id = uuid.New()
			if err := pgStore.CreateSession(ctx, id, seeds); err != nil {
				return fmt.Errorf("create session: %w", err)
			}
		}

		q, err = queue.NewPostgres(ctx, db, id, limits, cfg.Queue.LeaseDuration)
		if err != nil {
			return fmt.Errorf("init durable queue: %w", err)
		}

		rec := recovery.New(db, id, recovery.Config{
			Interval:   cfg.Queue.RecoveryInterval,
			MaxRetries: cfg.Crawler.MaxRetries,
			Retention:  cfg.Queue.Retention,
		}, logger.Named("recovery"))
		go func() {
			if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("recovery loop exited", zap.Error(err))
			}
		}()

	case config.BackendMemory:
		if resumeID != "" {
			return errors.New("--session requires the postgres queue backend")
		}
		memStore := store.NewMemory()
		st = memStore
		id = uuid.New()
		if err := memStore.CreateSession(ctx, id, seeds); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		q = queue.NewMemory(limits, cfg.Queue.LeaseDuration)

	default:
		return fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}

	srv := startOpsServer(st)

	sess := session.New(id, sessionCfg, q, pool, st, filter, norm, logger.Named("session"))
	logger.Info("crawl starting",
		zap.String("session", id.String()),
		zap.String("backend", cfg.Queue.Backend),
		zap.Int("workers", cfg.Crawler.Workers),
	)

	status, err := sess.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("ops server shutdown", zap.Error(serr))
	}

	if err != nil {
		return fmt.Errorf("crawl session %s: %w", id, err)
	}
	logger.Info("crawl finished", zap.String("session", id.String()), zap.String("status", string(status)))
	return nil
}

func startOpsServer(st store.Store) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(st, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()
	return srv
}

// dedupCapacity sizes the Bloom filter well above the page cap, since
// the filter sees every discovered URL, not just crawled ones.
func dedupCapacity(maxPages int64) int {
	const min = 100_000
	if n := maxPages * 20; n > min {
		return int(n)
	}
	return min
}
