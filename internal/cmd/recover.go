package cmd

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wordcrawl/wordcrawl/internal/recovery"
	"github.com/wordcrawl/wordcrawl/internal/store"
)

func newRecoverCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Runs one recovery sweep for a session's durable queue",
		Long: `Reclaims expired leases, fails rows that are out of retries, prunes
terminal rows past retention, and prints a queue health report.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" {
				return errors.New("--session is required")
			}
			id, err := uuid.Parse(sessionID)
			if err != nil {
				return fmt.Errorf("parse session id %q: %w", sessionID, err)
			}
			return runRecover(cmd, id)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to sweep")
	return cmd
}

func runRecover(cmd *cobra.Command, id uuid.UUID) error {
	ctx := cmd.Context()
	db, err := store.Connect(ctx, cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	rec := recovery.New(db, id, recovery.Config{
		MaxRetries: cfg.Crawler.MaxRetries,
		Retention:  cfg.Queue.Retention,
	}, logger.Named("recovery"))

	health, err := rec.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s\n", id)
	fmt.Fprintf(out, "  pending:   %d\n", health.Pending)
	fmt.Fprintf(out, "  in-flight: %d\n", health.InFlight)
	fmt.Fprintf(out, "  done:      %d\n", health.Done)
	fmt.Fprintf(out, "  failed:    %d\n", health.Failed)
	fmt.Fprintf(out, "  skipped:   %d\n", health.Skipped)
	if health.OldestPending > 0 {
		fmt.Fprintf(out, "  oldest pending:   %s\n", health.OldestPending)
	}
	if health.OldestInFlight > 0 {
		fmt.Fprintf(out, "  oldest in-flight: %s\n", health.OldestInFlight)
	}
	return nil
}
