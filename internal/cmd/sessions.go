package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wordcrawl/wordcrawl/internal/store"
)

func newSessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Lists recent crawl sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessions(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}

func runSessions(cmd *cobra.Command, limit int) error {
	ctx := cmd.Context()
	db, err := store.Connect(ctx, cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	st := store.NewPostgres(db, logger.Named("store"))
	sessions, err := st.ListSessions(ctx, limit)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tENDED\tPAGES\tFAILED\tERRORS\tSEEDS")
	for _, s := range sessions {
		ended := "-"
		if !s.EndedAt.IsZero() {
			ended = s.EndedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.ID, s.Status,
			s.StartedAt.Format("2006-01-02 15:04:05"), ended,
			s.PagesCrawled, s.PagesFailed, s.Errors,
			strings.Join(s.SeedURLs, ","),
		)
	}
	return w.Flush()
}
