package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/agentpay/pkg/journal"
	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/spf13/cobra"
)

func newJournalCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and reconcile the seller's settlement journal",
	}

	cmd.AddCommand(
		newJournalListCmd(configPath),
		newJournalSummaryCmd(configPath),
		newJournalUnreconciledCmd(configPath),
		newJournalReconcileCmd(configPath),
		newJournalCleanupCmd(configPath),
	)
	return cmd
}

func newJournalListCmd(configPath *string) *cobra.Command {
	var (
		binding    string
		state      string
		subscriber string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List settlement entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, cleanup, err := openJournal(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := journal.QueryOpts{
				Binding:    models.Binding(binding),
				State:      models.SettlementState(state),
				Subscriber: subscriber,
				Limit:      limit,
			}
			if opts.Since, err = parseSince(since); err != nil {
				return err
			}

			entries, err := j.List(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&binding, "binding", "", "filter by binding (http, a2a)")
	cmd.Flags().StringVar(&state, "state", "", "filter by state (settled, failed)")
	cmd.Flags().StringVar(&subscriber, "subscriber", "", "filter by subscriber")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")
	return cmd
}

func newJournalSummaryCmd(configPath *string) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show request counts and credits by binding and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, cleanup, err := openJournal(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := parseSince(since)
			if err != nil {
				return err
			}
			sums, err := j.Summary(context.Background(), t)
			if err != nil {
				return err
			}
			fmt.Print(formatSummary(sums))
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	return cmd
}

func newJournalUnreconciledCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unreconciled",
		Short: "List failed settlements awaiting reconciliation, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, cleanup, err := openJournal(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := j.Unreconciled(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatEntries(entries))
			return nil
		},
	}
}

func newJournalReconcileCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <entry-id> <tx-id>",
		Short: "Mark a failed settlement as settled out of band",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, cleanup, err := openJournal(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := j.MarkReconciled(context.Background(), args[0], args[1]); err != nil {
				return fmt.Errorf("reconcile %s: %w", args[0], err)
			}
			fmt.Printf("Entry %s marked settled (tx %s).\n", args[0], args[1])
			return nil
		},
	}
}

func newJournalCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete settled entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, cleanup, err := openJournal(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := j.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d journal entries.\n", deleted)
			return nil
		},
	}
}

func openJournal(configPath string) (*journal.SQLiteJournal, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	j, err := journal.New(cfg.DBPath, cfg.RetentionDays)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal db: %w", err)
	}
	return j, func() { _ = j.Close() }, nil
}

func parseSince(since string) (time.Time, error) {
	if since == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", since)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
	}
	return t, nil
}

func formatEntries(entries []models.SettlementEntry) string {
	if len(entries) == 0 {
		return "No journal entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-5s %-8s %-16s %7s %-20s %s\n",
		"ID", "BIND", "STATE", "SUBSCRIBER", "CREDITS", "TIME", "DETAIL")
	b.WriteString(strings.Repeat("-", 120) + "\n")
	for _, e := range entries {
		detail := e.TxID
		if e.State == models.SettlementFailed {
			detail = e.Error
		}
		fmt.Fprintf(&b, "%-36s %-5s %-8s %-16s %7d %-20s %s\n",
			e.ID, e.Binding, e.State, e.Subscriber, e.Credits,
			e.CreatedAt.Format("2006-01-02 15:04:05"), detail)
	}
	return b.String()
}

func formatSummary(sums []models.SettlementSummary) string {
	if len(sums) == 0 {
		return "No journal entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-8s %10s %10s\n", "BINDING", "STATE", "REQUESTS", "CREDITS")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	for _, s := range sums {
		fmt.Fprintf(&b, "%-8s %-8s %10d %10d\n", s.Binding, s.State, s.RequestCount, s.TotalCredits)
	}
	return b.String()
}
