package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbehnke/companionlink/internal/database"
	"github.com/dbehnke/companionlink/internal/output"
)

var (
	outputFormat string
	statsLimit   int
	eventKind    string
	pruneAge     time.Duration
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the session journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJournal(func(repo *database.SessionRepository) error {
			summary, err := repo.Summary()
			if err != nil {
				return fmt.Errorf("failed to summarize journal: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), output.NewFormatter(outputFormat).Format(summary))
			return nil
		})
	},
}

var statsSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the most recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJournal(func(repo *database.SessionRepository) error {
			sessions, err := repo.RecentSessions(statsLimit)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), output.NewFormatter(outputFormat).Format(sessions))
			return nil
		})
	},
}

var statsEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the most recent link events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJournal(func(repo *database.SessionRepository) error {
			events, err := repo.RecentEvents(eventKind, statsLimit)
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), output.NewFormatter(outputFormat).Format(events))
			return nil
		})
	},
}

var statsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete journal entries older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneAge <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		return withJournal(func(repo *database.SessionRepository) error {
			removed, err := repo.Prune(time.Now().Add(-pruneAge))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d journal entries.\n", removed)
			return nil
		})
	},
}

// withJournal opens the configured journal for the duration of fn
func withJournal(fn func(repo *database.SessionRepository) error) error {
	if !cfg.GetDatabaseEnabled() {
		return fmt.Errorf("session journal is disabled ([Database] Enabled=0)")
	}
	db, err := database.NewDB(database.Config{Path: cfg.GetDatabasePath()}, nil)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer db.Close()
	return fn(database.NewSessionRepository(db.GetDB()))
}

func init() {
	statsCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
	statsCmd.PersistentFlags().IntVarP(&statsLimit, "limit", "n", 20, "number of entries to list")
	statsEventsCmd.Flags().StringVar(&eventKind, "kind", "", "only list events of this kind (e.g. stale_timeout)")
	statsPruneCmd.Flags().DurationVar(&pruneAge, "older-than", 30*24*time.Hour, "age of the entries to delete")

	statsCmd.AddCommand(statsSessionsCmd)
	statsCmd.AddCommand(statsEventsCmd)
	statsCmd.AddCommand(statsPruneCmd)
	rootCmd.AddCommand(statsCmd)
}
