package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ubuntu-image/update-sample-data/internal/config"
	"github.com/ubuntu-image/update-sample-data/internal/database"
	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// defaultHistoryLimit is the number of runs listed by default.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
// This command lists fixtures recorded in the history database.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previously generated fixtures",
		Long: `History lists the fixtures recorded in the history database, newest first.

Every successful update is recorded unless --no-history was given. The
database lives in the XDG data directory.

Examples:
  # List the last 20 fixtures
  update-sample-data history

  # Only fixtures prepared from the stable channel
  update-sample-data history --channel stable

  # Show the latest fixture for a digest with its members
  update-sample-data history --digest 3f2a...c1 --entries

  # Forget runs older than 90 days
  update-sample-data history --prune 2160h`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	// Filter flags
	cmd.Flags().String("channel", "", "Only list runs for this channel")
	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "Maximum number of runs to list (0 for all)")
	cmd.Flags().String("digest", "", "Show the latest run for this model digest")
	cmd.Flags().Bool("entries", false, "With --digest, also list the archive members")

	// Maintenance flags
	cmd.Flags().Duration("prune", 0, "Delete runs that finished longer ago than this")

	// Output format flags
	cmd.Flags().Bool("json", false, "Output history in JSON format")
	cmd.Flags().Bool("markdown", false, "Output history in Markdown format")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	channel, err := flags.GetString("channel")
	if err != nil {
		return err
	}
	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	digest, err := flags.GetString("digest")
	if err != nil {
		return err
	}
	showEntries, err := flags.GetBool("entries")
	if err != nil {
		return err
	}
	prune, err := flags.GetDuration("prune")
	if err != nil {
		return err
	}
	jsonOutput, err := flags.GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := flags.GetBool("markdown")
	if err != nil {
		return err
	}

	// Validate arguments before opening database
	if jsonOutput && markdownOutput {
		return config.ErrConflictingReportFormats
	}
	if limit < 0 {
		return errors.New("invalid limit: must not be negative")
	}
	if prune < 0 {
		return errors.New("invalid prune age: must be positive")
	}
	if showEntries && digest == "" {
		return errors.New("--entries requires --digest")
	}

	out := cmd.OutOrStdout()
	writer := newReportWriter(out, jsonOutput, markdownOutput, getVerboseFlag(cmd))

	dbDir := config.XDGDataDir()
	if dir := getDBDir(cmd); dir != "" {
		dbDir = dir
	}

	db, err := database.Open(dbDir, database.Options{EnableWAL: true})
	if errors.Is(err, database.ErrDatabaseNotFound) {
		if digest != "" {
			return fmt.Errorf("no fixture recorded for digest %s", digest)
		}
		_, err = writer.WriteHistory(nil)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()

	if prune > 0 {
		n, err := db.Prune(ctx, time.Now().Add(-prune))
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Pruned %d run(s)\n", n)
	}

	if digest != "" {
		record, err := db.LatestForDigest(ctx, digest)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("no fixture recorded for digest %s", digest)
		}
		if err != nil {
			return err
		}
		if _, err := writer.WriteHistory([]*database.Record{record}); err != nil {
			return err
		}
		if !showEntries {
			return nil
		}
		entries, err := db.Entries(ctx, record.ID)
		if err != nil {
			return err
		}
		return writeEntries(out, entries)
	}

	records, err := db.ListRuns(ctx, channel, limit)
	if err != nil {
		return err
	}
	_, err = writer.WriteHistory(records)
	return err
}

// writeEntries prints archive members as an aligned table.
func writeEntries(w io.Writer, entries []model.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nKIND\tSIZE\tSOURCE\tNAME")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", e.Kind, e.Size, e.SourceSize, e.Name)
	}
	return tw.Flush()
}
