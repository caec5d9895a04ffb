package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ubuntu-image/update-sample-data/internal/archive"
	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// NewExtractCmd creates the extract command.
func NewExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <archive> <dest-dir>",
		Short: "Unpack a fixture archive into a directory",
		Long: `Extract restores a fixture archive into a directory, recreating files,
placeholders, explicit directories and symlinks.

Members whose path would leave the destination directory are rejected.

Example:
  update-sample-data extract 3f2a...c1.zip /tmp/fixture`,
		Args: cobra.ExactArgs(2),
		RunE: runExtractCmd,
	}
}

// runExtractCmd executes the extract command.
func runExtractCmd(cmd *cobra.Command, args []string) error {
	logger := setupLogger(cmd, getVerboseFlag(cmd))

	manifest, err := archive.Extract(cmd.Context(), args[0], args[1], archive.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", args[0], err)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Extracted %d entries into %s (%d files, %d placeholders, %d directories, %d symlinks)\n",
		len(manifest.Entries), args[1],
		manifest.Count(model.EntryFile),
		manifest.Count(model.EntryPlaceholder),
		manifest.Count(model.EntryDir),
		manifest.Count(model.EntrySymlink),
	)
	return nil
}
