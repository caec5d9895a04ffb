package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ubuntu-image/update-sample-data/internal/archive"
)

// errArchiveMismatch is returned when an archive does not match its sources.
var errArchiveMismatch = errors.New("archive does not match its sources")

// NewVerifyCmd creates the verify command.
func NewVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <archive> <root-dir> <unpack-dir>",
		Short: "Check a fixture archive against prepared trees",
		Long: `Verify compares a fixture archive with the root and unpack trees it was
built from, for example the directories left behind by --keep.

It reports every member that is missing, unexpected, has the wrong type,
or whose content differs. Placeholder files must hold exactly one byte.

Examples:
  # Verify a fixture against kept working directories
  update-sample-data verify 3f2a...c1.zip /tmp/update-sample-data-edge-1234/root /tmp/update-sample-data-edge-1234/unpack

  # Treat .img files as placeholders too
  update-sample-data verify --suffix .snap --suffix .img fixture.zip root unpack`,
		Args: cobra.ExactArgs(3),
		RunE: runVerifyCmd,
	}

	cmd.Flags().StringSlice("suffix", []string{archive.DefaultPlaceholderSuffix},
		"File name suffix stored as a placeholder (repeatable)")

	return cmd
}

// runVerifyCmd executes the verify command.
func runVerifyCmd(cmd *cobra.Command, args []string) error {
	suffixes, err := cmd.Flags().GetStringSlice("suffix")
	if err != nil {
		return err
	}

	logger := setupLogger(cmd, getVerboseFlag(cmd))

	archivePath := args[0]
	mismatches, err := archive.Verify(cmd.Context(), archivePath, []archive.Source{
		{Prefix: "root", Dir: args[1]},
		{Prefix: "unpack", Dir: args[2]},
	},
		archive.WithPlaceholderSuffixes(suffixes...),
		archive.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to verify %s: %w", archivePath, err)
	}

	out := cmd.OutOrStdout()
	if len(mismatches) == 0 {
		fmt.Fprintf(out, "%s matches its source trees\n", archivePath)
		return nil
	}

	fmt.Fprintln(out, archive.FormatMismatches(mismatches))
	return fmt.Errorf("%w: %d difference(s) in %s", errArchiveMismatch, len(mismatches), archivePath)
}
