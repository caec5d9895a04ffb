package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ubuntu-image/update-sample-data/internal/config"
)

// NewRootCmd creates the root command for update-sample-data.
// Running it without a subcommand updates the sample data.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-sample-data",
		Short: "Regenerate the prepared-image fixtures used by the test suite",
		Long: `update-sample-data runs the image preparation command ("snap weld" by
default) for a model assertion and a channel, then packs the resulting root
and unpack trees into a zip fixture.

Inside the fixture every .snap file is stored as a single placeholder byte,
every other file is stored unchanged, and directories without files of their
own are kept as explicit entries. Unless --output is given, the fixture is
named after the SHA-256 of the model assertion followed by the channel name.

Examples:
  # Prepare the bundled test model from the edge channel
  update-sample-data

  # Prepare a custom model from two channels, two at a time
  update-sample-data -m pc.model -c stable -c beta -j 2

  # Write the fixture to an explicit path and keep the working directories
  update-sample-data -o tests/data/sample.zip --keep

  # Reuse a previously prepared tree instead of downloading again
  UBUNTUIMAGE_MOCK_SNAP=yes update-sample-data`,
		Version:       getVersion(),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch format := getLogFormat(cmd); format {
			case logFormatText, logFormatJSON:
				return nil
			default:
				return fmt.Errorf("invalid log format %q: must be %s or %s", format, logFormatText, logFormatJSON)
			}
		},
		RunE: runUpdateCmd,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("log-format", logFormatText, "Log format (text or json)")
	cmd.PersistentFlags().String("db-dir", "", "History database directory (default: XDG data directory)")
	_ = cmd.PersistentFlags().MarkHidden("db-dir") //nolint:errcheck // Flag is defined above

	// Run inputs
	cmd.Flags().StringSliceP("channel", "c", []string{config.DefaultChannel},
		"Channel to prepare the image from (repeatable)")
	cmd.Flags().StringP("model", "m", "",
		"Model assertion file (default: the bundled test model)")
	cmd.Flags().StringP("output", "o", "",
		"Output archive path (default: <sha256 of model and channel>.zip)")
	cmd.Flags().String("output-dir", "",
		"Directory for archives with a derived name")
	cmd.Flags().StringSlice("extra-snaps", nil,
		"Additional snap to pass to the preparation command (repeatable)")

	// Run behavior
	cmd.Flags().BoolP("keep", "k", false,
		"Keep the temporary root and unpack directories")
	cmd.Flags().Bool("cache", false,
		"Reuse prepared trees for the same model and channel")
	cmd.Flags().Bool("refresh-cache", false,
		"Drop every cached tree before running")
	cmd.Flags().IntP("jobs", "j", config.DefaultJobs,
		"Number of channels prepared concurrently")
	cmd.Flags().Duration("timeout", config.DefaultCommandTimeout,
		"Timeout for one run of the preparation command (0 disables it)")

	// Configuration file
	cmd.Flags().String("config", "",
		"Configuration file path (default: .update-sample-data in current or home directory, then config.yaml in the XDG config directory)")

	// Report flags
	cmd.Flags().Bool("json", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().Bool("markdown", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().Bool("no-history", false,
		"Do not record the run in the history database")

	// Add subcommands
	cmd.AddCommand(NewVerifyCmd())
	cmd.AddCommand(NewExtractCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
