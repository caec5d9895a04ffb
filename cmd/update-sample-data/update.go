package main

import (
	"cmp"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ubuntu-image/update-sample-data/internal/config"
	"github.com/ubuntu-image/update-sample-data/internal/database"
	seclog "github.com/ubuntu-image/update-sample-data/internal/log"
	"github.com/ubuntu-image/update-sample-data/internal/model"
	"github.com/ubuntu-image/update-sample-data/internal/pipeline"
	"github.com/ubuntu-image/update-sample-data/internal/prepare"
	"github.com/ubuntu-image/update-sample-data/internal/report"
)

// bundledModel is the model assertion used when --model is not given.
//
//go:embed fixtures/model.assertion
var bundledModel []byte

// bundledModelLabel stands for the bundled model in reports and history.
const bundledModelLabel = "(bundled)"

// runUpdateCmd executes the sample data update.
func runUpdateCmd(cmd *cobra.Command, _ []string) error {
	// Build config from defaults, file, environment and flags
	cfg, err := buildConfig(cmd, os.LookupEnv)
	if err != nil {
		return err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Set up structured logging
	logger := setupLogger(cmd, cfg.Verbose)
	slog.SetDefault(logger)

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	refresh, err := cmd.Flags().GetBool("refresh-cache")
	if err != nil {
		return err
	}

	runs, err := runUpdate(ctx, cfg, refresh, logger)
	if len(runs) > 0 {
		if werr := outputRuns(cmd.OutOrStdout(), cfg, runs); werr != nil {
			logger.Error("report failed", "error", werr)
		}
	}
	if err != nil {
		return err
	}
	return failedRunsError(runs)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getLogFormat retrieves the log format flag from the command or its parent.
func getLogFormat(cmd *cobra.Command) string {
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		format, err = cmd.Root().PersistentFlags().GetString("log-format")
		if err != nil {
			return logFormatText
		}
	}
	return format
}

// getDBDir returns the history database directory override, if any.
func getDBDir(cmd *cobra.Command) string {
	dir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		dir, err = cmd.Root().PersistentFlags().GetString("db-dir")
		if err != nil {
			return ""
		}
	}
	return dir
}

// buildConfig creates a Config from defaults, the configuration file, the
// environment and the flags that were explicitly set, in that order.
func buildConfig(cmd *cobra.Command, lookupEnv func(string) (string, bool)) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use defaults if no file found.
	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)

	if configPath != "" {
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cfg.ApplyFile(file)
	} else if explicitConfigPath {
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	}

	if err := cfg.ApplyEnv(lookupEnv); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", config.EnvMockSnap, err)
	}

	if flags.Changed("channel") {
		if cfg.Channels, err = flags.GetStringSlice("channel"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("model") {
		if cfg.ModelPath, err = flags.GetString("model"); err != nil {
			return nil, err
		}
	}
	if cfg.OutputPath, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if flags.Changed("output-dir") {
		if cfg.OutputDir, err = flags.GetString("output-dir"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("extra-snaps") {
		if cfg.ExtraSnaps, err = flags.GetStringSlice("extra-snaps"); err != nil {
			return nil, err
		}
	}
	if cfg.Keep, err = flags.GetBool("keep"); err != nil {
		return nil, err
	}
	if flags.Changed("cache") {
		if cfg.UseCache, err = flags.GetBool("cache"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("jobs") {
		if cfg.Jobs, err = flags.GetInt("jobs"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("timeout") {
		if cfg.CommandTimeout, err = flags.GetDuration("timeout"); err != nil {
			return nil, err
		}
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}

	noHistory, err := flags.GetBool("no-history")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noHistory
	if dir := getDBDir(cmd); dir != "" {
		cfg.DBDir = dir
	}
	cfg.Verbose = getVerboseFlag(cmd)

	return cfg, nil
}

// Log formats accepted by --log-format.
const (
	logFormatText = "text"
	logFormatJSON = "json"
)

// setupLogger creates a structured logger on the command's stderr based on
// the verbosity and --log-format. Credentials that reach a log attribute
// are masked.
func setupLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	if getLogFormat(cmd) == logFormatJSON {
		return seclog.NewSecureJSONLogger(cmd.ErrOrStderr(), verbose)
	}
	return seclog.NewSecureLogger(cmd.ErrOrStderr(), verbose)
}

// runUpdate prepares and archives every configured channel.
// The returned runs are in channel order. The error is only non-nil when
// the update could not start or the batch was cancelled.
func runUpdate(ctx context.Context, cfg *config.Config, refreshCache bool, logger *slog.Logger) ([]*model.Run, error) {
	modelPath, modelLabel := cfg.ModelPath, ""
	if modelPath == "" {
		path, cleanup, err := materializeModel()
		if err != nil {
			return nil, err
		}
		defer cleanup()
		modelPath, modelLabel = path, bundledModelLabel
	}

	logger.Info("starting update",
		"channels", cfg.Channels,
		"model", cmp.Or(modelLabel, modelPath),
		"jobs", cfg.Jobs,
		"cache", cfg.UseCache,
		"saveToDB", cfg.SaveToDB,
	)

	// Open database connection if saving is enabled
	var db *database.HistoryDB
	if cfg.SaveToDB {
		var err error
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Debug("database opened", "path", db.Path())
	}

	runner, err := newRunner(cfg, refreshCache, logger)
	if err != nil {
		return nil, err
	}

	bp := pipeline.NewBatchProcessor(
		func() *pipeline.Pipeline {
			return createPipeline(cfg, modelPath, modelLabel, runner, db, logger)
		},
		pipeline.WithConcurrency(cfg.Jobs),
		pipeline.WithBatchLogger(logger),
	)

	runs, err := bp.ProcessBatch(ctx, cfg.Channels)
	if err != nil {
		return runs, fmt.Errorf("update interrupted: %w", err)
	}
	return runs, nil
}

// newRunner builds the preparation runner, wrapped in the result cache when
// caching is enabled.
func newRunner(cfg *config.Config, refreshCache bool, logger *slog.Logger) (prepare.Runner, error) {
	var runner prepare.Runner = prepare.NewCommandRunner(
		prepare.WithCommand(cfg.SnapCommand),
		prepare.WithVerb(cfg.SnapVerb),
		prepare.WithTimeout(cfg.CommandTimeout),
		prepare.WithLogger(logger),
	)

	if !cfg.UseCache && !refreshCache {
		return runner, nil
	}

	cache := prepare.NewCachingRunner(runner, cfg.CacheDir, prepare.WithCacheLogger(logger))
	if refreshCache {
		if err := cache.Purge(); err != nil {
			return nil, fmt.Errorf("failed to purge cache: %w", err)
		}
		logger.Info("cache purged", "dir", cfg.CacheDir)
	}
	if !cfg.UseCache {
		return runner, nil
	}
	return cache, nil
}

// createPipeline creates the pipeline for one channel.
// A non-empty modelLabel replaces modelPath in reports and history.
func createPipeline(cfg *config.Config, modelPath, modelLabel string, runner prepare.Runner, db *database.HistoryDB, logger *slog.Logger) *pipeline.Pipeline {
	p := pipeline.New(pipeline.WithLogger(logger))

	p.AddSteps(
		pipeline.NewResolveStep(modelPath, cfg.OutputFor,
			pipeline.WithModelLabel(modelLabel),
			pipeline.WithResolveLogger(logger)),
		pipeline.NewPrepareStep(runner,
			pipeline.WithKeep(cfg.Keep),
			pipeline.WithExtraSnaps(cfg.ExtraSnaps),
			pipeline.WithPrepareLogger(logger)),
		pipeline.NewArchiveStep(
			pipeline.WithPlaceholderSuffixes(cfg.PlaceholderSuffixes),
			pipeline.WithArchiveLogger(logger)),
	)

	if db != nil {
		p.AddStep(pipeline.NewRecordStep(db, pipeline.WithRecordLogger(logger)))
	}

	logger.Debug("pipeline created", "steps", p.StepNames())
	return p
}

// materializeModel writes the bundled model assertion to a temporary file
// so the preparation command can read it.
func materializeModel() (string, func(), error) {
	f, err := os.CreateTemp("", "update-sample-data-model-*.assertion")
	if err != nil {
		return "", nil, fmt.Errorf("failed to write bundled model: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }

	if _, err := f.Write(bundledModel); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write bundled model: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write bundled model: %w", err)
	}
	return path, cleanup, nil
}

// outputRuns writes the runs in the requested format.
func outputRuns(w io.Writer, cfg *config.Config, runs []*model.Run) error {
	writer := newReportWriter(w, cfg.JSONReport, cfg.MarkdownReport, cfg.Verbose)
	if len(runs) == 1 {
		_, err := writer.Write(runs[0])
		return err
	}
	_, err := writer.WriteBatch(runs)
	return err
}

// newReportWriter selects the report format.
func newReportWriter(w io.Writer, jsonReport, markdownReport, verbose bool) report.Writer {
	switch {
	case jsonReport:
		return report.NewJSONWriter(w, report.WithPrettyPrint())
	case markdownReport:
		return report.NewMarkdownWriter(w)
	default:
		return report.NewSimpleWriter(w, report.WithVerbose(verbose))
	}
}

// errRunsFailed is returned when at least one channel did not produce a fixture.
var errRunsFailed = errors.New("sample data update failed")

// failedRunsError summarizes failed runs as a single error.
func failedRunsError(runs []*model.Run) error {
	var failed []error
	for _, run := range runs {
		if run == nil {
			continue
		}
		if run.Failed() {
			if run.Error != nil {
				failed = append(failed, fmt.Errorf("channel %s: %w", run.Channel, run.Error))
			} else {
				failed = append(failed, fmt.Errorf("channel %s: %s", run.Channel, run.ErrorMessage))
			}
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d channel(s) failed: %w", errRunsFailed, len(failed), len(runs), errors.Join(failed...))
}
