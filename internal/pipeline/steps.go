package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ubuntu-image/update-sample-data/internal/archive"
	"github.com/ubuntu-image/update-sample-data/internal/assertion"
	"github.com/ubuntu-image/update-sample-data/internal/model"
	"github.com/ubuntu-image/update-sample-data/internal/prepare"
)

// Step names, as recorded in model.Run.PerformedSteps.
const (
	StepResolve = "resolve"
	StepPrepare = "prepare"
	StepArchive = "archive"
	StepRecord  = "record"
)

// ResolveStep loads the model assertion, derives the fixture digest and
// decides the output path.
type ResolveStep struct {
	modelPath  string
	modelLabel string
	outputFor  func(digest string) string
	logger     *slog.Logger
}

// ResolveStepOption configures a ResolveStep.
type ResolveStepOption func(*ResolveStep)

// WithResolveLogger sets a custom logger for the resolve step.
func WithResolveLogger(logger *slog.Logger) ResolveStepOption {
	return func(s *ResolveStep) {
		s.logger = logger
	}
}

// WithModelLabel records label instead of the model file path. It is used
// when the file is a temporary copy of the bundled model.
func WithModelLabel(label string) ResolveStepOption {
	return func(s *ResolveStep) {
		s.modelLabel = label
	}
}

// NewResolveStep creates a resolve step for the model at modelPath.
// outputFor maps the digest to the archive path; nil uses the default
// "<digest>.zip" in the current directory.
func NewResolveStep(modelPath string, outputFor func(digest string) string, opts ...ResolveStepOption) *ResolveStep {
	s := &ResolveStep{
		modelPath: modelPath,
		outputFor: outputFor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.outputFor == nil {
		s.outputFor = archive.DefaultOutputName
	}
	return s
}

// Name returns the step name.
func (s *ResolveStep) Name() string {
	return StepResolve
}

// Do executes the resolve step.
func (s *ResolveStep) Do(_ context.Context, run *model.Run) error {
	m, err := assertion.Load(s.modelPath)
	if err != nil {
		return err
	}

	run.ModelFile = s.modelPath
	run.ModelPath = s.modelPath
	if s.modelLabel != "" {
		run.ModelPath = s.modelLabel
	}
	run.Brand = m.BrandID()
	run.Model = m.Name()
	run.Architecture = m.Architecture()
	run.Digest = m.Digest(run.Channel)
	run.OutputPath = s.outputFor(run.Digest)

	s.logger.Debug("resolved model assertion",
		"brand", run.Brand,
		"model", run.Model,
		"channel", run.Channel,
		"digest", run.Digest,
		"output", run.OutputPath,
	)
	return nil
}

// PrepareStep creates the temporary working directories and runs the
// preparation command into them. The directories are removed by Finish.
type PrepareStep struct {
	runner     prepare.Runner
	tempDir    string
	keep       bool
	extraSnaps []string
	logger     *slog.Logger

	workspace *prepare.Workspace
}

// PrepareStepOption configures a PrepareStep.
type PrepareStepOption func(*PrepareStep)

// WithTempDir sets the parent of the working directories.
func WithTempDir(dir string) PrepareStepOption {
	return func(s *PrepareStep) {
		s.tempDir = dir
	}
}

// WithKeep leaves the working directories in place after the run.
func WithKeep(keep bool) PrepareStepOption {
	return func(s *PrepareStep) {
		s.keep = keep
	}
}

// WithExtraSnaps passes additional snaps to the preparation command.
func WithExtraSnaps(snaps []string) PrepareStepOption {
	return func(s *PrepareStep) {
		s.extraSnaps = snaps
	}
}

// WithPrepareLogger sets a custom logger for the prepare step.
func WithPrepareLogger(logger *slog.Logger) PrepareStepOption {
	return func(s *PrepareStep) {
		s.logger = logger
	}
}

// NewPrepareStep creates a prepare step using runner.
func NewPrepareStep(runner prepare.Runner, opts ...PrepareStepOption) *PrepareStep {
	s := &PrepareStep{
		runner: runner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *PrepareStep) Name() string {
	return StepPrepare
}

// Do executes the prepare step.
func (s *PrepareStep) Do(ctx context.Context, run *model.Run) error {
	ws, err := prepare.NewWorkspace(s.tempDir, run.Channel,
		prepare.WithKeep(s.keep),
		prepare.WithWorkspaceLogger(s.logger),
	)
	if err != nil {
		return err
	}
	s.workspace = ws
	run.RootDir = ws.RootDir
	run.UnpackDir = ws.UnpackDir

	res, err := s.runner.Prepare(ctx, ws.Request(run.ModelFile, run.Channel, s.extraSnaps))
	if err != nil {
		return fmt.Errorf("failed to prepare image for channel %s: %w", run.Channel, err)
	}
	run.Cached = res.Cached

	s.logger.Info("image prepared",
		"channel", run.Channel,
		"cached", res.Cached,
		"elapsed", res.Elapsed,
	)
	return nil
}

// Finish removes the working directories unless they are kept.
func (s *PrepareStep) Finish(_ context.Context, run *model.Run) error {
	if s.workspace == nil {
		return nil
	}
	if err := s.workspace.Close(); err != nil {
		return err
	}
	if !s.keep {
		run.RootDir = ""
		run.UnpackDir = ""
	}
	return nil
}

// ArchiveStep packs the prepared trees into the fixture archive.
type ArchiveStep struct {
	suffixes []string
	logger   *slog.Logger
}

// ArchiveStepOption configures an ArchiveStep.
type ArchiveStepOption func(*ArchiveStep)

// WithPlaceholderSuffixes sets the suffixes of files stored as placeholders.
func WithPlaceholderSuffixes(suffixes []string) ArchiveStepOption {
	return func(s *ArchiveStep) {
		s.suffixes = suffixes
	}
}

// WithArchiveLogger sets a custom logger for the archive step.
func WithArchiveLogger(logger *slog.Logger) ArchiveStepOption {
	return func(s *ArchiveStep) {
		s.logger = logger
	}
}

// NewArchiveStep creates an archive step.
func NewArchiveStep(opts ...ArchiveStepOption) *ArchiveStep {
	s := &ArchiveStep{
		suffixes: []string{archive.DefaultPlaceholderSuffix},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *ArchiveStep) Name() string {
	return StepArchive
}

// Do executes the archive step.
func (s *ArchiveStep) Do(ctx context.Context, run *model.Run) error {
	if run.RootDir == "" || run.UnpackDir == "" {
		return ErrNotPrepared
	}
	if run.OutputPath == "" {
		return ErrNoOutputPath
	}

	manifest, err := archive.Pack(ctx, run.OutputPath, []archive.Source{
		{Prefix: "root", Dir: run.RootDir},
		{Prefix: "unpack", Dir: run.UnpackDir},
	},
		archive.WithPlaceholderSuffixes(s.suffixes...),
		archive.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", run.OutputPath, err)
	}
	run.Manifest = manifest
	return nil
}

// Recorder stores finished runs. It is satisfied by *database.HistoryDB.
type Recorder interface {
	SaveRun(ctx context.Context, run *model.Run) (int64, error)
}

// RecordStep stores the run in the history database.
type RecordStep struct {
	recorder Recorder
	logger   *slog.Logger
}

// RecordStepOption configures a RecordStep.
type RecordStepOption func(*RecordStep)

// WithRecordLogger sets a custom logger for the record step.
func WithRecordLogger(logger *slog.Logger) RecordStepOption {
	return func(s *RecordStep) {
		s.logger = logger
	}
}

// NewRecordStep creates a record step.
func NewRecordStep(recorder Recorder, opts ...RecordStepOption) *RecordStep {
	s := &RecordStep{
		recorder: recorder,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *RecordStep) Name() string {
	return StepRecord
}

// Do executes the record step.
func (s *RecordStep) Do(ctx context.Context, run *model.Run) error {
	id, err := s.recorder.SaveRun(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	s.logger.Debug("run recorded", "id", id, "channel", run.Channel)
	return nil
}
