package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// Step defines the interface that all pipeline steps must implement.
// Steps are executed in sequence, with each step receiving the run filled
// in by the previous steps.
type Step interface {
	// Do executes the pipeline step.
	// Returning an error stops the pipeline.
	Do(ctx context.Context, run *model.Run) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Finisher is implemented by steps that own resources which must be released
// when the run ends.
type Finisher interface {
	Finish(ctx context.Context, run *model.Run) error
}

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	// steps contains the ordered list of steps to execute.
	steps []Step

	// logger is used for structured logging during execution.
	logger *slog.Logger
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// AddStep appends a step to the pipeline.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all pipeline steps in sequence.
// Cancellation is checked before each step. Whatever happens, every started
// step that implements Finisher is finished and run.FinishedAt is set.
func (p *Pipeline) Execute(ctx context.Context, run *model.Run) (err error) {
	started := make([]Step, 0, len(p.steps))

	defer func() {
		if ferr := p.finish(ctx, run, started); ferr != nil && err == nil {
			err = ferr
			p.recordError(run, ferr)
		}
		run.FinishedAt = time.Now()
	}()

	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"channel", run.Channel,
				"reason", ctx.Err(),
			)
			run.Cancelled = true
			p.recordError(run, ctx.Err())
			return ctx.Err()
		default:
		}

		p.logger.Info("executing step",
			"step", step.Name(),
			"channel", run.Channel,
		)

		started = append(started, step)
		if err := step.Do(ctx, run); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"channel", run.Channel,
				"error", err,
			)
			p.recordError(run, err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				run.Cancelled = ctx.Err() != nil
			}
			return err
		}
		p.logger.Debug("step completed",
			"step", step.Name(),
			"channel", run.Channel,
		)

		run.PerformedSteps = append(run.PerformedSteps, step.Name())
	}

	return nil
}

// finish releases step resources in reverse order.
// It runs with a fresh context so cleanup still happens after cancellation.
func (p *Pipeline) finish(ctx context.Context, run *model.Run, started []Step) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		f, ok := started[i].(Finisher)
		if !ok {
			continue
		}
		if err := f.Finish(ctx, run); err != nil {
			p.logger.Warn("step cleanup failed",
				"step", started[i].Name(),
				"channel", run.Channel,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// recordError keeps the first error of the run.
func (p *Pipeline) recordError(run *model.Run, err error) {
	if run.Error != nil {
		return
	}
	run.Error = err
	run.ErrorMessage = err.Error()
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
