package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// DefaultConcurrency is the number of channels processed at once when no
// limit is configured.
const DefaultConcurrency = 2

// BatchProcessor runs one pipeline per channel with bounded concurrency.
// Every channel gets its own pipeline and therefore its own working
// directories; the pipelines share nothing but what the factory hands them.
type BatchProcessor struct {
	// pipelineFactory creates a new pipeline for each channel.
	pipelineFactory func() *Pipeline

	// concurrency is the maximum number of concurrent runs.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger

	// results stores completed runs in channel order.
	results []*model.Run
	mu      sync.Mutex
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent runs.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor.
// pipelineFactory is called once per channel.
func NewBatchProcessor(pipelineFactory func() *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     DefaultConcurrency,
		results:         make([]*model.Run, 0),
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// ProcessBatch runs every channel and returns their runs in the order the
// channels were given. A failing channel does not stop the others; its
// error is recorded in its run. The returned error is only non-nil when the
// batch itself was cancelled.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, channels []string) ([]*model.Run, error) {
	bp.logger.Info("starting batch processing",
		"channels", len(channels),
		"concurrency", bp.concurrency,
	)

	startTime := time.Now()

	bp.results = make([]*model.Run, len(channels))

	err := bp.run(ctx, channels, func(run *model.Run, i int) {
		bp.mu.Lock()
		bp.results[i] = run
		bp.mu.Unlock()
	})

	bp.logger.Info("batch processing complete",
		"channels", len(channels),
		"elapsed", time.Since(startTime),
	)

	return bp.results, err
}

func (bp *BatchProcessor) run(ctx context.Context, channels []string, done func(*model.Run, int)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, channel := range channels {
		g.Go(func() error {
			run := model.NewRun(channel)

			select {
			case <-ctx.Done():
				run.Cancelled = true
				run.Error = ctx.Err()
				run.ErrorMessage = ctx.Err().Error()
				run.FinishedAt = time.Now()
				done(run, i)
				return ctx.Err()
			default:
			}

			bp.logger.Info("updating sample data",
				"channel", channel,
				"index", i+1,
				"total", len(channels),
			)

			if err := bp.pipelineFactory().Execute(ctx, run); err != nil {
				bp.logger.Warn("update failed",
					"channel", channel,
					"error", err,
				)
			} else {
				bp.logger.Info("update completed",
					"channel", channel,
					"output", run.OutputPath,
				)
			}

			done(run, i)
			return nil
		})
	}

	return g.Wait()
}
