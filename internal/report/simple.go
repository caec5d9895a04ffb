package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ubuntu-image/update-sample-data/internal/database"
	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// SimpleWriter outputs human-readable text reports for the terminal.
type SimpleWriter struct {
	baseWriter

	// verbose lists every archive entry.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with the entry listing.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the run in human-readable format.
func (w *SimpleWriter) Write(run *model.Run) (int, error) {
	var sb strings.Builder
	w.writeRun(&sb, run)
	return io.WriteString(w.output, sb.String())
}

// WriteBatch outputs every run followed by a one-line summary.
func (w *SimpleWriter) WriteBatch(runs []*model.Run) (int, error) {
	var sb strings.Builder
	for _, run := range runs {
		if run == nil {
			continue
		}
		w.writeRun(&sb, run)
		sb.WriteString("\n")
	}
	s := Summarize(runs)
	fmt.Fprintf(&sb, "%d channel(s): %d complete, %d failed, %d cancelled, %d from cache\n",
		s.Total, s.Complete, s.Failed, s.Cancelled, s.Cached)
	return io.WriteString(w.output, sb.String())
}

// WriteHistory outputs records as an aligned table.
func (w *SimpleWriter) WriteHistory(records []*database.Record) (int, error) {
	var sb strings.Builder
	if len(records) == 0 {
		sb.WriteString("No fixtures recorded yet.\n")
		return io.WriteString(w.output, sb.String())
	}

	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tCHANNEL\tMODEL\tDIGEST\tENTRIES\tSIZE\tOUTPUT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04"),
			r.Channel,
			r.Brand+"/"+r.Model,
			shortDigest(r.Digest),
			r.Entries,
			humanBytes(r.ArchiveSize),
			r.OutputPath,
		)
	}
	_ = tw.Flush()
	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeRun(sb *strings.Builder, run *model.Run) {
	fmt.Fprintf(sb, "Channel %s: %s\n", run.Channel, title(run.Status()))
	if run.Model != "" {
		fmt.Fprintf(sb, "  Model:    %s/%s (%s)\n", run.Brand, run.Model, run.Architecture)
	}
	if run.Digest != "" {
		fmt.Fprintf(sb, "  Digest:   %s\n", run.Digest)
	}
	if run.OutputPath != "" {
		fmt.Fprintf(sb, "  Output:   %s\n", run.OutputPath)
	}
	if run.Cached {
		sb.WriteString("  Source:   cache\n")
	}
	if d := run.Duration(); d > 0 {
		fmt.Fprintf(sb, "  Elapsed:  %s\n", d.Round(time.Millisecond))
	}
	if run.RootDir != "" {
		fmt.Fprintf(sb, "  Kept:     %s\n", run.RootDir)
		fmt.Fprintf(sb, "            %s\n", run.UnpackDir)
	}

	if m := run.Manifest; m != nil {
		fmt.Fprintf(sb, "  Entries:  %d (%d files, %d placeholders, %d directories, %d symlinks)\n",
			len(m.Entries),
			m.Count(model.EntryFile),
			m.Count(model.EntryPlaceholder),
			m.Count(model.EntryDir),
			m.Count(model.EntrySymlink),
		)
		fmt.Fprintf(sb, "  Size:     %s (%s stripped)\n", humanBytes(m.ArchiveSize), humanBytes(m.StrippedBytes()))

		if w.verbose {
			for _, e := range m.Entries {
				fmt.Fprintf(sb, "    %-11s %8d  %s\n", title(string(e.Kind)), e.Size, e.Name)
			}
		}
	}

	if run.ErrorMessage != "" {
		fmt.Fprintf(sb, "  Error:    %s\n", run.ErrorMessage)
	}
}
