package report

import (
	"encoding/json"
	"io"

	"github.com/ubuntu-image/update-sample-data/internal/database"
	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// JSONWriter outputs reports in JSON format.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string.
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs a single run as a JSON object.
func (w *JSONWriter) Write(run *model.Run) (int, error) {
	return w.encode(jsonRun(run))
}

// batchOutput is the JSON document written by WriteBatch.
type batchOutput struct {
	Runs    []*runOutput `json:"runs"`
	Summary Summary      `json:"summary"`
}

// runOutput adds derived fields to model.Run.
type runOutput struct {
	*model.Run

	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

func jsonRun(run *model.Run) *runOutput {
	return &runOutput{
		Run:        run,
		Status:     run.Status(),
		DurationMS: run.Duration().Milliseconds(),
	}
}

// WriteBatch outputs all runs and their summary as one JSON document.
func (w *JSONWriter) WriteBatch(runs []*model.Run) (int, error) {
	out := batchOutput{
		Runs:    make([]*runOutput, 0, len(runs)),
		Summary: Summarize(runs),
	}
	for _, r := range runs {
		if r != nil {
			out.Runs = append(out.Runs, jsonRun(r))
		}
	}
	return w.encode(out)
}

// historyOutput is one record in WriteHistory output.
type historyOutput struct {
	ID            int64  `json:"id"`
	Channel       string `json:"channel"`
	Digest        string `json:"digest"`
	ModelPath     string `json:"model_path,omitempty"`
	Brand         string `json:"brand,omitempty"`
	Model         string `json:"model,omitempty"`
	Architecture  string `json:"architecture,omitempty"`
	OutputPath    string `json:"output_path"`
	ArchiveSHA256 string `json:"archive_sha256,omitempty"`
	ArchiveSize   int64  `json:"archive_size"`
	Entries       int    `json:"entries"`
	Placeholders  int    `json:"placeholders"`
	Dirs          int    `json:"dirs"`
	Cached        bool   `json:"cached"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at"`
}

// WriteHistory outputs records as a JSON array.
func (w *JSONWriter) WriteHistory(records []*database.Record) (int, error) {
	out := make([]historyOutput, 0, len(records))
	for _, r := range records {
		out = append(out, historyOutput{
			ID:            r.ID,
			Channel:       r.Channel,
			Digest:        r.Digest,
			ModelPath:     r.ModelPath,
			Brand:         r.Brand,
			Model:         r.Model,
			Architecture:  r.Architecture,
			OutputPath:    r.OutputPath,
			ArchiveSHA256: r.ArchiveSHA256,
			ArchiveSize:   r.ArchiveSize,
			Entries:       r.Entries,
			Placeholders:  r.Placeholders,
			Dirs:          r.Dirs,
			Cached:        r.Cached,
			StartedAt:     r.StartedAt.UTC().Format(timeLayout),
			FinishedAt:    r.FinishedAt.UTC().Format(timeLayout),
		})
	}
	return w.encode(out)
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func (w *JSONWriter) encode(v any) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.output.Write(data)
}
