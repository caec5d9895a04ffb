package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/ubuntu-image/update-sample-data/internal/database"
	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// MarkdownWriter outputs reports in Markdown format, suitable for pasting
// into the pull request that updates the fixtures.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs a single run in Markdown format.
func (w *MarkdownWriter) Write(run *model.Run) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Sample Data Update")
	md.PlainText("")
	w.writeRun(md, run)
	w.writeFooter(md)
	return len(md.String()), md.Build()
}

// WriteBatch outputs every run with a summary table on top.
func (w *MarkdownWriter) WriteBatch(runs []*model.Run) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Sample Data Update")
	md.PlainText("")

	s := Summarize(runs)
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		if r == nil {
			continue
		}
		rows = append(rows, []string{
			r.Channel,
			statusText(r),
			"`" + shortDigest(r.Digest) + "`",
			r.OutputPath,
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Channel", "Status", "Digest", "Output"},
		Rows:   rows,
	})
	md.PlainText("")

	if s.Failed > 0 {
		md.Cautionf("%d of %d channel(s) failed.", s.Failed, s.Total)
		md.PlainText("")
	}

	for _, r := range runs {
		if r == nil {
			continue
		}
		w.writeRun(md, r)
	}
	w.writeFooter(md)
	return len(md.String()), md.Build()
}

// WriteHistory outputs records as a Markdown table.
func (w *MarkdownWriter) WriteHistory(records []*database.Record) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Fixture History")
	md.PlainText("")

	if len(records) == 0 {
		md.PlainText("No fixtures recorded yet.")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			r.FinishedAt.UTC().Format("2006-01-02 15:04 MST"),
			r.Channel,
			r.Brand + "/" + r.Model,
			"`" + shortDigest(r.Digest) + "`",
			strconv.Itoa(r.Entries),
			humanBytes(r.ArchiveSize),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Finished", "Channel", "Model", "Digest", "Entries", "Size"},
		Rows:   rows,
	})
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeRun(md *markdown.Markdown, run *model.Run) {
	md.H2("Channel " + run.Channel)
	md.PlainText("")

	rows := [][]string{
		{"Status", statusText(run)},
		{"Model", run.Brand + "/" + run.Model},
		{"Architecture", orDash(run.Architecture)},
		{"Digest", "`" + orDash(run.Digest) + "`"},
		{"Output", orDash(run.OutputPath)},
		{"Cached", strconv.FormatBool(run.Cached)},
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	if run.ErrorMessage != "" {
		md.Cautionf("%s", run.ErrorMessage)
		md.PlainText("")
		return
	}

	if run.Cached {
		md.Tip("Image trees were reused from the prepared-tree cache.")
		md.PlainText("")
	}

	m := run.Manifest
	if m == nil {
		return
	}

	if m.Count(model.EntryPlaceholder) > 0 {
		md.Note(fmt.Sprintf("%d payload file(s) replaced by placeholders, %s stripped.",
			m.Count(model.EntryPlaceholder), humanBytes(m.StrippedBytes())))
		md.PlainText("")
	}

	w.writeKindChart(md, m)
	w.writeEntries(md, m)
}

// writeKindChart writes a mermaid pie chart of entry kinds.
func (w *MarkdownWriter) writeKindChart(md *markdown.Markdown, m *model.Manifest) {
	if len(m.Entries) == 0 {
		return
	}
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Archive Entries"),
		piechart.WithShowData(true),
	)
	for _, kind := range []model.EntryKind{model.EntryFile, model.EntryPlaceholder, model.EntryDir, model.EntrySymlink} {
		if n := m.Count(kind); n > 0 {
			chart.LabelAndIntValue(title(string(kind)), uint64(n)) //nolint:gosec // Counts are non-negative
		}
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeEntries(md *markdown.Markdown, m *model.Manifest) {
	rows := make([][]string, len(m.Entries))
	for i, e := range m.Entries {
		rows[i] = []string{
			"`" + e.Name + "`",
			title(string(e.Kind)),
			strconv.FormatInt(e.Size, 10),
			strconv.FormatInt(e.SourceSize, 10),
		}
	}

	md.Details("Archive entries ("+strconv.Itoa(len(m.Entries))+")", entriesTable(rows))
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by update-sample-data*")
}

// entriesTable renders rows as a Markdown table string for use inside a
// details block.
func entriesTable(rows [][]string) string {
	md := markdown.NewMarkdown(io.Discard)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Name", "Kind", "Stored", "Source"},
		Rows:   rows,
	})
	return md.String()
}

func statusText(run *model.Run) string {
	switch run.Status() {
	case "complete":
		return "✅ Complete"
	case "cancelled":
		return "⚠️ Cancelled"
	default:
		return "❌ " + title(run.Status())
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
