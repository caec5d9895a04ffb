package report

import (
	"fmt"
	"io"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ubuntu-image/update-sample-data/internal/database"
	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// Writer renders runs and history records.
type Writer interface {
	// Write outputs the report of a single run.
	Write(run *model.Run) (int, error)

	// WriteBatch outputs the reports of several runs followed by a summary.
	WriteBatch(runs []*model.Run) (int, error)

	// WriteHistory outputs stored history records.
	WriteHistory(records []*database.Record) (int, error)
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

var titleCaser = cases.Title(language.English)

// title capitalizes labels such as run statuses and entry kinds.
func title(s string) string {
	return titleCaser.String(s)
}

// Summary counts the outcome of a batch.
type Summary struct {
	Total     int `json:"total"`
	Complete  int `json:"complete"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Cached    int `json:"cached"`
}

// Summarize counts the runs by status.
func Summarize(runs []*model.Run) Summary {
	var s Summary
	for _, r := range runs {
		if r == nil {
			continue
		}
		s.Total++
		switch r.Status() {
		case "complete":
			s.Complete++
		case "cancelled":
			s.Cancelled++
		default:
			s.Failed++
		}
		if r.Cached {
			s.Cached++
		}
	}
	return s
}

// humanBytes formats a byte count with a binary unit.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// shortDigest abbreviates a hex digest for display.
func shortDigest(d string) string {
	if len(d) <= 12 {
		return d
	}
	return d[:12]
}
