package prepare

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	seclog "github.com/ubuntu-image/update-sample-data/internal/log"
)

// logLines decodes the JSON records written by a lineLogger.
func logLines(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()

	var lines []string
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var rec struct {
			Msg  string `json:"msg"`
			Line string `json:"line"`
		}
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			t.Fatalf("invalid log record %q: %v", raw, err)
		}
		if rec.Msg != "command output" {
			t.Errorf("message = %q, want %q", rec.Msg, "command output")
		}
		lines = append(lines, rec.Line)
	}
	return lines
}

func TestLineLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		writes []string
		want   []string
	}{
		{
			name:   "newline separated",
			writes: []string{"one\ntw", "o\nthree"},
			want:   []string{"one", "two", "three"},
		},
		{
			name:   "carriage returns",
			writes: []string{"10%\r50%\r100%\r\ndone\n"},
			want:   []string{"10%", "50%", "100%", "done"},
		},
		{
			name:   "sensitive line is masked",
			writes: []string{"UBUNTU_STORE_AUTH=s3cr3t\n"},
			want:   []string{"UBUNTU_STORE_AUTH=" + seclog.MaskValue},
		},
		{
			name:   "long line is split",
			writes: []string{strings.Repeat("a", maxOutputLine+10)},
			want:   []string{strings.Repeat("a", maxOutputLine), strings.Repeat("a", 10)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			l := newLineLogger(seclog.NewSecureJSONLogger(&buf, true), "snap")
			for _, w := range tt.writes {
				if _, err := l.Write([]byte(w)); err != nil {
					t.Fatal(err)
				}
			}
			l.Flush()

			got := logLines(t, &buf)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d lines %q, want %q", len(got), got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
			if strings.Contains(buf.String(), "s3cr3t") {
				t.Error("secret leaked into the log")
			}
			if l.Tail() != strings.Join(tt.writes, "") {
				t.Errorf("Tail() = %q", l.Tail())
			}
		})
	}
}
