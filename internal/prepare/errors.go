package prepare

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCommandFailed is returned when the preparation command exits
	// with a non-zero status.
	ErrCommandFailed = errors.New("image preparation command failed")

	// ErrCommandNotFound is returned when the preparation command binary
	// cannot be located in PATH.
	ErrCommandNotFound = errors.New("image preparation command not found")

	// ErrEmptyRequest is returned when a request lacks the model path or
	// one of the target directories.
	ErrEmptyRequest = errors.New("incomplete prepare request")
)

// CommandError describes a failed invocation of the preparation command.
type CommandError struct {
	// Args is the full command line, binary first.
	Args []string

	// ExitCode is the process exit status. It is -1 when the process was
	// killed by a signal.
	ExitCode int

	// Output holds the tail of the combined stdout and stderr.
	Output string

	// Err is the underlying error reported by os/exec.
	Err error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s (exit status %d): %s", ErrCommandFailed, e.ExitCode, strings.Join(e.Args, " "))
	if last := lastLine(e.Output); last != "" {
		msg += ": " + last
	}
	return msg
}

// Unwrap lets errors.Is match both ErrCommandFailed and the exec error.
func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCommandFailed}
	}
	return []error{ErrCommandFailed, e.Err}
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
