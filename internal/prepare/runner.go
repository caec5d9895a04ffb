package prepare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Request describes one invocation of the preparation command.
type Request struct {
	// ModelPath is the model assertion file.
	ModelPath string

	// Channel is the release track. Empty leaves the choice to the command.
	Channel string

	// RootDir receives the prepared image root.
	RootDir string

	// UnpackDir receives the unpacked gadget and kernel content.
	UnpackDir string

	// ExtraSnaps are passed to the command with one --extra-snaps flag each.
	ExtraSnaps []string
}

// Validate checks that the request names a model and both directories.
func (r Request) Validate() error {
	switch {
	case r.ModelPath == "":
		return fmt.Errorf("%w: model path is empty", ErrEmptyRequest)
	case r.RootDir == "":
		return fmt.Errorf("%w: root directory is empty", ErrEmptyRequest)
	case r.UnpackDir == "":
		return fmt.Errorf("%w: unpack directory is empty", ErrEmptyRequest)
	}
	return nil
}

// Result reports how a request was satisfied.
type Result struct {
	// Cached is true when the trees were copied from the cache.
	Cached bool

	// Elapsed is the wall time spent satisfying the request.
	Elapsed time.Duration
}

// Runner populates the directories named in a Request.
type Runner interface {
	Prepare(ctx context.Context, req Request) (Result, error)
}

// PassthroughEnv lists the variables copied from the caller's environment
// into the command environment. Everything else is dropped so the command
// behaves the same on developer machines and in CI.
var PassthroughEnv = []string{
	"PATH",
	"UBUNTU_STORE_AUTH",
	"SNAPCRAFT_STORE_CREDENTIALS",
	"SNAPCRAFT_STORE_AUTH",
}

// maxOutputTail bounds the command output kept for error messages.
const maxOutputTail = 16 * 1024

// maxOutputLine bounds a single logged line. Longer runs without a line
// break, such as progress bars, are logged in pieces.
const maxOutputLine = 4096

// CommandRunner runs the preparation command as a child process.
type CommandRunner struct {
	command string
	verb    string
	timeout time.Duration
	logger  *slog.Logger
	lookup  func(string) (string, bool)
}

// CommandOption configures a CommandRunner.
type CommandOption func(*CommandRunner)

// WithCommand sets the command binary.
func WithCommand(command string) CommandOption {
	return func(r *CommandRunner) {
		if command != "" {
			r.command = command
		}
	}
}

// WithVerb sets the subcommand placed before the flags.
// An empty verb is allowed for wrappers that take no subcommand.
func WithVerb(verb string) CommandOption {
	return func(r *CommandRunner) {
		r.verb = verb
	}
}

// WithTimeout bounds each invocation. Zero disables the timeout.
func WithTimeout(d time.Duration) CommandOption {
	return func(r *CommandRunner) {
		r.timeout = d
	}
}

// WithLogger sets the logger that receives the command output.
func WithLogger(logger *slog.Logger) CommandOption {
	return func(r *CommandRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEnvLookup replaces os.LookupEnv when building the command environment.
func WithEnvLookup(lookup func(string) (string, bool)) CommandOption {
	return func(r *CommandRunner) {
		if lookup != nil {
			r.lookup = lookup
		}
	}
}

// NewCommandRunner creates a CommandRunner running "snap weld" by default.
func NewCommandRunner(opts ...CommandOption) *CommandRunner {
	r := &CommandRunner{
		command: "snap",
		verb:    "weld",
		logger:  slog.Default(),
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Args returns the command line for req, binary first.
func (r *CommandRunner) Args(req Request) []string {
	args := []string{r.command}
	if r.verb != "" {
		args = append(args, r.verb)
	}
	if req.Channel != "" {
		args = append(args, "--channel="+req.Channel)
	}
	for _, s := range req.ExtraSnaps {
		args = append(args, "--extra-snaps="+s)
	}
	return append(args, req.ModelPath, req.RootDir, req.UnpackDir)
}

// Env returns the environment handed to the command.
func (r *CommandRunner) Env() []string {
	env := make([]string, 0, len(PassthroughEnv))
	for _, name := range PassthroughEnv {
		if v, ok := r.lookup(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// Prepare runs the command and waits for it to finish.
// Output is logged line by line at debug level.
func (r *CommandRunner) Prepare(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := r.Args(req)
	path, err := exec.LookPath(args[0])
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrCommandNotFound, args[0], err)
	}

	cmd := exec.CommandContext(ctx, path, args[1:]...) //nolint:gosec // Command is configured by the user
	cmd.Env = r.Env()
	cmd.WaitDelay = 5 * time.Second

	out := newLineLogger(r.logger, args[0])
	cmd.Stdout = out
	cmd.Stderr = out

	r.logger.Info("running image preparation command",
		"args", args,
		"env", cmd.Env,
	)

	start := time.Now()
	err = cmd.Run()
	out.Flush()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Elapsed: elapsed}, fmt.Errorf("image preparation interrupted: %w", ctxErr)
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return Result{Elapsed: elapsed}, &CommandError{
			Args:     args,
			ExitCode: code,
			Output:   out.Tail(),
			Err:      err,
		}
	}

	r.logger.Debug("image preparation command finished",
		"command", args[0],
		"elapsed", elapsed,
	)
	return Result{Elapsed: elapsed}, nil
}

// lineLogger is an io.Writer that logs complete lines and keeps a bounded
// tail of everything written.
type lineLogger struct {
	logger  *slog.Logger
	command string

	mu      sync.Mutex
	partial []byte
	tail    []byte
}

func newLineLogger(logger *slog.Logger, command string) *lineLogger {
	return &lineLogger{logger: logger, command: command}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tail = append(l.tail, p...)
	if over := len(l.tail) - maxOutputTail; over > 0 {
		l.tail = l.tail[over:]
	}

	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexAny(l.partial, "\r\n")
		if i < 0 {
			break
		}
		l.emit(l.partial[:i])
		l.partial = l.partial[i+1:]
	}
	for len(l.partial) >= maxOutputLine {
		l.emit(l.partial[:maxOutputLine])
		l.partial = l.partial[maxOutputLine:]
	}
	return len(p), nil
}

// Flush logs any trailing output not terminated by a newline.
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.partial) > 0 {
		l.emit(l.partial)
		l.partial = nil
	}
}

// Tail returns the last bytes written.
func (l *lineLogger) Tail() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.tail)
}

// emit logs line as an attribute so the secure handler can mask it.
func (l *lineLogger) emit(line []byte) {
	if len(line) == 0 {
		return
	}
	l.logger.Debug("command output", "command", l.command, "line", string(line))
}
