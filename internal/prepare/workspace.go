package prepare

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Workspace owns the temporary root and unpack directories of one run.
// Close removes them unless the workspace was created with Keep.
type Workspace struct {
	// Base is the parent temporary directory.
	Base string

	// RootDir and UnpackDir are the two directories handed to the runner.
	RootDir   string
	UnpackDir string

	keep   bool
	logger *slog.Logger

	once   sync.Once
	closed bool
}

// WorkspaceOption configures a Workspace.
type WorkspaceOption func(*Workspace)

// WithKeep leaves the directories in place on Close.
func WithKeep(keep bool) WorkspaceOption {
	return func(w *Workspace) {
		w.keep = keep
	}
}

// WithWorkspaceLogger sets the logger used on Close.
func WithWorkspaceLogger(logger *slog.Logger) WorkspaceOption {
	return func(w *Workspace) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWorkspace creates the temporary directories under parent.
// An empty parent means os.TempDir().
func NewWorkspace(parent, label string, opts ...WorkspaceOption) (*Workspace, error) {
	w := &Workspace{logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}

	base, err := os.MkdirTemp(parent, "update-sample-data-"+sanitizeLabel(label)+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	w.Base = base
	w.RootDir = filepath.Join(base, "root")
	w.UnpackDir = filepath.Join(base, "unpack")

	for _, d := range []string{w.RootDir, w.UnpackDir} {
		if err := os.Mkdir(d, 0o750); err != nil {
			_ = os.RemoveAll(base) //nolint:errcheck // Already failing
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	}
	return w, nil
}

// Request returns a prepare request targeting this workspace.
func (w *Workspace) Request(modelPath, channel string, extraSnaps []string) Request {
	return Request{
		ModelPath:  modelPath,
		Channel:    channel,
		RootDir:    w.RootDir,
		UnpackDir:  w.UnpackDir,
		ExtraSnaps: extraSnaps,
	}
}

// Close removes the workspace. It is safe to call more than once.
func (w *Workspace) Close() error {
	var err error
	w.once.Do(func() {
		w.closed = true
		if w.keep {
			w.logger.Warn("keeping temporary directories",
				"root", w.RootDir,
				"unpack", w.UnpackDir,
			)
			return
		}
		if rerr := os.RemoveAll(w.Base); rerr != nil {
			err = fmt.Errorf("failed to remove workspace: %w", rerr)
		}
	})
	return err
}

// Closed reports whether Close has been called.
func (w *Workspace) Closed() bool {
	return w.closed
}

func sanitizeLabel(label string) string {
	out := make([]rune, 0, len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "run"
	}
	return string(out)
}
