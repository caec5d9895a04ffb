package prepare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ubuntu-image/update-sample-data/internal/assertion"
)

// completeMarker is written into a cache entry once both trees are in place.
// Entries without it are leftovers of an interrupted run and are rebuilt.
const completeMarker = ".complete"

// defaultCacheChannel keys requests that carry no channel.
const defaultCacheChannel = "default"

// CachingRunner reuses trees prepared for the same model and channel.
//
// The cache key is the hex SHA-256 of the model assertion bytes followed by
// the channel name ("default" when the channel is empty). The first request
// for a key runs the wrapped Runner into <dir>/<key>/root and
// <dir>/<key>/unpack; every request then receives a fresh copy of those
// trees.
type CachingRunner struct {
	inner  Runner
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// CacheOption configures a CachingRunner.
type CacheOption func(*CachingRunner)

// WithCacheLogger sets the logger for cache hits and misses.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CachingRunner) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCachingRunner wraps inner with a cache stored under dir.
func NewCachingRunner(inner Runner, dir string, opts ...CacheOption) *CachingRunner {
	c := &CachingRunner{
		inner:  inner,
		dir:    dir,
		logger: slog.Default(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key for req. A request without a channel is keyed
// as "default".
func (c *CachingRunner) Key(req Request) (string, error) {
	data, err := os.ReadFile(req.ModelPath)
	if err != nil {
		return "", fmt.Errorf("failed to read model assertion: %w", err)
	}
	channel := req.Channel
	if channel == "" {
		channel = defaultCacheChannel
	}
	return assertion.Digest(data, channel), nil
}

// EntryDir returns the cache directory for key.
func (c *CachingRunner) EntryDir(key string) string {
	return filepath.Join(c.dir, key)
}

// Prepare fills the request directories from the cache, populating the
// cache first when needed.
func (c *CachingRunner) Prepare(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	start := time.Now()

	key, err := c.Key(req)
	if err != nil {
		return Result{}, err
	}

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	entry := c.EntryDir(key)
	cached := isComplete(entry)
	if cached {
		c.logger.Info("using cached prepared trees", "channel", req.Channel, "cache", entry)
	} else {
		c.logger.Info("populating prepared-tree cache", "channel", req.Channel, "cache", entry)
		if err := c.populate(ctx, req, entry); err != nil {
			return Result{Elapsed: time.Since(start)}, err
		}
	}

	if err := replaceTree(ctx, filepath.Join(entry, "root"), req.RootDir); err != nil {
		return Result{Elapsed: time.Since(start)}, err
	}
	if err := replaceTree(ctx, filepath.Join(entry, "unpack"), req.UnpackDir); err != nil {
		return Result{Elapsed: time.Since(start)}, err
	}
	return Result{Cached: cached, Elapsed: time.Since(start)}, nil
}

// Purge removes every cache entry.
func (c *CachingRunner) Purge() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	return nil
}

func (c *CachingRunner) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// populate runs the inner runner into a staging directory and renames it
// into place once it succeeded.
func (c *CachingRunner) populate(ctx context.Context, req Request, entry string) error {
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.RemoveAll(entry); err != nil {
		return fmt.Errorf("failed to remove stale cache entry: %w", err)
	}

	staging, err := os.MkdirTemp(c.dir, filepath.Base(entry)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create cache staging directory: %w", err)
	}
	defer os.RemoveAll(staging) //nolint:errcheck // Best-effort cleanup; absent after rename

	inner := req
	inner.RootDir = filepath.Join(staging, "root")
	inner.UnpackDir = filepath.Join(staging, "unpack")
	for _, d := range []string{inner.RootDir, inner.UnpackDir} {
		if err := os.Mkdir(d, 0o750); err != nil {
			return fmt.Errorf("failed to create cache staging directory: %w", err)
		}
	}

	if _, err := c.inner.Prepare(ctx, inner); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(staging, completeMarker), nil, 0o600); err != nil {
		return fmt.Errorf("failed to mark cache entry complete: %w", err)
	}
	if err := os.Rename(staging, entry); err != nil {
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}

func isComplete(entry string) bool {
	_, err := os.Stat(filepath.Join(entry, completeMarker))
	return err == nil
}

// replaceTree removes dst and recreates it as a copy of src.
func replaceTree(ctx context.Context, src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dst, err)
	}
	return CopyTree(ctx, src, dst)
}

// CopyTree copies the directory src to dst, which must not exist.
// Regular files, directories and symlinks are copied with their permission
// bits; other file types are skipped.
func CopyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			if err := os.Mkdir(target, info.Mode().Perm()|0o700); err != nil && !(rel == "." && errors.Is(err, fs.ErrExist)) {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read symlink: %w", err)
			}
			if err := os.Symlink(link, target); err != nil {
				return fmt.Errorf("failed to create symlink: %w", err)
			}
		case info.Mode().IsRegular():
			if err := copyFile(path, target, info.Mode().Perm()); err != nil {
				return err
			}
		}
		return nil
	})
}

func copyFile(src, dst string, perm fs.FileMode) (err error) {
	in, err := os.Open(src) //nolint:gosec // Paths come from a directory walk
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close() //nolint:errcheck // Read-only file

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm) //nolint:gosec // Destination is inside the workspace
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", dst, cerr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}
