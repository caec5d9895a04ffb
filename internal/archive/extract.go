package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// maxSymlinkTarget bounds the size of a symlink entry.
const maxSymlinkTarget = 4096

// Extract restores the archive at archivePath into destDir and returns the
// manifest of what was written. Every file operation goes through an
// os.Root opened on destDir. Entries whose name leaves destDir, that repeat
// an earlier member or whose path crosses a symlink are rejected with
// ErrUnsafePath before anything is created for them.
func Extract(ctx context.Context, archivePath, destDir string, opts ...Option) (*model.Manifest, error) {
	o := newOptions(opts)

	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = zr.Close() //nolint:errcheck // Rejected archive
		return nil, fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close() //nolint:errcheck // Read-only archive

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open destination: %w", err)
	}
	defer root.Close() //nolint:errcheck // Directory handle

	manifest := &model.Manifest{}
	seen := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := extractFile(f, root, seen, o)
		if err != nil {
			return nil, err
		}
		manifest.Add(e)
	}

	o.logger.Info("archive extracted",
		"archive", archivePath,
		"destination", destDir,
		"entries", len(manifest.Entries),
	)
	return manifest, nil
}

func extractFile(f *zip.File, root *os.Root, seen map[string]bool, o *options) (model.Entry, error) {
	rel := filepath.FromSlash(strings.TrimSuffix(f.Name, "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return model.Entry{}, fmt.Errorf("%w: %q", ErrUnsafePath, f.Name)
	}
	rel = filepath.Clean(rel)
	if seen[rel] {
		return model.Entry{}, fmt.Errorf("%w: duplicate member %q", ErrUnsafePath, f.Name)
	}
	seen[rel] = true

	if err := checkNoSymlink(root, rel); err != nil {
		return model.Entry{}, fmt.Errorf("%w: %q", err, f.Name)
	}
	if dir := filepath.Dir(rel); dir != "." {
		if err := root.MkdirAll(dir, 0o750); err != nil {
			return model.Entry{}, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	mode := f.Mode()
	e := model.Entry{Name: f.Name}

	switch {
	case mode.IsDir() || strings.HasSuffix(f.Name, "/"):
		e.Kind = model.EntryDir
		if err := root.MkdirAll(rel, mode.Perm()|0o700); err != nil {
			return e, fmt.Errorf("failed to create directory: %w", err)
		}
		return e, nil

	case mode&fs.ModeSymlink != 0:
		e.Kind = model.EntrySymlink
		link, err := readEntry(f, maxSymlinkTarget)
		if err != nil {
			return e, err
		}
		if err := root.Symlink(string(link), rel); err != nil {
			return e, fmt.Errorf("failed to create symlink: %w", err)
		}
		e.Size = int64(len(link))
		e.SourceSize = e.Size
		e.SHA256 = hexSum(sha256Of(link))
		return e, nil

	default:
		e.Kind = model.EntryFile
		if o.isPlaceholder(f.Name) {
			e.Kind = model.EntryPlaceholder
		}
		rc, err := f.Open()
		if err != nil {
			return e, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		defer rc.Close() //nolint:errcheck // Read-only entry

		perm := mode.Perm()
		if perm == 0 {
			perm = 0o644
		}
		out, err := root.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
		if err != nil {
			return e, fmt.Errorf("failed to create %s: %w", rel, err)
		}
		h := sha256.New()
		n, err := io.Copy(io.MultiWriter(out, h), rc) //nolint:gosec // Fixture archives are produced by this tool
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return e, fmt.Errorf("failed to write %s: %w", rel, err)
		}
		e.Size = n
		e.SourceSize = n
		e.SHA256 = hexSum(h)
		return e, nil
	}
}

// checkNoSymlink returns ErrUnsafePath when rel or one of its parents
// already exists under root as a symlink. Fixture members never live below
// a symlink, so such a path can only come from a planted link.
func checkNoSymlink(root *os.Root, rel string) error {
	cur := ""
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := root.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", cur, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return ErrUnsafePath
		}
	}
	return nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	defer rc.Close() //nolint:errcheck // Read-only entry
	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return data, nil
}
