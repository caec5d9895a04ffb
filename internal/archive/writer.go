package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// DefaultOutputName returns the fixture file name for a model digest.
func DefaultOutputName(digest string) string {
	return digest + ".zip"
}

// Pack writes sources into a zip archive at out and returns its manifest.
//
// The archive is written to a temporary file in the destination directory
// and renamed over out only when complete; on failure nothing is left
// behind and an existing file at out is untouched.
func Pack(ctx context.Context, out string, sources []Source, opts ...Option) (*model.Manifest, error) {
	if err := validateSources(sources); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(out)+".tmp-")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()        //nolint:errcheck // Already failing
			_ = os.Remove(tmpName) //nolint:errcheck // Already failing
		}
	}()

	sum := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(tmp, sum)}
	zw := zip.NewWriter(cw)

	manifest := &model.Manifest{}
	err = walkSources(ctx, sources, o, func(it item) error {
		e, err := writeItem(zw, it, o)
		if err != nil {
			return err
		}
		manifest.Add(e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return nil, fmt.Errorf("failed to set archive permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmpName, out); err != nil {
		return nil, fmt.Errorf("failed to move archive into place: %w", err)
	}
	committed = true

	manifest.ArchiveSHA256 = hex.EncodeToString(sum.Sum(nil))
	manifest.ArchiveSize = cw.n

	o.logger.Info("archive written",
		"path", out,
		"entries", len(manifest.Entries),
		"placeholders", manifest.Count(model.EntryPlaceholder),
		"dirs", manifest.Count(model.EntryDir),
		"size", manifest.ArchiveSize,
	)
	return manifest, nil
}

func writeItem(zw *zip.Writer, it item, o *options) (model.Entry, error) {
	hdr := &zip.FileHeader{
		Name:     it.name,
		Method:   zip.Deflate,
		Modified: FixedModTime,
	}
	e := model.Entry{Name: it.name, Kind: it.kind}

	switch it.kind {
	case model.EntryDir:
		hdr.Method = zip.Store
		hdr.SetMode(fs.ModeDir | it.info.Mode().Perm())
		if _, err := zw.CreateHeader(hdr); err != nil {
			return e, fmt.Errorf("failed to add %s: %w", it.name, err)
		}
		return e, nil

	case model.EntrySymlink:
		target, err := os.Readlink(it.path)
		if err != nil {
			return e, fmt.Errorf("failed to read symlink: %w", err)
		}
		hdr.Method = zip.Store
		hdr.SetMode(fs.ModeSymlink | 0o777)
		return writeContent(zw, hdr, e, int64(len(target)), func(w io.Writer) error {
			_, err := io.WriteString(w, target)
			return err
		})

	case model.EntryPlaceholder:
		hdr.Method = zip.Store
		hdr.SetMode(it.info.Mode().Perm())
		return writeContent(zw, hdr, e, it.info.Size(), func(w io.Writer) error {
			_, err := w.Write(Placeholder)
			return err
		})

	default:
		hdr.SetMode(it.info.Mode().Perm())
		return writeContent(zw, hdr, e, it.info.Size(), func(w io.Writer) error {
			f, err := os.Open(it.path)
			if err != nil {
				return err
			}
			defer f.Close() //nolint:errcheck // Read-only file
			_, err = io.Copy(w, f)
			return err
		})
	}
}

// writeContent creates an entry and fills it through fill, recording the
// stored size and digest in e.
func writeContent(zw *zip.Writer, hdr *zip.FileHeader, e model.Entry, sourceSize int64, fill func(io.Writer) error) (model.Entry, error) {
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return e, fmt.Errorf("failed to add %s: %w", hdr.Name, err)
	}
	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(w, h)}
	if err := fill(cw); err != nil {
		return e, fmt.Errorf("failed to write %s: %w", hdr.Name, err)
	}
	e.Size = cw.n
	e.SourceSize = sourceSize
	e.SHA256 = hexSum(h)
	return e, nil
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
