package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// Source is one tree stored in an archive.
type Source struct {
	// Prefix is the top-level directory name inside the archive.
	// Empty stores the tree at the archive root.
	Prefix string

	// Dir is the directory on disk.
	Dir string
}

// item is one archive member discovered while walking a source.
type item struct {
	name string
	path string
	kind model.EntryKind
	info fs.FileInfo
}

func validateSources(sources []Source) error {
	if len(sources) == 0 {
		return ErrNoSources
	}
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		if s.Prefix != "" && (strings.ContainsAny(s.Prefix, `/\`) || s.Prefix == "." || s.Prefix == "..") {
			return fmt.Errorf("%w: %q", ErrInvalidPrefix, s.Prefix)
		}
		if seen[s.Prefix] {
			return fmt.Errorf("%w: %q", ErrDuplicatePrefix, s.Prefix)
		}
		seen[s.Prefix] = true
	}
	return nil
}

// walkSources visits every member of all sources in archive order.
func walkSources(ctx context.Context, sources []Source, o *options, fn func(item) error) error {
	for _, s := range sources {
		fi, err := os.Stat(s.Dir)
		if err != nil {
			return fmt.Errorf("failed to read source: %w", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotDirectory, s.Dir)
		}
		if err := walkDir(ctx, s.Dir, s.Prefix, fi, o, fn); err != nil {
			return err
		}
	}
	return nil
}

// walkDir emits dir itself when it has no direct files, then its children
// in lexical order. The unnamed top level of a prefix-less source is never
// emitted.
func walkDir(ctx context.Context, dir, name string, dirInfo fs.FileInfo, o *options, fn func(item) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	hasFiles := false
	for _, e := range entries {
		if storable(e.Type()) && !e.IsDir() {
			hasFiles = true
			break
		}
	}
	if !hasFiles && name != "" {
		if err := fn(item{name: name + "/", path: dir, kind: model.EntryDir, info: dirInfo}); err != nil {
			return err
		}
	}

	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		n := path.Join(name, e.Name())

		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}

		switch {
		case e.IsDir():
			if err := walkDir(ctx, p, n, info, o, fn); err != nil {
				return err
			}
		case info.Mode()&fs.ModeSymlink != 0:
			if err := fn(item{name: n, path: p, kind: model.EntrySymlink, info: info}); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			kind := model.EntryFile
			if o.isPlaceholder(e.Name()) {
				kind = model.EntryPlaceholder
			}
			if err := fn(item{name: n, path: p, kind: kind, info: info}); err != nil {
				return err
			}
		default:
			o.logger.Debug("skipping special file", "path", p, "mode", info.Mode().String())
		}
	}
	return nil
}

// storable reports whether a directory entry type produces an archive member.
func storable(t fs.FileMode) bool {
	return t.IsRegular() || t&fs.ModeSymlink != 0 || t.IsDir()
}
