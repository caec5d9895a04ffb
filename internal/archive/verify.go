package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// Mismatch is a difference between an archive and its source trees.
type Mismatch struct {
	// Name is the archive member name.
	Name string

	// Reason describes the difference.
	Reason string
}

func (m Mismatch) String() string {
	return m.Name + ": " + m.Reason
}

// Verify compares the archive at archivePath with sources and returns every
// difference found. A nil slice means the archive is exactly what Pack would
// produce from the sources, timestamps aside.
func Verify(ctx context.Context, archivePath string, sources []Source, opts ...Option) ([]Mismatch, error) {
	if err := validateSources(sources); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close() //nolint:errcheck // Read-only archive

	members := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		members[f.Name] = f
	}

	var mismatches []Mismatch
	expected := make(map[string]bool)
	err = walkSources(ctx, sources, o, func(it item) error {
		expected[it.name] = true
		f, ok := members[it.name]
		if !ok {
			mismatches = append(mismatches, Mismatch{Name: it.name, Reason: "missing from archive"})
			return nil
		}
		reason, err := compare(f, it)
		if err != nil {
			return err
		}
		if reason != "" {
			mismatches = append(mismatches, Mismatch{Name: it.name, Reason: reason})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, f := range zr.File {
		if !expected[f.Name] {
			mismatches = append(mismatches, Mismatch{Name: f.Name, Reason: "not present in source"})
		}
	}

	o.logger.Debug("archive verified",
		"archive", archivePath,
		"mismatches", len(mismatches),
	)
	return mismatches, nil
}

// compare returns a non-empty reason when f does not match it.
func compare(f *zip.File, it item) (string, error) {
	mode := f.Mode()
	switch it.kind {
	case model.EntryDir:
		if !mode.IsDir() {
			return "expected a directory entry", nil
		}
		return "", nil

	case model.EntrySymlink:
		if mode&fs.ModeSymlink == 0 {
			return "expected a symlink entry", nil
		}
		want, err := os.Readlink(it.path)
		if err != nil {
			return "", fmt.Errorf("failed to read symlink: %w", err)
		}
		got, err := readEntry(f, maxSymlinkTarget)
		if err != nil {
			return "", err
		}
		if string(got) != want {
			return fmt.Sprintf("symlink target %q, want %q", got, want), nil
		}
		return "", nil

	case model.EntryPlaceholder:
		if f.UncompressedSize64 != uint64(len(Placeholder)) {
			return fmt.Sprintf("placeholder has %d bytes, want %d", f.UncompressedSize64, len(Placeholder)), nil
		}
		return "", nil

	default:
		if mode.IsDir() || mode&fs.ModeSymlink != 0 {
			return "expected a regular file entry", nil
		}
		if f.UncompressedSize64 != uint64(it.info.Size()) { //nolint:gosec // Sizes are non-negative
			return fmt.Sprintf("size %d, want %d", f.UncompressedSize64, it.info.Size()), nil
		}
		got, err := entryDigest(f)
		if err != nil {
			return "", err
		}
		want, err := fileDigest(it.path)
		if err != nil {
			return "", err
		}
		if got != want {
			return "content differs from source", nil
		}
		return "", nil
	}
}

func entryDigest(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	defer rc.Close() //nolint:errcheck // Read-only entry
	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil { //nolint:gosec // Size checked against the source first
		return "", fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return hexSum(h), nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // Paths come from a directory walk
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // Read-only file
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return hexSum(h), nil
}

func sha256Of(data []byte) hash.Hash {
	h := sha256.New()
	h.Write(data)
	return h
}

// FormatMismatches renders mismatches one per line.
func FormatMismatches(ms []Mismatch) string {
	lines := make([]string, len(ms))
	for i, m := range ms {
		lines[i] = m.String()
	}
	return strings.Join(lines, "\n")
}
