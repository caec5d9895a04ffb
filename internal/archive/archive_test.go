package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ubuntu-image/update-sample-data/internal/model"
)

var snapPayload = bytes.Repeat([]byte("squashfs"), 512)

// buildTrees creates a prepared root and unpack tree resembling the output
// of the image preparation command.
func buildTrees(t *testing.T) []Source {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	base := t.TempDir()
	root := filepath.Join(base, "root")
	unpack := filepath.Join(base, "unpack")

	dirs := []string{
		filepath.Join(root, "empty"),
		filepath.Join(root, "etc"),
		filepath.Join(root, "only-dirs", "sub"),
		filepath.Join(root, "var", "lib", "snapd", "seed"),
		filepath.Join(root, "var", "lib", "snapd", "snaps"),
		filepath.Join(unpack, "gadget", "meta"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o750); err != nil {
			t.Fatal(err)
		}
	}

	files := []struct {
		path string
		data []byte
	}{
		{filepath.Join(root, "etc", "hostname"), []byte("ubuntu\n")},
		{filepath.Join(root, "var", "lib", "snapd", "snaps", "core_1.snap"), snapPayload},
		{filepath.Join(unpack, "gadget", "meta", "gadget.yaml"), []byte("volumes:\n  pc:\n    bootloader: grub\n")},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, f.data, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink("../snaps/core_1.snap", filepath.Join(root, "var", "lib", "snapd", "seed", "core.snap")); err != nil {
		t.Fatal(err)
	}

	return []Source{{Prefix: "root", Dir: root}, {Prefix: "unpack", Dir: unpack}}
}

func readArchive(t *testing.T, path string) map[string]*zip.File {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = zr.Close() })

	out := make(map[string]*zip.File)
	for _, f := range zr.File {
		out[f.Name] = f
	}
	return out
}

func readMember(t *testing.T, f *zip.File) []byte {
	t.Helper()
	rc, err := f.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close() //nolint:errcheck // Test cleanup
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// TestPack_EntryOrder tests the exact member list produced for a tree.
func TestPack_EntryOrder(t *testing.T) {
	t.Parallel()

	sources := buildTrees(t)
	out := filepath.Join(t.TempDir(), "fixture.zip")

	manifest, err := Pack(context.Background(), out, sources)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	want := []string{
		"root/",
		"root/empty/",
		"root/etc/hostname",
		"root/only-dirs/",
		"root/only-dirs/sub/",
		"root/var/",
		"root/var/lib/",
		"root/var/lib/snapd/",
		"root/var/lib/snapd/seed/core.snap",
		"root/var/lib/snapd/snaps/core_1.snap",
		"unpack/",
		"unpack/gadget/",
		"unpack/gadget/meta/gadget.yaml",
	}
	got := make([]string, len(manifest.Entries))
	for i, e := range manifest.Entries {
		got[i] = e.Name
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("entries =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}

	zr, err := zip.OpenReader(out)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close() //nolint:errcheck // Test cleanup
	if len(zr.File) != len(want) {
		t.Fatalf("archive has %d members, want %d", len(zr.File), len(want))
	}
	for i, f := range zr.File {
		if f.Name != want[i] {
			t.Errorf("member %d = %q, want %q", i, f.Name, want[i])
		}
	}
}

// TestPack_Properties tests placeholder, content and directory rules.
func TestPack_Properties(t *testing.T) {
	t.Parallel()

	sources := buildTrees(t)
	out := filepath.Join(t.TempDir(), "fixture.zip")

	manifest, err := Pack(context.Background(), out, sources)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	members := readArchive(t, out)

	t.Run("snap files hold one placeholder byte", func(t *testing.T) {
		f := members["root/var/lib/snapd/snaps/core_1.snap"]
		if f == nil {
			t.Fatal("snap missing from archive")
		}
		if data := readMember(t, f); !bytes.Equal(data, Placeholder) {
			t.Errorf("snap content = %v, want %v", data, Placeholder)
		}
		e, _ := manifest.Lookup(f.Name)
		if e.Kind != model.EntryPlaceholder || e.Size != 1 || e.SourceSize != int64(len(snapPayload)) {
			t.Errorf("unexpected manifest entry %+v", e)
		}
	})

	t.Run("other files are byte identical", func(t *testing.T) {
		data := readMember(t, members["unpack/gadget/meta/gadget.yaml"])
		if string(data) != "volumes:\n  pc:\n    bootloader: grub\n" {
			t.Errorf("gadget.yaml = %q", data)
		}
		data = readMember(t, members["root/etc/hostname"])
		if string(data) != "ubuntu\n" {
			t.Errorf("hostname = %q", data)
		}
	})

	t.Run("directories without files are explicit", func(t *testing.T) {
		for _, name := range []string{"root/empty/", "root/only-dirs/sub/", "unpack/gadget/"} {
			f := members[name]
			if f == nil {
				t.Errorf("missing directory entry %s", name)
				continue
			}
			if !f.Mode().IsDir() {
				t.Errorf("%s is not a directory entry", name)
			}
		}
		for _, name := range []string{"root/etc/", "root/var/lib/snapd/snaps/", "root/var/lib/snapd/seed/"} {
			if members[name] != nil {
				t.Errorf("unexpected directory entry %s", name)
			}
		}
	})

	t.Run("symlinks keep their target", func(t *testing.T) {
		f := members["root/var/lib/snapd/seed/core.snap"]
		if f == nil {
			t.Fatal("symlink missing")
		}
		if f.Mode()&os.ModeSymlink == 0 {
			t.Error("expected symlink mode")
		}
		if data := readMember(t, f); string(data) != "../snaps/core_1.snap" {
			t.Errorf("symlink target = %q", data)
		}
	})

	t.Run("timestamps are fixed", func(t *testing.T) {
		for name, f := range members {
			if !f.Modified.Equal(FixedModTime) {
				t.Errorf("%s modified = %v", name, f.Modified)
			}
		}
	})

	t.Run("manifest counters", func(t *testing.T) {
		if n := manifest.Count(model.EntryDir); n != 9 {
			t.Errorf("dirs = %d, want 9", n)
		}
		if manifest.StrippedBytes() != int64(len(snapPayload)-1) {
			t.Errorf("StrippedBytes() = %d", manifest.StrippedBytes())
		}
		fi, err := os.Stat(out)
		if err != nil {
			t.Fatal(err)
		}
		if manifest.ArchiveSize != fi.Size() || len(manifest.ArchiveSHA256) != 64 {
			t.Errorf("archive size %d sha %q, file size %d", manifest.ArchiveSize, manifest.ArchiveSHA256, fi.Size())
		}
	})
}

// TestPack_Deterministic tests that identical trees give identical archives.
func TestPack_Deterministic(t *testing.T) {
	t.Parallel()

	sources := buildTrees(t)
	dir := t.TempDir()
	ctx := context.Background()

	first, err := Pack(ctx, filepath.Join(dir, "a.zip"), sources)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Pack(ctx, filepath.Join(dir, "b.zip"), sources)
	if err != nil {
		t.Fatal(err)
	}
	if first.ArchiveSHA256 != second.ArchiveSHA256 {
		t.Errorf("archives differ: %s != %s", first.ArchiveSHA256, second.ArchiveSHA256)
	}
}

// TestPack_CustomSuffixes tests configurable placeholder suffixes.
func TestPack_CustomSuffixes(t *testing.T) {
	t.Parallel()

	sources := buildTrees(t)
	out := filepath.Join(t.TempDir(), "fixture.zip")

	manifest, err := Pack(context.Background(), out, sources, WithPlaceholderSuffixes(".yaml", ""))
	if err != nil {
		t.Fatal(err)
	}
	if e, _ := manifest.Lookup("unpack/gadget/meta/gadget.yaml"); e.Kind != model.EntryPlaceholder {
		t.Errorf("gadget.yaml kind = %s, want placeholder", e.Kind)
	}
	if e, _ := manifest.Lookup("root/var/lib/snapd/snaps/core_1.snap"); e.Kind != model.EntryFile {
		t.Errorf("snap kind = %s, want file", e.Kind)
	}
}

// TestPack_Errors tests invalid input and cleanup on failure.
func TestPack_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sources func(t *testing.T) []Source
		wantErr error
	}{
		{"no sources", func(*testing.T) []Source { return nil }, ErrNoSources},
		{"duplicate prefix", func(t *testing.T) []Source {
			d := t.TempDir()
			return []Source{{Prefix: "root", Dir: d}, {Prefix: "root", Dir: d}}
		}, ErrDuplicatePrefix},
		{"nested prefix", func(t *testing.T) []Source {
			return []Source{{Prefix: "a/b", Dir: t.TempDir()}}
		}, ErrInvalidPrefix},
		{"parent prefix", func(t *testing.T) []Source {
			return []Source{{Prefix: "..", Dir: t.TempDir()}}
		}, ErrInvalidPrefix},
		{"source is a file", func(t *testing.T) []Source {
			p := filepath.Join(t.TempDir(), "file")
			if err := os.WriteFile(p, nil, 0o600); err != nil {
				t.Fatal(err)
			}
			return []Source{{Prefix: "root", Dir: p}}
		}, ErrNotDirectory},
		{"missing source", func(t *testing.T) []Source {
			return []Source{{Prefix: "root", Dir: filepath.Join(t.TempDir(), "missing")}}
		}, os.ErrNotExist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			out := filepath.Join(dir, "fixture.zip")
			_, err := Pack(context.Background(), out, tt.sources(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Pack() error = %v, want %v", err, tt.wantErr)
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("expected no leftovers, found %d files", len(entries))
			}
		})
	}
}

// TestPack_KeepsExistingOnFailure tests that a failed run leaves the old
// archive untouched.
func TestPack_KeepsExistingOnFailure(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "fixture.zip")
	if err := os.WriteFile(out, []byte("previous"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Pack(ctx, out, []Source{{Prefix: "root", Dir: t.TempDir()}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	data, err := os.ReadFile(out) //nolint:gosec // Test file
	if err != nil || string(data) != "previous" {
		t.Errorf("existing archive modified: %q, %v", data, err)
	}
}

// TestDefaultOutputName tests derived archive names.
func TestDefaultOutputName(t *testing.T) {
	t.Parallel()

	if got := DefaultOutputName("abc"); got != "abc.zip" {
		t.Errorf("DefaultOutputName() = %q", got)
	}
}

// TestExtractAndVerify tests the round trip through Extract and Verify.
func TestExtractAndVerify(t *testing.T) {
	t.Parallel()

	sources := buildTrees(t)
	out := filepath.Join(t.TempDir(), "fixture.zip")
	ctx := context.Background()

	packed, err := Pack(ctx, out, sources)
	if err != nil {
		t.Fatal(err)
	}

	mismatches, err := Verify(ctx, out, sources)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(mismatches) != 0 {
		t.Errorf("unexpected mismatches:\n%s", FormatMismatches(mismatches))
	}

	dest := t.TempDir()
	extracted, err := Extract(ctx, out, dest)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(extracted.Entries) != len(packed.Entries) {
		t.Errorf("extracted %d entries, packed %d", len(extracted.Entries), len(packed.Entries))
	}

	data, err := os.ReadFile(filepath.Join(dest, "root", "var", "lib", "snapd", "snaps", "core_1.snap"))
	if err != nil || !bytes.Equal(data, Placeholder) {
		t.Errorf("extracted snap = %v, %v", data, err)
	}
	if fi, err := os.Stat(filepath.Join(dest, "root", "only-dirs", "sub")); err != nil || !fi.IsDir() {
		t.Errorf("empty directory not restored: %v", err)
	}
	link, err := os.Readlink(filepath.Join(dest, "root", "var", "lib", "snapd", "seed", "core.snap"))
	if err != nil || link != "../snaps/core_1.snap" {
		t.Errorf("symlink = %q, %v", link, err)
	}

	// Packing the extracted trees reproduces the archive.
	again, err := Pack(ctx, filepath.Join(t.TempDir(), "again.zip"), []Source{
		{Prefix: "root", Dir: filepath.Join(dest, "root")},
		{Prefix: "unpack", Dir: filepath.Join(dest, "unpack")},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range again.Entries {
		p, ok := packed.Lookup(e.Name)
		if !ok || p.Kind != e.Kind || p.Size != e.Size {
			t.Errorf("repacked entry %+v differs from %+v", e, p)
		}
	}
}

// TestVerify_DetectsDrift tests that source changes are reported.
func TestVerify_DetectsDrift(t *testing.T) {
	t.Parallel()

	sources := buildTrees(t)
	out := filepath.Join(t.TempDir(), "fixture.zip")
	ctx := context.Background()
	if _, err := Pack(ctx, out, sources); err != nil {
		t.Fatal(err)
	}

	root := sources[0].Dir
	if err := os.WriteFile(filepath.Join(root, "etc", "hostname"), []byte("debian\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "etc", "new"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "empty")); err != nil {
		t.Fatal(err)
	}

	mismatches, err := Verify(ctx, out, sources)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, m := range mismatches {
		got[m.Name] = m.Reason
	}

	want := map[string]string{
		"root/etc/hostname": "content differs from source",
		"root/etc/new":      "missing from archive",
		"root/empty/":       "not present in source",
	}
	for name, reason := range want {
		if got[name] != reason {
			t.Errorf("%s: reason %q, want %q", name, got[name], reason)
		}
	}
	if len(mismatches) != len(want) {
		t.Errorf("got %d mismatches:\n%s", len(mismatches), FormatMismatches(mismatches))
	}
}

// writeZip writes an archive with the given raw members.
func writeZip(t *testing.T, members []*zip.FileHeader, contents []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crafted.zip")
	f, err := os.Create(path) //nolint:gosec // Test file
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for i, h := range members {
		w, err := zw.CreateHeader(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, contents[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestExtract_RejectsUnsafePaths tests path traversal protection.
func TestExtract_RejectsUnsafePaths(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	link := &zip.FileHeader{Name: "link"}
	link.SetMode(os.ModeSymlink | 0o777)

	tests := []struct {
		name     string
		members  []*zip.FileHeader
		contents []string
	}{
		{"parent directory", []*zip.FileHeader{{Name: "../evil"}}, []string{"x"}},
		{"absolute path", []*zip.FileHeader{{Name: "/tmp/evil"}}, []string{"x"}},
		{"through symlink", []*zip.FileHeader{link, {Name: "link/evil"}}, []string{"..", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeZip(t, tt.members, tt.contents)
			dest := filepath.Join(t.TempDir(), "dest")
			_, err := Extract(context.Background(), path, dest)
			if !errors.Is(err, ErrUnsafePath) {
				t.Errorf("Extract() error = %v, want ErrUnsafePath", err)
			}
		})
	}
}

// TestExtract_DoesNotFollowPlantedSymlinks tests that a symlink written by
// one member cannot redirect a later member outside the destination.
func TestExtract_DoesNotFollowPlantedSymlinks(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	tests := []struct {
		name   string
		member string
		// outside returns the link target and the path that must be left
		// untouched after extraction.
		outside func(t *testing.T) (target, check string)
	}{
		{
			name:   "file over symlink to file",
			member: "x",
			outside: func(t *testing.T) (string, string) {
				victim := filepath.Join(t.TempDir(), "victim")
				if err := os.WriteFile(victim, []byte("original"), 0o600); err != nil {
					t.Fatal(err)
				}
				return victim, victim
			},
		},
		{
			name:   "file below symlink to directory",
			member: "x/sub/f",
			outside: func(t *testing.T) (string, string) {
				dir := t.TempDir()
				return dir, filepath.Join(dir, "sub")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			target, check := tt.outside(t)
			before, _ := os.ReadFile(check) //nolint:gosec // Test file

			link := &zip.FileHeader{Name: "x"}
			link.SetMode(os.ModeSymlink | 0o777)
			path := writeZip(t,
				[]*zip.FileHeader{link, {Name: tt.member}},
				[]string{target, "PWNED"},
			)

			dest := filepath.Join(t.TempDir(), "dest")
			_, err := Extract(context.Background(), path, dest)
			if !errors.Is(err, ErrUnsafePath) {
				t.Errorf("Extract() error = %v, want ErrUnsafePath", err)
			}

			after, _ := os.ReadFile(check) //nolint:gosec // Test file
			if !bytes.Equal(before, after) {
				t.Errorf("%s changed to %q", check, after)
			}
			if tt.member != "x" {
				if _, err := os.Lstat(check); !os.IsNotExist(err) {
					t.Errorf("%s was created outside the destination", check)
				}
			}
		})
	}
}

// TestExtract_RejectsDuplicateMembers tests that a repeated member name is
// refused instead of overwriting the first copy.
func TestExtract_RejectsDuplicateMembers(t *testing.T) {
	t.Parallel()

	path := writeZip(t,
		[]*zip.FileHeader{{Name: "root/a"}, {Name: "root/a"}},
		[]string{"one", "two"},
	)
	_, err := Extract(context.Background(), path, filepath.Join(t.TempDir(), "dest"))
	if !errors.Is(err, ErrUnsafePath) {
		t.Errorf("Extract() error = %v, want ErrUnsafePath", err)
	}
}
