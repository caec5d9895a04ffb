package model

// EntryKind describes how an archive member was produced.
type EntryKind string

const (
	// EntryFile is a regular file stored byte-identical to its source.
	EntryFile EntryKind = "file"

	// EntryPlaceholder is a payload file whose content was replaced by
	// a single placeholder byte.
	EntryPlaceholder EntryKind = "placeholder"

	// EntryDir is an explicit directory entry for a directory that
	// contains no files directly.
	EntryDir EntryKind = "dir"

	// EntrySymlink is a symbolic link stored as its target text.
	EntrySymlink EntryKind = "symlink"
)

// Entry is one member of a fixture archive.
type Entry struct {
	// Name is the slash-separated member name inside the archive.
	// Directory entries end with "/".
	Name string `json:"name"`

	// Kind records how the entry was produced.
	Kind EntryKind `json:"kind"`

	// Size is the number of bytes stored in the archive.
	Size int64 `json:"size"`

	// SourceSize is the size of the file on disk before any placeholder
	// substitution. Equal to Size for regular files.
	SourceSize int64 `json:"source_size"`

	// SHA256 is the hex digest of the stored content. Empty for directories.
	SHA256 string `json:"sha256,omitempty"`
}

// Manifest lists every entry written to a fixture archive, in write order.
type Manifest struct {
	// Entries is the ordered list of archive members.
	Entries []Entry `json:"entries"`

	// ArchiveSHA256 is the hex digest of the finished archive file.
	ArchiveSHA256 string `json:"archive_sha256,omitempty"`

	// ArchiveSize is the size of the finished archive file in bytes.
	ArchiveSize int64 `json:"archive_size"`
}

// Add appends an entry to the manifest.
func (m *Manifest) Add(e Entry) {
	m.Entries = append(m.Entries, e)
}

// Count returns the number of entries of the given kind.
func (m *Manifest) Count(kind EntryKind) int {
	n := 0
	for _, e := range m.Entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// StrippedBytes returns how many source bytes were dropped by placeholder
// substitution.
func (m *Manifest) StrippedBytes() int64 {
	var total int64
	for _, e := range m.Entries {
		if e.Kind == EntryPlaceholder {
			total += e.SourceSize - e.Size
		}
	}
	return total
}

// Lookup returns the entry with the given name.
func (m *Manifest) Lookup(name string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
