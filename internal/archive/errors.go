package archive

import "errors"

var (
	// ErrNoSources is returned by Pack when no source tree is given.
	ErrNoSources = errors.New("no source directories to archive")

	// ErrDuplicatePrefix is returned when two sources share a prefix.
	ErrDuplicatePrefix = errors.New("duplicate source prefix")

	// ErrInvalidPrefix is returned for prefixes that are not a single
	// relative path element.
	ErrInvalidPrefix = errors.New("invalid source prefix")

	// ErrUnsafePath is returned by Extract for entries that would be
	// written outside the destination directory.
	ErrUnsafePath = errors.New("archive entry escapes destination")

	// ErrNotDirectory is returned when a source is not a directory.
	ErrNotDirectory = errors.New("source is not a directory")
)
