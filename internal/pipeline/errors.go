package pipeline

import "errors"

var (
	// ErrNotPrepared is returned by the archive step when no prepared trees
	// are available.
	ErrNotPrepared = errors.New("image trees have not been prepared")

	// ErrNoOutputPath is returned by the archive step when the output path
	// has not been resolved.
	ErrNoOutputPath = errors.New("no output path resolved")
)
