package archive

import (
	"log/slog"
	"strings"
	"time"
)

// DefaultPlaceholderSuffix is the suffix of payload files stripped by default.
const DefaultPlaceholderSuffix = ".snap"

// Placeholder is the content stored in place of a payload file.
var Placeholder = []byte{0x00}

// FixedModTime is the timestamp written on every entry: the earliest time
// representable in a zip header.
var FixedModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

type options struct {
	suffixes []string
	logger   *slog.Logger
}

// Option configures Pack, Verify and Extract.
type Option func(*options)

// WithPlaceholderSuffixes replaces the list of suffixes that mark payload
// files. Empty suffixes are ignored.
func WithPlaceholderSuffixes(suffixes ...string) Option {
	return func(o *options) {
		o.suffixes = o.suffixes[:0]
		for _, s := range suffixes {
			if s != "" {
				o.suffixes = append(o.suffixes, s)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		suffixes: []string{DefaultPlaceholderSuffix},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// isPlaceholder reports whether name carries a placeholder suffix.
func (o *options) isPlaceholder(name string) bool {
	for _, s := range o.suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
