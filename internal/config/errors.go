package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and identify exactly which
// rule was violated so callers can match them with errors.Is().
var (
	// ErrNoChannel is returned when no channel is configured.
	ErrNoChannel = errors.New("no channel specified: use --channel")

	// ErrEmptyChannel is returned when a channel name is blank.
	ErrEmptyChannel = errors.New("invalid channel: name must not be empty")

	// ErrDuplicateChannel is returned when the same channel is given twice.
	// Both runs would write the same fixture.
	ErrDuplicateChannel = errors.New("invalid channel: duplicate channel name")

	// ErrInvalidJobs is returned when the number of parallel runs is not positive.
	ErrInvalidJobs = errors.New("invalid jobs: must be positive")

	// ErrOutputWithMultipleChannels is returned when --output is combined
	// with more than one channel. Each channel needs its own archive.
	ErrOutputWithMultipleChannels = errors.New("--output cannot be used with more than one channel")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrNoSnapCommand is returned when the preparation command is empty.
	ErrNoSnapCommand = errors.New("no image preparation command configured")

	// ErrEmptySuffix is returned when a placeholder suffix is blank.
	// An empty suffix would match every file.
	ErrEmptySuffix = errors.New("invalid placeholder suffix: must not be empty")

	// ErrInvalidCommandTimeout is returned when the command timeout is negative.
	ErrInvalidCommandTimeout = errors.New("invalid command timeout: must be non-negative")

	// ErrInvalidBool is returned by ParseBool for unrecognised values.
	ErrInvalidBool = errors.New("invalid boolean value")
)
