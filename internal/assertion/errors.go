package assertion

import "errors"

// Model assertion parse errors.
var (
	// ErrNoHeaders is returned when the document has no header lines at all.
	ErrNoHeaders = errors.New("assertion has no headers")

	// ErrMultipleRecords is returned when more than one header record is found.
	ErrMultipleRecords = errors.New("expected exactly one assertion record")

	// ErrNotModel is returned when the type header is not "model".
	ErrNotModel = errors.New("assertion is not a model assertion")

	// ErrMissingHeader is returned when a required header is absent.
	// It is wrapped with the header name.
	ErrMissingHeader = errors.New("missing required header")

	// ErrMalformedHeader is returned for a header line without a "key:" prefix.
	ErrMalformedHeader = errors.New("malformed header line")
)
