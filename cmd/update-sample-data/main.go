// Package main provides the entry point for the update-sample-data CLI.
//
// update-sample-data runs the image preparation command against a model
// assertion and packs the prepared root and unpack trees into a zip fixture
// for the test suite. Snap payloads are replaced by a one-byte placeholder.
//
// Usage:
//
//	update-sample-data [-c channel] [-m model] [-o output]
//	update-sample-data verify <archive> <root> <unpack>
//
// See --help for all available options.
package main

// main is the entry point for update-sample-data.
func main() {
	Execute()
}
