// Package assertion reads model assertions.
//
// A model assertion is a signed text document: a block of "key: value"
// headers, a blank line, an optional body, and a signature. Only the header
// block is interpreted here. Signature verification is left to the image
// preparation command that consumes the file.
package assertion
