// Package prepare runs the external image-preparation command that
// populates the root and unpack trees of a fixture.
//
// The command is treated as a black box: it receives a model assertion, a
// channel and two empty directories, and the only thing this package cares
// about is what it leaves behind on disk. A CachingRunner can sit in front
// of the real command so repeated runs for the same model and channel reuse
// the trees produced the first time.
//
// Workspace owns the two temporary directories for one run and removes
// them when closed.
package prepare
