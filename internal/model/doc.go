// Package model defines the data structures shared by the sample-data tool.
//
// This package contains the following main types:
//   - Run: the report of a single fixture update for one channel
//   - Manifest: the ordered list of archive entries written for a run
//   - Entry: a single archive member (file, placeholder, or directory)
//
// The types are serializable to JSON for report output and history storage.
package model
