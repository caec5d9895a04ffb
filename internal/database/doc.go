// Package database records produced fixtures in a SQLite history database.
//
// Each successful run stores one row in the runs table together with its
// archive manifest, so the history command can show when a fixture was last
// regenerated for a model and channel and what it contained.
//
// The database lives in the XDG data directory as sampledata.db and is
// opened through the CGO-free modernc.org/sqlite driver.
package database
