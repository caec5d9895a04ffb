package database

import "errors"

var (
	// ErrNotFound is returned when no run matches a query.
	ErrNotFound = errors.New("no matching run in history")

	// ErrDatabaseNotFound is returned by Open when the database file is
	// missing and CreateIfNotExists is false.
	ErrDatabaseNotFound = errors.New("history database not found")

	// ErrIncompleteRun is returned by SaveRun for runs without a manifest.
	ErrIncompleteRun = errors.New("run has no archive manifest")
)
