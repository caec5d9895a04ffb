package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ubuntu-image/update-sample-data/internal/model"
)

// FileName is the database file name inside the data directory.
const FileName = "sampledata.db"

// HistoryDB stores the history of produced fixtures.
type HistoryDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Record is one stored run.
type Record struct {
	ID            int64
	Channel       string
	Digest        string
	ModelPath     string
	Brand         string
	Model         string
	Architecture  string
	OutputPath    string
	ArchiveSHA256 string
	ArchiveSize   int64
	Entries       int
	Placeholders  int
	Dirs          int
	Cached        bool
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns the wall time of the recorded run.
func (r *Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Open opens or creates the history database in dbDir.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; concurrent channel runs share this
	// connection and are serialized by database/sql.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	hdb := &HistoryDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := hdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return hdb, nil
}

// Close closes the database connection.
func (h *HistoryDB) Close() error {
	return h.db.Close()
}

// Path returns the database file path.
func (h *HistoryDB) Path() string {
	return h.dbPath
}

func (h *HistoryDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		digest TEXT NOT NULL,
		model_path TEXT,
		brand TEXT,
		model TEXT,
		architecture TEXT,
		output_path TEXT NOT NULL,
		archive_sha256 TEXT,
		archive_size INTEGER DEFAULT 0,
		entries INTEGER DEFAULT 0,
		placeholders INTEGER DEFAULT 0,
		dirs INTEGER DEFAULT 0,
		cached INTEGER DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		run_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_channel ON runs(channel);
	CREATE INDEX IF NOT EXISTS idx_runs_digest ON runs(digest);
	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);

	CREATE TABLE IF NOT EXISTS entries (
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		size INTEGER NOT NULL,
		source_size INTEGER NOT NULL,
		sha256 TEXT,
		PRIMARY KEY (run_id, position)
	);
	`

	_, err := h.db.ExecContext(context.Background(), schema)
	return err
}

// SaveRun stores a finished run and its manifest in one transaction.
func (h *HistoryDB) SaveRun(ctx context.Context, run *model.Run) (int64, error) {
	if run.Manifest == nil {
		return 0, ErrIncompleteRun
	}

	runJSON, err := json.Marshal(run)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize run: %w", err)
	}

	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // No-op after commit

	m := run.Manifest
	res, err := tx.ExecContext(ctx, `
	INSERT INTO runs (channel, digest, model_path, brand, model, architecture, output_path,
		archive_sha256, archive_size, entries, placeholders, dirs, cached, started_at, finished_at, run_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.Channel, run.Digest, run.ModelPath, run.Brand, run.Model, run.Architecture, run.OutputPath,
		m.ArchiveSHA256, m.ArchiveSize, len(m.Entries), m.Count(model.EntryPlaceholder), m.Count(model.EntryDir),
		run.Cached, run.StartedAt.UTC(), finished.UTC(), string(runJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO entries (run_id, position, name, kind, size, source_size, sha256)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Closed with the transaction

	for i, e := range m.Entries {
		if _, err := stmt.ExecContext(ctx, id, i, e.Name, string(e.Kind), e.Size, e.SourceSize, e.SHA256); err != nil {
			return 0, fmt.Errorf("failed to insert entry %s: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

const recordColumns = `id, channel, digest, model_path, brand, model, architecture, output_path,
	archive_sha256, archive_size, entries, placeholders, dirs, cached, started_at, finished_at`

// ListRuns returns the most recent runs first. An empty channel matches
// every channel; a limit of zero or less returns all runs.
func (h *HistoryDB) ListRuns(ctx context.Context, channel string, limit int) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM runs`
	var args []any
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY finished_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only query

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return records, nil
}

// LatestForDigest returns the most recent run for a model digest.
func (h *HistoryDB) LatestForDigest(ctx context.Context, digest string) (*Record, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM runs WHERE digest = ? ORDER BY finished_at DESC, id DESC LIMIT 1`,
		digest,
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: digest %s", ErrNotFound, digest)
	}
	return r, err
}

// Entries returns the archive manifest stored for a run, in write order.
func (h *HistoryDB) Entries(ctx context.Context, runID int64) ([]model.Entry, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT name, kind, size, source_size, sha256 FROM entries WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only query

	var entries []model.Entry
	for rows.Next() {
		var (
			e    model.Entry
			kind string
			sum  sql.NullString
		)
		if err := rows.Scan(&e.Name, &kind, &e.Size, &e.SourceSize, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Kind = model.EntryKind(kind)
		e.SHA256 = sum.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}
	return entries, nil
}

// Prune deletes runs finished before the given time and returns how many
// were removed.
func (h *HistoryDB) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE run_id IN (SELECT id FROM runs WHERE finished_at < ?)`, before.UTC()); err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE finished_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		r                                          Record
		modelPath, brand, mdl, arch, archiveSHA256 sql.NullString
	)
	err := s.Scan(&r.ID, &r.Channel, &r.Digest, &modelPath, &brand, &mdl, &arch, &r.OutputPath,
		&archiveSHA256, &r.ArchiveSize, &r.Entries, &r.Placeholders, &r.Dirs, &r.Cached,
		&r.StartedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	r.ModelPath = modelPath.String
	r.Brand = brand.String
	r.Model = mdl.String
	r.Architecture = arch.String
	r.ArchiveSHA256 = archiveSHA256.String
	return &r, nil
}
