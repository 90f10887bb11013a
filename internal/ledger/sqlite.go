package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// schema.sql creates the records table keyed by (category, record_id).
//
//go:embed schema.sql
var schemaSQL string

var _ Ledger = (*SQLite)(nil)

// SQLite is a Ledger backed by a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the ledger database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// Category workers share one connection; SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ledger %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const selectColumns = `category, record_id, path, provenance, fingerprint, size_bytes, duration_ms, sample_rate, detail, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var durationMS, created int64
	if err := row.Scan(&e.Category, &e.ID, &e.Path, &e.Provenance, &e.Fingerprint,
		&e.Size, &durationMS, &e.SampleRate, &e.Detail, &created); err != nil {
		return Entry{}, err
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	e.CreatedAt = time.UnixMilli(created).UTC()
	return e, nil
}

// List implements Ledger.
func (s *SQLite) List(ctx context.Context, category string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM records WHERE category = ? ORDER BY record_id`, category)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", category, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", category, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", category, err)
	}
	return out, nil
}

// Get implements Ledger.
func (s *SQLite) Get(ctx context.Context, category, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM records WHERE category = ? AND record_id = ?`, category, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %s/%s: %w", category, id, err)
	}
	return e, nil
}

// Record implements Ledger.
func (s *SQLite) Record(ctx context.Context, e Entry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (category, record_id) DO UPDATE SET
			path = excluded.path,
			provenance = excluded.provenance,
			fingerprint = excluded.fingerprint,
			size_bytes = excluded.size_bytes,
			duration_ms = excluded.duration_ms,
			sample_rate = excluded.sample_rate,
			detail = excluded.detail,
			created_at = excluded.created_at`,
		e.Category, e.ID, e.Path, e.Provenance, e.Fingerprint,
		e.Size, e.Duration.Milliseconds(), e.SampleRate, e.Detail, created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record %s/%s: %w", e.Category, e.ID, err)
	}
	return nil
}

// Forget implements Ledger.
func (s *SQLite) Forget(ctx context.Context, category, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE category = ? AND record_id = ?`, category, id)
	if err != nil {
		return fmt.Errorf("forget %s/%s: %w", category, id, err)
	}
	return nil
}
