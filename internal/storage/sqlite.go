package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meridian/finrag/internal/models"
)

// SQLiteStore implements RecordStore on SQLite with WAL enabled.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		metadata TEXT,
		source_kind TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		logical_time INTEGER NOT NULL,
		vector BLOB,
		observed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_records_source_kind ON records(source_kind);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put inserts or replaces the record for rec.ID. A row with a higher
// logical_time already on disk is left untouched, so out-of-order writers
// converge on the newest version.
func (s *SQLiteStore) Put(ctx context.Context, rec *models.Record) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, body, metadata, source_kind, source, logical_time, vector, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   body = excluded.body,
		   metadata = excluded.metadata,
		   source_kind = excluded.source_kind,
		   source = excluded.source,
		   logical_time = excluded.logical_time,
		   vector = excluded.vector,
		   observed_at = excluded.observed_at
		 WHERE excluded.logical_time >= records.logical_time`,
		rec.ID, rec.Body, string(metaJSON), string(rec.SourceKind), rec.Source,
		int64(rec.LogicalTime), vectorToBytes(rec.Vector), rec.ObservedAt.UTC(),
	)
	return err
}

// Delete removes the record for id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	return err
}

// Get returns the record for id or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, body, metadata, source_kind, source, logical_time, vector, observed_at
		 FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// ForEach iterates all stored records.
func (s *SQLiteStore) ForEach(ctx context.Context, fn func(*models.Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body, metadata, source_kind, source, logical_time, vector, observed_at FROM records`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecord(scan func(dest ...any) error) (*models.Record, error) {
	var (
		rec        models.Record
		metaJSON   sql.NullString
		kind       string
		logical    int64
		vecBlob    []byte
		observedAt time.Time
	)
	if err := scan(&rec.ID, &rec.Body, &metaJSON, &kind, &rec.Source, &logical, &vecBlob, &observedAt); err != nil {
		return nil, err
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	vec, err := bytesToVector(vecBlob)
	if err != nil {
		return nil, err
	}
	rec.SourceKind = models.SourceKind(kind)
	rec.LogicalTime = uint64(logical)
	rec.Vector = vec
	rec.ObservedAt = observedAt
	return &rec, nil
}
