package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)
)

// SQLiteRecordStore implements RecordStore over a single SQLite database
// file, using the same WAL/single-writer discipline and corruption-recovery
// idiom as SQLiteBM25Index.
type SQLiteRecordStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ RecordStore = (*SQLiteRecordStore)(nil)

// validateRecordStoreIntegrity checks if the database is valid before
// opening it, mirroring validateSQLiteIntegrity for the BM25 index.
func validateRecordStoreIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
	                   WHERE type='table' AND name='records'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("records table missing")
	}

	return nil
}

// NewSQLiteRecordStore opens (creating if needed) the relational store at
// path. If path is empty, an in-memory database is used, useful for tests.
func NewSQLiteRecordStore(path string) (*SQLiteRecordStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateRecordStoreIntegrity(path); validErr != nil {
			slog.Warn("record_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("record store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("record_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, full resync required"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer avoids SQLITE_BUSY under WAL with modernc.org/sqlite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteRecordStore{db: db, path: path}

	if _, err := db.Exec(recordSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *SQLiteRecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteRecordStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("record store is closed")
	}
	return nil
}

// buildSearchContent folds a Record's searchable text into one string for
// records_fts, the way sqlite_bm25.go denormalizes Document.Content.
func buildSearchContent(r *Record) string {
	var b strings.Builder
	b.WriteString(filepath.Base(r.Path))
	b.WriteByte(' ')
	if r.Metadata.Title != "" {
		b.WriteString(r.Metadata.Title)
		b.WriteByte(' ')
	}
	if r.Metadata.Description != "" {
		b.WriteString(r.Metadata.Description)
		b.WriteByte(' ')
	}
	if r.Metadata.TextPreview != "" {
		b.WriteString(r.Metadata.TextPreview)
		b.WriteByte(' ')
	}
	if r.Metadata.AISummary != "" {
		b.WriteString(r.Metadata.AISummary)
		b.WriteByte(' ')
	}
	if r.Metadata.AICaption != "" {
		b.WriteString(r.Metadata.AICaption)
		b.WriteByte(' ')
	}
	for _, t := range r.Metadata.AITags {
		b.WriteString(t)
		b.WriteByte(' ')
	}
	for _, t := range r.Tags {
		b.WriteString(strings.ReplaceAll(t.Name, "/", " "))
		b.WriteByte(' ')
	}
	return b.String()
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// withTx runs fn inside a transaction, committing on success.
func (s *SQLiteRecordStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
