package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSourceNotFound is returned by GetSource when no row matches.
var ErrSourceNotFound = errors.New("source not found")

// SaveSource inserts or replaces a Source row.
func (s *SQLiteRecordStore) SaveSource(ctx context.Context, src *Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, kind, root, enabled, last_sync) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			root = excluded.root,
			enabled = excluded.enabled,
			last_sync = excluded.last_sync
	`, src.ID, string(src.Kind), src.Root, boolToInt(src.Enabled), unixMilli(src.LastSync))
	if err != nil {
		return fmt.Errorf("save source: %w", err)
	}
	return nil
}

// GetSource fetches a Source by ID.
func (s *SQLiteRecordStore) GetSource(ctx context.Context, id string) (*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, root, enabled, last_sync FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	return src, err
}

// ListSources returns all configured sources.
func (s *SQLiteRecordStore) ListSources(ctx context.Context) ([]*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, root, enabled, last_sync FROM sources ORDER BY root`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// DeleteSource removes a Source row. Callers are responsible for first
// reconciling its records via DeleteByPathPrefix (spec.md §4.5).
func (s *SQLiteRecordStore) DeleteSource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return nil
}

// TouchSourceSync records the wall-clock time of the most recent completed
// sync for a source (spec.md §4.6 scheduler bookkeeping).
func (s *SQLiteRecordStore) TouchSourceSync(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `UPDATE sources SET last_sync = ? WHERE id = ?`, unixMilli(at), id)
	if err != nil {
		return fmt.Errorf("touch source sync: %w", err)
	}
	return nil
}

func scanSource(row rowScanner) (*Source, error) {
	var src Source
	var kind string
	var enabled int
	var lastSyncMS int64
	if err := row.Scan(&src.ID, &kind, &src.Root, &enabled, &lastSyncMS); err != nil {
		return nil, err
	}
	src.Kind = SourceKind(kind)
	src.Enabled = enabled != 0
	src.LastSync = fromUnixMilli(lastSyncMS)
	return &src, nil
}
