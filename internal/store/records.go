package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrRecordNotFound is returned by GetRecord/GetRecordByPath when no row
// matches.
var ErrRecordNotFound = errors.New("record not found")

// UpsertRecord inserts or replaces a Record, its tags, and its FTS entry in
// one transaction (spec.md §4.2, invariant: a record write is atomic across
// the relational store's sub-tables).
func (s *SQLiteRecordStore) UpsertRecord(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertRecordTx(ctx, tx, r)
	})
}

// UpsertRecords writes a whole indexing batch in a single transaction
// (spec.md §4.5 step 5: "Join results of the batch and commit them in a
// single C2 transaction"). A failure partway through rolls back the entire
// batch, matching invariant P9's "cancelling an in-progress run leaves the
// store consistent over the batches whose commits actually landed."
func (s *SQLiteRecordStore) UpsertRecords(ctx context.Context, records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			if err := upsertRecordTx(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertRecordTx(ctx context.Context, tx *sql.Tx, r *Record) error {
	kindJSON, err := marshalJSON(r.Kind)
	if err != nil {
		return fmt.Errorf("marshal kind: %w", err)
	}
	metaJSON, err := marshalJSON(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var existingTags []string
	rows, err := tx.QueryContext(ctx, `SELECT name FROM tags WHERE record_id = ?`, r.ID)
	if err != nil {
		return fmt.Errorf("load existing tags: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		existingTags = append(existingTags, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records
			(id, path, source_id, kind_variant, kind_json, metadata_json,
			 embedding_id, favorite, size_bytes, content_hash,
			 created_at, modified_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			source_id = excluded.source_id,
			kind_variant = excluded.kind_variant,
			kind_json = excluded.kind_json,
			metadata_json = excluded.metadata_json,
			embedding_id = excluded.embedding_id,
			favorite = excluded.favorite,
			size_bytes = excluded.size_bytes,
			content_hash = excluded.content_hash,
			modified_at = excluded.modified_at,
			indexed_at = excluded.indexed_at
	`,
		r.ID, r.Path, r.SourceID, string(r.Kind.Variant), kindJSON, metaJSON,
		r.EmbeddingID, boolToInt(r.Favorite), r.Metadata.SizeBytes, r.Metadata.ContentHash,
		unixMilli(r.CreatedAt), unixMilli(r.ModifiedAt), unixMilli(r.IndexedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	if err := decrementTagCounts(ctx, tx, existingTags); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE record_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	newNames := make([]string, 0, len(r.Tags))
	for _, t := range r.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tags (record_id, name, kind, confidence) VALUES (?, ?, ?, ?)`,
			r.ID, t.Name, string(t.Kind), t.Confidence); err != nil {
			return fmt.Errorf("insert tag %q: %w", t.Name, err)
		}
		newNames = append(newNames, t.Name)
	}
	if err := incrementTagCounts(ctx, tx, newNames); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM records_fts WHERE record_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clear fts entry: %w", err)
	}
	content := buildSearchContent(r)
	tokens := TokenizeCode(content)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records_fts (record_id, content) VALUES (?, ?)`,
		r.ID, strings.Join(tokens, " ")); err != nil {
		return fmt.Errorf("insert fts entry: %w", err)
	}

	return nil
}

// GetRecord fetches a Record by ID, including its tags.
func (s *SQLiteRecordStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.getRecordLocked(ctx, `id = ?`, id)
}

// GetRecordByPath fetches a Record by its canonical path.
func (s *SQLiteRecordStore) GetRecordByPath(ctx context.Context, path string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.getRecordLocked(ctx, `path = ?`, path)
}

func (s *SQLiteRecordStore) getRecordLocked(ctx context.Context, where string, arg string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, path, source_id, kind_json, metadata_json, embedding_id,
		       favorite, created_at, modified_at, indexed_at
		FROM records WHERE %s`, where), arg)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	tags, err := s.loadTags(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Tags = tags
	return r, nil
}

func (s *SQLiteRecordStore) loadTags(ctx context.Context, recordID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, kind, confidence FROM tags WHERE record_id = ? ORDER BY name`, recordID)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		var kind string
		if err := rows.Scan(&t.Name, &kind, &t.Confidence); err != nil {
			return nil, err
		}
		t.Kind = TagKind(kind)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var kindJSON, metaJSON string
	var favorite int
	var createdMS, modifiedMS, indexedMS int64

	if err := row.Scan(&r.ID, &r.Path, &r.SourceID, &kindJSON, &metaJSON,
		&r.EmbeddingID, &favorite, &createdMS, &modifiedMS, &indexedMS); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(kindJSON, &r.Kind); err != nil {
		return nil, fmt.Errorf("unmarshal kind: %w", err)
	}
	if err := unmarshalJSON(metaJSON, &r.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	r.Favorite = favorite != 0
	r.CreatedAt = fromUnixMilli(createdMS)
	r.ModifiedAt = fromUnixMilli(modifiedMS)
	r.IndexedAt = fromUnixMilli(indexedMS)
	return &r, nil
}

// DeleteRecord removes a record and its dependent rows.
func (s *SQLiteRecordStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return deleteRecordTx(ctx, tx, id)
	})
}

func deleteRecordTx(ctx context.Context, tx *sql.Tx, id string) error {
	var names []string
	rows, err := tx.QueryContext(ctx, `SELECT name FROM tags WHERE record_id = ?`, id)
	if err != nil {
		return fmt.Errorf("load tags for delete: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if err := decrementTagCounts(ctx, tx, names); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records_fts WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("delete fts entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_blobs WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("delete vector blobs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// DeleteByPathPrefix removes every record whose path starts with prefix,
// used when a source is removed or a directory is deleted outright
// (spec.md §4.5 deletion-reconciliation pass).
func (s *SQLiteRecordStore) DeleteByPathPrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var ids []string
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM records WHERE path = ? OR path LIKE ? || '/%'`, prefix, prefix)
	if err != nil {
		return 0, fmt.Errorf("list records under prefix: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := deleteRecordTx(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ListPathsUnderSource returns every record path owned by sourceID.
func (s *SQLiteRecordStore) ListPathsUnderSource(ctx context.Context, sourceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path FROM records WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
