package store

import (
	"context"
	"database/sql"
	"fmt"
)

// incrementTagCounts bumps tag_counts for each name, inserting a fresh row
// at count 1 when the tag is new (spec.md §3 invariant 2: tag_counts stays
// in lockstep with the tags table).
func incrementTagCounts(ctx context.Context, tx *sql.Tx, names []string) error {
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tag_counts (name, count) VALUES (?, 1)
			ON CONFLICT(name) DO UPDATE SET count = count + 1
		`, name); err != nil {
			return fmt.Errorf("increment tag count %q: %w", name, err)
		}
	}
	return nil
}

// decrementTagCounts mirrors incrementTagCounts on removal, deleting the row
// once it reaches zero so ListTags never reports a dead tag.
func decrementTagCounts(ctx context.Context, tx *sql.Tx, names []string) error {
	for _, name := range names {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tag_counts SET count = count - 1 WHERE name = ?`, name); err != nil {
			return fmt.Errorf("decrement tag count %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM tag_counts WHERE name = ? AND count <= 0`, name); err != nil {
			return fmt.Errorf("prune tag count %q: %w", name, err)
		}
	}
	return nil
}

// ListTags returns every known tag name with its live record count.
func (s *SQLiteRecordStore) ListTags(ctx context.Context) ([]TagCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, count FROM tag_counts ORDER BY count DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Name, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// AddTag attaches tag to record id, updating tag_counts. Re-adding a tag
// that already exists replaces its kind/confidence without double-counting.
func (s *SQLiteRecordStore) AddTag(ctx context.Context, id string, tag Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tags WHERE record_id = ? AND name = ?`, id, tag.Name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check existing tag: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags (record_id, name, kind, confidence) VALUES (?, ?, ?, ?)
			ON CONFLICT(record_id, name) DO UPDATE SET kind = excluded.kind, confidence = excluded.confidence
		`, id, tag.Name, string(tag.Kind), tag.Confidence); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}

		if exists == 0 {
			return incrementTagCounts(ctx, tx, []string{tag.Name})
		}
		return nil
	})
}

// RemoveTag detaches a tag from a record, updating tag_counts.
func (s *SQLiteRecordStore) RemoveTag(ctx context.Context, id string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM tags WHERE record_id = ? AND name = ?`, id, name)
		if err != nil {
			return fmt.Errorf("delete tag: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		return decrementTagCounts(ctx, tx, []string{name})
	})
}

// SetFavorite marks or unmarks a record as favorite, returning the new
// value. Idempotent: setting the current value again is a no-op success.
func (s *SQLiteRecordStore) SetFavorite(ctx context.Context, id string, fav bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE records SET favorite = ? WHERE id = ?`, boolToInt(fav), id)
	if err != nil {
		return false, fmt.Errorf("set favorite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrRecordNotFound
	}
	return fav, nil
}
