package store

import (
	"context"
	"fmt"
)

// Duplicates groups records sharing a non-empty content hash, the
// relational backbone of the Duplicate Detector (C10, spec.md §4.10).
// Hashing itself happens in the extractor; this is a pure aggregate query.
func (s *SQLiteRecordStore) Duplicates(ctx context.Context, minSize int64) ([]DuplicateGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, COUNT(*) AS cnt, MAX(size_bytes) AS sz
		FROM records
		WHERE content_hash != '' AND size_bytes >= ?
		GROUP BY content_hash
		HAVING cnt > 1
		ORDER BY sz DESC, cnt DESC
	`, minSize)
	if err != nil {
		return nil, fmt.Errorf("find duplicate hashes: %w", err)
	}

	type hashRow struct {
		hash string
		cnt  int
		size int64
	}
	var hashes []hashRow
	for rows.Next() {
		var h hashRow
		if err := rows.Scan(&h.hash, &h.cnt, &h.size); err != nil {
			rows.Close()
			return nil, err
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make([]DuplicateGroup, 0, len(hashes))
	for _, h := range hashes {
		memberRows, err := s.db.QueryContext(ctx,
			`SELECT id, path FROM records WHERE content_hash = ? ORDER BY path`, h.hash)
		if err != nil {
			return nil, fmt.Errorf("load duplicate members: %w", err)
		}
		var ids, paths []string
		for memberRows.Next() {
			var id, path string
			if err := memberRows.Scan(&id, &path); err != nil {
				memberRows.Close()
				return nil, err
			}
			ids = append(ids, id)
			paths = append(paths, path)
		}
		memberRows.Close()
		if err := memberRows.Err(); err != nil {
			return nil, err
		}

		groups = append(groups, DuplicateGroup{
			ContentHash: h.hash,
			RecordIDs:   ids,
			Paths:       paths,
			SizeBytes:   h.size,
			Count:       h.cnt,
		})
	}
	return groups, nil
}
