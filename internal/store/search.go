package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// filterClauses builds the WHERE fragments and bind args shared by
// SearchText, CountMatches, and any future relational query, keeping the
// tag/kind/range filter logic in one place (spec.md §4.8 filter model).
func filterClauses(f RecordFilters, alias string) (string, []any) {
	var clauses []string
	var args []any

	col := func(name string) string { return alias + "." + name }

	for _, tag := range f.TagsInclude {
		clauses = append(clauses, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM tags t WHERE t.record_id = %s AND (t.name = ? OR t.name LIKE ? || '/%%'))`,
			col("id")))
		args = append(args, tag, tag)
	}
	for _, tag := range f.TagsExclude {
		clauses = append(clauses, fmt.Sprintf(
			`NOT EXISTS (SELECT 1 FROM tags t WHERE t.record_id = %s AND (t.name = ? OR t.name LIKE ? || '/%%'))`,
			col("id")))
		args = append(args, tag, tag)
	}

	if len(f.Kinds) > 0 {
		placeholders := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col("kind_variant"), strings.Join(placeholders, ",")))
	}

	if len(f.SourceIDs) > 0 {
		placeholders := make([]string, len(f.SourceIDs))
		for i, id := range f.SourceIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col("source_id"), strings.Join(placeholders, ",")))
	}

	if f.SizeMin > 0 {
		clauses = append(clauses, col("size_bytes")+" >= ?")
		args = append(args, f.SizeMin)
	}
	if f.SizeMax > 0 {
		clauses = append(clauses, col("size_bytes")+" <= ?")
		args = append(args, f.SizeMax)
	}

	addRange := func(column string, from, to time.Time) {
		if !from.IsZero() {
			clauses = append(clauses, col(column)+" >= ?")
			args = append(args, unixMilli(from))
		}
		if !to.IsZero() {
			clauses = append(clauses, col(column)+" <= ?")
			args = append(args, unixMilli(to))
		}
	}
	addRange("modified_at", f.ModifiedFrom, f.ModifiedTo)
	addRange("created_at", f.CreatedFrom, f.CreatedTo)
	addRange("indexed_at", f.IndexedFrom, f.IndexedTo)

	if f.FavoriteOnly {
		clauses = append(clauses, col("favorite")+" = 1")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// SearchText runs a full-text BM25 query over records_fts, joined against
// records for filtering, and returns ranked (id, score) pairs.
func (s *SQLiteRecordStore) SearchText(ctx context.Context, tokens []string, filters RecordFilters, limit, offset int) ([]ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if len(tokens) == 0 {
		return s.recentMatchingFilters(ctx, filters, limit, offset)
	}

	where, args := filterClauses(filters, "r")
	query := fmt.Sprintf(`
		SELECT r.id, bm25(records_fts) AS score
		FROM records_fts
		JOIN records r ON r.id = records_fts.record_id
		WHERE records_fts.content MATCH ?%s
		ORDER BY score
		LIMIT ? OFFSET ?
	`, where)

	allArgs := append([]any{strings.Join(tokens, " ")}, args...)
	allArgs = append(allArgs, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("search text: %w", err)
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var sc ScoredID
		var raw float64
		if err := rows.Scan(&sc.ID, &raw); err != nil {
			return nil, err
		}
		sc.Score = -raw // fts5 bm25() is negative; lower = better match
		out = append(out, sc)
	}
	return out, rows.Err()
}

// recentMatchingFilters serves SearchText when the query has no text
// tokens (a pure filter browse), ranking by recency instead of BM25 score.
func (s *SQLiteRecordStore) recentMatchingFilters(ctx context.Context, filters RecordFilters, limit, offset int) ([]ScoredID, error) {
	where, args := filterClauses(filters, "r")
	query := fmt.Sprintf(`
		SELECT r.id, r.modified_at FROM records r WHERE 1=1%s
		ORDER BY r.modified_at DESC LIMIT ? OFFSET ?
	`, where)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter browse: %w", err)
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var id string
		var modMS int64
		if err := rows.Scan(&id, &modMS); err != nil {
			return nil, err
		}
		out = append(out, ScoredID{ID: id, Score: float64(modMS)})
	}
	return out, rows.Err()
}

// CountMatches returns the total count for a SearchText query (used by
// callers that need a result count distinct from a page of results).
func (s *SQLiteRecordStore) CountMatches(ctx context.Context, tokens []string, filters RecordFilters) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	where, args := filterClauses(filters, "r")

	var query string
	var allArgs []any
	if len(tokens) == 0 {
		query = fmt.Sprintf(`SELECT COUNT(*) FROM records r WHERE 1=1%s`, where)
		allArgs = args
	} else {
		query = fmt.Sprintf(`
			SELECT COUNT(*)
			FROM records_fts
			JOIN records r ON r.id = records_fts.record_id
			WHERE records_fts.content MATCH ?%s
		`, where)
		allArgs = append([]any{strings.Join(tokens, " ")}, args...)
	}

	var count uint64
	if err := s.db.QueryRowContext(ctx, query, allArgs...).Scan(&count); err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return 0, nil
		}
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return count, nil
}

// Recent returns the most recently touched records under the given sort
// order (spec.md §4.8 "browse without a query").
func (s *SQLiteRecordStore) Recent(ctx context.Context, limit int, sort SortOrder) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	orderBy := sortColumn(sort)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, path, source_id, kind_json, metadata_json, embedding_id,
		       favorite, created_at, modified_at, indexed_at
		FROM records ORDER BY %s LIMIT ?`, orderBy), limit)
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range out {
		tags, err := s.loadTags(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		r.Tags = tags
	}
	return out, nil
}

func sortColumn(sort SortOrder) string {
	switch sort {
	case SortModifiedAsc:
		return "modified_at ASC"
	case SortCreatedDesc:
		return "created_at DESC"
	case SortCreatedAsc:
		return "created_at ASC"
	case SortIndexedDesc:
		return "indexed_at DESC"
	case SortIndexedAsc:
		return "indexed_at ASC"
	case SortNameAsc:
		return "path ASC"
	case SortNameDesc:
		return "path DESC"
	case SortSizeAsc:
		return "size_bytes ASC"
	case SortSizeDesc:
		return "size_bytes DESC"
	case SortModifiedDesc:
		fallthrough
	default:
		return "modified_at DESC"
	}
}
