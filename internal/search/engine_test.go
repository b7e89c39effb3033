package search

import (
	"context"
	"testing"
	"time"

	"github.com/localfile/engine/internal/store"
)

func newTestStore(t *testing.T) store.RecordStore {
	t.Helper()
	s, err := store.NewSQLiteRecordStore("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putRecord(t *testing.T, s store.RecordStore, id, path, title, preview string) {
	t.Helper()
	rec := &store.Record{
		ID:       id,
		Path:     path,
		SourceID: "src1",
		Kind:     store.Kind{Variant: store.KindDocument},
		Metadata: store.Metadata{Title: title, TextPreview: preview, SizeBytes: 100},
		ModifiedAt: time.Now(),
		CreatedAt:  time.Now(),
		IndexedAt:  time.Now(),
	}
	if err := s.UpsertRecord(context.Background(), rec); err != nil {
		t.Fatalf("upsert record: %v", err)
	}
}

func TestEngine_TextMode_FindsMatchingRecord(t *testing.T) {
	s := newTestStore(t)
	putRecord(t, s, "r1", "/a/budget.xlsx", "Annual Budget", "quarterly spending summary")
	putRecord(t, s, "r2", "/a/vacation.jpg", "Beach Trip", "photos from the coast")

	e := NewEngine(s, nil, nil)
	results, err := e.Search(context.Background(), ParseQuery("budget"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Record.ID != "r1" {
		t.Fatalf("expected r1 to match 'budget', got %+v", results)
	}
}

func TestEngine_FuzzyFallback_EngagesOnShortStarvedQuery(t *testing.T) {
	s := newTestStore(t)
	putRecord(t, s, "r1", "/a/vacation.jpg", "Vacation Photo", "")

	e := NewEngine(s, nil, nil)
	results, err := e.Search(context.Background(), ParseQuery("vaction"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected fuzzy fallback to find a near-match for a misspelled query")
	}
}

func TestEngine_CountMatches(t *testing.T) {
	s := newTestStore(t)
	putRecord(t, s, "r1", "/a/budget.xlsx", "Annual Budget", "")

	e := NewEngine(s, nil, nil)
	count, err := e.CountMatches(context.Background(), ParseQuery("budget"))
	if err != nil {
		t.Fatalf("count matches: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}
