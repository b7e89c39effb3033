package search

import (
	"testing"

	"github.com/localfile/engine/internal/store"
)

func TestParseQuery_FieldScoping(t *testing.T) {
	q := ParseQuery("tag:project/demo kind:image sunset")
	if len(q.Filters.TagsInclude) != 1 || q.Filters.TagsInclude[0] != "project/demo" {
		t.Fatalf("expected tag filter, got %+v", q.Filters.TagsInclude)
	}
	if len(q.Filters.Kinds) != 1 || q.Filters.Kinds[0] != store.KindImage {
		t.Fatalf("expected kind filter, got %+v", q.Filters.Kinds)
	}
	if q.Raw != "sunset" {
		t.Fatalf("expected remaining text %q, got %q", "sunset", q.Raw)
	}
}

func TestParseQuery_TypePhrase(t *testing.T) {
	q := ParseQuery("photos from the beach")
	if len(q.Filters.Kinds) != 1 || q.Filters.Kinds[0] != store.KindImage {
		t.Fatalf("expected photos to imply image kind, got %+v", q.Filters.Kinds)
	}
}

func TestParseQuery_DatePhraseToday(t *testing.T) {
	q := ParseQuery("today invoice")
	if q.Filters.ModifiedFrom.IsZero() || q.Filters.ModifiedTo.IsZero() {
		t.Fatalf("expected a modified-date range for 'today'")
	}
	if q.Raw != "invoice" {
		t.Fatalf("expected remaining text %q, got %q", "invoice", q.Raw)
	}
}

func TestParseQuery_YearMonth(t *testing.T) {
	q := ParseQuery("2024-03 report")
	if q.Filters.ModifiedFrom.Year() != 2024 || q.Filters.ModifiedFrom.Month() != 3 {
		t.Fatalf("expected March 2024 range, got %v", q.Filters.ModifiedFrom)
	}
}

func TestParseQuery_BooleanAndQuotesPassThrough(t *testing.T) {
	q := ParseQuery(`"exact phrase" AND foo*`)
	if q.Raw == "" {
		t.Fatalf("expected boolean/quoted text to survive into Raw")
	}
}
