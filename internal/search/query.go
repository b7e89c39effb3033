package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/localfile/engine/internal/store"
)

// fieldPattern recognizes a field:value clause. value may be bare or
// double-quoted (to carry spaces into a single field value).
var fieldPattern = regexp.MustCompile(`(?i)\b(title|tag|path|ext|kind):("([^"]*)"|(\S+))`)

// kindPhrases maps spec.md §4.8's natural-language type phrases to the
// KindVariant they imply.
var kindPhrases = map[string]store.KindVariant{
	"photos":    store.KindImage,
	"photo":     store.KindImage,
	"pictures":  store.KindImage,
	"picture":   store.KindImage,
	"images":    store.KindImage,
	"videos":    store.KindVideo,
	"video":     store.KindVideo,
	"code":      store.KindCode,
	"documents": store.KindDocument,
	"docs":      store.KindDocument,
}

// ParseQuery turns raw user input into a Query: field-scoped clauses and
// natural-language date/type phrases are pulled into structured filters,
// and whatever remains becomes the free-text query handed to SearchText
// (which itself understands FTS5's AND/OR/NOT/quote/prefix* syntax, so this
// parser only needs to strip out what SearchText can't express as text).
//
// Parsing is best-effort per spec.md §4.8: any recognized clause can be
// overridden by setting the corresponding Query.Filters field directly
// after ParseQuery returns.
func ParseQuery(raw string) Query {
	q := Query{Mode: ModeAuto, Weights: DefaultWeights(), Sort: store.SortRelevance, Limit: DefaultLimit}

	remaining := raw
	for _, m := range fieldPattern.FindAllStringSubmatch(raw, -1) {
		field := strings.ToLower(m[1])
		value := m[3]
		if value == "" {
			value = m[4]
		}
		applyField(&q, field, value)
		repl := ""
		if field == "title" || field == "path" || field == "ext" {
			repl = value
		}
		remaining = strings.Replace(remaining, m[0], repl, 1)
	}

	remaining = applyNaturalLanguage(&q, remaining)
	q.Raw = strings.TrimSpace(collapseSpaces(remaining))
	return q
}

func applyField(q *Query, field, value string) {
	switch field {
	case "tag":
		q.Filters.TagsInclude = append(q.Filters.TagsInclude, value)
	case "kind":
		q.Filters.Kinds = append(q.Filters.Kinds, store.KindVariant(strings.ToLower(value)))
	default:
		// title/path/ext have no dedicated filter column; the denormalized
		// records_fts content already folds in title and path basename, so
		// the value is kept in the free-text query instead.
	}
}

var wordRe = regexp.MustCompile(`\S+`)

// applyNaturalLanguage recognizes date and type phrases (spec.md §4.8
// "Natural-language preprocessing") and strips them from the text, token
// by token so multi-word phrases like "last week" are matched before
// falling back to leaving a word in place.
func applyNaturalLanguage(q *Query, text string) string {
	lower := strings.ToLower(text)

	for _, phrase := range []string{"last week", "last month"} {
		if strings.Contains(lower, phrase) {
			applyDatePhrase(q, phrase)
			text = replaceCaseInsensitive(text, phrase, "")
			lower = strings.ToLower(text)
		}
	}
	for _, phrase := range []string{"today", "yesterday"} {
		if containsWord(lower, phrase) {
			applyDatePhrase(q, phrase)
			text = removeWord(text, phrase)
			lower = strings.ToLower(text)
		}
	}

	words := wordRe.FindAllString(text, -1)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		lw := strings.ToLower(w)
		if kind, ok := kindPhrases[lw]; ok {
			q.Filters.Kinds = append(q.Filters.Kinds, kind)
			continue
		}
		if yr, ok := parseYearOrYearMonth(w); ok {
			q.Filters.ModifiedFrom, q.Filters.ModifiedTo = yr.from, yr.to
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func applyDatePhrase(q *Query, phrase string) {
	now := time.Now()
	startOfDay := func(t time.Time) time.Time {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	}
	switch phrase {
	case "today":
		from := startOfDay(now)
		q.Filters.ModifiedFrom, q.Filters.ModifiedTo = from, from.Add(24*time.Hour-time.Nanosecond)
	case "yesterday":
		from := startOfDay(now.AddDate(0, 0, -1))
		q.Filters.ModifiedFrom, q.Filters.ModifiedTo = from, from.Add(24*time.Hour-time.Nanosecond)
	case "last week":
		q.Filters.ModifiedFrom, q.Filters.ModifiedTo = now.AddDate(0, 0, -7), now
	case "last month":
		q.Filters.ModifiedFrom, q.Filters.ModifiedTo = now.AddDate(0, -1, 0), now
	}
}

type yearRange struct{ from, to time.Time }

var yearMonthRe = regexp.MustCompile(`^(\d{4})(-(\d{2}))?$`)

func parseYearOrYearMonth(w string) (yearRange, bool) {
	m := yearMonthRe.FindStringSubmatch(w)
	if m == nil {
		return yearRange{}, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil || year < 1970 || year > 2100 {
		return yearRange{}, false
	}
	if m[3] == "" {
		from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		return yearRange{from: from, to: from.AddDate(1, 0, 0).Add(-time.Nanosecond)}, true
	}
	month, err := strconv.Atoi(m[3])
	if err != nil || month < 1 || month > 12 {
		return yearRange{}, false
	}
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return yearRange{from: from, to: from.AddDate(0, 1, 0).Add(-time.Nanosecond)}, true
}

func containsWord(haystack, word string) bool {
	for _, w := range strings.Fields(haystack) {
		if w == word {
			return true
		}
	}
	return false
}

func removeWord(text, word string) string {
	words := strings.Fields(text)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if strings.EqualFold(w, word) {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func replaceCaseInsensitive(text, phrase, repl string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phrase))
	return re.ReplaceAllString(text, repl)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
