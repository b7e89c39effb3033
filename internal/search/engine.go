package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/localfile/engine/internal/embed"
	"github.com/localfile/engine/internal/store"
)

// Engine is the Searcher (C8): it executes spec.md §4.8's four modes over
// the relational and vector stores and fuses their results. It never talks
// to the filesystem or an AI backend directly — the Facade (C11) owns
// those collaborators and injects what Engine needs.
type Engine struct {
	records  store.RecordStore
	vectors  *store.CollectionRouter
	embedder embed.Embedder
	fuser    Fuser
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithFusion overrides the default WeightedSumFusion with another Fuser
// (e.g. NewRRFFusion(), kept as an alternate for callers who prefer
// rank-based fusion).
func WithFusion(f Fuser) EngineOption {
	return func(e *Engine) { e.fuser = f }
}

// NewEngine builds an Engine over its C2/C3/C4 collaborators.
func NewEngine(records store.RecordStore, vectors *store.CollectionRouter, embedder embed.Embedder, opts ...EngineOption) *Engine {
	e := &Engine{records: records, vectors: vectors, embedder: embedder, fuser: WeightedSumFusion{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs q against the store, picking an execution mode per spec.md
// §4.8 when q.Mode is ModeAuto, and returns results sorted per q.Sort
// (relevance sort is whatever the mode/fuser produced; any other sort
// order is applied by the relational store directly and this just wraps
// the scores as Results).
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Weights == (Weights{}) {
		q.Weights = DefaultWeights()
	}
	if q.Sort == "" {
		q.Sort = store.SortRelevance
	}

	tokens := strings.Fields(q.Raw)
	hasText := len(tokens) > 0
	hasSemantic := len(q.QueryVector) > 0 || (e.embedder != nil && e.embedder.Available(ctx))

	mode := q.Mode
	if q.Sort != store.SortRelevance {
		return e.browse(ctx, q)
	}
	if mode == ModeAuto {
		switch {
		case hasText && q.Weights.Semantic == 0:
			mode = ModeText
		case !hasText && hasSemantic:
			mode = ModeSemantic
		case hasText && hasSemantic:
			mode = ModeHybrid
		default:
			mode = ModeText
		}
	}

	var results []Result
	var err error

	switch mode {
	case ModeText:
		results, err = e.searchText(ctx, tokens, q)
	case ModeSemantic:
		results, err = e.searchSemantic(ctx, q)
	case ModeHybrid:
		results, err = e.searchHybrid(ctx, tokens, q)
	case ModeFuzzy:
		results, err = e.searchFuzzy(ctx, q)
	default:
		return nil, fmt.Errorf("search: unknown mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	// Fuzzy fallback: text mode starved and the query is short enough
	// (spec.md §4.8(d)).
	if mode == ModeText && len(results) < minInt(q.Limit, 10) && len(q.Raw) <= FuzzyMaxQueryLen && q.Raw != "" {
		fuzzy, ferr := e.searchFuzzy(ctx, q)
		if ferr == nil {
			results = mergeUnique(results, fuzzy)
		}
	}

	sortResults(results)
	return results, nil
}

// CountMatches reports the total match count for q, independent of
// pagination (spec.md §4.8 "Total count is reported separately").
func (e *Engine) CountMatches(ctx context.Context, q Query) (uint64, error) {
	tokens := strings.Fields(q.Raw)
	return e.records.CountMatches(ctx, tokens, q.Filters)
}

func (e *Engine) browse(ctx context.Context, q Query) ([]Result, error) {
	recs, err := e.records.Recent(ctx, q.Limit+q.Offset, q.Sort)
	if err != nil {
		return nil, err
	}
	if q.Offset < len(recs) {
		recs = recs[q.Offset:]
	} else {
		recs = nil
	}
	if len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	out := make([]Result, len(recs))
	for i, r := range recs {
		out[i] = Result{Record: r, Score: float64(len(recs) - i)}
	}
	return out, nil
}

// searchText is mode (a): BM25 over records_fts plus a recency boost.
func (e *Engine) searchText(ctx context.Context, tokens []string, q Query) ([]Result, error) {
	scored, err := e.records.SearchText(ctx, tokens, q.Filters, q.Limit+q.Offset, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(scored))
	for _, s := range scored {
		rec, err := e.records.GetRecord(ctx, s.ID)
		if err != nil {
			continue
		}
		score := s.Score * recencyBoost(rec.ModifiedAt)
		out = append(out, Result{Record: rec, Score: score, Highlights: highlightsFor(rec, tokens)})
	}
	return paginate(out, q.Offset, q.Limit), nil
}

// searchSemantic is mode (b): a CollectionRouter.Search over the query
// embedding, with structured filters applied by joining back to the
// relational store.
func (e *Engine) searchSemantic(ctx context.Context, q Query) ([]Result, error) {
	vec, collection, err := e.queryVector(ctx, q)
	if err != nil {
		return nil, err
	}
	hits, err := e.vectors.Search(ctx, collection, vec, q.Limit+q.Offset+20)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		rec, err := e.recordMatchingFilters(ctx, h.ID, q.Filters)
		if err != nil || rec == nil {
			continue
		}
		// cosine in [-1,1] remapped to [0,1].
		score := (float64(h.Score) + 1) / 2
		out = append(out, Result{Record: rec, Score: score})
	}
	return paginate(out, q.Offset, q.Limit), nil
}

// searchHybrid is mode (c): run text and semantic in parallel over the
// same filters and a common k, then fuse by weighted sum.
func (e *Engine) searchHybrid(ctx context.Context, tokens []string, q Query) ([]Result, error) {
	k := q.Limit * 3
	if k < 50 {
		k = 50
	}

	var textScores []store.ScoredID
	var textErr error
	textDone := make(chan struct{})
	go func() {
		defer close(textDone)
		textScores, textErr = e.records.SearchText(ctx, tokens, q.Filters, k, 0)
	}()
	vec, collection, vecErr := e.queryVector(ctx, q)

	var vecScores []*store.VectorResult
	if vecErr == nil {
		vecScores, vecErr = e.vectors.Search(ctx, collection, vec, k)
	}
	<-textDone
	if textErr != nil && vecErr != nil {
		return nil, fmt.Errorf("hybrid search: text=%w vector=%v", textErr, vecErr)
	}

	fused := e.fuser.Fuse(textScores, vecScores, q.Weights)

	out := make([]Result, 0, len(fused))
	for _, f := range fused {
		rec, err := e.records.GetRecord(ctx, f.ID)
		if err != nil {
			continue
		}
		out = append(out, Result{Record: rec, Score: f.Score, Highlights: highlightsFor(rec, tokens)})
	}
	return paginate(out, q.Offset, q.Limit), nil
}

// searchFuzzy is mode (d): a Levenshtein scan over the most recent
// records' titles. A record's filename is compared only when it has no
// title.
func (e *Engine) searchFuzzy(ctx context.Context, q Query) ([]Result, error) {
	if q.Raw == "" {
		return nil, nil
	}
	recent, err := e.records.Recent(ctx, FuzzyScanLimit, store.SortModifiedDesc)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec   *store.Record
		score float64
	}
	var matches []scored
	for _, rec := range recent {
		candidate := rec.Metadata.Title
		if candidate == "" {
			candidate = basename(rec.Path)
		}
		s := levenshteinSimilarity(q.Raw, candidate, FuzzyMinScore)
		if s >= FuzzyMinScore {
			matches = append(matches, scored{rec: rec, score: s})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].rec.ID < matches[j].rec.ID
	})

	out := make([]Result, len(matches))
	for i, m := range matches {
		out[i] = Result{Record: m.rec, Score: m.score}
	}
	return out, nil
}

// queryVector resolves the embedding to search with and the collection to
// search it against, from either an explicit Query.QueryVector or the
// Embedder, choosing a collection from the query's kind filter.
func (e *Engine) queryVector(ctx context.Context, q Query) ([]float32, string, error) {
	collection := collectionFor(q.Filters)
	if len(q.QueryVector) > 0 {
		return q.QueryVector, collection, nil
	}
	if e.embedder == nil {
		return nil, "", fmt.Errorf("search: no query embedding and no embedder configured")
	}
	vec, err := e.embedder.Embed(ctx, q.Raw)
	if err != nil {
		return nil, "", fmt.Errorf("embed query: %w", err)
	}
	return vec, collection, nil
}

func collectionFor(f store.RecordFilters) string {
	for _, k := range f.Kinds {
		switch k {
		case store.KindImage, store.KindVideo:
			return store.CollectionImage
		case store.KindCode:
			return store.CollectionCode
		}
	}
	return store.CollectionText
}

// recordMatchingFilters loads a record by its vector-store handle (the
// Record ID, per the Pipeline's embedding-ID convention) and re-applies
// filters the vector store itself cannot express.
func (e *Engine) recordMatchingFilters(ctx context.Context, id string, filters store.RecordFilters) (*store.Record, error) {
	rec, err := e.records.GetRecord(ctx, id)
	if err != nil {
		return nil, nil //nolint:nilerr // a stale vector handle is not a search error
	}
	if !matchesFilters(rec, filters) {
		return nil, nil
	}
	return rec, nil
}

func matchesFilters(rec *store.Record, f store.RecordFilters) bool {
	if len(f.Kinds) > 0 && !kindIn(rec.Kind.Variant, f.Kinds) {
		return false
	}
	if len(f.SourceIDs) > 0 && !stringIn(rec.SourceID, f.SourceIDs) {
		return false
	}
	if f.FavoriteOnly && !rec.Favorite {
		return false
	}
	if f.SizeMin > 0 && rec.Metadata.SizeBytes < f.SizeMin {
		return false
	}
	if f.SizeMax > 0 && rec.Metadata.SizeBytes > f.SizeMax {
		return false
	}
	for _, tag := range f.TagsInclude {
		if !rec.HasTag(tag) {
			return false
		}
	}
	for _, tag := range f.TagsExclude {
		if rec.HasTag(tag) {
			return false
		}
	}
	return true
}

func kindIn(k store.KindVariant, set []store.KindVariant) bool {
	for _, s := range set {
		if s == k {
			return true
		}
	}
	return false
}

func stringIn(s string, set []string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// highlightsFor builds spec.md §4.8 "Result objects" snippets for the text
// path; semantic-only results carry no highlights.
func highlightsFor(rec *store.Record, tokens []string) []Highlight {
	if len(tokens) == 0 {
		return nil
	}
	var out []Highlight
	if containsAnyFold(rec.Metadata.Title, tokens) {
		out = append(out, Highlight{Field: "title", Fragment: rec.Metadata.Title})
	}
	if containsAnyFold(rec.Metadata.TextPreview, tokens) {
		out = append(out, Highlight{Field: "text_preview", Fragment: rec.Metadata.TextPreview})
	}
	return out
}

func containsAnyFold(s string, tokens []string) bool {
	if s == "" {
		return false
	}
	low := strings.ToLower(s)
	for _, t := range tokens {
		if strings.Contains(low, strings.ToLower(strings.Trim(t, `"*`))) {
			return true
		}
	}
	return false
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// sortResults enforces spec.md §4.8's determinism rule: ties break by
// (score desc, modified desc, id asc).
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.ModifiedAt.Equal(b.Record.ModifiedAt) {
			return a.Record.ModifiedAt.After(b.Record.ModifiedAt)
		}
		return a.Record.ID < b.Record.ID
	})
}

func mergeUnique(base, extra []Result) []Result {
	seen := make(map[string]struct{}, len(base))
	for _, r := range base {
		seen[r.Record.ID] = struct{}{}
	}
	out := base
	for _, r := range extra {
		if _, ok := seen[r.Record.ID]; ok {
			continue
		}
		seen[r.Record.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func paginate(results []Result, offset, limit int) []Result {
	sortResults(results)
	if offset >= len(results) {
		return nil
	}
	results = results[offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
