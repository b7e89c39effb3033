// Package search implements the Searcher (C8): translating a parsed query
// into ranked Records via the relational store's text search, the vector
// store's nearest-neighbor search, a weighted-sum fusion of the two, and a
// fuzzy fallback when text mode starves.
package search

import (
	"time"

	"github.com/localfile/engine/internal/store"
)

// Mode selects which of the four execution paths a query runs (spec.md
// §4.8). ModeAuto (the default) chooses Hybrid when both a text query and
// a semantic signal are available, Text when semantic_weight is 0, and
// falls through to Fuzzy when Text starves.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeText     Mode = "text"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
	ModeFuzzy    Mode = "fuzzy"
)

// Weights are the hybrid fusion coefficients (spec.md §4.8(c)).
type Weights struct {
	Semantic float64
	Text     float64
}

// DefaultWeights is the spec's default hybrid split.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.7, Text: 0.3}
}

// Highlight is one field snippet surfaced alongside a result (spec.md
// §4.8 "Result objects").
type Highlight struct {
	Field    string
	Fragment string
}

// Result pairs a Record with its score and any highlighted snippets.
type Result struct {
	Record     *store.Record
	Score      float64
	Highlights []Highlight
}

// Query is the parsed request handed to the Engine. Callers either build
// one directly or get one back from ParseQuery applied to raw user input.
type Query struct {
	// Raw is the free-text portion after field-scoped clauses and
	// natural-language phrases have been pulled out (spec.md §4.8 "Query
	// surface").
	Raw string

	Mode    Mode
	Weights Weights

	Filters store.RecordFilters
	Sort    store.SortOrder

	// QueryVector, when non-nil, is used directly by semantic/hybrid mode
	// instead of computing one via the Embedder.
	QueryVector []float32

	Limit  int
	Offset int
}

// DefaultLimit is used when a Query specifies none.
const DefaultLimit = 20

// FuzzyScanLimit bounds how many recent records a fuzzy scan considers
// (spec.md §4.8(d)).
const FuzzyScanLimit = 2000

// FuzzyMaxQueryLen is the query-length ceiling for engaging fuzzy mode.
const FuzzyMaxQueryLen = 32

// FuzzyMinScore is the minimum normalized similarity kept (spec.md §4.8(d)).
const FuzzyMinScore = 0.5

// recencyBoost mirrors spec.md §4.8(a)'s text-mode recency bonus.
func recencyBoost(modifiedAt time.Time) float64 {
	age := time.Since(modifiedAt)
	switch {
	case age < 7*24*time.Hour:
		return 1.10
	case age < 30*24*time.Hour:
		return 1.05
	default:
		return 1.0
	}
}
