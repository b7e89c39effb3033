// Package store provides vector storage (HNSW), BM25 keyword search, and
// relational persistence (SQLite) for indexed records. This is the
// persistence layer backing the Relational Store (C2) and Vector Store
// Adapter (C3) of the indexing engine.
package store

import (
	"context"
	"fmt"
	"time"
)

// KindVariant discriminates the tagged Kind union.
type KindVariant string

const (
	KindImage        KindVariant = "image"
	KindVideo        KindVariant = "video"
	KindAudio        KindVariant = "audio"
	KindDocument     KindVariant = "document"
	KindCode         KindVariant = "code"
	KindSpreadsheet  KindVariant = "spreadsheet"
	KindPresentation KindVariant = "presentation"
	KindArchive      KindVariant = "archive"
	KindDatabase     KindVariant = "database"
	KindFolder       KindVariant = "folder"
	KindUnknown      KindVariant = "unknown"
)

// Kind is the tagged-variant classification of a Record (spec.md §3).
// Only the fields relevant to Variant are populated; the rest are zero.
type Kind struct {
	Variant KindVariant `json:"variant"`

	// Image / Video fields.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// Video / Audio fields.
	DurationMS int64 `json:"duration_ms,omitempty"`

	Format string `json:"format,omitempty"` // container/encoding format

	// Document fields.
	PageCount int `json:"page_count,omitempty"`

	// Code fields.
	Language  string `json:"language,omitempty"`
	LineCount int    `json:"line_count,omitempty"`
}

// GeoLocation is a decimal-degree GPS coordinate, typically from EXIF.
type GeoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EXIFData holds camera/capture metadata extracted from image headers.
type EXIFData struct {
	CameraModel string       `json:"camera_model,omitempty"`
	Orientation int          `json:"orientation,omitempty"`
	CapturedAt  time.Time    `json:"captured_at,omitempty"`
	Location    *GeoLocation `json:"location,omitempty"`
}

// CodeInfo summarizes a parsed source file (spec.md §4.1).
type CodeInfo struct {
	Imports   []string `json:"imports,omitempty"`
	Exports   []string `json:"exports,omitempty"`
	Functions []string `json:"functions,omitempty"`
}

// Metadata is the flat, mostly-optional attribute bag attached to a Record
// (spec.md §3). Extra is an escape hatch for extractor-specific fields that
// do not warrant a first-class column.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	SizeBytes   int64  `json:"size_bytes"`
	MimeType    string `json:"mime_type,omitempty"`
	ContentHash string `json:"content_hash,omitempty"` // hex SHA-256, lazily computed

	EXIF *EXIFData `json:"exif,omitempty"`

	Width      int   `json:"width,omitempty"`
	Height     int   `json:"height,omitempty"`
	DurationMS int64 `json:"duration_ms,omitempty"`

	Location *GeoLocation `json:"location,omitempty"`

	TextPreview string `json:"text_preview,omitempty"` // first N chars
	WordCount   int    `json:"word_count,omitempty"`

	Code *CodeInfo `json:"code,omitempty"`

	AISummary string   `json:"ai_summary,omitempty"`
	AITags    []string `json:"ai_tags,omitempty"`
	AICaption string   `json:"ai_caption,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// TagKind distinguishes who or what produced a Tag.
type TagKind string

const (
	TagUser   TagKind = "user"
	TagSystem TagKind = "system"
	TagAI     TagKind = "ai"
)

// Tag is a (name, kind, confidence) triple attached to a Record. Names may
// express hierarchy via "/" (e.g. "project/hippo"); a filter on "project"
// matches all descendants (spec.md §3).
type Tag struct {
	Name       string  `json:"name"`
	Kind       TagKind `json:"kind"`
	Confidence int     `json:"confidence"` // 0-100, meaningful for AI tags
}

// Record is the indexed unit (spec.md §3).
type Record struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"` // absolute, canonical
	SourceID     string    `json:"source_id"`
	Kind         Kind      `json:"kind"`
	Metadata     Metadata  `json:"metadata"`
	Tags         []Tag     `json:"tags"`
	EmbeddingID  string    `json:"embedding_id,omitempty"` // opaque handle into vector store
	Favorite     bool      `json:"favorite"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"` // file mtime
	IndexedAt    time.Time `json:"indexed_at"`  // wall-clock at last successful write
}

// HasTag reports whether r carries a tag with the given name.
func (r *Record) HasTag(name string) bool {
	for _, t := range r.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// SourceKind enumerates the source variants. Only Local is implemented;
// the rest are stubs reserved for future cloud-source collaborators
// (spec.md §3, explicitly out of scope per spec.md §1 non-goals).
type SourceKind string

const (
	SourceLocal SourceKind = "local"
)

// Source is a user-configured root whose subtree is indexed.
type Source struct {
	ID       string     `json:"id"`
	Kind     SourceKind `json:"kind"`
	Root     string     `json:"root"` // meaningful for Kind==Local
	Enabled  bool       `json:"enabled"`
	LastSync time.Time  `json:"last_sync"`
}

// TagCount is the maintained (name -> count) aggregate (spec.md §3,
// invariant 2).
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// RecordFilters restrict a text/semantic/fuzzy search (spec.md §4.8).
type RecordFilters struct {
	TagsInclude  []string
	TagsExclude  []string
	Kinds        []KindVariant
	SizeMin      int64
	SizeMax      int64
	ModifiedFrom time.Time
	ModifiedTo   time.Time
	CreatedFrom  time.Time
	CreatedTo    time.Time
	IndexedFrom  time.Time
	IndexedTo    time.Time
	FavoriteOnly bool
	SourceIDs    []string
}

// SortOrder enumerates the Searcher's supported sort keys (spec.md §4.8).
type SortOrder string

const (
	SortRelevance    SortOrder = "relevance"
	SortModifiedAsc  SortOrder = "modified_asc"
	SortModifiedDesc SortOrder = "modified_desc"
	SortCreatedAsc   SortOrder = "created_asc"
	SortCreatedDesc  SortOrder = "created_desc"
	SortIndexedAsc   SortOrder = "indexed_asc"
	SortIndexedDesc  SortOrder = "indexed_desc"
	SortNameAsc      SortOrder = "name_asc"
	SortNameDesc     SortOrder = "name_desc"
	SortSizeAsc      SortOrder = "size_asc"
	SortSizeDesc     SortOrder = "size_desc"
)

// ScoredID is a (record id, relevance score) pair as returned by
// search_text / searches over the relational store.
type ScoredID struct {
	ID    string
	Score float64
}

// RecordStore persists Records, Sources, Tags, and TagCounts, and exposes
// the full-text search surface backing the Relational Store (C2). This is
// the spec.md §4.2 operations contract.
type RecordStore interface {
	UpsertRecord(ctx context.Context, r *Record) error

	// UpsertRecords writes a whole indexing batch in one transaction
	// (spec.md §4.5 step 5), so a batch's writes are all-or-nothing.
	UpsertRecords(ctx context.Context, records []*Record) error

	GetRecord(ctx context.Context, id string) (*Record, error)
	GetRecordByPath(ctx context.Context, path string) (*Record, error)
	DeleteRecord(ctx context.Context, id string) error
	DeleteByPathPrefix(ctx context.Context, prefix string) (int, error)

	ListTags(ctx context.Context) ([]TagCount, error)
	AddTag(ctx context.Context, id string, tag Tag) error
	RemoveTag(ctx context.Context, id string, name string) error
	SetFavorite(ctx context.Context, id string, fav bool) (bool, error)

	SearchText(ctx context.Context, tokens []string, filters RecordFilters, limit, offset int) ([]ScoredID, error)
	CountMatches(ctx context.Context, tokens []string, filters RecordFilters) (uint64, error)
	Recent(ctx context.Context, limit int, sort SortOrder) ([]*Record, error)

	// ListPathsUnderSource returns every non-deleted record path owned by
	// sourceID, used by the Indexer's deletion-reconciliation pass
	// (spec.md §4.5).
	ListPathsUnderSource(ctx context.Context, sourceID string) ([]string, error)

	// Duplicates groups records sharing a content hash (C10, spec.md §4.10).
	Duplicates(ctx context.Context, minSize int64) ([]DuplicateGroup, error)

	// Vector fallback BLOB storage (C3 degrade path, spec.md §4.3).
	PutVectorBlob(ctx context.Context, collection, handle string, vector []float32, recordID string) error
	GetAllVectorBlobs(ctx context.Context, collection string) (map[string][]float32, error)
	DeleteVectorBlob(ctx context.Context, collection, handle string) error

	SaveSource(ctx context.Context, s *Source) error
	GetSource(ctx context.Context, id string) (*Source, error)
	ListSources(ctx context.Context) ([]*Source, error)
	DeleteSource(ctx context.Context, id string) error
	TouchSourceSync(ctx context.Context, id string, at time.Time) error

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// DuplicateGroup is one content-hash cluster returned by Duplicates (C10).
type DuplicateGroup struct {
	ContentHash string
	RecordIDs   []string
	Paths       []string
	SizeBytes   int64
	Count       int
}

// CurrentSchemaVersion is the current relational-store schema version.
const CurrentSchemaVersion = 1

// State keys for the key-value state table.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyVectorStatus stores whether the vector store is "native" or
	// "fallback" (spec.md §4.3 status flag surfaced to the Facade).
	StateKeyVectorStatus = "vector_store_status"
)

// Document represents a document to be indexed in the BM25 full-text index.
type Document struct {
	ID      string // Record ID
	Content string // Denormalized searchable text
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using the BM25 algorithm (spec.md §4.2
// "full-text-search capability attached to denormalized columns").
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64

	// B is the length normalization parameter (default: 0.75).
	B float64

	// StopWords is a list of words to filter out during tokenization.
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2).
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords contains common filler words filtered out of the index.
var DefaultStopWords = []string{
	"the", "a", "an", "and", "or", "of", "to", "in", "on", "for",
	"is", "are", "was", "were", "be", "been", "it", "this", "that",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // embedding handle
	Distance float32 // lower is more similar (0-2 for cosine)
	Score    float32 // cosine similarity re-mapped to [0,1] by callers that need it
}

// VectorStoreConfig configures a single collection's vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension for this collection (spec.md §4.3:
	// text=768, image=512, code=768 by default).
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	// Cosine is the sole distance used per spec.md §4.3.
	Metric string

	// M is HNSW max connections per layer.
	M int

	// EfConstruction is HNSW build-time search width.
	EfConstruction int

	// EfSearch is HNSW query-time search width.
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for a collection.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              16,
		EfConstruction: 128,
		EfSearch:       20,
	}
}

// VectorStore provides approximate nearest-neighbor search over a single
// collection (spec.md §4.3).
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch between a
// query/upsert and the collection's configured dimension. Per spec.md
// §4.3/§7, this triggers the Vector Store Adapter's silent degrade to
// relational-store fallback.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
