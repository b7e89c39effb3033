// Package indexer implements the Indexer Pipeline (C5): turning a Source's
// subtree into Records in the relational and vector stores. It owns
// discovery (via internal/scanner), change detection against what's already
// stored, batched extraction and embedding, and deletion reconciliation.
package indexer

import (
	"runtime"
	"time"

	"github.com/localfile/engine/internal/store"
)

// JobMode selects how much of a Source's subtree a run considers.
type JobMode string

const (
	// ModeInitial indexes every discovered path under the source, as if
	// nothing had been indexed before (spec.md §4.5 "initial scan").
	ModeInitial JobMode = "initial"

	// ModeRefresh re-walks the source, indexing only paths whose size or
	// mtime changed since the stored Record, then reconciles deletions
	// (spec.md §4.5 "scheduled re-sync").
	ModeRefresh JobMode = "refresh"

	// ModeSingleFile reindexes exactly one path, bypassing discovery
	// entirely. Used by the Watcher (C6) for a single filesystem event.
	ModeSingleFile JobMode = "single_file"
)

// Job describes one indexing run handed to the Pipeline.
type Job struct {
	Source *store.Source
	Mode   JobMode

	// Path is set only for ModeSingleFile.
	Path string
}

// Config tunes the pipeline's batching and concurrency. Unset (zero) fields
// are replaced by DefaultConfig's values by NewPipeline.
type Config struct {
	// BatchSize is how many discovered paths are grouped before a single
	// UpsertRecords transaction (spec.md §4.5 step 5). Default 200.
	BatchSize int

	// MaxConcurrency bounds how many files are extracted in parallel
	// within a batch (spec.md §4.5 step 3). Default min(16, NumCPU).
	MaxConcurrency int

	// ExtractTimeout bounds a single file's extraction, so one hung
	// extractor cannot stall a batch (spec.md §4.1).
	ExtractTimeout time.Duration

	// TagConfidenceThreshold is the minimum AI tag-suggestion confidence
	// (0-100) accepted without user review (spec.md §4.9). Default 60.
	TagConfidenceThreshold int
}

// DefaultConfig returns the pipeline's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		BatchSize:              200,
		MaxConcurrency:         min(16, runtime.NumCPU()),
		ExtractTimeout:         30 * time.Second,
		TagConfidenceThreshold: 60,
	}
}
