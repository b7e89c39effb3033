// Package extract implements the Metadata Extractor (C1): per-Kind
// extraction of Kind/Metadata fields from a file on disk, dispatched by
// extension (the MIME type is also derived from the extension).
package extract

import (
	"context"

	"github.com/localfile/engine/internal/store"
)

// Result is what an Extractor produces for one file.
type Result struct {
	Kind     store.Kind
	Metadata store.Metadata
}

// Extractor extracts Kind/Metadata for a single file. Implementations must
// not block indefinitely — callers pass a context with a per-file deadline
// (spec.md §4.1 "a hung extractor must not stall the whole pipeline").
type Extractor interface {
	// Supports reports whether this extractor handles the given extension
	// (lowercase, with leading dot) and/or sniffed MIME type.
	Supports(ext, mimeType string) bool

	// Extract reads path and produces a Result. The Dispatcher fills in
	// Metadata.SizeBytes and MimeType afterwards.
	Extract(ctx context.Context, path string) (Result, error)
}

// Dispatcher routes a file to the first Extractor that supports it, falling
// back to a generic unknown-kind result when nothing matches.
type Dispatcher struct {
	extractors []Extractor
}

// NewDispatcher builds the default extractor chain: code, image, media,
// text. TextExtractor accepts every extension, so it must stay last; the
// other three claim disjoint extension sets.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		extractors: []Extractor{
			NewCodeExtractor(),
			NewImageExtractor(),
			NewMediaExtractor(),
			NewTextExtractor(),
		},
	}
}

// Extract dispatches path to the first matching Extractor.
func (d *Dispatcher) Extract(ctx context.Context, path string, sizeBytes int64) (Result, error) {
	ext := extOf(path)
	mimeType := SniffMIME(path, ext)

	for _, e := range d.extractors {
		if e.Supports(ext, mimeType) {
			res, err := e.Extract(ctx, path)
			if err != nil {
				return Result{}, err
			}
			res.Metadata.SizeBytes = sizeBytes
			res.Metadata.MimeType = mimeType
			return res, nil
		}
	}

	return Result{
		Kind: store.Kind{Variant: store.KindUnknown},
		Metadata: store.Metadata{
			SizeBytes: sizeBytes,
			MimeType:  mimeType,
		},
	}, nil
}
