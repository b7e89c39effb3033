package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

// Collection names for the three embedding spaces the engine maintains
// (spec.md §4.3: text=768, image=512, code=768 by default).
const (
	CollectionText  = "text"
	CollectionImage = "image"
	CollectionCode  = "code"
)

// VectorStoreStatus reports whether a collection is served by the native
// HNSW index or has degraded to the relational BLOB fallback.
type VectorStoreStatus string

const (
	VectorStatusNative   VectorStoreStatus = "native"
	VectorStatusFallback VectorStoreStatus = "fallback"
)

// CollectionRouter owns one VectorStore per embedding collection and routes
// Adapter calls to the right one, switching a collection to the BLOB
// fallback on dimension mismatch rather than failing the caller (spec.md
// §4.3 "Vector Store Adapter", §7 degrade-path requirement).
type CollectionRouter struct {
	mu          sync.RWMutex
	backing     blobBacked
	dir         string
	collections map[string]VectorStore
	statuses    map[string]VectorStoreStatus
}

// NewCollectionRouter constructs a router that persists HNSW graphs under
// dir and uses backing for the BLOB fallback tier.
func NewCollectionRouter(dir string, backing blobBacked) *CollectionRouter {
	return &CollectionRouter{
		backing:     backing,
		dir:         dir,
		collections: make(map[string]VectorStore),
		statuses:    make(map[string]VectorStoreStatus),
	}
}

// Open initializes (or loads) the store for a collection at the given
// dimensionality. If a prior native index exists on disk with a different
// dimension, Open degrades that collection to fallback rather than erroring.
func (c *CollectionRouter) Open(collection string, dimensions int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := DefaultVectorStoreConfig(dimensions)
	hnswStore, err := NewHNSWStore(cfg)
	if err != nil {
		return fmt.Errorf("create hnsw store for %s: %w", collection, err)
	}

	path := c.indexPath(collection)
	if fileExists(path) {
		if loadErr := hnswStore.Load(path); loadErr != nil {
			slog.Warn("vector_collection_load_failed_degrading_to_fallback",
				slog.String("collection", collection),
				slog.String("error", loadErr.Error()))
			c.degradeLocked(collection, cfg)
			return nil
		}
		if hnswStore.config.Dimensions != dimensions {
			slog.Warn("vector_collection_dimension_changed_degrading_to_fallback",
				slog.String("collection", collection),
				slog.Int("stored_dimensions", hnswStore.config.Dimensions),
				slog.Int("requested_dimensions", dimensions))
			c.degradeLocked(collection, cfg)
			return nil
		}
	}

	c.collections[collection] = hnswStore
	c.statuses[collection] = VectorStatusNative
	return nil
}

func (c *CollectionRouter) degradeLocked(collection string, cfg VectorStoreConfig) {
	fb := NewFallbackVectorStore(c.backing, collection, cfg)
	_ = fb.Load("")
	c.collections[collection] = fb
	c.statuses[collection] = VectorStatusFallback
}

func (c *CollectionRouter) indexPath(collection string) string {
	return filepath.Join(c.dir, collection+".hnsw")
}

// Status reports the current serving mode for a collection.
func (c *CollectionRouter) Status(collection string) VectorStoreStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statuses[collection]
}

// Add stores vectors in the given collection, degrading to fallback
// in-place on a dimension mismatch so the write still succeeds.
func (c *CollectionRouter) Add(ctx context.Context, collection string, ids []string, vectors [][]float32) error {
	c.mu.Lock()
	store, ok := c.collections[collection]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown collection %q", collection)
	}
	c.mu.Unlock()

	err := store.Add(ctx, ids, vectors)
	var mismatch ErrDimensionMismatch
	if ok := asDimensionMismatch(err, &mismatch); ok {
		c.mu.Lock()
		slog.Warn("vector_add_dimension_mismatch_degrading_to_fallback",
			slog.String("collection", collection),
			slog.Int("expected", mismatch.Expected),
			slog.Int("got", mismatch.Got))
		cfg := DefaultVectorStoreConfig(mismatch.Got)
		c.degradeLocked(collection, cfg)
		store = c.collections[collection]
		c.mu.Unlock()
		return store.Add(ctx, ids, vectors)
	}
	return err
}

// Search queries a collection's vector store.
func (c *CollectionRouter) Search(ctx context.Context, collection string, query []float32, k int) ([]*VectorResult, error) {
	c.mu.RLock()
	store, ok := c.collections[collection]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return store.Search(ctx, query, k)
}

// Delete removes ids from a collection's vector store.
func (c *CollectionRouter) Delete(ctx context.Context, collection string, ids []string) error {
	c.mu.RLock()
	store, ok := c.collections[collection]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return store.Delete(ctx, ids)
}

// SaveAll persists every native collection's HNSW graph to disk.
func (c *CollectionRouter) SaveAll() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, store := range c.collections {
		if c.statuses[name] != VectorStatusNative {
			continue
		}
		if err := store.Save(c.indexPath(name)); err != nil {
			return fmt.Errorf("save collection %s: %w", name, err)
		}
	}
	return nil
}

// CloseAll releases every collection's store.
func (c *CollectionRouter) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, store := range c.collections {
		_ = store.Close()
	}
	return nil
}

func asDimensionMismatch(err error, target *ErrDimensionMismatch) bool {
	if err == nil {
		return false
	}
	if m, ok := err.(ErrDimensionMismatch); ok {
		*target = m
		return true
	}
	return false
}
