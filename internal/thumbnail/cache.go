// Package thumbnail implements the Thumbnail Cache (C9): a two-tier
// (memory + disk) cache of derived previews, keyed by the source file's
// absolute path.
package thumbnail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is the default square thumbnail dimension (spec.md §4.9).
const DefaultSize = 256

// MemoryCapacity is the memory tier's entry-count bound.
const MemoryCapacity = 2000

// MemoryByteBudget is the memory tier's total-byte bound; entries are
// evicted beyond either bound (spec.md §4.9).
const MemoryByteBudget = 100 * 1024 * 1024

// NegativeCacheTTL is how long a regeneration failure is remembered, to
// prevent thundering retries against the same unreadable source.
const NegativeCacheTTL = 60 * time.Second

// Entry is one cached thumbnail.
type Entry struct {
	Data     []byte
	MimeType string
	CachedAt time.Time
}

// Generator produces a thumbnail's bytes for a source file. Implementations
// must not block indefinitely; callers pass a context with a deadline.
type Generator interface {
	Generate(ctx context.Context, path string, size int) ([]byte, string, error)
}

type negativeEntry struct {
	at  time.Time
	err error
}

// Cache is the two-tier thumbnail store. The memory tier is a
// github.com/hashicorp/golang-lru/v2 LRU bounded by entry count; a side
// byte-accounting map enforces the additional byte-budget bound the
// library itself doesn't express. The disk tier names files by
// SHA-256(absolute_path) under dir, written via a temp-file-then-rename,
// mirroring the Vector Store Adapter's HNSWStore.Save atomic-write
// pattern (internal/store/hnsw.go).
type Cache struct {
	dir       string
	size      int
	generator Generator

	mem      *lru.Cache[string, *Entry]
	memBytes int
	memMu    sync.Mutex

	negative   map[string]negativeEntry
	negativeMu sync.Mutex

	group singleflight.Group
}

// New builds a Cache rooted at dir, generating thumbnails via gen at
// size×size pixels.
func New(dir string, gen Generator, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	mem, err := lru.New[string, *Entry](MemoryCapacity)
	if err != nil {
		return nil, fmt.Errorf("thumbnail: create memory cache: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("thumbnail: create cache dir: %w", err)
	}
	return &Cache{
		dir:       dir,
		size:      size,
		generator: gen,
		mem:       mem,
		negative:  make(map[string]negativeEntry),
	}, nil
}

// Get returns the thumbnail for path, generating and caching it if
// necessary (spec.md §4.9 "Request flow for get(path)").
func (c *Cache) Get(ctx context.Context, path string) (*Entry, error) {
	sourceMod, err := sourceModTime(path)
	if err != nil {
		return nil, fmt.Errorf("thumbnail: stat source: %w", err)
	}

	if e, ok := c.fromMemory(path); ok && !e.CachedAt.Before(sourceMod) {
		return e, nil
	}

	if e, ok := c.fromDisk(path); ok {
		diskMod, statErr := fileModTime(c.diskPath(path))
		if statErr == nil && !diskMod.Before(sourceMod) {
			c.storeMemory(path, e)
			return e, nil
		}
	}

	if neg, ok := c.checkNegative(path); ok {
		return nil, neg
	}

	return c.regenerate(ctx, path)
}

// regenerate runs Generator.Generate for path, deduplicating concurrent
// callers for the same path via singleflight so only one generation runs
// at a time and every other caller blocks on its result (spec.md §4.9
// "Concurrency").
func (c *Cache) regenerate(ctx context.Context, path string) (*Entry, error) {
	v, err, _ := c.group.Do(path, func() (any, error) {
		data, mime, genErr := c.generator.Generate(ctx, path, c.size)
		if genErr != nil {
			c.storeNegative(path, genErr)
			return nil, genErr
		}
		entry := &Entry{Data: data, MimeType: mime, CachedAt: time.Now()}
		if writeErr := c.writeDisk(path, entry); writeErr != nil {
			return nil, fmt.Errorf("thumbnail: write disk tier: %w", writeErr)
		}
		c.storeMemory(path, entry)
		c.clearNegative(path)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

func (c *Cache) fromMemory(path string) (*Entry, bool) {
	c.memMu.Lock()
	defer c.memMu.Unlock()
	e, ok := c.mem.Get(path)
	return e, ok
}

func (c *Cache) storeMemory(path string, e *Entry) {
	c.memMu.Lock()
	defer c.memMu.Unlock()

	if old, ok := c.mem.Peek(path); ok {
		c.memBytes -= len(old.Data)
	}
	c.mem.Add(path, e)
	c.memBytes += len(e.Data)

	for c.memBytes > MemoryByteBudget && c.mem.Len() > 0 {
		_, evicted, ok := c.mem.GetOldest()
		if !ok {
			break
		}
		c.mem.RemoveOldest()
		c.memBytes -= len(evicted.Data)
	}
}

func (c *Cache) checkNegative(path string) (error, bool) {
	c.negativeMu.Lock()
	defer c.negativeMu.Unlock()
	n, ok := c.negative[path]
	if !ok {
		return nil, false
	}
	if time.Since(n.at) > NegativeCacheTTL {
		delete(c.negative, path)
		return nil, false
	}
	return n.err, true
}

func (c *Cache) storeNegative(path string, err error) {
	c.negativeMu.Lock()
	defer c.negativeMu.Unlock()
	c.negative[path] = negativeEntry{at: time.Now(), err: err}
}

func (c *Cache) clearNegative(path string) {
	c.negativeMu.Lock()
	defer c.negativeMu.Unlock()
	delete(c.negative, path)
}

func (c *Cache) diskPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".jpg")
}

func (c *Cache) fromDisk(path string) (*Entry, bool) {
	data, err := os.ReadFile(c.diskPath(path))
	if err != nil {
		return nil, false
	}
	mod, err := fileModTime(c.diskPath(path))
	if err != nil {
		return nil, false
	}
	return &Entry{Data: data, MimeType: "image/jpeg", CachedAt: mod}, true
}

// writeDisk writes entry's bytes to the disk tier via a temp file and
// atomic rename, so a concurrent reader never observes a partial file.
func (c *Cache) writeDisk(path string, entry *Entry) error {
	dest := c.diskPath(path)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, entry.Data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

func sourceModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func fileModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// ErrUnsupportedSource is returned by a Generator when path's kind has no
// thumbnail strategy.
var ErrUnsupportedSource = errors.New("thumbnail: unsupported source kind")
