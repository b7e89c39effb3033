// Package engine implements the Facade (C11): the single entry point that
// owns one instance each of the Relational Store, Vector Store Adapter,
// Metadata Extractor, and Thumbnail Cache, spawns the background Watcher
// and Scheduler goroutines per Source, and exposes the operation surface
// everything else in this module is otherwise only reachable through
// (add_source, remove_source, sync_source, search, tag/favorite
// mutations, thumbnails, stats, progress). Grounded on the teacher's
// lifecycle/server wiring (internal/aiclient/lifecycle.go), which is the
// only place in the teacher repo that constructs every collaborator and
// hands out one shared handle.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localfile/engine/internal/aiclient"
	"github.com/localfile/engine/internal/config"
	"github.com/localfile/engine/internal/embed"
	"github.com/localfile/engine/internal/extract"
	"github.com/localfile/engine/internal/indexer"
	"github.com/localfile/engine/internal/scheduler"
	"github.com/localfile/engine/internal/search"
	"github.com/localfile/engine/internal/store"
	"github.com/localfile/engine/internal/thumbnail"
	"github.com/localfile/engine/internal/watcher"
	"github.com/localfile/engine/internal/watchsync"
)

// Options configures the Facade's collaborators. Zero values fall back to
// each package's own defaults. Cfg, when set, supplies the tuning
// (indexing/embedding parallelism, hybrid weights, debounce/tick/sync
// intervals, thumbnail size) that the rest of the fields would otherwise
// have to repeat by hand; explicit fields still win over Cfg so callers
// can override a single knob without constructing a whole Config.
type Options struct {
	DataDir           string // holds the SQLite DB, HNSW indexes, thumbnail cache
	Cfg               *config.Config
	EmbeddingProvider embed.ProviderType
	EmbeddingModel    string
	AIHost            string
	AIModel           string
	IndexerConfig     indexer.Config
	WatcherOptions    watcher.Options
	ThumbnailSize     int
}

// applyConfig fills in any zero-valued Options fields from opts.Cfg.
func (opts *Options) applyConfig() {
	if opts.Cfg == nil {
		return
	}
	cfg := opts.Cfg
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = cfg.ThumbnailPX
	}
	if opts.EmbeddingProvider == "" {
		opts.EmbeddingProvider = embed.ProviderType(cfg.EmbeddingProvider)
	}
	if opts.IndexerConfig.MaxConcurrency <= 0 {
		opts.IndexerConfig.MaxConcurrency = cfg.IndexingParallelism
	}
	if opts.IndexerConfig.BatchSize <= 0 {
		opts.IndexerConfig.BatchSize = cfg.IndexingBatchSize
	}
	if opts.WatcherOptions.DebounceWindow == 0 && cfg.WatchDebounceMS > 0 {
		opts.WatcherOptions.DebounceWindow = time.Duration(cfg.WatchDebounceMS) * time.Millisecond
	}
	if opts.AIHost == "" && cfg.EmbeddingProvider == "ollama" {
		opts.AIHost = cfg.EmbeddingEndpoint
	}
}

// Engine is the Facade. One instance serves an entire process; all
// mutation and query operations are safe for concurrent use.
type Engine struct {
	opts Options

	records   store.RecordStore
	vectors   *store.CollectionRouter
	textEmb   embed.Embedder
	imageEmb  *embed.ImagePHashEmbedder
	dispatch  *extract.Dispatcher
	pipeline  *indexer.Pipeline
	searcher  *search.Engine
	thumbs    *thumbnail.Cache
	ai        *aiclient.Client
	scheduler *scheduler.Scheduler

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc // sourceID -> watcher bridge cancel
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs every C1-C4/C9 collaborator, the Indexer Pipeline, and
// the Searcher, but does not yet start any background goroutines — call
// Start for that.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.DataDir == "" {
		opts.DataDir = "."
	}
	opts.applyConfig()
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = thumbnail.DefaultSize
	}
	if opts.EmbeddingProvider == "" {
		opts.EmbeddingProvider = embed.ProviderHash
	}

	dbPath := filepath.Join(opts.DataDir, "engine.db")
	records, err := store.NewSQLiteRecordStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open record store: %w", err)
	}

	vectorDir := filepath.Join(opts.DataDir, "vectors")
	vectors := store.NewCollectionRouter(vectorDir, records)

	textEmb, err := embed.NewEmbedder(ctx, opts.EmbeddingProvider, opts.EmbeddingModel)
	if err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("engine: build text embedder: %w", err)
	}
	if err := vectors.Open(store.CollectionText, textEmb.Dimensions()); err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("engine: open text collection: %w", err)
	}

	imageEmb := embed.NewImagePHashEmbedder()
	if err := vectors.Open(store.CollectionImage, imageEmb.Dimensions()); err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("engine: open image collection: %w", err)
	}

	dispatch := extract.NewDispatcher()

	idxCfg := opts.IndexerConfig
	pipeline := indexer.NewPipeline(records, vectors, dispatch, textEmb, imageEmb, nil, idxCfg)

	searcher := search.NewEngine(records, vectors, textEmb)

	thumbDir := filepath.Join(opts.DataDir, "thumbnails")
	thumbs, err := thumbnail.New(thumbDir, thumbnail.ImageGenerator{}, opts.ThumbnailSize)
	if err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("engine: build thumbnail cache: %w", err)
	}

	ai := aiclient.NewClient(opts.AIHost, opts.AIModel)

	sched := scheduler.New(records, pipeline)
	if opts.Cfg != nil {
		if opts.Cfg.SchedulerTickS > 0 {
			sched = sched.WithTickInterval(time.Duration(opts.Cfg.SchedulerTickS) * time.Second)
		}
		if opts.Cfg.SourceSyncIntervalS > 0 {
			sched = sched.WithSourceSyncInterval(time.Duration(opts.Cfg.SourceSyncIntervalS) * time.Second)
		}
	}

	return &Engine{
		opts:      opts,
		records:   records,
		vectors:   vectors,
		textEmb:   textEmb,
		imageEmb:  imageEmb,
		dispatch:  dispatch,
		pipeline:  pipeline,
		searcher:  searcher,
		thumbs:    thumbs,
		ai:        ai,
		scheduler: sched,
		cancels:   make(map[string]context.CancelFunc),
	}, nil
}

// Start launches the Scheduler (C7) and a Watcher bridge (C6) for every
// currently-enabled Source, in the background. Call Close to stop them.
func (e *Engine) Start(ctx context.Context) error {
	e.bgCtx, e.bgCancel = context.WithCancel(ctx)

	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		e.scheduler.Run(e.bgCtx)
	}()

	sources, err := e.records.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("engine: list sources at startup: %w", err)
	}
	for _, src := range sources {
		if src.Enabled {
			e.watchSource(src)
		}
	}
	return nil
}

// Close stops every background goroutine and releases C2/C3's handles.
func (e *Engine) Close() error {
	if e.bgCancel != nil {
		e.scheduler.Stop()
		e.bgCancel()
	}
	e.bgWG.Wait()
	if err := e.vectors.CloseAll(); err != nil {
		slog.Warn("engine: close vector collections failed", slog.String("error", err.Error()))
	}
	if err := e.ai.Close(); err != nil {
		slog.Warn("engine: close ai client failed", slog.String("error", err.Error()))
	}
	return e.records.Close()
}

// AddSource registers a new Local Source at root, runs its initial indexing
// job synchronously, then starts watching it.
func (e *Engine) AddSource(ctx context.Context, root string) (*store.Source, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve source root: %w", err)
	}
	src := &store.Source{
		ID:       uuid.NewString(),
		Kind:     store.SourceLocal,
		Root:     abs,
		Enabled:  true,
		LastSync: time.Time{},
	}
	if err := e.records.SaveSource(ctx, src); err != nil {
		return nil, fmt.Errorf("engine: save source: %w", err)
	}

	job := &indexer.Job{Source: src, Mode: indexer.ModeInitial}
	if err := e.pipeline.Run(ctx, job); err != nil {
		return nil, fmt.Errorf("engine: initial index: %w", err)
	}
	if err := e.records.TouchSourceSync(ctx, src.ID, time.Now()); err != nil {
		slog.Warn("engine: touch source sync failed", slog.String("error", err.Error()))
	}

	e.watchSource(src)
	return src, nil
}

// RemoveSource stops watching sourceID, deletes its Records, and removes
// the Source row.
func (e *Engine) RemoveSource(ctx context.Context, sourceID string) error {
	e.mu.Lock()
	if cancel, ok := e.cancels[sourceID]; ok {
		cancel()
		delete(e.cancels, sourceID)
	}
	e.mu.Unlock()

	paths, err := e.records.ListPathsUnderSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("engine: list source paths: %w", err)
	}
	for _, p := range paths {
		rec, err := e.records.GetRecordByPath(ctx, p)
		if err != nil || rec == nil {
			continue
		}
		if err := e.records.DeleteRecord(ctx, rec.ID); err != nil {
			slog.Warn("engine: delete record during source removal failed",
				slog.String("path", p), slog.String("error", err.Error()))
		}
	}
	return e.records.DeleteSource(ctx, sourceID)
}

// SyncSource runs a manual refresh job for sourceID outside the
// Scheduler's own cadence.
func (e *Engine) SyncSource(ctx context.Context, sourceID string) error {
	src, err := e.records.GetSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("engine: get source: %w", err)
	}
	job := &indexer.Job{Source: src, Mode: indexer.ModeRefresh}
	if err := e.pipeline.Run(ctx, job); err != nil {
		return err
	}
	return e.records.TouchSourceSync(ctx, sourceID, time.Now())
}

// watchSource starts a Watcher bridge goroutine for src, tracked so
// RemoveSource/Close can stop it.
func (e *Engine) watchSource(src *store.Source) {
	if e.bgCtx == nil {
		return
	}
	w, err := watcher.NewHybridWatcher(e.opts.WatcherOptions)
	if err != nil {
		slog.Warn("engine: create watcher failed",
			slog.String("source_id", src.ID), slog.String("error", err.Error()))
		return
	}
	bridge := watchsync.New(w, e.pipeline, e.records, src)

	ctx, cancel := context.WithCancel(e.bgCtx)
	e.mu.Lock()
	e.cancels[src.ID] = cancel
	e.mu.Unlock()

	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("engine: watcher bridge stopped",
				slog.String("source_id", src.ID), slog.String("error", err.Error()))
		}
	}()
}

// Search runs q through the Searcher (C8).
func (e *Engine) Search(ctx context.Context, raw string, filters store.RecordFilters, limit, offset int) ([]search.Result, error) {
	q := search.ParseQuery(raw)
	q.Filters = filters
	if limit > 0 {
		q.Limit = limit
	}
	q.Offset = offset
	if e.opts.Cfg != nil && q.Weights == search.DefaultWeights() {
		q.Weights = search.Weights{
			Semantic: e.opts.Cfg.HybridWeights.Semantic,
			Text:     e.opts.Cfg.HybridWeights.Text,
		}
	}
	return e.searcher.Search(ctx, q)
}

// AddTag, RemoveTag, ToggleFavorite mutate a Record's user-facing state.
func (e *Engine) AddTag(ctx context.Context, recordID, name string) error {
	return e.records.AddTag(ctx, recordID, store.Tag{Name: name, Kind: store.TagUser})
}

func (e *Engine) RemoveTag(ctx context.Context, recordID, name string) error {
	return e.records.RemoveTag(ctx, recordID, name)
}

func (e *Engine) ToggleFavorite(ctx context.Context, recordID string) (bool, error) {
	rec, err := e.records.GetRecord(ctx, recordID)
	if err != nil {
		return false, err
	}
	return e.records.SetFavorite(ctx, recordID, !rec.Favorite)
}

// GetThumbnail returns a cached or freshly-generated thumbnail for path.
func (e *Engine) GetThumbnail(ctx context.Context, path string) (*thumbnail.Entry, error) {
	return e.thumbs.Get(ctx, path)
}

// GetIndexingProgress reports the Indexer's current Snapshot for sourceID.
func (e *Engine) GetIndexingProgress(sourceID string) (indexer.Snapshot, bool) {
	return e.pipeline.Progress(sourceID)
}

// Stats is a coarse summary of the relational store's contents.
type Stats struct {
	TotalRecords int
	Sources      int
	Tags         []store.TagCount
}

// GetStats reports aggregate counts across every Source.
func (e *Engine) GetStats(ctx context.Context) (Stats, error) {
	sources, err := e.records.ListSources(ctx)
	if err != nil {
		return Stats{}, err
	}
	tags, err := e.records.ListTags(ctx)
	if err != nil {
		return Stats{}, err
	}
	count, err := e.records.CountMatches(ctx, nil, store.RecordFilters{})
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalRecords: int(count), Sources: len(sources), Tags: tags}, nil
}

// ResetIndex drops and re-runs an initial indexing job for every Source,
// used to recover from a corrupted index without re-adding Sources.
func (e *Engine) ResetIndex(ctx context.Context) error {
	sources, err := e.records.ListSources(ctx)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if _, err := e.records.DeleteByPathPrefix(ctx, src.Root); err != nil {
			return fmt.Errorf("engine: clear source %s: %w", src.ID, err)
		}
		job := &indexer.Job{Source: src, Mode: indexer.ModeInitial}
		if err := e.pipeline.Run(ctx, job); err != nil {
			return fmt.Errorf("engine: reindex source %s: %w", src.ID, err)
		}
		if err := e.records.TouchSourceSync(ctx, src.ID, time.Now()); err != nil {
			slog.Warn("engine: touch source sync failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Duplicates reports groups of records sharing a content hash (C10).
func (e *Engine) Duplicates(ctx context.Context, minSize int64) ([]store.DuplicateGroup, error) {
	return e.records.Duplicates(ctx, minSize)
}
