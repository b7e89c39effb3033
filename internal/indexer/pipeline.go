package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/localfile/engine/internal/embed"
	"github.com/localfile/engine/internal/extract"
	"github.com/localfile/engine/internal/scanner"
	"github.com/localfile/engine/internal/store"
)

// TagSuggester proposes AI tags for a freshly-indexed Record (spec.md §4.9).
// Suggestions at or above Config.TagConfidenceThreshold are attached
// automatically; the rest are dropped rather than queued for review, since
// no review surface exists in this engine. A nil TagSuggester on Pipeline
// disables AI tagging entirely.
type TagSuggester interface {
	SuggestTags(ctx context.Context, r *store.Record) ([]store.Tag, error)
}

// Pipeline runs Jobs: discovery, change detection, batched extraction,
// embedding, and deletion reconciliation (C5, spec.md §4.5). It is grounded
// on the teacher's Coordinator/Runner split (internal/index/coordinator.go,
// internal/index/runner.go) collapsed into one type, since this engine has
// no separate chunk-context-generation stage to warrant the split.
type Pipeline struct {
	records    store.RecordStore
	vectors    *store.CollectionRouter
	dispatcher *extract.Dispatcher

	textEmbedder  embed.Embedder
	imageEmbedder *embed.ImagePHashEmbedder
	tagger        TagSuggester

	cfg Config

	mu       sync.Mutex
	trackers map[string]*progressTracker
}

// NewPipeline wires a Pipeline from its C1-C4 collaborators. tagger may be
// nil to disable AI tagging.
func NewPipeline(
	records store.RecordStore,
	vectors *store.CollectionRouter,
	dispatcher *extract.Dispatcher,
	textEmbedder embed.Embedder,
	imageEmbedder *embed.ImagePHashEmbedder,
	tagger TagSuggester,
	cfg Config,
) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = DefaultConfig().ExtractTimeout
	}
	if cfg.TagConfidenceThreshold <= 0 {
		cfg.TagConfidenceThreshold = DefaultConfig().TagConfidenceThreshold
	}

	return &Pipeline{
		records:       records,
		vectors:       vectors,
		dispatcher:    dispatcher,
		textEmbedder:  textEmbedder,
		imageEmbedder: imageEmbedder,
		tagger:        tagger,
		cfg:           cfg,
		trackers:      make(map[string]*progressTracker),
	}
}

// Progress returns the latest snapshot for sourceID, or false if no job has
// ever run for it.
func (p *Pipeline) Progress(sourceID string) (Snapshot, bool) {
	p.mu.Lock()
	t, ok := p.trackers[sourceID]
	p.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.current(), true
}

func (p *Pipeline) trackerFor(sourceID string) *progressTracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.trackers[sourceID]
	if !ok {
		t = newProgressTracker(sourceID)
		p.trackers[sourceID] = t
	}
	return t
}

// Run executes one Job to completion, or until ctx is cancelled. A batch
// still in extraction when ctx is cancelled is dropped; a batch whose commit
// has begun finishes that commit before returning, so the store never holds
// a half-written batch.
func (p *Pipeline) Run(ctx context.Context, job *Job) error {
	if job.Mode == ModeSingleFile {
		return p.runSingleFile(ctx, job)
	}
	return p.runSource(ctx, job)
}

func (p *Pipeline) runSource(ctx context.Context, job *Job) error {
	tracker := p.trackerFor(job.Source.ID)
	tracker.setStage(StageScanning)

	sc := scanner.New(nil)
	results := sc.Scan(ctx, job.Source.Root)

	seen := make(map[string]struct{})
	batch := make([]*scanner.DiscoveredFile, 0, p.cfg.BatchSize)
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.processBatch(ctx, job.Source, batch, tracker); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for res := range results {
		if res.Err != nil {
			slog.Warn("indexer_scan_error",
				slog.String("source_id", job.Source.ID),
				slog.String("error", res.Err.Error()))
			continue
		}

		total++
		tracker.setTotalDiscovered(total)
		seen[res.File.Path] = struct{}{}

		if job.Mode == ModeRefresh {
			changed, err := p.hasChanged(ctx, res.File)
			if err != nil {
				slog.Warn("indexer_change_check_failed",
					slog.String("path", res.File.Path), slog.String("error", err.Error()))
			} else if !changed {
				tracker.advance(1)
				continue
			}
		}

		batch = append(batch, res.File)
		if len(batch) >= p.cfg.BatchSize {
			if err := flush(); err != nil {
				tracker.setError(err)
				return err
			}
		}
	}

	if err := flush(); err != nil {
		tracker.setError(err)
		return err
	}

	if ctx.Err() != nil {
		tracker.setError(ctx.Err())
		return ctx.Err()
	}

	if job.Mode == ModeRefresh {
		if err := p.reconcileDeletions(ctx, job.Source.ID, seen); err != nil {
			tracker.setError(err)
			return err
		}
	}

	tracker.setStage(StageComplete)
	return nil
}

// runSingleFile reindexes exactly one path, used by the Watcher (C6) to
// react to a single filesystem event without a full source walk.
func (p *Pipeline) runSingleFile(ctx context.Context, job *Job) error {
	tracker := p.trackerFor(job.Source.ID)
	tracker.setStage(StageIndexing)

	info, err := statFile(job.Path)
	if err != nil {
		// File is gone: treat as a deletion.
		if _, derr := p.records.DeleteByPathPrefix(ctx, job.Path); derr != nil {
			tracker.setError(derr)
			return derr
		}
		tracker.setStage(StageComplete)
		return nil
	}

	f := &scanner.DiscoveredFile{Path: job.Path, Size: info.Size(), ModTime: info.ModTime()}
	if err := p.processBatch(ctx, job.Source, []*scanner.DiscoveredFile{f}, tracker); err != nil {
		tracker.setError(err)
		return err
	}
	tracker.setStage(StageComplete)
	return nil
}

// hasChanged reports whether f's path is new or its size/mtime differ from
// the stored Record, the change-detection test gating re-extraction on a
// refresh run (spec.md §4.5 step 2).
func (p *Pipeline) hasChanged(ctx context.Context, f *scanner.DiscoveredFile) (bool, error) {
	existing, err := p.records.GetRecordByPath(ctx, f.Path)
	if errors.Is(err, store.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if existing.Metadata.SizeBytes != f.Size {
		return true, nil
	}
	if !existing.ModifiedAt.Equal(f.ModTime) {
		return true, nil
	}
	return false, nil
}

// processBatch extracts every file in batch with bounded parallelism,
// commits the survivors in one transaction, then embeds and (optionally)
// AI-tags them. Extraction failures are isolated per file: one bad file
// does not fail the batch (spec.md §4.1, §4.5 step 3).
func (p *Pipeline) processBatch(ctx context.Context, source *store.Source, batch []*scanner.DiscoveredFile, tracker *progressTracker) error {
	tracker.setStage(StageIndexing)

	records := make([]*store.Record, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(p.cfg.MaxConcurrency))

	for i, f := range batch {
		i, f := i, f
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			r, err := p.extractOne(gctx, source, f)
			if err != nil {
				slog.Warn("indexer_extract_failed",
					slog.String("path", f.Path), slog.String("error", err.Error()))
				return nil
			}
			records[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("batch extraction: %w", err)
	}

	live := make([]*store.Record, 0, len(records))
	for _, r := range records {
		if r != nil {
			live = append(live, r)
		}
	}
	if len(live) == 0 {
		tracker.advance(len(batch))
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.records.UpsertRecords(context.WithoutCancel(ctx), live); err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	tracker.advance(len(batch))

	tracker.setStage(StageEmbedding)
	p.embedBatch(ctx, live)

	if p.tagger != nil {
		tracker.setStage(StageTagging)
		p.tagBatch(ctx, live)
	}

	return nil
}

// extractOne dispatches one file through C1, preserving the Record's ID
// (and any user-set Favorite/tags) across re-extraction on a refresh run.
func (p *Pipeline) extractOne(ctx context.Context, source *store.Source, f *scanner.DiscoveredFile) (*store.Record, error) {
	extractCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	defer cancel()

	result, err := p.dispatcher.Extract(extractCtx, f.Path, f.Size)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	createdAt := f.ModTime
	favorite := false
	var tags []store.Tag

	if existing, gerr := p.records.GetRecordByPath(ctx, f.Path); gerr == nil {
		id = existing.ID
		createdAt = existing.CreatedAt
		favorite = existing.Favorite
		tags = existing.Tags
	}

	meta := result.Metadata
	meta.SizeBytes = f.Size

	return &store.Record{
		ID:         id,
		Path:       f.Path,
		SourceID:   source.ID,
		Kind:       result.Kind,
		Metadata:   meta,
		Tags:       tags,
		Favorite:   favorite,
		CreatedAt:  createdAt,
		ModifiedAt: f.ModTime,
		IndexedAt:  time.Now(),
	}, nil
}

// embedBatch routes each record to the text/image/code collection
// appropriate to its Kind and adds the resulting vector, downgrading a
// single record's embedding failure to a skip rather than aborting the
// batch (spec.md §4.4 "a failure on item i downgrades item i only"). The
// embedding_id follow-up write is batched back through UpsertRecords so it
// still lands in a single transaction.
func (p *Pipeline) embedBatch(ctx context.Context, records []*store.Record) {
	var textItems, codeItems []*store.Record
	var imageItems []*store.Record

	for _, r := range records {
		switch r.Kind.Variant {
		case store.KindImage:
			imageItems = append(imageItems, r)
		case store.KindCode:
			codeItems = append(codeItems, r)
		default:
			textItems = append(textItems, r)
		}
	}

	var touched []*store.Record
	touched = append(touched, p.embedTextLike(ctx, textItems, store.CollectionText)...)
	touched = append(touched, p.embedTextLike(ctx, codeItems, store.CollectionCode)...)
	touched = append(touched, p.embedImages(ctx, imageItems)...)

	if len(touched) == 0 {
		return
	}
	if err := p.records.UpsertRecords(ctx, touched); err != nil {
		slog.Warn("indexer_embedding_id_commit_failed", slog.String("error", err.Error()))
	}
}

// embedTextLike embeds a batch of records into collection using the text
// embedder, payload = title ⊕ tags ⊕ text_preview (spec.md §4.4). A batch
// failure degrades to per-record retries so one bad item cannot sink its
// neighbors, since no Embedder implementation in this engine guarantees
// per-item isolation within EmbedBatch itself.
func (p *Pipeline) embedTextLike(ctx context.Context, records []*store.Record, collection string) []*store.Record {
	if len(records) == 0 || p.textEmbedder == nil {
		return nil
	}

	payloads := make([]string, len(records))
	for i, r := range records {
		payloads[i] = embeddingPayload(r)
	}

	vectors, err := p.textEmbedder.EmbedBatch(ctx, payloads)
	if err != nil {
		slog.Warn("indexer_embed_batch_failed",
			slog.String("collection", collection), slog.Int("count", len(records)), slog.String("error", err.Error()))
		return p.embedOneByOne(ctx, records, payloads, collection)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if err := p.vectors.Add(ctx, collection, ids, vectors); err != nil {
		slog.Warn("indexer_vector_add_failed", slog.String("collection", collection), slog.String("error", err.Error()))
		return nil
	}

	touched := make([]*store.Record, len(records))
	for i, r := range records {
		r.EmbeddingID = r.ID
		touched[i] = r
	}
	return touched
}

// embedOneByOne re-embeds each record individually after a whole-batch
// failure, isolating the records whose embedding genuinely fails.
func (p *Pipeline) embedOneByOne(ctx context.Context, records []*store.Record, payloads []string, collection string) []*store.Record {
	var touched []*store.Record
	for i, r := range records {
		vec, err := p.textEmbedder.Embed(ctx, payloads[i])
		if err != nil {
			slog.Warn("indexer_embed_item_failed", slog.String("path", r.Path), slog.String("error", err.Error()))
			continue
		}
		if err := p.vectors.Add(ctx, collection, []string{r.ID}, [][]float32{vec}); err != nil {
			slog.Warn("indexer_vector_add_failed", slog.String("path", r.Path), slog.String("error", err.Error()))
			continue
		}
		r.EmbeddingID = r.ID
		touched = append(touched, r)
	}
	return touched
}

// embedImages perceptual-hashes each image individually; the embedder has
// no batch form of its own (EmbedFile reads one file at a time).
func (p *Pipeline) embedImages(ctx context.Context, records []*store.Record) []*store.Record {
	if len(records) == 0 || p.imageEmbedder == nil {
		return nil
	}
	var touched []*store.Record
	for _, r := range records {
		vec, err := p.imageEmbedder.EmbedFile(ctx, r.Path)
		if err != nil {
			slog.Warn("indexer_image_embed_failed", slog.String("path", r.Path), slog.String("error", err.Error()))
			continue
		}
		if err := p.vectors.Add(ctx, store.CollectionImage, []string{r.ID}, [][]float32{vec}); err != nil {
			slog.Warn("indexer_vector_add_failed", slog.String("path", r.Path), slog.String("error", err.Error()))
			continue
		}
		r.EmbeddingID = r.ID
		touched = append(touched, r)
	}
	return touched
}

// tagBatch asks the TagSuggester for tags on every record, keeping only
// suggestions at or above the configured confidence threshold (spec.md
// §4.9). A failure for one record is logged and skipped, never fatal.
func (p *Pipeline) tagBatch(ctx context.Context, records []*store.Record) {
	var touched []*store.Record
	for _, r := range records {
		suggestions, err := p.tagger.SuggestTags(ctx, r)
		if err != nil {
			slog.Warn("indexer_tag_suggest_failed", slog.String("path", r.Path), slog.String("error", err.Error()))
			continue
		}
		var accepted []store.Tag
		for _, t := range suggestions {
			if t.Confidence >= p.cfg.TagConfidenceThreshold {
				accepted = append(accepted, t)
			}
		}
		if len(accepted) == 0 {
			continue
		}
		r.Tags = append(r.Tags, accepted...)
		touched = append(touched, r)
	}
	if len(touched) == 0 {
		return
	}
	if err := p.records.UpsertRecords(ctx, touched); err != nil {
		slog.Warn("indexer_tag_commit_failed", slog.String("error", err.Error()))
	}
}

// reconcileDeletions diffs the paths actually discovered during a refresh
// run against what the store still has for sourceID, deleting anything no
// longer present on disk (spec.md §4.5 step 6). Grounded on the teacher's
// orphan/missing diff shape (internal/index/consistency.go), adapted from
// BM25/vector-ID diffing to path diffing against the relational store,
// which is this engine's source of truth for what a source contains.
func (p *Pipeline) reconcileDeletions(ctx context.Context, sourceID string, seen map[string]struct{}) error {
	stored, err := p.records.ListPathsUnderSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("list stored paths: %w", err)
	}

	var missing []string
	for _, path := range stored {
		if _, ok := seen[path]; !ok {
			missing = append(missing, path)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	slog.Info("indexer_reconcile_deletions",
		slog.String("source_id", sourceID), slog.Int("count", len(missing)))

	for _, path := range missing {
		if _, err := p.records.DeleteByPathPrefix(ctx, path); err != nil {
			return fmt.Errorf("delete %s: %w", path, err)
		}
	}
	return nil
}

func statFile(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// embeddingPayload builds the text an embedder sees for a record: its
// title, its tag names, and a text preview, concatenated (spec.md §4.4).
func embeddingPayload(r *store.Record) string {
	var b strings.Builder
	if r.Metadata.Title != "" {
		b.WriteString(r.Metadata.Title)
		b.WriteByte('\n')
	} else {
		b.WriteString(r.Path)
		b.WriteByte('\n')
	}
	if len(r.Tags) > 0 {
		names := make([]string, len(r.Tags))
		for i, t := range r.Tags {
			names[i] = t.Name
		}
		b.WriteString(strings.Join(names, " "))
		b.WriteByte('\n')
	}
	b.WriteString(r.Metadata.TextPreview)
	return b.String()
}
