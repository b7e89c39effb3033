// Package watchsync wires the Watcher (C6)'s batched filesystem events to
// the Indexer Pipeline (C5), translating each FileEvent into the
// single-file indexing or deletion job spec.md §4.6 requires:
// Create/Modify -> single-file index, Remove -> delete the Record at that
// path, Rename(old -> new) -> delete old, then single-file index new.
package watchsync

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/localfile/engine/internal/indexer"
	"github.com/localfile/engine/internal/store"
	"github.com/localfile/engine/internal/watcher"
)

// Runner is the subset of indexer.Pipeline the bridge drives; satisfied by
// *indexer.Pipeline.
type Runner interface {
	Run(ctx context.Context, job *indexer.Job) error
}

// BatchWatcher is the subset of watcher.HybridWatcher the bridge consumes:
// a channel of debounced event batches rather than the single-event
// Watcher interface, since HybridWatcher coalesces bursts before emitting.
type BatchWatcher interface {
	Start(ctx context.Context, path string) error
	Stop() error
	Events() <-chan []watcher.FileEvent
	Errors() <-chan error
}

// Bridge drains a BatchWatcher's event batches for one Source and turns
// each event into an indexer.Job, so filesystem activity reaches the
// relational and vector stores without any separate poll.
type Bridge struct {
	watcherImpl BatchWatcher
	pipeline    Runner
	source      *store.Source
	records     store.RecordStore
}

// New builds a Bridge watching source's root and driving pipeline for
// every event the underlying watcher reports.
func New(w BatchWatcher, pipeline Runner, records store.RecordStore, source *store.Source) *Bridge {
	return &Bridge{watcherImpl: w, pipeline: pipeline, source: source, records: records}
}

// Run starts w and blocks, applying events to pipeline until ctx is
// cancelled or the watcher's event channel closes. Intended to run in its
// own goroutine per watched Source, spawned by the Facade (C11).
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.watcherImpl.Start(ctx, b.source.Root); err != nil {
		return err
	}
	defer func() { _ = b.watcherImpl.Stop() }()

	events := b.watcherImpl.Events()
	errs := b.watcherImpl.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			b.apply(ctx, batch)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			slog.Warn("watchsync: watcher error",
				slog.String("source_id", b.source.ID), slog.String("error", err.Error()))
		}
	}
}

func (b *Bridge) apply(ctx context.Context, batch []watcher.FileEvent) {
	for _, ev := range batch {
		if ev.IsDir {
			continue
		}
		abs := ev.Path
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(b.source.Root, ev.Path)
		}

		switch ev.Operation {
		case watcher.OpCreate, watcher.OpModify:
			b.indexPath(ctx, abs)
		case watcher.OpDelete:
			b.deletePath(ctx, abs)
		case watcher.OpRename:
			oldAbs := ev.OldPath
			if oldAbs != "" && !filepath.IsAbs(oldAbs) {
				oldAbs = filepath.Join(b.source.Root, ev.OldPath)
			}
			if oldAbs != "" {
				b.deletePath(ctx, oldAbs)
			}
			b.indexPath(ctx, abs)
		case watcher.OpGitignoreChange, watcher.OpConfigChange:
			// Reconciliation for a changed ignore list is a full refresh,
			// left to the Scheduler's next tick rather than duplicated here.
		}
	}
}

func (b *Bridge) indexPath(ctx context.Context, path string) {
	job := &indexer.Job{Source: b.source, Mode: indexer.ModeSingleFile, Path: path}
	if err := b.pipeline.Run(ctx, job); err != nil {
		slog.Warn("watchsync: single-file index failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (b *Bridge) deletePath(ctx context.Context, path string) {
	rec, err := b.records.GetRecordByPath(ctx, path)
	if err != nil || rec == nil {
		return
	}
	if err := b.records.DeleteRecord(ctx, rec.ID); err != nil {
		slog.Warn("watchsync: delete record failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}
