// Package scheduler implements the Scheduler (C7): a single cooperative
// tick loop that enqueues a refresh-mode indexing job for every enabled
// Source whose per-source sync interval has elapsed.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/localfile/engine/internal/indexer"
	"github.com/localfile/engine/internal/store"
)

// DefaultTickInterval is how often the Scheduler checks sources (spec.md
// §4.7).
const DefaultTickInterval = 300 * time.Second

// DefaultSourceSyncInterval is how long a Source may go unrefreshed before
// the next tick enqueues a refresh job for it (spec.md §4.7).
const DefaultSourceSyncInterval = time.Hour

// Runner is the subset of indexer.Pipeline the Scheduler drives; satisfied
// by *indexer.Pipeline.
type Runner interface {
	Run(ctx context.Context, job *indexer.Job) error
}

// Scheduler ticks on a timer, grounded on the Watcher's Debouncer's
// single-timer-plus-mutex idiom (internal/watcher/debouncer.go), adapted
// here to a recurring tick instead of a one-shot coalescing flush.
type Scheduler struct {
	records  store.RecordStore
	pipeline Runner

	tickInterval time.Duration
	syncInterval time.Duration

	running sync.Map // sourceID -> bool, true while a job is in flight

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// New builds a Scheduler over the relational store (to list Sources) and
// the Indexer Pipeline (to run refresh jobs).
func New(records store.RecordStore, pipeline Runner) *Scheduler {
	return &Scheduler{
		records:      records,
		pipeline:     pipeline,
		tickInterval: DefaultTickInterval,
		syncInterval: DefaultSourceSyncInterval,
		stopCh:       make(chan struct{}),
	}
}

// WithTickInterval overrides the default 300s tick (for tests or config).
func (s *Scheduler) WithTickInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.tickInterval = d
	}
	return s
}

// WithSourceSyncInterval overrides the default per-source 1h interval.
func (s *Scheduler) WithSourceSyncInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.syncInterval = d
	}
	return s
}

// Run blocks, ticking every tickInterval until ctx is cancelled or Stop is
// called. Intended to be launched in its own goroutine by the Facade.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop ends a running Run loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

// tick checks every enabled source and enqueues a refresh job for any that
// are due, skipping sources whose previous run is still in flight (spec.md
// §4.7 "Runs are never concurrent per source").
func (s *Scheduler) tick(ctx context.Context) {
	sources, err := s.records.ListSources(ctx)
	if err != nil {
		slog.Warn("scheduler: list sources failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now()
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		if now.Sub(src.LastSync) < s.syncInterval {
			continue
		}
		s.maybeRun(ctx, src)
	}
}

func (s *Scheduler) maybeRun(ctx context.Context, src *store.Source) {
	if _, alreadyRunning := s.running.LoadOrStore(src.ID, true); alreadyRunning {
		return
	}
	go func() {
		defer s.running.Delete(src.ID)
		job := &indexer.Job{Source: src, Mode: indexer.ModeRefresh}
		if err := s.pipeline.Run(ctx, job); err != nil {
			slog.Warn("scheduler: refresh run failed",
				slog.String("source_id", src.ID), slog.String("error", err.Error()))
			return
		}
		if err := s.records.TouchSourceSync(ctx, src.ID, time.Now()); err != nil {
			slog.Warn("scheduler: touch source sync failed",
				slog.String("source_id", src.ID), slog.String("error", err.Error()))
		}
	}()
}
